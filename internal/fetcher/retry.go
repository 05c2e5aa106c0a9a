package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/maltedev/category-scraper/internal/metrics"
)

const DefaultBlockedMultiplier = 2.0

// Outcome is the retry classification of a single attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeBlocked
	OutcomeTransient
	OutcomeOther
	// OutcomeFatal ends the fetch without further attempts.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeTransient:
		return "transient"
	case OutcomeOther:
		return "other"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// ClassifyStatus maps an HTTP status code to an attempt outcome.
func ClassifyStatus(code int) Outcome {
	switch {
	case code >= 200 && code < 300:
		return OutcomeSuccess
	case code == http.StatusForbidden:
		return OutcomeBlocked
	case code == http.StatusTooManyRequests || code >= 500:
		return OutcomeTransient
	}
	return OutcomeOther
}

// Backoff computes the wait before an attempt. Ordinary failures back off
// linearly by attempt index; an access denial waits a fixed, longer period.
type Backoff struct {
	BlockedMultiplier float64
}

// Delay returns the wait before attempt n (1-based) given the base delay and
// whether attempt n-1 was blocked.
func (b Backoff) Delay(base time.Duration, n int, afterBlocked bool) time.Duration {
	if n <= 1 {
		return 0
	}
	if afterBlocked {
		mult := b.BlockedMultiplier
		if mult < DefaultBlockedMultiplier {
			mult = DefaultBlockedMultiplier
		}
		return time.Duration(float64(base) * mult)
	}
	return base * time.Duration(n-1)
}

// Attempt is the result of one try.
type Attempt struct {
	Outcome Outcome
	Result  *Result
	Err     *FetchError
}

type AttemptFunc func(ctx context.Context, n int) Attempt

// Retrier runs attempts under the backoff policy.
type Retrier struct {
	Name    string
	Backoff Backoff
	Sleep   SleepFunc
	Logger  *slog.Logger
}

func (r *Retrier) Do(ctx context.Context, req Request, fn AttemptFunc) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sleep := r.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var last *FetchError
	afterBlocked := false

	for n := 1; n <= req.MaxRetries; n++ {
		if n > 1 {
			wait := r.Backoff.Delay(req.BaseDelay, n, afterBlocked)
			logger.Info("retrying fetch", "url", req.URL, "attempt", n, "wait", wait, "after_blocked", afterBlocked)
			if err := sleep(ctx, wait); err != nil {
				return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
			}
		}

		a := fn(ctx, n)
		metrics.FetchAttempts.WithLabelValues(r.Name, a.Outcome.String()).Inc()

		switch a.Outcome {
		case OutcomeSuccess:
			a.Result.Attempts = n
			logger.Info("fetch succeeded", "url", req.URL, "attempt", n, "status", a.Result.StatusCode, "bytes", len(a.Result.Body))
			return a.Result, nil
		case OutcomeFatal:
			logger.Error("fetch aborted", "url", req.URL, "attempt", n, "error", a.Err)
			return nil, a.Err
		}

		last = a.Err
		afterBlocked = a.Outcome == OutcomeBlocked
		logger.Warn("fetch attempt failed", "url", req.URL, "attempt", n, "outcome", a.Outcome.String(), "error", a.Err)

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
		}
	}

	exhausted := &FetchError{
		Reason:   ReasonExhausted,
		Attempts: req.MaxRetries,
		URL:      req.URL,
		Last:     last,
	}
	if last != nil {
		exhausted.StatusCode = last.StatusCode
	}
	return nil, exhausted
}

// StatusAttempt builds the Attempt for a completed HTTP exchange.
func StatusAttempt(code int, body []byte, finalURL string) Attempt {
	outcome := ClassifyStatus(code)
	if outcome == OutcomeSuccess {
		return Attempt{
			Outcome: OutcomeSuccess,
			Result:  &Result{StatusCode: code, Body: body, FinalURL: finalURL},
		}
	}
	return Attempt{
		Outcome: outcome,
		Err:     &FetchError{Reason: ReasonHTTP, StatusCode: code, URL: finalURL},
	}
}
