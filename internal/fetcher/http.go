package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPOptions configures the static fetcher's browser identity.
type HTTPOptions struct {
	UserAgent         string
	Headers           map[string]string
	Timeout           time.Duration
	TLSFingerprint    bool
	BlockedMultiplier float64
}

func DefaultHTTPOptions() HTTPOptions {
	return HTTPOptions{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36",
		Headers: map[string]string{
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
			"Accept-Language":           "en-US,en;q=0.9",
			"Cache-Control":             "no-cache",
			"DNT":                       "1",
			"Upgrade-Insecure-Requests": "1",
		},
		Timeout:           30 * time.Second,
		BlockedMultiplier: DefaultBlockedMultiplier,
	}
}

// HTTPFetcher performs plain GETs. Each instance owns its session (cookie
// jar and headers); concurrent runs should use separate instances.
type HTTPFetcher struct {
	client  *resty.Client
	retrier *Retrier
	logger  *slog.Logger
}

func NewHTTPFetcher(opts HTTPOptions, logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http_fetcher")

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeaders(opts.Headers)

	if opts.TLSFingerprint {
		client.SetTransport(chromeTransport())
	}

	return &HTTPFetcher{
		client: client,
		retrier: &Retrier{
			Name:    "http",
			Backoff: Backoff{BlockedMultiplier: opts.BlockedMultiplier},
			Sleep:   Sleep,
			Logger:  logger,
		},
		logger: logger,
	}
}

// WithSleep replaces the backoff sleep, mainly for tests.
func (f *HTTPFetcher) WithSleep(sleep SleepFunc) *HTTPFetcher {
	f.retrier.Sleep = sleep
	return f
}

func (f *HTTPFetcher) Name() string { return "http" }

func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	return f.retrier.Do(ctx, req, func(ctx context.Context, n int) Attempt {
		f.logger.Debug("sending request", "url", req.URL, "attempt", n)

		resp, err := f.client.R().SetContext(ctx).Get(req.URL)
		if err != nil {
			return Attempt{
				Outcome: OutcomeTransient,
				Err:     &FetchError{Reason: classifyNetError(err), URL: req.URL, Err: err},
			}
		}

		finalURL := req.URL
		if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
			finalURL = raw.Request.URL.String()
		}
		att := StatusAttempt(resp.StatusCode(), resp.Body(), finalURL)
		if att.Result != nil {
			att.Result.ContentType = resp.Header().Get("Content-Type")
		}
		return att
	})
}

func classifyNetError(err error) Reason {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ReasonConnection
}
