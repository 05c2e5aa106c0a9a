package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrExhausted  = errors.New("fetch retries exhausted")
	ErrBadRequest = errors.New("invalid fetch request")
)

// Fetcher retrieves the markup of one page.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// Request is immutable for the duration of one Fetch call.
type Request struct {
	URL        string
	MaxRetries int
	BaseDelay  time.Duration
}

func (r Request) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("%w: url is required", ErrBadRequest)
	}
	if r.MaxRetries < 1 {
		return fmt.Errorf("%w: max retries must be at least 1", ErrBadRequest)
	}
	if r.BaseDelay < 0 {
		return fmt.Errorf("%w: base delay cannot be negative", ErrBadRequest)
	}
	return nil
}

// Result is the Success variant of a fetch.
type Result struct {
	StatusCode  int
	Body        []byte
	FinalURL    string
	Attempts    int
	// ContentType is the response header, used to pick the body's charset.
	// Empty for rendered markup, which is always UTF-8.
	ContentType string
}

// Reason classifies a failed fetch or attempt.
type Reason int

const (
	ReasonTimeout Reason = iota + 1
	ReasonConnection
	ReasonHTTP
	ReasonExhausted
)

func (r Reason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonConnection:
		return "connection_error"
	case ReasonHTTP:
		return "http_error"
	case ReasonExhausted:
		return "exhausted"
	}
	return "unknown"
}

// FetchError is the Failure variant of a fetch. For ReasonExhausted, Last
// describes the final attempt.
type FetchError struct {
	Reason     Reason
	StatusCode int
	Attempts   int
	URL        string
	Last       *FetchError
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Reason == ReasonExhausted && e.Last != nil:
		return fmt.Sprintf("fetch %s: %s after %d attempts: %s", e.URL, e.Reason, e.Attempts, e.Last.Error())
	case e.Reason == ReasonHTTP:
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason.String()
}

func (e *FetchError) Unwrap() error {
	if e.Last != nil {
		return e.Last
	}
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == ErrExhausted && e.Reason == ReasonExhausted
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
