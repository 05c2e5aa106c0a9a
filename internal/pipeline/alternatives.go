package pipeline

import (
	"context"

	"github.com/maltedev/category-scraper/internal/ratelimit"
)

// Limiter paces consecutive runs against the same site.
type Limiter interface {
	Wait(ctx context.Context) error
	RecordSuccess()
	RecordError()
}

var _ Limiter = (*ratelimit.AdaptiveRateLimiter)(nil)

// RunWithAlternatives runs primary and then each alternative in order until
// one yields records. Every alternative starts a fresh run. The outcomes of
// all attempted URLs are returned in order; the error is that of the last run,
// including a persist failure of the run that produced records.
func (p *Pipeline) RunWithAlternatives(ctx context.Context, limiter Limiter, primary string, alternatives ...string) ([]*Outcome, error) {
	urls := append([]string{primary}, alternatives...)
	outcomes := make([]*Outcome, 0, len(urls))

	var lastErr error
	for i, url := range urls {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return outcomes, err
			}
		}
		if i > 0 {
			p.logger.Info("trying alternative url", "url", url, "position", i)
		}

		out, err := p.Run(ctx, url)
		outcomes = append(outcomes, out)
		lastErr = err

		if limiter != nil {
			if out.State == StateFailed {
				limiter.RecordError()
			} else {
				limiter.RecordSuccess()
			}
		}

		// Records mean the page was scraped; a persist error belongs to this
		// run and is not a reason to try another URL.
		if len(out.Records()) > 0 {
			return outcomes, err
		}
		if ctx.Err() != nil {
			return outcomes, ctx.Err()
		}
	}

	return outcomes, lastErr
}

// Best returns the last outcome with records, or the final outcome.
func Best(outcomes []*Outcome) *Outcome {
	for i := len(outcomes) - 1; i >= 0; i-- {
		if len(outcomes[i].Records()) > 0 {
			return outcomes[i]
		}
	}
	if len(outcomes) == 0 {
		return nil
	}
	return outcomes[len(outcomes)-1]
}
