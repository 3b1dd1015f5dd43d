package llm

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
)

// RateLimited paces calls to the wrapped Extractor with a token bucket.
type RateLimited struct {
	next    Extractor
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRateLimited wraps next; perMinute <= 0 returns next unchanged.
func NewRateLimited(next Extractor, perMinute int, logger *slog.Logger) Extractor {
	if perMinute <= 0 {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst),
		logger:  logger,
	}
}

func (r *RateLimited) Extract(ctx context.Context, req ExtractRequest) (string, error) {
	start := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		r.logger.Warn("llm.ratelimit.wait_aborted", "error", err)
		return "", common.ExtractionError(0, "extraction not attempted: rate limit wait aborted", err)
	}
	if waited := time.Since(start); waited > 100*time.Millisecond {
		r.logger.Info("llm.ratelimit.waited", "wait_ms", waited.Milliseconds())
	}
	return r.next.Extract(ctx, req)
}
