// Package throttle caps the rate at which upload bodies are sent.
package throttle

import (
	"context"
	"io"
	"log/slog"

	"golang.org/x/time/rate"
)

// burstFactor sizes the token bucket relative to the per-second rate.
const burstFactor = 2

// Limiter is shared by every concurrent upload, so the configured rate is an
// aggregate. A nil *Limiter means unlimited and is safe to use.
type Limiter struct {
	bucket *rate.Limiter
}

// New returns a limiter for bytesPerSec, or nil when bytesPerSec is zero.
func New(bytesPerSec int64, logger *slog.Logger) *Limiter {
	if bytesPerSec <= 0 {
		return nil
	}

	if logger == nil {
		logger = slog.Default()
	}

	burst := int(bytesPerSec) * burstFactor

	logger.Info("upload bandwidth limited",
		slog.Int64("bytes_per_sec", bytesPerSec),
		slog.Int("burst", burst),
	)

	return &Limiter{bucket: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

// WrapReader paces reads from r. ctx cancels a pending wait.
func (l *Limiter) WrapReader(ctx context.Context, r io.Reader) io.Reader {
	if l == nil {
		return r
	}

	return &pacedReader{ctx: ctx, r: r, bucket: l.bucket}
}

type pacedReader struct {
	ctx    context.Context
	r      io.Reader
	bucket *rate.Limiter
}

func (p *pacedReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		if waitErr := wait(p.ctx, p.bucket, n); waitErr != nil {
			return n, waitErr
		}
	}

	return n, err
}

// wait takes n tokens in burst-sized steps; WaitN refuses more than the
// burst at once.
func wait(ctx context.Context, bucket *rate.Limiter, n int) error {
	for n > 0 {
		take := min(n, bucket.Burst())

		if err := bucket.WaitN(ctx, take); err != nil {
			return err
		}

		n -= take
	}

	return nil
}
