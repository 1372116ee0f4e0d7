package extractor

import (
	"context"
	"errors"
	"sync"

	"github.com/guiyumin/vfetch/internal/core/errs"
)

// Probe caches the result of a capability check for the life of the process.
// Concurrent first callers block until the single check completes.
type Probe struct {
	once  sync.Once
	check func() error
	err   error
}

// NewProbe creates a probe around check
func NewProbe(check func() error) *Probe {
	return &Probe{check: check}
}

// Err runs the check on first use and returns the cached outcome
func (p *Probe) Err() error {
	p.once.Do(func() {
		p.err = p.check()
	})
	return p.err
}

// classifyCtx maps a context failure to its kind. Returns nil if ctx is still live.
func classifyCtx(ctx context.Context, op string, err error) *errs.Error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errs.E(errs.KindTimeout, op, ctx.Err())
	case errors.Is(ctx.Err(), context.Canceled):
		return errs.E(errs.KindCanceled, op, ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		return errs.E(errs.KindTimeout, op, err)
	}
	return nil
}
