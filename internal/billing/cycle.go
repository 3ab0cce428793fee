package billing

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	ierr "github.com/flexprice/flexcore/internal/errors"
	"github.com/flexprice/flexcore/internal/logger"
	"github.com/flexprice/flexcore/internal/sublock"
)

// LockConfig mirrors config.LockConfig so this package doesn't import
// internal/config directly.
type LockConfig struct {
	DefaultTTL           time.Duration
	StaleTakeoverMs      int64
	MaxHoldMultiplier    int
	MaxHoldFloor         time.Duration
}

// CycleRunner wraps materialize -> finalize -> reconcile -> collect for
// one subscription behind a SubscriptionLock, so two concurrently
// triggered billing runs for the same subscription never double-invoice
// (spec.md §4.2, §4.6).
type CycleRunner struct {
	backend sublock.Backend
	log     *logger.Logger
	cfg     LockConfig
}

func NewCycleRunner(backend sublock.Backend, log *logger.Logger, cfg LockConfig) *CycleRunner {
	return &CycleRunner{backend: backend, log: log, cfg: cfg}
}

// WithSubscriptionLock acquires the lock for (projectID, subscriptionID),
// starts a heartbeat for the duration of fn, and releases on return.
// Returns ierr.ErrSubscriptionBusy if another worker holds it. A panic
// inside fn is recovered and returned as ierr.ErrSystem carrying the
// stack; the lock is released in that case too.
func (r *CycleRunner) WithSubscriptionLock(ctx context.Context, projectID, subscriptionID string, fn func(ctx context.Context) error) (err error) {
	lock := sublock.New(r.backend, r.log, projectID, subscriptionID)

	if err := lock.Acquire(ctx, sublock.Options{
		TTL:             r.cfg.DefaultTTL,
		Now:             time.Now(),
		StaleTakeoverMs: r.cfg.StaleTakeoverMs,
	}); err != nil {
		return err
	}

	lock.StartHeartbeat(ctx, r.cfg.DefaultTTL, r.cfg.MaxHoldMultiplier, r.cfg.MaxHoldFloor)
	defer lock.StopHeartbeat()
	defer func() {
		if relErr := lock.Release(ctx); relErr != nil {
			r.log.Errorf("failed to release subscription lock for %s: %v", subscriptionID, relErr)
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			err = ierr.NewError(fmt.Sprintf("panic in billing cycle run: %v", p)).
				WithReportableDetails(map[string]any{"stack": string(debug.Stack())}).
				Mark(ierr.ErrSystem)
		}
	}()

	if err := fn(ctx); err != nil {
		return ierr.WithError(err).
			WithHint("billing cycle run failed inside subscription lock").
			Mark(ierr.ErrSystem)
	}
	return nil
}
