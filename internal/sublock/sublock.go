// Package sublock implements SubscriptionLock: a per-(project,
// subscription) mutex in the durable store with TTL, stale-takeover,
// extend, and a heartbeat helper for long-running holders.
package sublock

import (
	"context"
	"sync"
	"time"

	ierr "github.com/flexprice/flexcore/internal/errors"
	"github.com/flexprice/flexcore/internal/idgen"
	"github.com/flexprice/flexcore/internal/logger"
)

// Backend is the durable conditional-write primitive. Concrete
// implementation: internal/store/dynamolock.
type Backend interface {
	TryAcquire(ctx context.Context, projectID, subscriptionID, owner string, now, expiresAt int64, staleBefore int64) (bool, error)
	Extend(ctx context.Context, projectID, subscriptionID, owner string, newExpiresAt int64) (bool, error)
	Release(ctx context.Context, projectID, subscriptionID, owner string) error
}

// Lock is one acquired (or attempted) lock instance. Not safe to share
// across goroutines acting on different logical holders; one Lock per
// billing.CycleRunner.WithSubscriptionLock call.
type Lock struct {
	backend        Backend
	log            *logger.Logger
	projectID      string
	subscriptionID string
	owner          string

	mu      sync.Mutex
	held    bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Options configures an acquire attempt.
type Options struct {
	TTL             time.Duration
	Now             time.Time
	StaleTakeoverMs int64
	OwnerStaleMs    int64
}

func New(backend Backend, log *logger.Logger, projectID, subscriptionID string) *Lock {
	return &Lock{
		backend:        backend,
		log:            log,
		projectID:      projectID,
		subscriptionID: subscriptionID,
		owner:          idgen.New("lockowner"),
	}
}

// Acquire inserts a lock row if absent; if present but stale it may be
// taken over atomically. Returns ErrSubscriptionBusy if another live
// holder has it.
func (l *Lock) Acquire(ctx context.Context, opts Options) error {
	now := opts.Now.UnixMilli()
	staleBefore := now - opts.StaleTakeoverMs
	expiresAt := now + opts.TTL.Milliseconds()

	ok, err := l.backend.TryAcquire(ctx, l.projectID, l.subscriptionID, l.owner, now, expiresAt, staleBefore)
	if err != nil {
		return ierr.WithError(err).
			WithHint("lock acquire failed").
			Mark(ierr.ErrSystem)
	}
	if !ok {
		return ierr.NewError("subscription locked by another worker").
			WithHintf("project=%s subscription=%s", l.projectID, l.subscriptionID).
			Mark(ierr.ErrSubscriptionBusy)
	}

	l.mu.Lock()
	l.held = true
	l.mu.Unlock()
	return nil
}

// Extend conditionally extends expiresAt only if this instance still
// owns the lock.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration, now time.Time) (bool, error) {
	ok, err := l.backend.Extend(ctx, l.projectID, l.subscriptionID, l.owner, now.Add(ttl).UnixMilli())
	if err != nil {
		return false, ierr.WithError(err).
			WithHint("lock extend failed").
			Mark(ierr.ErrSystem)
	}
	return ok, nil
}

// Release deletes the lock row if still owned.
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	held := l.held
	l.held = false
	l.mu.Unlock()
	if !held {
		return nil
	}
	if err := l.backend.Release(ctx, l.projectID, l.subscriptionID, l.owner); err != nil {
		return ierr.WithError(err).
			WithHint("lock release failed").
			Mark(ierr.ErrSystem)
	}
	return nil
}

// StartHeartbeat renews the lock every max(1s, ttl/2), capped at
// maxHold = max(ttl*10, 2min). If Extend ever returns false, it logs and
// stops renewing without aborting the caller's in-flight operation — the
// next conditional write that needs ownership will fail cleanly
// (spec.md §4.2).
func (l *Lock) StartHeartbeat(ctx context.Context, ttl time.Duration, maxHoldMultiplier int, maxHoldFloor time.Duration) {
	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}

	maxHold := ttl * time.Duration(maxHoldMultiplier)
	if maxHold < maxHoldFloor {
		maxHold = maxHoldFloor
	}

	l.stopCh = make(chan struct{})
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		deadline := time.Now().Add(maxHold)

		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			case now := <-ticker.C:
				if now.After(deadline) {
					l.log.Warnf("lock heartbeat exceeded max hold for subscription %s, stopping", l.subscriptionID)
					return
				}
				ok, err := l.Extend(ctx, ttl, now)
				if err != nil {
					l.log.Errorf("lock heartbeat extend error for subscription %s: %v", l.subscriptionID, err)
					continue
				}
				if !ok {
					l.log.Warnf("lock heartbeat lost ownership for subscription %s, stopping renewal", l.subscriptionID)
					return
				}
			}
		}
	}()
}

// StopHeartbeat stops the renewal goroutine and waits for it to exit.
func (l *Lock) StopHeartbeat() {
	if l.stopCh != nil {
		close(l.stopCh)
		l.wg.Wait()
		l.stopCh = nil
	}
}
