package grantsmanager

import (
	"context"

	ierr "github.com/flexprice/flexcore/internal/errors"
)

// RenewAutoRenewableGrants is the bulk cadence job supplementing
// spec.md §3's Grant lifecycle note ("renewed by a cadence job"):
// addon/promotion/manual grants expiring within lookaheadMs are renewed
// with an identical window shifted forward by their own duration.
// subscription and trial grants are never touched here — those are
// renewed only via subscription phase transitions.
func (m *Manager) RenewAutoRenewableGrants(ctx context.Context, projectID string, now, lookaheadMs int64) (renewed int, err error) {
	expiring, err := m.store.ListAutoRenewableExpiring(ctx, projectID, now+lookaheadMs)
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("failed to list auto-renewable grants").
			Mark(ierr.ErrStorageFailed)
	}

	for _, g := range expiring {
		if !g.Type.AutoRenewable() || !g.AutoRenew || g.ExpiresAt == nil {
			continue
		}

		duration := *g.ExpiresAt - g.EffectiveAt
		next := g
		next.ID = ""
		next.EffectiveAt = *g.ExpiresAt
		newExpiry := *g.ExpiresAt + duration
		next.ExpiresAt = &newExpiry

		if _, err := m.CreateGrant(ctx, next); err != nil {
			m.log.Errorf("failed to renew grant %s: %v", g.ID, err)
			continue
		}
		renewed++
	}

	return renewed, nil
}
