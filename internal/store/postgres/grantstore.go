package postgres

import "github.com/flexprice/flexcore/internal/grantsmanager"

// GrantStore composes GrantRepository and EntitlementRepository into the
// single grantsmanager.GrantStore implementation — grants and
// entitlement snapshots live in separate tables but are always wired
// together at the call site.
type GrantStore struct {
	*GrantRepository
	*EntitlementRepository
}

var _ grantsmanager.GrantStore = (*GrantStore)(nil)

func NewGrantStore(db *DB) *GrantStore {
	return &GrantStore{
		GrantRepository:       NewGrantRepository(db),
		EntitlementRepository: NewEntitlementRepository(db),
	}
}
