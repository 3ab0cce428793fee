package grantsmanager

import (
	"context"

	"github.com/flexprice/flexcore/internal/types"
)

// GrantStore is the persistence boundary for grants and entitlement
// snapshots. Concrete implementation: internal/store/postgres.
type GrantStore interface {
	// CreateGrant inserts a grant with ON CONFLICT DO NOTHING on the
	// (projectId, subjectType, subjectId, featurePlanVersionId, type,
	// effectiveAt, expiresAt) uniqueness key. ok=false means the
	// conflict produced no row.
	CreateGrant(ctx context.Context, g types.Grant) (created types.Grant, ok bool, err error)

	// ListActiveGrantsForSubjects returns all non-deleted grants for the
	// given subjects whose interval intersects [startAt, endAt).
	ListActiveGrantsForSubjects(ctx context.Context, projectID string, subjects []Subject, startAt int64, endAt *int64) ([]types.Grant, error)

	// ListOverlappingGrants returns non-deleted grants on the same
	// feature slug for (project, subject) whose active interval
	// overlaps [startAt, endAt).
	ListOverlappingGrants(ctx context.Context, projectID string, subjectType types.SubjectType, subjectID, featureSlug string, startAt int64, endAt *int64) ([]types.Grant, error)

	// FindCoveringGrant locates an existing grant for (featurePlanVersionId,
	// customerId) whose interval covers [start, end].
	FindCoveringGrant(ctx context.Context, projectID, featurePlanVersionID, customerID string, start int64, end int64) (types.Grant, bool, error)

	// GetEntitlementState reads the stored snapshot, if any.
	GetEntitlementState(ctx context.Context, projectID, customerID, featureSlug string) (types.EntitlementState, bool, error)

	// UpsertEntitlementState writes the merged snapshot without
	// clobbering mutable usage counters — callers must have already
	// folded prior counters into the state they pass.
	UpsertEntitlementState(ctx context.Context, state types.EntitlementState) error

	// ListAutoRenewableExpiring returns addon/promotion/manual grants
	// expiring within the lookahead window, for RenewAutoRenewableGrants.
	ListAutoRenewableExpiring(ctx context.Context, projectID string, before int64) ([]types.Grant, error)
}

// Subject identifies one of the four grant-bearing scopes.
type Subject struct {
	Type types.SubjectType
	ID   string
}

// SubscriptionContext resolves a customer's current phase to a plan and
// plan version, needed to assemble the subject list for aggregation.
type SubscriptionContext interface {
	GetCurrentPlanContext(ctx context.Context, projectID, customerID string) (planID, planVersionID string, err error)
}
