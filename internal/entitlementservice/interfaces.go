// Package entitlementservice is the central runtime API for verifying
// and reporting feature usage: it owns the cache-coherence protocol
// between internal/hotstore (hot) and internal/store/postgres (durable),
// delegating merge/attribution logic to internal/grantsmanager.
package entitlementservice

import (
	"context"
	"time"

	"github.com/flexprice/flexcore/internal/external"
	"github.com/flexprice/flexcore/internal/grantsmanager"
	"github.com/flexprice/flexcore/internal/types"
	"github.com/shopspring/decimal"
)

// HotStore is the subset of internal/hotstore.Store this package drives.
type HotStore interface {
	Get(projectID, customerID, featureSlug string) (types.EntitlementState, bool)
	Set(state types.EntitlementState)
	Delete(projectID, customerID, featureSlug string)
	DeleteAll(projectID, customerID string)
	InsertUsageRecord(projectID, customerID string, rec external.UsageRecord)
	InsertVerification(projectID, customerID string, rec external.VerificationRecord)
	GetAllUsageRecords(projectID, customerID string) []external.UsageRecord
	GetAllVerifications(projectID, customerID string) []external.VerificationRecord
	DeleteAllUsageRecords(projectID, customerID string)
	DeleteAllVerifications(projectID, customerID string)
	Flush(ctx context.Context) error
}

// DurableStore is the subset of the grants manager's store this package
// reads directly for version checks, bypassing any SWR caching layer
// (spec.md §4.5.1 step 3: "bypassing SWR").
type DurableStore interface {
	GetEntitlementState(ctx context.Context, projectID, customerID, featureSlug string) (types.EntitlementState, bool, error)
	UpsertEntitlementState(ctx context.Context, state types.EntitlementState) error
}

// GrantsManager is the subset of *grantsmanager.Manager this package
// calls. grantsmanager.Verify is a pure function and is called directly
// rather than through this interface.
type GrantsManager interface {
	GetGrantsForCustomer(ctx context.Context, projectID, customerID string, startAt int64, endAt *int64) ([]types.Grant, error)
	ComputeEntitlementFromGrants(ctx context.Context, projectID, customerID, featureSlug string, grants []types.Grant, now int64, usageOverride *decimal.Decimal) (types.EntitlementState, error)
	Consume(ctx context.Context, state types.EntitlementState, amount decimal.Decimal, now int64) (types.EntitlementState, grantsmanager.ReportUsageResult, error)
}

// Config mirrors config.EntitlementConfig.
type Config struct {
	RevalidateInterval time.Duration
	SyncToDBInterval    time.Duration
	SyncMinSpacing      time.Duration
}
