package entitlementservice

import (
	"context"
	"testing"
	"time"

	"github.com/flexprice/flexcore/internal/external"
	"github.com/flexprice/flexcore/internal/grantsmanager"
	"github.com/flexprice/flexcore/internal/logger"
	"github.com/flexprice/flexcore/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeHot struct {
	states map[string]types.EntitlementState
}

func newFakeHot() *fakeHot { return &fakeHot{states: map[string]types.EntitlementState{}} }

func (h *fakeHot) Get(projectID, customerID, featureSlug string) (types.EntitlementState, bool) {
	s, ok := h.states[projectID+":"+customerID+":"+featureSlug]
	return s, ok
}
func (h *fakeHot) Set(state types.EntitlementState) { h.states[state.Key()] = state }
func (h *fakeHot) Delete(projectID, customerID, featureSlug string) {
	delete(h.states, projectID+":"+customerID+":"+featureSlug)
}
func (h *fakeHot) DeleteAll(projectID, customerID string)                                  {}
func (h *fakeHot) InsertUsageRecord(projectID, customerID string, rec external.UsageRecord) {}
func (h *fakeHot) InsertVerification(projectID, customerID string, rec external.VerificationRecord) {
}
func (h *fakeHot) GetAllUsageRecords(projectID, customerID string) []external.UsageRecord { return nil }
func (h *fakeHot) GetAllVerifications(projectID, customerID string) []external.VerificationRecord {
	return nil
}
func (h *fakeHot) DeleteAllUsageRecords(projectID, customerID string)       {}
func (h *fakeHot) DeleteAllVerifications(projectID, customerID string)     {}
func (h *fakeHot) Flush(ctx context.Context) error                         { return nil }

type fakeDurable struct {
	states map[string]types.EntitlementState
}

func newFakeDurable() *fakeDurable { return &fakeDurable{states: map[string]types.EntitlementState{}} }

func (d *fakeDurable) GetEntitlementState(ctx context.Context, projectID, customerID, featureSlug string) (types.EntitlementState, bool, error) {
	s, ok := d.states[projectID+":"+customerID+":"+featureSlug]
	return s, ok, nil
}
func (d *fakeDurable) UpsertEntitlementState(ctx context.Context, state types.EntitlementState) error {
	d.states[state.Key()] = state
	return nil
}

type fakeGrantsManager struct {
	grants []types.Grant
}

func (g *fakeGrantsManager) GetGrantsForCustomer(ctx context.Context, projectID, customerID string, startAt int64, endAt *int64) ([]types.Grant, error) {
	return g.grants, nil
}
func (g *fakeGrantsManager) ComputeEntitlementFromGrants(ctx context.Context, projectID, customerID, featureSlug string, grants []types.Grant, now int64, usageOverride *decimal.Decimal) (types.EntitlementState, error) {
	return types.EntitlementState{}, nil
}
func (g *fakeGrantsManager) Consume(ctx context.Context, state types.EntitlementState, amount decimal.Decimal, now int64) (types.EntitlementState, grantsmanager.ReportUsageResult, error) {
	newState := state
	newState.CurrentCycleUsage = state.CurrentCycleUsage.Add(amount)
	return newState, grantsmanager.ReportUsageResult{Allowed: true, Usage: newState.CurrentCycleUsage}, nil
}

func TestReportUsage_CachesUpdatedStateOnSuccess(t *testing.T) {
	hot := newFakeHot()
	durable := newFakeDurable()
	gm := &fakeGrantsManager{}

	limit := decimal.NewFromInt(100)
	state := types.EntitlementState{
		ProjectID:         "proj_1",
		CustomerID:        "cust_1",
		FeatureSlug:       "api_calls",
		FeatureType:       types.FeatureTypeUsage,
		AggregationMethod: types.AggregationSum,
		Limit:             &limit,
		CurrentCycleUsage: decimal.Zero,
		Version:           "v1",
		NextRevalidateAt:  time.Now().UnixMilli() + 100000,
	}
	hot.Set(state)

	svc := NewService(hot, durable, gm, logger.NewNop(), Config{
		RevalidateInterval: 5 * time.Minute,
		SyncToDBInterval:   time.Minute,
		SyncMinSpacing:     time.Second,
	})

	result, err := svc.ReportUsage(context.Background(), ReportUsageRequest{
		ProjectID:   "proj_1",
		CustomerID:  "cust_1",
		FeatureSlug: "api_calls",
		Amount:      decimal.NewFromInt(5),
		Now:         time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	require.True(t, result.Allowed)

	cached, ok := hot.Get("proj_1", "cust_1", "api_calls")
	require.True(t, ok)
	require.True(t, cached.CurrentCycleUsage.Equal(decimal.NewFromInt(5)))
}
