package billing

import (
	"context"
	"testing"

	"github.com/flexprice/flexcore/internal/logger"
	"github.com/flexprice/flexcore/internal/types"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	periods map[string]types.BillingPeriod
	byKey   map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{periods: map[string]types.BillingPeriod{}, byKey: map[string]string{}}
}

func (s *fakeStore) CreateBillingPeriod(ctx context.Context, p types.BillingPeriod) (types.BillingPeriod, bool, error) {
	if _, exists := s.byKey[p.StatementKey]; exists {
		return types.BillingPeriod{}, false, nil
	}
	s.periods[p.ID] = p
	s.byKey[p.StatementKey] = p.ID
	return p, true, nil
}

func (s *fakeStore) ListDueBillingPeriods(ctx context.Context, projectID string, before int64, limit int) ([]types.BillingPeriod, error) {
	return nil, nil
}
func (s *fakeStore) MarkBillingPeriodInvoiced(ctx context.Context, billingPeriodID, invoiceID string) error {
	return nil
}
func (s *fakeStore) GetLatestBillingPeriod(ctx context.Context, projectID, subscriptionItemID string) (types.BillingPeriod, bool, error) {
	return types.BillingPeriod{}, false, nil
}
func (s *fakeStore) CreateInvoice(ctx context.Context, inv types.Invoice, items []types.InvoiceItem) (types.Invoice, error) {
	return inv, nil
}
func (s *fakeStore) GetInvoice(ctx context.Context, projectID, invoiceID string) (types.Invoice, []types.InvoiceItem, error) {
	return types.Invoice{}, nil, nil
}
func (s *fakeStore) UpdateInvoiceStatus(ctx context.Context, projectID, invoiceID string, status types.InvoiceStatus, paidAt *int64) error {
	return nil
}
func (s *fakeStore) SetInvoiceCreditAndTotal(ctx context.Context, projectID, invoiceID string, amountCreditUsedCents, totalCents int64, status types.InvoiceStatus, paidAt *int64) error {
	return nil
}
func (s *fakeStore) SetInvoiceProviderRef(ctx context.Context, projectID, invoiceID, providerInvoiceID, providerURL string) error {
	return nil
}
func (s *fakeStore) AppendPaymentAttempt(ctx context.Context, projectID, invoiceID string, attempt types.PaymentAttempt) error {
	return nil
}
func (s *fakeStore) ListPastDueInvoices(ctx context.Context, projectID string, maxAttempts int) ([]types.Invoice, error) {
	return nil, nil
}
func (s *fakeStore) ListActiveCreditGrants(ctx context.Context, projectID, customerID, currency, provider string, now int64) ([]types.CreditGrant, error) {
	return nil, nil
}
func (s *fakeStore) ApplyCredit(ctx context.Context, app types.InvoiceCreditApplication, newAmountUsedCents int64) (bool, error) {
	return true, nil
}

// fakeGrantResolver always reports no covering grant, then hands back a
// deterministic ID for whatever it's asked to create — good enough for
// materializer tests that only care that a grant gets attached.
type fakeGrantResolver struct {
	created int
}

func (g *fakeGrantResolver) FindCoveringGrant(ctx context.Context, projectID, featurePlanVersionID, customerID string, start, end int64) (types.Grant, bool, error) {
	return types.Grant{}, false, nil
}

func (g *fakeGrantResolver) CreateGrant(ctx context.Context, grant types.Grant) (types.Grant, error) {
	g.created++
	grant.ID = "grant_1"
	return grant, nil
}

func TestMaterializeItem_IdempotentOnRetry(t *testing.T) {
	store := newFakeStore()
	grants := &fakeGrantResolver{}
	log := logger.NewNop()
	m := NewMaterializer(store, grants, log, 7, 100)

	item := SubscriptionItem{
		ProjectID:            "proj_1",
		SubscriptionID:       "sub_1",
		SubscriptionItemID:   "item_1",
		FeaturePlanVersionID: "fpv_1",
		FeatureSlug:          "api_calls",
		FeatureType:          types.FeatureTypeUsage,
		EffectiveStartDate:   0,
		Config: types.BillingConfig{
			PlanType:      types.PlanTypeRecurring,
			Interval:      types.IntervalMonth,
			IntervalCount: 1,
		},
		WhenToBill: types.PayInArrear,
	}

	now := int64(100) * 24 * 60 * 60 * 1000 // ~100 days in

	created1, err := m.MaterializeItem(context.Background(), item, now)
	require.NoError(t, err)
	require.Greater(t, created1, 0)

	created2, err := m.MaterializeItem(context.Background(), item, now)
	require.NoError(t, err)
	require.Equal(t, 0, created2, "re-running materialization must not create duplicate periods")
}
