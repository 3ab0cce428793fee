package billing

import (
	"context"
	"errors"
	"testing"

	ierr "github.com/flexprice/flexcore/internal/errors"
	"github.com/flexprice/flexcore/internal/external"
	"github.com/flexprice/flexcore/internal/logger"
	"github.com/flexprice/flexcore/internal/testutil"
	"github.com/flexprice/flexcore/internal/types"
	"github.com/stretchr/testify/require"
)

func baseInvoiceAndItems() (types.Invoice, []types.InvoiceItem) {
	subItem := "item_1"
	inv := types.Invoice{
		ID:            "inv_1",
		ProjectID:     "proj_1",
		CustomerID:    "cust_1",
		Status:        types.InvoiceStatusUnpaid,
		SubtotalCents: 1500,
		TotalCents:    1500,
		Currency:      "usd",
	}
	items := []types.InvoiceItem{
		{ID: "item_1", InvoiceID: "inv_1", SubscriptionItemID: &subItem, AmountTotalCents: 1500, CycleStartAt: jan1UTCMillis, CycleEndAt: feb1UTCMillis},
	}
	return inv, items
}

func TestReconcile_CreatesAndFinalizesProviderInvoice(t *testing.T) {
	store := testutil.NewInMemoryBillingStore()
	provider := testutil.NewInMemoryPaymentProvider()
	r := NewReconciler(store, provider, logger.NewNop(), 0)

	inv, items := baseInvoiceAndItems()
	created, err := store.CreateInvoice(context.Background(), inv, nil)
	require.NoError(t, err)
	inv.ID = created.ID

	out, err := r.Reconcile(context.Background(), inv, items, external.ProviderInvoicePayload{Currency: "usd"})
	require.NoError(t, err)
	require.NotNil(t, out.InvoicePaymentProviderID)

	providerInv, err := provider.GetInvoice(context.Background(), *out.InvoicePaymentProviderID)
	require.NoError(t, err)
	require.Equal(t, "open", providerInv.Status)
	require.Equal(t, int64(1500), providerInv.TotalCents)
}

// TestReconcile_PartialCreditUpsertsCreditLine reproduces spec.md
// §4.6.3 step 7: an invoice with a nonzero, non-full credit application
// must upsert a single negative-amount credit line on the provider
// side, and the subsequent total check must compare against the
// invoice's already-net totalCents rather than subtracting the credit
// a second time.
func TestReconcile_PartialCreditUpsertsCreditLine(t *testing.T) {
	store := testutil.NewInMemoryBillingStore()
	provider := testutil.NewInMemoryPaymentProvider()
	r := NewReconciler(store, provider, logger.NewNop(), 0)

	subItem := "item_1"
	inv := types.Invoice{
		ID: "inv_1", ProjectID: "proj_1", CustomerID: "cust_1",
		Status: types.InvoiceStatusUnpaid, SubtotalCents: 1500,
		AmountCreditUsedCents: 500, TotalCents: 1000, Currency: "usd",
	}
	items := []types.InvoiceItem{
		{ID: "item_1", SubscriptionItemID: &subItem, AmountTotalCents: 1500, CycleStartAt: jan1UTCMillis, CycleEndAt: feb1UTCMillis},
	}
	created, err := store.CreateInvoice(context.Background(), inv, nil)
	require.NoError(t, err)
	inv.ID = created.ID

	out, err := r.Reconcile(context.Background(), inv, items, external.ProviderInvoicePayload{Currency: "usd"})
	require.NoError(t, err)
	require.NotNil(t, out.InvoicePaymentProviderID)

	providerInv, err := provider.GetInvoice(context.Background(), *out.InvoicePaymentProviderID)
	require.NoError(t, err)
	require.Equal(t, int64(1000), providerInv.TotalCents)

	var creditLine *external.ProviderLineItem
	for i := range providerInv.LineItems {
		if providerInv.LineItems[i].SubscriptionItemID == creditLineSubscriptionItemID {
			creditLine = &providerInv.LineItems[i]
		}
	}
	require.NotNil(t, creditLine, "expected a credit line item on the provider invoice")
	require.Equal(t, int64(-500), creditLine.AmountCents)
}

// TestReconcile_TotalMismatchRevertsToDraft reproduces spec.md §8
// scenario 6: when the provider's own total disagrees with ours, the
// invoice reverts to draft and no finalize call is made.
func TestReconcile_TotalMismatchRevertsToDraft(t *testing.T) {
	store := testutil.NewInMemoryBillingStore()
	provider := testutil.NewInMemoryPaymentProvider()
	r := NewReconciler(store, provider, logger.NewNop(), 0)

	subItem := "item_1"
	inv := types.Invoice{
		ID: "inv_1", ProjectID: "proj_1", CustomerID: "cust_1",
		Status: types.InvoiceStatusUnpaid, SubtotalCents: 1500, TotalCents: 1500, Currency: "usd",
	}
	items := []types.InvoiceItem{
		{ID: "item_1", SubscriptionItemID: &subItem, AmountTotalCents: 1450, CycleStartAt: jan1UTCMillis, CycleEndAt: feb1UTCMillis},
	}
	created, err := store.CreateInvoice(context.Background(), inv, nil)
	require.NoError(t, err)
	inv.ID = created.ID

	_, err = r.Reconcile(context.Background(), inv, items, external.ProviderInvoicePayload{Currency: "usd"})
	require.Error(t, err)
	require.True(t, errors.Is(err, ierr.ErrProviderTotalMismatch))

	reverted, _, getErr := store.GetInvoice(context.Background(), "proj_1", inv.ID)
	require.NoError(t, getErr)
	require.Equal(t, types.InvoiceStatusDraft, reverted.Status)
}
