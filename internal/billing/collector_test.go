package billing

import (
	"context"
	"testing"

	ierr "github.com/flexprice/flexcore/internal/errors"
	"github.com/flexprice/flexcore/internal/external"
	"github.com/flexprice/flexcore/internal/logger"
	"github.com/flexprice/flexcore/internal/testutil"
	"github.com/flexprice/flexcore/internal/types"
	"github.com/stretchr/testify/require"
)

func TestCollect_ChargeAutomaticallySucceeds(t *testing.T) {
	store := testutil.NewInMemoryBillingStore()
	provider := testutil.NewInMemoryPaymentProvider()
	machines := testutil.NewInMemorySubscriptionMachineFactory()
	c := NewCollector(store, provider, machines, logger.NewNop(), 10)

	created, err := store.CreateInvoice(context.Background(), types.Invoice{
		ProjectID: "proj_1", SubscriptionID: "sub_1", CustomerID: "cust_1",
		Status: types.InvoiceStatusUnpaid, TotalCents: 1000, Currency: "usd",
		CollectionMethod: types.CollectionChargeAutomatically, PaymentMethodID: "pm_1",
	}, nil)
	require.NoError(t, err)
	providerInv, err := provider.CreateInvoice(context.Background(), external.ProviderInvoicePayload{Currency: "usd"})
	require.NoError(t, err)
	require.NoError(t, store.SetInvoiceProviderRef(context.Background(), "proj_1", created.ID, providerInv.ID, ""))

	require.NoError(t, c.Collect(context.Background(), "proj_1", created.ID, jan1UTCMillis))

	final, _, err := store.GetInvoice(context.Background(), "proj_1", created.ID)
	require.NoError(t, err)
	require.Equal(t, types.InvoiceStatusPaid, final.Status)
	require.NotNil(t, final.PaidAt)
	require.Len(t, final.PaymentAttempts, 1)
	require.True(t, final.PaymentAttempts[0].Succeeded)

	require.Len(t, machines.Machines, 1)
	require.Equal(t, []string{created.ID}, machines.Machines[0].SuccessInvoices)
}

func TestCollect_ChargeAutomaticallyFails(t *testing.T) {
	store := testutil.NewInMemoryBillingStore()
	provider := testutil.NewInMemoryPaymentProvider()
	machines := testutil.NewInMemorySubscriptionMachineFactory()
	c := NewCollector(store, provider, machines, logger.NewNop(), 10)

	created, err := store.CreateInvoice(context.Background(), types.Invoice{
		ProjectID: "proj_1", SubscriptionID: "sub_1", CustomerID: "cust_1",
		Status: types.InvoiceStatusUnpaid, TotalCents: 1000, Currency: "usd",
		CollectionMethod: types.CollectionChargeAutomatically, PaymentMethodID: "pm_1",
	}, nil)
	require.NoError(t, err)
	providerInv, err := provider.CreateInvoice(context.Background(), external.ProviderInvoicePayload{Currency: "usd"})
	require.NoError(t, err)
	require.NoError(t, store.SetInvoiceProviderRef(context.Background(), "proj_1", created.ID, providerInv.ID, ""))

	provider.FailCollect = true

	require.NoError(t, c.Collect(context.Background(), "proj_1", created.ID, jan1UTCMillis))

	final, _, err := store.GetInvoice(context.Background(), "proj_1", created.ID)
	require.NoError(t, err)
	require.Equal(t, types.InvoiceStatusFailed, final.Status)
	require.Len(t, final.PaymentAttempts, 1)
	require.False(t, final.PaymentAttempts[0].Succeeded)
	require.Len(t, machines.Machines, 1)
	require.Equal(t, []string{created.ID}, machines.Machines[0].PaymentFailures)
}

func TestCollect_AlreadyPaidIsANoop(t *testing.T) {
	store := testutil.NewInMemoryBillingStore()
	provider := testutil.NewInMemoryPaymentProvider()
	machines := testutil.NewInMemorySubscriptionMachineFactory()
	c := NewCollector(store, provider, machines, logger.NewNop(), 10)

	created, err := store.CreateInvoice(context.Background(), types.Invoice{
		ProjectID: "proj_1", SubscriptionID: "sub_1", CustomerID: "cust_1",
		Status: types.InvoiceStatusPaid, TotalCents: 1000, Currency: "usd",
	}, nil)
	require.NoError(t, err)

	require.NoError(t, c.Collect(context.Background(), "proj_1", created.ID, jan1UTCMillis))
	require.Empty(t, machines.Machines)
}

func TestValidateCollectible_RejectsEachPrecondition(t *testing.T) {
	base := types.Invoice{
		Status:                   types.InvoiceStatusUnpaid,
		InvoicePaymentProviderID: strPtr("in_1"),
		PaymentMethodID:          "pm_1",
	}

	draft := base
	draft.Status = types.InvoiceStatusDraft
	require.ErrorIs(t, validateCollectible(draft), ierr.ErrInvoiceNotCollectible)

	failed := base
	failed.Status = types.InvoiceStatusFailed
	require.ErrorIs(t, validateCollectible(failed), ierr.ErrInvoiceNotCollectible)

	noProviderID := base
	noProviderID.InvoicePaymentProviderID = nil
	require.ErrorIs(t, validateCollectible(noProviderID), ierr.ErrInvoiceNotCollectible)

	noPaymentMethod := base
	noPaymentMethod.PaymentMethodID = ""
	require.ErrorIs(t, validateCollectible(noPaymentMethod), ierr.ErrInvoiceNotCollectible)

	require.NoError(t, validateCollectible(base))
}

func TestCollect_PreconditionViolationReturnsErrorWithoutDispatching(t *testing.T) {
	store := testutil.NewInMemoryBillingStore()
	provider := testutil.NewInMemoryPaymentProvider()
	machines := testutil.NewInMemorySubscriptionMachineFactory()
	c := NewCollector(store, provider, machines, logger.NewNop(), 10)

	created, err := store.CreateInvoice(context.Background(), types.Invoice{
		ProjectID: "proj_1", SubscriptionID: "sub_1", CustomerID: "cust_1",
		Status: types.InvoiceStatusDraft, TotalCents: 1000, Currency: "usd",
		CollectionMethod: types.CollectionChargeAutomatically, PaymentMethodID: "pm_1",
	}, nil)
	require.NoError(t, err)

	err = c.Collect(context.Background(), "proj_1", created.ID, jan1UTCMillis)
	require.Error(t, err)
	require.ErrorIs(t, err, ierr.ErrInvoiceNotCollectible)
	require.Empty(t, machines.Machines)
}

func TestCollect_WaitingInvoiceAdoptsTerminalPaidStatus(t *testing.T) {
	store := testutil.NewInMemoryBillingStore()
	provider := testutil.NewInMemoryPaymentProvider()
	machines := testutil.NewInMemorySubscriptionMachineFactory()
	c := NewCollector(store, provider, machines, logger.NewNop(), 10)

	created, err := store.CreateInvoice(context.Background(), types.Invoice{
		ProjectID: "proj_1", SubscriptionID: "sub_1", CustomerID: "cust_1",
		Status: types.InvoiceStatusWaiting, TotalCents: 1000, Currency: "usd",
		CollectionMethod: types.CollectionSendInvoice, PaymentMethodID: "pm_1",
		PastDueAt: jan1UTCMillis + 86400000*7,
	}, nil)
	require.NoError(t, err)
	providerInv, err := provider.CreateInvoice(context.Background(), external.ProviderInvoicePayload{Currency: "usd"})
	require.NoError(t, err)
	require.NoError(t, store.SetInvoiceProviderRef(context.Background(), "proj_1", created.ID, providerInv.ID, ""))
	provider.Invoices[providerInv.ID] = external.ProviderInvoice{ID: providerInv.ID, Status: "paid"}

	require.NoError(t, c.Collect(context.Background(), "proj_1", created.ID, jan1UTCMillis))

	final, _, err := store.GetInvoice(context.Background(), "proj_1", created.ID)
	require.NoError(t, err)
	require.Equal(t, types.InvoiceStatusPaid, final.Status)
	require.Len(t, machines.Machines, 1)
	require.Equal(t, []string{created.ID}, machines.Machines[0].SuccessInvoices)
}

func TestCollect_WaitingInvoicePastDueMarksFailed(t *testing.T) {
	store := testutil.NewInMemoryBillingStore()
	provider := testutil.NewInMemoryPaymentProvider()
	machines := testutil.NewInMemorySubscriptionMachineFactory()
	c := NewCollector(store, provider, machines, logger.NewNop(), 10)

	created, err := store.CreateInvoice(context.Background(), types.Invoice{
		ProjectID: "proj_1", SubscriptionID: "sub_1", CustomerID: "cust_1",
		Status: types.InvoiceStatusWaiting, TotalCents: 1000, Currency: "usd",
		CollectionMethod: types.CollectionSendInvoice, PaymentMethodID: "pm_1",
		PastDueAt: jan1UTCMillis - 1,
	}, nil)
	require.NoError(t, err)
	providerInv, err := provider.CreateInvoice(context.Background(), external.ProviderInvoicePayload{Currency: "usd"})
	require.NoError(t, err)
	require.NoError(t, store.SetInvoiceProviderRef(context.Background(), "proj_1", created.ID, providerInv.ID, ""))

	require.NoError(t, c.Collect(context.Background(), "proj_1", created.ID, jan1UTCMillis))

	final, _, err := store.GetInvoice(context.Background(), "proj_1", created.ID)
	require.NoError(t, err)
	require.Equal(t, types.InvoiceStatusFailed, final.Status)
	require.Len(t, machines.Machines, 1)
	require.Equal(t, []string{created.ID}, machines.Machines[0].PaymentFailures)
}

func TestCollect_SendInvoiceSucceedsMarksWaitingWithSentAt(t *testing.T) {
	store := testutil.NewInMemoryBillingStore()
	provider := testutil.NewInMemoryPaymentProvider()
	machines := testutil.NewInMemorySubscriptionMachineFactory()
	c := NewCollector(store, provider, machines, logger.NewNop(), 10)

	created, err := store.CreateInvoice(context.Background(), types.Invoice{
		ProjectID: "proj_1", SubscriptionID: "sub_1", CustomerID: "cust_1",
		Status: types.InvoiceStatusUnpaid, TotalCents: 1000, Currency: "usd",
		CollectionMethod: types.CollectionSendInvoice, PaymentMethodID: "pm_1",
		PastDueAt: jan1UTCMillis + 86400000*7,
	}, nil)
	require.NoError(t, err)
	providerInv, err := provider.CreateInvoice(context.Background(), external.ProviderInvoicePayload{Currency: "usd"})
	require.NoError(t, err)
	require.NoError(t, store.SetInvoiceProviderRef(context.Background(), "proj_1", created.ID, providerInv.ID, ""))

	require.NoError(t, c.Collect(context.Background(), "proj_1", created.ID, jan1UTCMillis))

	final, _, err := store.GetInvoice(context.Background(), "proj_1", created.ID)
	require.NoError(t, err)
	require.Equal(t, types.InvoiceStatusWaiting, final.Status)
	require.NotNil(t, final.SentAt)
	require.Equal(t, jan1UTCMillis, *final.SentAt)
	require.Empty(t, final.PaymentAttempts)
	require.Empty(t, machines.Machines)
}

func strPtr(s string) *string { return &s }
