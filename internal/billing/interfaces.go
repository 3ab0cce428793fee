// Package billing materializes billing periods from subscription cycles,
// finalizes them into invoices with proration and credit application,
// reconciles invoices against a payment provider, and drives payment
// collection — the second half of the metering/billing core alongside
// internal/grantsmanager.
package billing

import (
	"context"

	"github.com/flexprice/flexcore/internal/types"
)

// Store is the persistence boundary for billing periods, invoices, line
// items and credit grants. Concrete implementation: internal/store/postgres.
type Store interface {
	// CreateBillingPeriod inserts with ON CONFLICT DO NOTHING keyed on
	// StatementKey (spec.md §4.6.1 — materialization must be safe to
	// run concurrently and to retry).
	CreateBillingPeriod(ctx context.Context, p types.BillingPeriod) (created types.BillingPeriod, ok bool, err error)

	ListDueBillingPeriods(ctx context.Context, projectID string, before int64, limit int) ([]types.BillingPeriod, error)

	MarkBillingPeriodInvoiced(ctx context.Context, billingPeriodID, invoiceID string) error

	GetLatestBillingPeriod(ctx context.Context, projectID, subscriptionItemID string) (types.BillingPeriod, bool, error)

	CreateInvoice(ctx context.Context, inv types.Invoice, items []types.InvoiceItem) (types.Invoice, error)

	GetInvoice(ctx context.Context, projectID, invoiceID string) (types.Invoice, []types.InvoiceItem, error)

	UpdateInvoiceStatus(ctx context.Context, projectID, invoiceID string, status types.InvoiceStatus, paidAt *int64) error

	// SetInvoiceCreditAndTotal persists the credit-reduced total after
	// applying credit grants (spec.md §4.6.2 step 5-6):
	// amountCreditUsedCents and totalCents = max(0, subtotal -
	// amountCreditUsed), alongside the resulting status and paidAt.
	SetInvoiceCreditAndTotal(ctx context.Context, projectID, invoiceID string, amountCreditUsedCents, totalCents int64, status types.InvoiceStatus, paidAt *int64) error

	SetInvoiceProviderRef(ctx context.Context, projectID, invoiceID, providerInvoiceID, providerURL string) error

	// MarkInvoiceSent records status=waiting and the dispatch timestamp
	// after a successful send_invoice collection attempt (spec.md §4.6.4).
	MarkInvoiceSent(ctx context.Context, projectID, invoiceID string, sentAt int64) error

	AppendPaymentAttempt(ctx context.Context, projectID, invoiceID string, attempt types.PaymentAttempt) error

	ListPastDueInvoices(ctx context.Context, projectID string, maxAttempts int) ([]types.Invoice, error)

	// ListActiveCreditGrants returns active, unexpired credit grants for
	// the customer ordered oldest-expiry-first, the order FIFO credit
	// application consumes them in (spec.md §4.6.2).
	ListActiveCreditGrants(ctx context.Context, projectID, customerID, currency, provider string, now int64) ([]types.CreditGrant, error)

	// ApplyCredit debits a credit grant and records the application
	// idempotently; ok=false on a duplicate (invoiceID, creditGrantID).
	ApplyCredit(ctx context.Context, app types.InvoiceCreditApplication, newAmountUsedCents int64) (ok bool, err error)
}
