package billing

import (
	"context"

	ierr "github.com/flexprice/flexcore/internal/errors"
	"github.com/flexprice/flexcore/internal/external"
	"github.com/flexprice/flexcore/internal/logger"
	"github.com/flexprice/flexcore/internal/types"
	"github.com/sourcegraph/conc/pool"
)

const providerUpsertConcurrency = 10

// creditLineSubscriptionItemID tags the single synthetic negative-amount
// line item used to carry an invoice's applied credit onto the provider
// side. It can never collide with a real subscription item ID, so the
// same existingBySubscriptionItem lookup used for regular items also
// makes the credit line idempotent across retries.
const creditLineSubscriptionItemID = "__credit__"

// Reconciler upserts a draft invoice and its line items into the payment
// provider's own invoice, fanning the per-item upserts out across a
// bounded worker pool. Grounded on the teacher's stripe_invoice_sync.go
// upsert-by-subscription-item pattern, generalized from a single
// provider (Stripe) call site into the provider-agnostic
// external.PaymentProvider boundary.
type Reconciler struct {
	store       Store
	provider    external.PaymentProvider
	log         *logger.Logger
	concurrency int
}

func NewReconciler(store Store, provider external.PaymentProvider, log *logger.Logger, concurrency int) *Reconciler {
	if concurrency <= 0 {
		concurrency = providerUpsertConcurrency
	}
	return &Reconciler{store: store, provider: provider, log: log, concurrency: concurrency}
}

// Reconcile creates (or reuses) the provider-side invoice, upserts every
// line item concurrently — updating any provider item that already
// matches a subscription item rather than re-adding it, so a retry
// never duplicates a line — then checks the provider total against
// ours; a mismatch fails loudly rather than finalizing a wrong invoice
// (spec.md §4.6.3).
func (r *Reconciler) Reconcile(ctx context.Context, inv types.Invoice, items []types.InvoiceItem, payload external.ProviderInvoicePayload) (types.Invoice, error) {
	if inv.Status == types.InvoiceStatusVoid || inv.TotalCents == 0 {
		return inv, nil
	}

	var providerInvoiceID string
	if inv.InvoicePaymentProviderID != nil {
		providerInvoiceID = *inv.InvoicePaymentProviderID
	} else {
		created, err := r.provider.CreateInvoice(ctx, payload)
		if err != nil {
			return types.Invoice{}, ierr.WithError(err).
				WithHint("failed to create provider invoice").
				Mark(ierr.ErrProviderCreateFailed)
		}
		providerInvoiceID = created.ID
		if err := r.store.SetInvoiceProviderRef(ctx, inv.ProjectID, inv.ID, created.ID, created.URL); err != nil {
			return types.Invoice{}, ierr.WithError(err).
				WithHint("failed to persist provider invoice reference").
				Mark(ierr.ErrStorageFailed)
		}
		inv.InvoicePaymentProviderID = &created.ID
		inv.InvoicePaymentProviderURL = &created.URL
	}

	existing, err := r.provider.GetInvoice(ctx, providerInvoiceID)
	if err != nil {
		return types.Invoice{}, ierr.WithError(err).
			WithHint("failed to read existing provider invoice items").
			Mark(ierr.ErrProviderUpdateFailed)
	}
	existingBySubscriptionItem := make(map[string]string, len(existing.LineItems))
	for _, li := range existing.LineItems {
		if li.SubscriptionItemID != "" {
			existingBySubscriptionItem[li.SubscriptionItemID] = li.ID
		}
	}

	p := pool.New().WithContext(ctx).WithMaxGoroutines(r.concurrency).WithCancelOnError()
	for _, item := range items {
		item := item
		if item.AmountTotalCents == 0 {
			continue
		}
		subscriptionItemID := derefOr(item.SubscriptionItemID, "")
		itemPayload := external.ProviderInvoiceItemPayload{
			ProviderInvoiceID:  providerInvoiceID,
			SubscriptionItemID: subscriptionItemID,
			AmountCents:        item.AmountTotalCents,
			Description:        item.Description,
			PeriodStart:        item.CycleStartAt,
			PeriodEnd:          item.CycleEndAt,
			Metadata:           map[string]string{"subscriptionItemId": subscriptionItemID},
		}

		if existingItemID, ok := existingBySubscriptionItem[subscriptionItemID]; ok {
			itemPayload.ExistingItemID = existingItemID
			p.Go(func(ctx context.Context) error {
				_, err := r.provider.UpdateInvoiceItem(ctx, itemPayload)
				return err
			})
		} else {
			p.Go(func(ctx context.Context) error {
				_, err := r.provider.AddInvoiceItem(ctx, itemPayload)
				return err
			})
		}
	}
	if err := p.Wait(); err != nil {
		return types.Invoice{}, ierr.WithError(err).
			WithHint("failed to upsert one or more provider invoice items").
			Mark(ierr.ErrProviderUpdateFailed)
	}

	// A single negative-amount credit line carries the invoice's applied
	// credit onto the provider side, so the provider's own total lands on
	// the same net figure we computed (spec.md §4.6.3 step 7).
	if inv.AmountCreditUsedCents > 0 && inv.TotalCents > 0 {
		creditPayload := external.ProviderInvoiceItemPayload{
			ProviderInvoiceID:  providerInvoiceID,
			SubscriptionItemID: creditLineSubscriptionItemID,
			AmountCents:        -inv.AmountCreditUsedCents,
			Description:        "Credit applied",
			Metadata:           map[string]string{"subscriptionItemId": creditLineSubscriptionItemID},
		}
		if existingItemID, ok := existingBySubscriptionItem[creditLineSubscriptionItemID]; ok {
			creditPayload.ExistingItemID = existingItemID
			if _, err := r.provider.UpdateInvoiceItem(ctx, creditPayload); err != nil {
				return types.Invoice{}, ierr.WithError(err).
					WithHint("failed to upsert provider credit line item").
					Mark(ierr.ErrProviderUpdateFailed)
			}
		} else {
			if _, err := r.provider.AddInvoiceItem(ctx, creditPayload); err != nil {
				return types.Invoice{}, ierr.WithError(err).
					WithHint("failed to upsert provider credit line item").
					Mark(ierr.ErrProviderUpdateFailed)
			}
		}
	}

	providerInv, err := r.provider.GetInvoice(ctx, providerInvoiceID)
	if err != nil {
		return types.Invoice{}, ierr.WithError(err).
			WithHint("failed to re-read provider invoice for total check").
			Mark(ierr.ErrProviderUpdateFailed)
	}
	if providerInv.TotalCents != inv.TotalCents {
		// Revert to draft so the next materializer pass retries rather
		// than leaving a half-reconciled invoice stuck mid-flight
		// (spec.md §4.6.3 step 8).
		if revertErr := r.store.UpdateInvoiceStatus(ctx, inv.ProjectID, inv.ID, types.InvoiceStatusDraft, nil); revertErr != nil {
			r.log.Errorf("failed to revert invoice %s to draft after provider total mismatch: %v", inv.ID, revertErr)
		}
		return types.Invoice{}, ierr.NewError("provider invoice total does not match computed total").
			WithReportableDetails(map[string]any{
				"provider_total": providerInv.TotalCents,
				"computed_total": inv.TotalCents,
			}).
			Mark(ierr.ErrProviderTotalMismatch)
	}

	if err := r.provider.FinalizeInvoice(ctx, providerInvoiceID); err != nil {
		return types.Invoice{}, ierr.WithError(err).
			WithHint("failed to finalize provider invoice").
			Mark(ierr.ErrProviderFinalizeFailed)
	}

	return inv, nil
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
