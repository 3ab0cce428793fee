package billing

import (
	"context"

	ierr "github.com/flexprice/flexcore/internal/errors"
	"github.com/flexprice/flexcore/internal/external"
	"github.com/flexprice/flexcore/internal/idempotency"
	"github.com/flexprice/flexcore/internal/logger"
	"github.com/flexprice/flexcore/internal/types"
)

// Collector drives an invoice through send/collect and records the
// outcome as a PaymentAttempt, capping retries at maxAttempts.
type Collector struct {
	store       Store
	provider    external.PaymentProvider
	machines    external.SubscriptionMachineFactory
	idempotency *idempotency.Generator
	log         *logger.Logger
	maxAttempts int
}

func NewCollector(store Store, provider external.PaymentProvider, machines external.SubscriptionMachineFactory, log *logger.Logger, maxAttempts int) *Collector {
	return &Collector{store: store, provider: provider, machines: machines, idempotency: idempotency.NewGenerator(), log: log, maxAttempts: maxAttempts}
}

// validateCollectible enforces spec.md §4.6.4's collection preconditions.
// Each violation is a distinct, typed (Mark(ierr.ErrInvoiceNotCollectible))
// business error rather than an infrastructure failure.
func validateCollectible(inv types.Invoice) error {
	switch {
	case inv.Status == types.InvoiceStatusDraft:
		return ierr.NewError("invoice still draft").
			WithHint("invoice must be finalized and reconciled before collection").
			Mark(ierr.ErrInvoiceNotCollectible)
	case inv.Status == types.InvoiceStatusFailed:
		return ierr.NewError("invoice already failed").
			WithHint("a failed invoice requires manual intervention before collection resumes").
			Mark(ierr.ErrInvoiceNotCollectible)
	case inv.InvoicePaymentProviderID == nil || *inv.InvoicePaymentProviderID == "":
		return ierr.NewError("invoice missing provider reference").
			WithHint("invoice must be reconciled with the payment provider before collection").
			Mark(ierr.ErrInvoiceNotCollectible)
	case inv.PaymentMethodID == "":
		return ierr.NewError("invoice missing payment method").
			WithHint("customer must have a payment method on file before collection").
			Mark(ierr.ErrInvoiceNotCollectible)
	}
	return nil
}

// Collect drives one collection step: polling a waiting invoice's
// provider status, or dispatching a fresh attempt per the invoice's
// collection method. Records the outcome as a PaymentAttempt and
// notifies the subscription's state machine. Returns nil on success or
// expected business failure (recorded, not propagated); only
// infrastructure errors and precondition violations are returned.
func (c *Collector) Collect(ctx context.Context, projectID, invoiceID string, now int64) error {
	inv, _, err := c.store.GetInvoice(ctx, projectID, invoiceID)
	if err != nil {
		return ierr.WithError(err).
			WithHint("failed to load invoice for collection").
			Mark(ierr.ErrStorageFailed)
	}
	if inv.Status == types.InvoiceStatusPaid || inv.Status == types.InvoiceStatusVoid {
		return nil
	}
	if err := validateCollectible(inv); err != nil {
		return err
	}

	machine := c.machines.New(ctx, projectID, inv.SubscriptionID)
	providerInvoiceID := ""
	if inv.InvoicePaymentProviderID != nil {
		providerInvoiceID = *inv.InvoicePaymentProviderID
	}

	if inv.Status == types.InvoiceStatusWaiting {
		return c.pollWaiting(ctx, machine, projectID, invoiceID, providerInvoiceID, inv, now)
	}

	if len(inv.PaymentAttempts) >= c.maxAttempts {
		return nil
	}

	if inv.CollectionMethod == types.CollectionSendInvoice {
		return c.sendInvoice(ctx, machine, projectID, invoiceID, providerInvoiceID, now)
	}
	return c.chargeAutomatically(ctx, machine, projectID, invoiceID, providerInvoiceID, inv, now)
}

// pollWaiting re-checks a previously-dispatched invoice's provider
// status. A terminal paid/void status is adopted directly; otherwise,
// once payment attempts are exhausted or the invoice has gone past due,
// it is marked failed (spec.md §4.6.4, MAX_PAYMENT_ATTEMPTS = 10).
func (c *Collector) pollWaiting(ctx context.Context, machine external.SubscriptionMachine, projectID, invoiceID, providerInvoiceID string, inv types.Invoice, now int64) error {
	status, err := c.provider.GetStatusInvoice(ctx, providerInvoiceID)
	if err != nil {
		return ierr.WithError(err).
			WithHint("failed to poll provider invoice status").
			Mark(ierr.ErrProviderCollectFailed)
	}

	switch status {
	case "paid":
		paidAt := now
		if err := c.store.UpdateInvoiceStatus(ctx, projectID, invoiceID, types.InvoiceStatusPaid, &paidAt); err != nil {
			return ierr.WithError(err).
				WithHint("failed to mark invoice paid").
				Mark(ierr.ErrStorageFailed)
		}
		if err := machine.ReportInvoiceSuccess(ctx, invoiceID); err != nil {
			c.log.Errorf("failed to report invoice success for %s: %v", invoiceID, err)
		}
		return nil
	case "void":
		if err := c.store.UpdateInvoiceStatus(ctx, projectID, invoiceID, types.InvoiceStatusVoid, nil); err != nil {
			return ierr.WithError(err).
				WithHint("failed to mark invoice void").
				Mark(ierr.ErrStorageFailed)
		}
		return nil
	}

	if len(inv.PaymentAttempts) >= c.maxAttempts || inv.PastDueAt < now {
		if err := c.store.UpdateInvoiceStatus(ctx, projectID, invoiceID, types.InvoiceStatusFailed, nil); err != nil {
			return ierr.WithError(err).
				WithHint("failed to mark invoice failed").
				Mark(ierr.ErrStorageFailed)
		}
		if err := machine.ReportPaymentFailure(ctx, invoiceID, "payment attempts exhausted or past due while waiting"); err != nil {
			c.log.Errorf("failed to report payment failure for %s: %v", invoiceID, err)
		}
	}
	return nil
}

// chargeAutomatically re-checks the provider's own status first, in case
// the invoice was already paid out-of-band, before attempting a fresh
// charge (spec.md §4.6.4).
func (c *Collector) chargeAutomatically(ctx context.Context, machine external.SubscriptionMachine, projectID, invoiceID, providerInvoiceID string, inv types.Invoice, now int64) error {
	if status, err := c.provider.GetStatusInvoice(ctx, providerInvoiceID); err == nil && status == "paid" {
		paidAt := now
		if err := c.store.UpdateInvoiceStatus(ctx, projectID, invoiceID, types.InvoiceStatusPaid, &paidAt); err != nil {
			return ierr.WithError(err).
				WithHint("failed to mark invoice paid").
				Mark(ierr.ErrStorageFailed)
		}
		if err := machine.ReportInvoiceSuccess(ctx, invoiceID); err != nil {
			c.log.Errorf("failed to report invoice success for %s: %v", invoiceID, err)
		}
		return nil
	}

	key := c.idempotency.GenerateKey(idempotency.ScopePayment, map[string]interface{}{
		"invoice_id": invoiceID,
		"attempt":    len(inv.PaymentAttempts),
	})
	result, collectErr := c.provider.CollectPayment(ctx, providerInvoiceID, inv.PaymentMethodID, key)
	return c.recordAttempt(ctx, machine, projectID, invoiceID, result, collectErr, now)
}

// sendInvoice dispatches a send_invoice collection: success moves the
// invoice to waiting with sentAt stamped. The provider hasn't charged
// anything yet, so no PaymentAttempt is recorded on success (spec.md
// §4.6.4); a dispatch failure is recorded like any other failed attempt.
func (c *Collector) sendInvoice(ctx context.Context, machine external.SubscriptionMachine, projectID, invoiceID, providerInvoiceID string, now int64) error {
	if err := c.provider.SendInvoice(ctx, providerInvoiceID); err != nil {
		return c.recordAttempt(ctx, machine, projectID, invoiceID, external.PaymentResult{}, err, now)
	}
	if err := c.store.MarkInvoiceSent(ctx, projectID, invoiceID, now); err != nil {
		return ierr.WithError(err).
			WithHint("failed to mark invoice sent").
			Mark(ierr.ErrStorageFailed)
	}
	return nil
}

// recordAttempt appends a PaymentAttempt and resolves the invoice and
// subscription-machine state from its outcome, shared by the
// charge-automatically failure/success path and the send-invoice
// dispatch-failure path.
func (c *Collector) recordAttempt(ctx context.Context, machine external.SubscriptionMachine, projectID, invoiceID string, result external.PaymentResult, collectErr error, now int64) error {
	attempt := types.PaymentAttempt{AttemptedAt: now}

	if collectErr != nil {
		attempt.Succeeded = false
		attempt.Note = ierr.Note(collectErr)
		if err := c.store.AppendPaymentAttempt(ctx, projectID, invoiceID, attempt); err != nil {
			return ierr.WithError(err).
				WithHint("failed to record failed payment attempt").
				Mark(ierr.ErrStorageFailed)
		}
		if err := c.store.UpdateInvoiceStatus(ctx, projectID, invoiceID, types.InvoiceStatusFailed, nil); err != nil {
			return ierr.WithError(err).
				WithHint("failed to mark invoice failed").
				Mark(ierr.ErrStorageFailed)
		}
		if err := machine.ReportPaymentFailure(ctx, invoiceID, ierr.Note(collectErr)); err != nil {
			c.log.Errorf("failed to report payment failure for invoice %s: %v", invoiceID, err)
		}
		return nil
	}

	attempt.Succeeded = result.Status == "paid"
	if err := c.store.AppendPaymentAttempt(ctx, projectID, invoiceID, attempt); err != nil {
		return ierr.WithError(err).
			WithHint("failed to record payment attempt").
			Mark(ierr.ErrStorageFailed)
	}

	if attempt.Succeeded {
		paidAt := now
		if err := c.store.UpdateInvoiceStatus(ctx, projectID, invoiceID, types.InvoiceStatusPaid, &paidAt); err != nil {
			return ierr.WithError(err).
				WithHint("failed to mark invoice paid").
				Mark(ierr.ErrStorageFailed)
		}
		if err := machine.ReportInvoiceSuccess(ctx, invoiceID); err != nil {
			c.log.Errorf("failed to report invoice success for %s: %v", invoiceID, err)
		}
		return nil
	}

	if err := c.store.UpdateInvoiceStatus(ctx, projectID, invoiceID, types.InvoiceStatusWaiting, nil); err != nil {
		return ierr.WithError(err).
			WithHint("failed to mark invoice waiting").
			Mark(ierr.ErrStorageFailed)
	}
	return nil
}
