// Package stripe adapts external.PaymentProvider onto the Stripe invoice
// and invoice-item APIs, grounded on the teacher's stripe_client.go
// client-construction pattern and stripe_invoice_sync.go's
// create/add-line-item/finalize/retrieve call sequence.
package stripe

import (
	"context"
	"fmt"

	ierr "github.com/flexprice/flexcore/internal/errors"
	"github.com/flexprice/flexcore/internal/external"
	"github.com/flexprice/flexcore/internal/logger"
	"github.com/flexprice/flexcore/internal/security"
	"github.com/stripe/stripe-go/v82"
	"golang.org/x/time/rate"
)

// defaultRateLimit (requests/second) sits well under Stripe's documented
// default of 100 read + 100 write requests/second per account, since
// this process shares the account with every other project.
const defaultRateLimit = 25

// Provider implements external.PaymentProvider against a single, already
// decrypted Stripe secret key. One Provider is constructed per project
// by the caller, using security.EncryptionService to decrypt the
// project's stored credentials first. Outbound calls are client-side
// rate limited independent of the reconciler's bounded-concurrency
// worker pool, which only bounds in-flight requests, not their rate.
type Provider struct {
	client  *stripe.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// New decrypts cipherKey with enc and constructs a Stripe-backed
// provider for a single project.
func New(cipherKey string, enc security.EncryptionService, log *logger.Logger) (*Provider, error) {
	secretKey, err := enc.Decrypt(cipherKey)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("failed to decrypt stripe secret key").
			Mark(ierr.ErrValidation)
	}
	return &Provider{
		client:  stripe.NewClient(secretKey, nil),
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultRateLimit),
		log:     log,
	}, nil
}

func (p *Provider) wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return ierr.WithError(err).
			WithHint("stripe rate limiter wait canceled").
			Mark(ierr.ErrSystem)
	}
	return nil
}

func (p *Provider) CreateInvoice(ctx context.Context, payload external.ProviderInvoicePayload) (external.ProviderInvoice, error) {
	if err := p.wait(ctx); err != nil {
		return external.ProviderInvoice{}, err
	}
	params := &stripe.InvoiceCreateParams{
		Currency:         stripe.String(payload.Currency),
		Description:      stripe.String(payload.Description),
		AutoAdvance:      stripe.Bool(false),
	}
	if payload.CollectionMethod == "send_invoice" {
		params.CollectionMethod = stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice))
		params.DueDate = stripe.Int64(payload.DueDate / 1000)
	} else {
		params.CollectionMethod = stripe.String(string(stripe.InvoiceCollectionMethodChargeAutomatically))
	}
	for k, v := range payload.CustomFields {
		params.AddMetadata(k, v)
	}

	inv, err := p.client.V1Invoices.Create(ctx, params)
	if err != nil {
		return external.ProviderInvoice{}, ierr.WithError(err).
			WithHint("stripe invoice creation failed").
			Mark(ierr.ErrProviderCreateFailed)
	}
	return toProviderInvoice(inv), nil
}

func (p *Provider) UpdateInvoice(ctx context.Context, providerInvoiceID string, payload external.ProviderInvoicePayload) (external.ProviderInvoice, error) {
	if err := p.wait(ctx); err != nil {
		return external.ProviderInvoice{}, err
	}
	params := &stripe.InvoiceUpdateParams{Description: stripe.String(payload.Description)}
	for k, v := range payload.CustomFields {
		params.AddMetadata(k, v)
	}
	inv, err := p.client.V1Invoices.Update(ctx, providerInvoiceID, params)
	if err != nil {
		return external.ProviderInvoice{}, ierr.WithError(err).
			WithHint("stripe invoice update failed").
			Mark(ierr.ErrProviderUpdateFailed)
	}
	return toProviderInvoice(inv), nil
}

func (p *Provider) GetInvoice(ctx context.Context, providerInvoiceID string) (external.ProviderInvoice, error) {
	if err := p.wait(ctx); err != nil {
		return external.ProviderInvoice{}, err
	}
	inv, err := p.client.V1Invoices.Retrieve(ctx, providerInvoiceID, nil)
	if err != nil {
		return external.ProviderInvoice{}, ierr.WithError(err).
			WithHint("stripe invoice retrieval failed").
			Mark(ierr.ErrNotFound)
	}
	return toProviderInvoice(inv), nil
}

func (p *Provider) FinalizeInvoice(ctx context.Context, providerInvoiceID string) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	_, err := p.client.V1Invoices.FinalizeInvoice(ctx, providerInvoiceID, &stripe.InvoiceFinalizeInvoiceParams{})
	if err != nil {
		return ierr.WithError(err).
			WithHint("stripe invoice finalization failed").
			Mark(ierr.ErrProviderFinalizeFailed)
	}
	return nil
}

func (p *Provider) AddInvoiceItem(ctx context.Context, item external.ProviderInvoiceItemPayload) (external.ProviderLineItem, error) {
	if err := p.wait(ctx); err != nil {
		return external.ProviderLineItem{}, err
	}
	params := &stripe.InvoiceItemCreateParams{
		Invoice:     stripe.String(item.ProviderInvoiceID),
		Amount:      stripe.Int64(item.AmountCents),
		Description: stripe.String(item.Description),
	}
	for k, v := range item.Metadata {
		params.AddMetadata(k, v)
	}

	created, err := p.client.V1InvoiceItems.Create(ctx, params)
	if err != nil {
		return external.ProviderLineItem{}, ierr.WithError(err).
			WithHint("stripe invoice item creation failed").
			Mark(ierr.ErrProviderUpdateFailed)
	}
	return external.ProviderLineItem{
		ID:                 created.ID,
		SubscriptionItemID: item.SubscriptionItemID,
		AmountCents:        created.Amount,
	}, nil
}

func (p *Provider) UpdateInvoiceItem(ctx context.Context, item external.ProviderInvoiceItemPayload) (external.ProviderLineItem, error) {
	if err := p.wait(ctx); err != nil {
		return external.ProviderLineItem{}, err
	}
	params := &stripe.InvoiceItemUpdateParams{Amount: stripe.Int64(item.AmountCents)}
	updated, err := p.client.V1InvoiceItems.Update(ctx, item.ExistingItemID, params)
	if err != nil {
		return external.ProviderLineItem{}, ierr.WithError(err).
			WithHint("stripe invoice item update failed").
			Mark(ierr.ErrProviderUpdateFailed)
	}
	return external.ProviderLineItem{
		ID:                 updated.ID,
		SubscriptionItemID: item.SubscriptionItemID,
		AmountCents:        updated.Amount,
	}, nil
}

func (p *Provider) GetStatusInvoice(ctx context.Context, providerInvoiceID string) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}
	inv, err := p.client.V1Invoices.Retrieve(ctx, providerInvoiceID, nil)
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("stripe invoice status lookup failed").
			Mark(ierr.ErrNotFound)
	}
	return string(inv.Status), nil
}

func (p *Provider) CollectPayment(ctx context.Context, providerInvoiceID, paymentMethodID, idempotencyKey string) (external.PaymentResult, error) {
	if err := p.wait(ctx); err != nil {
		return external.PaymentResult{}, err
	}
	params := &stripe.InvoicePayParams{}
	if paymentMethodID != "" {
		params.PaymentMethod = stripe.String(paymentMethodID)
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	paid, err := p.client.V1Invoices.Pay(ctx, providerInvoiceID, params)
	if err != nil {
		return external.PaymentResult{}, ierr.WithError(err).
			WithHint("stripe payment collection failed").
			Mark(ierr.ErrProviderCollectFailed)
	}
	return external.PaymentResult{Status: string(paid.Status), URL: paid.HostedInvoiceURL}, nil
}

func (p *Provider) SendInvoice(ctx context.Context, providerInvoiceID string) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	_, err := p.client.V1Invoices.SendInvoice(ctx, providerInvoiceID, &stripe.InvoiceSendInvoiceParams{})
	if err != nil {
		return ierr.WithError(err).
			WithHint("stripe invoice send failed").
			Mark(ierr.ErrProviderUpdateFailed)
	}
	return nil
}

// FormatAmount renders cents in the provider's own display convention
// (Stripe amounts are always integer minor units; this only appends the
// currency code as given, e.g. "12.34 usd", for log/notification contexts).
func (p *Provider) FormatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(cents)/100, currency)
}

func toProviderInvoice(inv *stripe.Invoice) external.ProviderInvoice {
	out := external.ProviderInvoice{
		ID:         inv.ID,
		Status:     string(inv.Status),
		TotalCents: inv.Total,
		URL:        inv.HostedInvoiceURL,
	}
	if inv.Lines != nil {
		for _, l := range inv.Lines.Data {
			out.LineItems = append(out.LineItems, external.ProviderLineItem{
				ID:                 l.ID,
				SubscriptionItemID: l.Metadata["subscriptionItemId"],
				Kind:               l.Metadata["kind"],
				AmountCents:        l.Amount,
			})
		}
	}
	return out
}
