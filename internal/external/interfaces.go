// Package external declares the boundary interfaces for collaborators
// that are deliberately out of this core's scope: the analytics ingest
// backend, the payment provider's own API, customer-service lookups, and
// the subscription state machine. Concrete adapters live under
// internal/analytics and internal/paymentprovider.
package external

import (
	"context"
	"errors"
)

// ErrAggregationNotSupportedByPublisher is returned by Analytics
// adapters that only forward ingest batches onto a bus and cannot
// answer a synchronous aggregation query.
var ErrAggregationNotSupportedByPublisher = errors.New("aggregation not supported by this analytics adapter")

// UsageFeatureQuery is one feature to aggregate within a window.
type UsageFeatureQuery struct {
	FeatureSlug       string
	AggregationMethod string
	FeatureType       string
}

// UsageFeatureResult is one feature's aggregated usage for a window.
type UsageFeatureResult struct {
	FeatureSlug      string
	Usage            string
	AccumulatedUsage *string
}

// IngestResult reports how many buffered records landed vs. were
// quarantined by the analytics backend.
type IngestResult struct {
	SuccessfulRows int
	QuarantinedRows int
}

// UsageRecord is one buffered consumption event.
type UsageRecord struct {
	ProjectID      string
	CustomerID     string
	FeatureSlug    string
	Amount         string
	IdempotenceKey string
	RecordedAt     int64
}

// VerificationRecord is one buffered verify-call outcome.
type VerificationRecord struct {
	ProjectID    string
	CustomerID   string
	FeatureSlug  string
	Allowed      bool
	DeniedReason string
	LatencyMs    int64
	RequestID    string
	RecordedAt   int64
}

// Analytics is the consumed ingest/aggregation backend.
type Analytics interface {
	GetUsageBillingFeatures(ctx context.Context, projectID, customerID string, features []UsageFeatureQuery, startAt, endAt int64) ([]UsageFeatureResult, error)
	IngestFeaturesUsage(ctx context.Context, records []UsageRecord) (IngestResult, error)
	IngestFeaturesVerification(ctx context.Context, records []VerificationRecord) (IngestResult, error)
}

// ProviderInvoice is the payment provider's own invoice representation.
type ProviderInvoice struct {
	ID          string
	Status      string
	TotalCents  int64
	URL         string
	LineItems   []ProviderLineItem
}

// ProviderLineItem is one line item as the provider sees it.
type ProviderLineItem struct {
	ID                 string
	SubscriptionItemID string
	Kind               string
	AmountCents        int64
}

// ProviderInvoicePayload is the base payload for creating/updating a
// provider invoice.
type ProviderInvoicePayload struct {
	Currency         string
	CollectionMethod string
	CustomerName     string
	Email            string
	Description      string
	DueDate          int64
	CustomFields     map[string]string
}

// ProviderInvoiceItemPayload describes one line item to upsert on the
// provider side.
type ProviderInvoiceItemPayload struct {
	ProviderInvoiceID  string
	ExistingItemID     string
	SubscriptionItemID string
	AmountCents        int64
	Description        string
	PeriodStart        int64
	PeriodEnd          int64
	Metadata           map[string]string
}

// PaymentResult is the outcome of a payment-collection attempt.
type PaymentResult struct {
	Status string // e.g. "paid", "unpaid"
	URL    string
}

// PaymentProvider is the consumed payment-provider API, behind one
// concrete adapter (internal/paymentprovider/stripe). Every method
// returns an error rather than panicking for an expected business
// condition.
type PaymentProvider interface {
	CreateInvoice(ctx context.Context, payload ProviderInvoicePayload) (ProviderInvoice, error)
	UpdateInvoice(ctx context.Context, providerInvoiceID string, payload ProviderInvoicePayload) (ProviderInvoice, error)
	GetInvoice(ctx context.Context, providerInvoiceID string) (ProviderInvoice, error)
	FinalizeInvoice(ctx context.Context, providerInvoiceID string) error
	AddInvoiceItem(ctx context.Context, item ProviderInvoiceItemPayload) (ProviderLineItem, error)
	UpdateInvoiceItem(ctx context.Context, item ProviderInvoiceItemPayload) (ProviderLineItem, error)
	GetStatusInvoice(ctx context.Context, providerInvoiceID string) (string, error)
	CollectPayment(ctx context.Context, providerInvoiceID, paymentMethodID, idempotencyKey string) (PaymentResult, error)
	SendInvoice(ctx context.Context, providerInvoiceID string) error
	FormatAmount(cents int64, currency string) string
}

// ProviderConfig is the resolved, decrypted provider configuration for a
// project.
type ProviderConfig struct {
	Provider string
	APIKey   string
}

// CustomerService resolves provider configuration for a project.
type CustomerService interface {
	GetPaymentProvider(ctx context.Context, projectID, provider string) (ProviderConfig, error)
}

// SubscriptionMachine is the out-of-scope async state machine that
// emits success/failure events per invoice.
type SubscriptionMachine interface {
	Create(ctx context.Context, subscriptionID string) error
	Shutdown(ctx context.Context) error
	ReportInvoiceSuccess(ctx context.Context, invoiceID string) error
	ReportInvoiceFailure(ctx context.Context, invoiceID string, reason string) error
	ReportPaymentFailure(ctx context.Context, invoiceID string, reason string) error
}

// SubscriptionMachineFactory creates one SubscriptionMachine per
// billing.Collector.Collect call.
type SubscriptionMachineFactory interface {
	New(ctx context.Context, projectID, subscriptionID string) SubscriptionMachine
}
