package types

import "github.com/shopspring/decimal"

// BillingPeriod is a persistent record of one cycle for one subscription
// item.
type BillingPeriod struct {
	ID                   string
	ProjectID            string
	SubscriptionID       string
	SubscriptionPhaseID  string
	SubscriptionItemID   string
	CycleStartAt         int64
	CycleEndAt           int64
	Status               BillingPeriodStatus
	Type                 BillingPeriodType
	InvoiceAt             int64
	WhenToBill           WhenToBill
	StatementKey         string
	GrantID              string
	InvoiceID            *string
}

// PaymentAttempt records one attempt at collecting an invoice.
type PaymentAttempt struct {
	AttemptedAt int64
	Succeeded   bool
	Note        string
}

// Invoice belongs to (project, subscription).
type Invoice struct {
	ID                        string
	ProjectID                 string
	SubscriptionID            string
	CustomerID                string
	Status                    InvoiceStatus
	SubtotalCents             int64
	TotalCents                int64
	AmountCreditUsedCents     int64
	Currency                  string
	PaymentProvider           string
	CollectionMethod          CollectionMethod
	PaymentMethodID           string
	InvoicePaymentProviderID  *string
	InvoicePaymentProviderURL *string
	PaymentAttempts           []PaymentAttempt
	DueAt                     int64
	PastDueAt                 int64
	IssueDate                 *int64
	SentAt                    *int64
	PaidAt                    *int64
	Metadata                  map[string]string
}

// InvoiceItem is a line item on an invoice.
type InvoiceItem struct {
	ID                   string
	InvoiceID            string
	FeaturePlanVersionID string
	SubscriptionItemID   *string
	GrantID              *string
	Kind                 InvoiceItemKind
	Quantity             decimal.Decimal
	UnitAmountCents      int64
	AmountSubtotalCents  int64
	AmountTotalCents     int64
	Description          string
	CycleStartAt         int64
	CycleEndAt           int64
	ProrationFactor      float64
	ItemProviderID       *string
}

// CreditGrant is a unit of credit applicable to future invoices of the
// same currency and provider.
type CreditGrant struct {
	ID              string
	ProjectID       string
	CustomerID      string
	TotalAmountCents int64
	AmountUsedCents  int64
	Currency        string
	PaymentProvider string
	ExpiresAt       *int64
	Active          bool
}

// Remaining returns the unused balance of the credit grant.
func (c CreditGrant) Remaining() int64 {
	r := c.TotalAmountCents - c.AmountUsedCents
	if r < 0 {
		return 0
	}
	return r
}

// InvoiceCreditApplication is the per-invoice credit application ledger
// entry, recorded for idempotency.
type InvoiceCreditApplication struct {
	ID              string
	InvoiceID       string
	CreditGrantID   string
	AmountAppliedCents int64
	AppliedAt       int64
}

// SubscriptionLockRow is the durable-store row backing SubscriptionLock.
type SubscriptionLockRow struct {
	ProjectID      string
	SubscriptionID string
	Owner          string
	AcquiredAt     int64
	ExpiresAt      int64
}
