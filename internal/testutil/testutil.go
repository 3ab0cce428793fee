// Package testutil provides in-memory fakes for this module's store and
// collaborator interfaces, grounded on the hand-written fakes already
// used ad hoc in grantsmanager, billing and entitlementservice's own
// _test.go files — collected here so new packages don't each reinvent
// one.
package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/flexprice/flexcore/internal/billing"
	ierr "github.com/flexprice/flexcore/internal/errors"
	"github.com/flexprice/flexcore/internal/external"
	"github.com/flexprice/flexcore/internal/grantsmanager"
	"github.com/flexprice/flexcore/internal/types"
)

// InMemoryGrantStore implements grantsmanager.GrantStore over plain maps
// guarded by a mutex. Not a realistic concurrency model for Postgres's
// actual isolation guarantees — just enough to exercise caller logic.
type InMemoryGrantStore struct {
	mu     sync.Mutex
	grants map[string]types.Grant // keyed by grant ID
	states map[string]types.EntitlementState
}

func NewInMemoryGrantStore() *InMemoryGrantStore {
	return &InMemoryGrantStore{
		grants: make(map[string]types.Grant),
		states: make(map[string]types.EntitlementState),
	}
}

func (s *InMemoryGrantStore) CreateGrant(ctx context.Context, g types.Grant) (types.Grant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.grants {
		if sameGrantKey(existing, g) {
			return existing, false, nil
		}
	}
	if g.ID == "" {
		g.ID = idFor(len(s.grants))
	}
	s.grants[g.ID] = g
	return g, true, nil
}

func sameGrantKey(a, b types.Grant) bool {
	return a.ProjectID == b.ProjectID && a.SubjectType == b.SubjectType &&
		a.SubjectID == b.SubjectID && a.FeaturePlanVersionID == b.FeaturePlanVersionID &&
		a.Type == b.Type && a.EffectiveAt == b.EffectiveAt && equalExpiry(a.ExpiresAt, b.ExpiresAt)
}

func equalExpiry(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func idFor(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	return "grant_" + string(alphabet[n%len(alphabet)]) + string(rune('0'+n/len(alphabet)))
}

func (s *InMemoryGrantStore) ListActiveGrantsForSubjects(ctx context.Context, projectID string, subjects []grantsmanager.Subject, startAt int64, endAt *int64) ([]types.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[grantsmanager.Subject]bool, len(subjects))
	for _, subj := range subjects {
		want[subj] = true
	}

	var out []types.Grant
	for _, g := range s.grants {
		if g.ProjectID != projectID || g.Deleted {
			continue
		}
		if !want[grantsmanager.Subject{Type: g.SubjectType, ID: g.SubjectID}] {
			continue
		}
		if g.ExpiresAt != nil && *g.ExpiresAt <= startAt {
			continue
		}
		if endAt != nil && g.EffectiveAt >= *endAt {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *InMemoryGrantStore) ListOverlappingGrants(ctx context.Context, projectID string, subjectType types.SubjectType, subjectID, featureSlug string, startAt int64, endAt *int64) ([]types.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Grant
	for _, g := range s.grants {
		if g.ProjectID != projectID || g.Deleted {
			continue
		}
		if g.SubjectType != subjectType || g.SubjectID != subjectID || g.FeatureSlug != featureSlug {
			continue
		}
		if g.ExpiresAt != nil && *g.ExpiresAt <= startAt {
			continue
		}
		if endAt != nil && g.EffectiveAt >= *endAt {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *InMemoryGrantStore) FindCoveringGrant(ctx context.Context, projectID, featurePlanVersionID, customerID string, start, end int64) (types.Grant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.grants {
		if g.ProjectID != projectID || g.Deleted {
			continue
		}
		if g.FeaturePlanVersionID != featurePlanVersionID || g.SubjectID != customerID {
			continue
		}
		if g.EffectiveAt <= start && (g.ExpiresAt == nil || *g.ExpiresAt >= end) {
			return g, true, nil
		}
	}
	return types.Grant{}, false, nil
}

func (s *InMemoryGrantStore) GetEntitlementState(ctx context.Context, projectID, customerID, featureSlug string) (types.EntitlementState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[projectID+":"+customerID+":"+featureSlug]
	return state, ok, nil
}

func (s *InMemoryGrantStore) UpsertEntitlementState(ctx context.Context, state types.EntitlementState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Key()] = state
	return nil
}

func (s *InMemoryGrantStore) ListAutoRenewableExpiring(ctx context.Context, projectID string, before int64) ([]types.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Grant
	for _, g := range s.grants {
		if g.ProjectID != projectID || g.Deleted {
			continue
		}
		if !g.AutoRenew || g.ExpiresAt == nil || *g.ExpiresAt > before {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

var _ grantsmanager.GrantStore = (*InMemoryGrantStore)(nil)

// InMemoryLock implements sublock.Backend with a plain map — every
// acquire/extend/release call takes the same process-wide mutex, so
// there is no real contention modeling, only correctness of the
// caller's lock/heartbeat/release sequencing.
type InMemoryLock struct {
	mu      sync.Mutex
	holders map[string]lockRow
}

type lockRow struct {
	owner     string
	expiresAt int64
}

func NewInMemoryLock() *InMemoryLock {
	return &InMemoryLock{holders: make(map[string]lockRow)}
}

func lockKey(projectID, subscriptionID string) string { return projectID + "/" + subscriptionID }

func (l *InMemoryLock) TryAcquire(ctx context.Context, projectID, subscriptionID, owner string, now, expiresAt, staleBefore int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := lockKey(projectID, subscriptionID)
	row, held := l.holders[key]
	if held && row.expiresAt > staleBefore {
		return false, nil
	}
	l.holders[key] = lockRow{owner: owner, expiresAt: expiresAt}
	return true, nil
}

func (l *InMemoryLock) Extend(ctx context.Context, projectID, subscriptionID, owner string, newExpiresAt int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := lockKey(projectID, subscriptionID)
	row, held := l.holders[key]
	if !held || row.owner != owner {
		return false, nil
	}
	row.expiresAt = newExpiresAt
	l.holders[key] = row
	return true, nil
}

func (l *InMemoryLock) Release(ctx context.Context, projectID, subscriptionID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := lockKey(projectID, subscriptionID)
	if row, held := l.holders[key]; held && row.owner == owner {
		delete(l.holders, key)
	}
	return nil
}

// InMemoryAnalytics implements external.Analytics by appending every
// ingested batch to in-process slices and answering aggregation queries
// by summing/maxing/counting over them directly, mirroring what the
// ClickHouse adapter computes in SQL.
type InMemoryAnalytics struct {
	mu            sync.Mutex
	Usage         []external.UsageRecord
	Verifications []external.VerificationRecord
	billedUsage   map[string]string
}

func NewInMemoryAnalytics() *InMemoryAnalytics {
	return &InMemoryAnalytics{billedUsage: map[string]string{}}
}

// SetUsage stages the aggregated usage GetUsageBillingFeatures returns
// for a feature slug. Unset slugs default to "0".
func (a *InMemoryAnalytics) SetUsage(featureSlug, usage string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.billedUsage[featureSlug] = usage
}

func (a *InMemoryAnalytics) GetUsageBillingFeatures(ctx context.Context, projectID, customerID string, features []external.UsageFeatureQuery, startAt, endAt int64) ([]external.UsageFeatureResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]external.UsageFeatureResult, 0, len(features))
	for _, f := range features {
		usage, ok := a.billedUsage[f.FeatureSlug]
		if !ok {
			usage = "0"
		}
		out = append(out, external.UsageFeatureResult{FeatureSlug: f.FeatureSlug, Usage: usage})
	}
	return out, nil
}

func (a *InMemoryAnalytics) IngestFeaturesUsage(ctx context.Context, records []external.UsageRecord) (external.IngestResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Usage = append(a.Usage, records...)
	return external.IngestResult{SuccessfulRows: len(records)}, nil
}

func (a *InMemoryAnalytics) IngestFeaturesVerification(ctx context.Context, records []external.VerificationRecord) (external.IngestResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Verifications = append(a.Verifications, records...)
	return external.IngestResult{SuccessfulRows: len(records)}, nil
}

var _ external.Analytics = (*InMemoryAnalytics)(nil)

// InMemoryPaymentProvider fakes a payment provider's own invoice
// bookkeeping with a counter-driven ID scheme, so reconciler/collector
// tests can assert on create/update/finalize/collect call sequencing
// without a real Stripe sandbox.
type InMemoryPaymentProvider struct {
	mu       sync.Mutex
	Invoices map[string]external.ProviderInvoice
	seq      int
	// PayStatus is returned as the Status of every CollectPayment call;
	// defaults to "paid" when empty.
	PayStatus string
	// FailCollect makes every CollectPayment call return an error, for
	// exercising the collector's failed-attempt path.
	FailCollect bool
}

func NewInMemoryPaymentProvider() *InMemoryPaymentProvider {
	return &InMemoryPaymentProvider{Invoices: make(map[string]external.ProviderInvoice)}
}

func (p *InMemoryPaymentProvider) nextID(prefix string) string {
	p.seq++
	return prefix + "_" + string(rune('a'+p.seq%26)) + string(rune('0'+p.seq/26))
}

func (p *InMemoryPaymentProvider) CreateInvoice(ctx context.Context, payload external.ProviderInvoicePayload) (external.ProviderInvoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inv := external.ProviderInvoice{ID: p.nextID("in"), Status: "draft"}
	p.Invoices[inv.ID] = inv
	return inv, nil
}

func (p *InMemoryPaymentProvider) UpdateInvoice(ctx context.Context, providerInvoiceID string, payload external.ProviderInvoicePayload) (external.ProviderInvoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inv := p.Invoices[providerInvoiceID]
	p.Invoices[providerInvoiceID] = inv
	return inv, nil
}

func (p *InMemoryPaymentProvider) GetInvoice(ctx context.Context, providerInvoiceID string) (external.ProviderInvoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Invoices[providerInvoiceID], nil
}

func (p *InMemoryPaymentProvider) FinalizeInvoice(ctx context.Context, providerInvoiceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	inv := p.Invoices[providerInvoiceID]
	inv.Status = "open"
	p.Invoices[providerInvoiceID] = inv
	return nil
}

func (p *InMemoryPaymentProvider) AddInvoiceItem(ctx context.Context, item external.ProviderInvoiceItemPayload) (external.ProviderLineItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	li := external.ProviderLineItem{ID: p.nextID("ii"), SubscriptionItemID: item.SubscriptionItemID, AmountCents: item.AmountCents}
	inv := p.Invoices[item.ProviderInvoiceID]
	inv.LineItems = append(inv.LineItems, li)
	inv.TotalCents += item.AmountCents
	p.Invoices[item.ProviderInvoiceID] = inv
	return li, nil
}

func (p *InMemoryPaymentProvider) UpdateInvoiceItem(ctx context.Context, item external.ProviderInvoiceItemPayload) (external.ProviderLineItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return external.ProviderLineItem{ID: item.ExistingItemID, SubscriptionItemID: item.SubscriptionItemID, AmountCents: item.AmountCents}, nil
}

func (p *InMemoryPaymentProvider) GetStatusInvoice(ctx context.Context, providerInvoiceID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Invoices[providerInvoiceID].Status, nil
}

func (p *InMemoryPaymentProvider) CollectPayment(ctx context.Context, providerInvoiceID, paymentMethodID, idempotencyKey string) (external.PaymentResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailCollect {
		return external.PaymentResult{}, ierr.NewError("card declined").Mark(ierr.ErrProviderCollectFailed)
	}
	status := p.PayStatus
	if status == "" {
		status = "paid"
	}
	inv := p.Invoices[providerInvoiceID]
	inv.Status = status
	p.Invoices[providerInvoiceID] = inv
	return external.PaymentResult{Status: status}, nil
}

func (p *InMemoryPaymentProvider) SendInvoice(ctx context.Context, providerInvoiceID string) error {
	return nil
}

func (p *InMemoryPaymentProvider) FormatAmount(cents int64, currency string) string {
	return currency
}

var _ external.PaymentProvider = (*InMemoryPaymentProvider)(nil)

// InMemoryBillingStore implements billing.Store over plain maps, for
// materializer/finalizer/reconciler/collector tests that shouldn't need
// a real Postgres instance.
type InMemoryBillingStore struct {
	mu            sync.Mutex
	periods       map[string]types.BillingPeriod // keyed by ID
	invoices      map[string]types.Invoice       // keyed by ID
	invoiceItems  map[string][]types.InvoiceItem // keyed by invoice ID
	creditGrants  map[string]types.CreditGrant   // keyed by ID
	creditApplied map[string]bool                // keyed by invoiceID+"/"+creditGrantID
	seq           int
}

func NewInMemoryBillingStore() *InMemoryBillingStore {
	return &InMemoryBillingStore{
		periods:       make(map[string]types.BillingPeriod),
		invoices:      make(map[string]types.Invoice),
		invoiceItems:  make(map[string][]types.InvoiceItem),
		creditGrants:  make(map[string]types.CreditGrant),
		creditApplied: make(map[string]bool),
	}
}

func (s *InMemoryBillingStore) nextID(prefix string) string {
	s.seq++
	return prefix + "_" + string(rune('a'+s.seq%26)) + string(rune('0'+s.seq/26))
}

func (s *InMemoryBillingStore) CreateBillingPeriod(ctx context.Context, p types.BillingPeriod) (types.BillingPeriod, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.periods {
		if existing.StatementKey == p.StatementKey {
			return existing, false, nil
		}
	}
	if p.ID == "" {
		p.ID = s.nextID("period")
	}
	s.periods[p.ID] = p
	return p, true, nil
}

func (s *InMemoryBillingStore) ListDueBillingPeriods(ctx context.Context, projectID string, before int64, limit int) ([]types.BillingPeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.BillingPeriod
	for _, p := range s.periods {
		if p.ProjectID != projectID || p.InvoiceID != nil || p.InvoiceAt > before {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryBillingStore) MarkBillingPeriodInvoiced(ctx context.Context, billingPeriodID, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.periods[billingPeriodID]
	if !ok {
		return nil
	}
	p.InvoiceID = &invoiceID
	s.periods[billingPeriodID] = p
	return nil
}

func (s *InMemoryBillingStore) GetLatestBillingPeriod(ctx context.Context, projectID, subscriptionItemID string) (types.BillingPeriod, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest types.BillingPeriod
	found := false
	for _, p := range s.periods {
		if p.ProjectID != projectID || p.SubscriptionItemID != subscriptionItemID {
			continue
		}
		if !found || p.CycleStartAt > latest.CycleStartAt {
			latest = p
			found = true
		}
	}
	return latest, found, nil
}

func (s *InMemoryBillingStore) CreateInvoice(ctx context.Context, inv types.Invoice, items []types.InvoiceItem) (types.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.ID == "" {
		inv.ID = s.nextID("inv")
	}
	s.invoices[inv.ID] = inv
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = s.nextID("invitem")
		}
		items[i].InvoiceID = inv.ID
	}
	s.invoiceItems[inv.ID] = items
	return inv, nil
}

func (s *InMemoryBillingStore) GetInvoice(ctx context.Context, projectID, invoiceID string) (types.Invoice, []types.InvoiceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok || inv.ProjectID != projectID {
		return types.Invoice{}, nil, ierr.ErrNotFound
	}
	return inv, s.invoiceItems[invoiceID], nil
}

func (s *InMemoryBillingStore) UpdateInvoiceStatus(ctx context.Context, projectID, invoiceID string, status types.InvoiceStatus, paidAt *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok || inv.ProjectID != projectID {
		return ierr.ErrNotFound
	}
	inv.Status = status
	if paidAt != nil {
		inv.PaidAt = paidAt
	}
	s.invoices[invoiceID] = inv
	return nil
}

func (s *InMemoryBillingStore) SetInvoiceCreditAndTotal(ctx context.Context, projectID, invoiceID string, amountCreditUsedCents, totalCents int64, status types.InvoiceStatus, paidAt *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok || inv.ProjectID != projectID {
		return ierr.ErrNotFound
	}
	inv.AmountCreditUsedCents = amountCreditUsedCents
	inv.TotalCents = totalCents
	inv.Status = status
	if paidAt != nil {
		inv.PaidAt = paidAt
	}
	s.invoices[invoiceID] = inv
	return nil
}

func (s *InMemoryBillingStore) SetInvoiceProviderRef(ctx context.Context, projectID, invoiceID, providerInvoiceID, providerURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok || inv.ProjectID != projectID {
		return ierr.ErrNotFound
	}
	inv.InvoicePaymentProviderID = &providerInvoiceID
	inv.InvoicePaymentProviderURL = &providerURL
	s.invoices[invoiceID] = inv
	return nil
}

func (s *InMemoryBillingStore) MarkInvoiceSent(ctx context.Context, projectID, invoiceID string, sentAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok || inv.ProjectID != projectID {
		return ierr.ErrNotFound
	}
	inv.Status = types.InvoiceStatusWaiting
	inv.SentAt = &sentAt
	s.invoices[invoiceID] = inv
	return nil
}

func (s *InMemoryBillingStore) AppendPaymentAttempt(ctx context.Context, projectID, invoiceID string, attempt types.PaymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok || inv.ProjectID != projectID {
		return ierr.ErrNotFound
	}
	inv.PaymentAttempts = append(inv.PaymentAttempts, attempt)
	s.invoices[invoiceID] = inv
	return nil
}

func (s *InMemoryBillingStore) ListPastDueInvoices(ctx context.Context, projectID string, maxAttempts int) ([]types.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Invoice
	for _, inv := range s.invoices {
		if inv.ProjectID != projectID {
			continue
		}
		if inv.Status == types.InvoiceStatusPaid || inv.Status == types.InvoiceStatusVoid {
			continue
		}
		if len(inv.PaymentAttempts) >= maxAttempts {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

func (s *InMemoryBillingStore) ListActiveCreditGrants(ctx context.Context, projectID, customerID, currency, provider string, now int64) ([]types.CreditGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.CreditGrant
	for _, g := range s.creditGrants {
		if g.ProjectID != projectID || g.CustomerID != customerID || !g.Active {
			continue
		}
		if g.Currency != currency || g.PaymentProvider != provider {
			continue
		}
		if g.ExpiresAt != nil && *g.ExpiresAt <= now {
			continue
		}
		if g.Remaining() <= 0 {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		ei, ej := out[i].ExpiresAt, out[j].ExpiresAt
		if ei == nil {
			return false
		}
		if ej == nil {
			return true
		}
		if *ei != *ej {
			return *ei < *ej
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryBillingStore) ApplyCredit(ctx context.Context, app types.InvoiceCreditApplication, newAmountUsedCents int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := app.InvoiceID + "/" + app.CreditGrantID
	if s.creditApplied[key] {
		return false, nil
	}
	s.creditApplied[key] = true

	g, ok := s.creditGrants[app.CreditGrantID]
	if ok {
		g.AmountUsedCents = newAmountUsedCents
		s.creditGrants[app.CreditGrantID] = g
	}
	return true, nil
}

// AddCreditGrant seeds a credit grant directly, for test setup.
func (s *InMemoryBillingStore) AddCreditGrant(g types.CreditGrant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == "" {
		g.ID = s.nextID("credit")
	}
	s.creditGrants[g.ID] = g
}

var _ billing.Store = (*InMemoryBillingStore)(nil)

// InMemorySubscriptionMachineFactory hands out fake state machines that
// just record which report*/Create/Shutdown calls they received, so
// collector tests can assert on the sequence without a real
// out-of-scope subscription-domain state machine.
type InMemorySubscriptionMachineFactory struct {
	mu       sync.Mutex
	Machines []*InMemorySubscriptionMachine
}

func NewInMemorySubscriptionMachineFactory() *InMemorySubscriptionMachineFactory {
	return &InMemorySubscriptionMachineFactory{}
}

func (f *InMemorySubscriptionMachineFactory) New(ctx context.Context, projectID, subscriptionID string) external.SubscriptionMachine {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &InMemorySubscriptionMachine{ProjectID: projectID, SubscriptionID: subscriptionID}
	f.Machines = append(f.Machines, m)
	return m
}

// InMemorySubscriptionMachine implements external.SubscriptionMachine.
type InMemorySubscriptionMachine struct {
	mu              sync.Mutex
	ProjectID       string
	SubscriptionID  string
	Created         bool
	ShutdownCalled  bool
	SuccessInvoices []string
	FailedInvoices  []string
	PaymentFailures []string
}

func (m *InMemorySubscriptionMachine) Create(ctx context.Context, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Created = true
	return nil
}

func (m *InMemorySubscriptionMachine) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShutdownCalled = true
	return nil
}

func (m *InMemorySubscriptionMachine) ReportInvoiceSuccess(ctx context.Context, invoiceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SuccessInvoices = append(m.SuccessInvoices, invoiceID)
	return nil
}

func (m *InMemorySubscriptionMachine) ReportInvoiceFailure(ctx context.Context, invoiceID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailedInvoices = append(m.FailedInvoices, invoiceID)
	return nil
}

func (m *InMemorySubscriptionMachine) ReportPaymentFailure(ctx context.Context, invoiceID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PaymentFailures = append(m.PaymentFailures, invoiceID)
	return nil
}

var _ external.SubscriptionMachineFactory = (*InMemorySubscriptionMachineFactory)(nil)
var _ external.SubscriptionMachine = (*InMemorySubscriptionMachine)(nil)
