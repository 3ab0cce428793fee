package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/flexprice/flexcore/internal/billing"
	"github.com/flexprice/flexcore/internal/idgen"
	"github.com/flexprice/flexcore/internal/types"
	"github.com/shopspring/decimal"
)

func decimalFromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// BillingRepository implements billing.Store against billing_periods,
// invoices, invoice_items, credit_grants and invoice_credit_applications.
type BillingRepository struct {
	db *DB
}

var _ billing.Store = (*BillingRepository)(nil)

func NewBillingRepository(db *DB) *BillingRepository {
	return &BillingRepository{db: db}
}

type billingPeriodRow struct {
	ID                  string        `db:"id"`
	ProjectID           string        `db:"project_id"`
	SubscriptionID      string        `db:"subscription_id"`
	SubscriptionPhaseID string        `db:"subscription_phase_id"`
	SubscriptionItemID  string        `db:"subscription_item_id"`
	CycleStartAt        int64         `db:"cycle_start_at"`
	CycleEndAt          int64         `db:"cycle_end_at"`
	Status              string        `db:"status"`
	Type                string        `db:"type"`
	InvoiceAt           int64         `db:"invoice_at"`
	WhenToBill          string        `db:"when_to_bill"`
	StatementKey        string        `db:"statement_key"`
	GrantID             string        `db:"grant_id"`
	InvoiceID           sql.NullString `db:"invoice_id"`
}

func (r billingPeriodRow) toDomain() types.BillingPeriod {
	p := types.BillingPeriod{
		ID:                  r.ID,
		ProjectID:           r.ProjectID,
		SubscriptionID:      r.SubscriptionID,
		SubscriptionPhaseID: r.SubscriptionPhaseID,
		SubscriptionItemID:  r.SubscriptionItemID,
		CycleStartAt:        r.CycleStartAt,
		CycleEndAt:          r.CycleEndAt,
		Status:              types.BillingPeriodStatus(r.Status),
		Type:                types.BillingPeriodType(r.Type),
		InvoiceAt:           r.InvoiceAt,
		WhenToBill:          types.WhenToBill(r.WhenToBill),
		StatementKey:        r.StatementKey,
		GrantID:             r.GrantID,
	}
	if r.InvoiceID.Valid {
		p.InvoiceID = &r.InvoiceID.String
	}
	return p
}

func (r *BillingRepository) CreateBillingPeriod(ctx context.Context, p types.BillingPeriod) (types.BillingPeriod, bool, error) {
	if p.ID == "" {
		p.ID = idgen.New("billperiod")
	}
	q := r.db.Querier(ctx)
	res, err := q.ExecContext(ctx, `
		INSERT INTO billing_periods (
			id, project_id, subscription_id, subscription_phase_id, subscription_item_id,
			cycle_start_at, cycle_end_at, status, type, invoice_at, when_to_bill,
			statement_key, grant_id, invoice_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (statement_key) DO NOTHING`,
		p.ID, p.ProjectID, p.SubscriptionID, p.SubscriptionPhaseID, p.SubscriptionItemID,
		p.CycleStartAt, p.CycleEndAt, p.Status, p.Type, p.InvoiceAt, p.WhenToBill,
		p.StatementKey, p.GrantID, p.InvoiceID,
	)
	if err != nil {
		return types.BillingPeriod{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.BillingPeriod{}, false, err
	}
	if n == 0 {
		return types.BillingPeriod{}, false, nil
	}
	return p, true, nil
}

func (r *BillingRepository) ListDueBillingPeriods(ctx context.Context, projectID string, before int64, limit int) ([]types.BillingPeriod, error) {
	var rows []billingPeriodRow
	q := r.db.Querier(ctx)
	err := q.SelectContext(ctx, &rows, `
		SELECT * FROM billing_periods
		WHERE project_id = $1 AND status = 'pending' AND invoice_at < $2
		ORDER BY invoice_at
		LIMIT $3`,
		projectID, before, limit,
	)
	if err != nil {
		return nil, err
	}
	out := make([]types.BillingPeriod, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (r *BillingRepository) MarkBillingPeriodInvoiced(ctx context.Context, billingPeriodID, invoiceID string) error {
	q := r.db.Querier(ctx)
	_, err := q.ExecContext(ctx, `
		UPDATE billing_periods SET status = 'invoiced', invoice_id = $2 WHERE id = $1`,
		billingPeriodID, invoiceID,
	)
	return err
}

func (r *BillingRepository) GetLatestBillingPeriod(ctx context.Context, projectID, subscriptionItemID string) (types.BillingPeriod, bool, error) {
	var row billingPeriodRow
	q := r.db.Querier(ctx)
	err := q.GetContext(ctx, &row, `
		SELECT * FROM billing_periods
		WHERE project_id = $1 AND subscription_item_id = $2
		ORDER BY cycle_start_at DESC
		LIMIT 1`,
		projectID, subscriptionItemID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.BillingPeriod{}, false, nil
	}
	if err != nil {
		return types.BillingPeriod{}, false, err
	}
	return row.toDomain(), true, nil
}

type invoiceRow struct {
	ID                        string         `db:"id"`
	ProjectID                 string         `db:"project_id"`
	SubscriptionID            string         `db:"subscription_id"`
	CustomerID                string         `db:"customer_id"`
	Status                    string         `db:"status"`
	SubtotalCents             int64          `db:"subtotal_cents"`
	TotalCents                int64          `db:"total_cents"`
	AmountCreditUsedCents     int64          `db:"amount_credit_used_cents"`
	Currency                  string         `db:"currency"`
	PaymentProvider           string         `db:"payment_provider"`
	CollectionMethod          string         `db:"collection_method"`
	PaymentMethodID           sql.NullString `db:"payment_method_id"`
	InvoicePaymentProviderID  sql.NullString `db:"invoice_payment_provider_id"`
	InvoicePaymentProviderURL sql.NullString `db:"invoice_payment_provider_url"`
	PaymentAttempts           string         `db:"payment_attempts"`
	DueAt                     int64          `db:"due_at"`
	PastDueAt                 int64          `db:"past_due_at"`
	IssueDate                 sql.NullInt64  `db:"issue_date"`
	SentAt                    sql.NullInt64  `db:"sent_at"`
	PaidAt                    sql.NullInt64  `db:"paid_at"`
	Metadata                  string         `db:"metadata"`
}

func (r invoiceRow) toDomain() (types.Invoice, error) {
	inv := types.Invoice{
		ID:                    r.ID,
		ProjectID:             r.ProjectID,
		SubscriptionID:        r.SubscriptionID,
		CustomerID:            r.CustomerID,
		Status:                types.InvoiceStatus(r.Status),
		SubtotalCents:         r.SubtotalCents,
		TotalCents:            r.TotalCents,
		AmountCreditUsedCents: r.AmountCreditUsedCents,
		Currency:              r.Currency,
		PaymentProvider:       r.PaymentProvider,
		CollectionMethod:      types.CollectionMethod(r.CollectionMethod),
		DueAt:                 r.DueAt,
		PastDueAt:             r.PastDueAt,
	}
	if r.PaymentMethodID.Valid {
		inv.PaymentMethodID = r.PaymentMethodID.String
	}
	if r.InvoicePaymentProviderID.Valid {
		inv.InvoicePaymentProviderID = &r.InvoicePaymentProviderID.String
	}
	if r.InvoicePaymentProviderURL.Valid {
		inv.InvoicePaymentProviderURL = &r.InvoicePaymentProviderURL.String
	}
	if r.IssueDate.Valid {
		inv.IssueDate = &r.IssueDate.Int64
	}
	if r.SentAt.Valid {
		inv.SentAt = &r.SentAt.Int64
	}
	if r.PaidAt.Valid {
		inv.PaidAt = &r.PaidAt.Int64
	}
	if err := json.Unmarshal([]byte(r.PaymentAttempts), &inv.PaymentAttempts); err != nil {
		return types.Invoice{}, err
	}
	if err := json.Unmarshal([]byte(r.Metadata), &inv.Metadata); err != nil {
		return types.Invoice{}, err
	}
	return inv, nil
}

type invoiceItemRow struct {
	ID                   string         `db:"id"`
	InvoiceID            string         `db:"invoice_id"`
	FeaturePlanVersionID string         `db:"feature_plan_version_id"`
	SubscriptionItemID   sql.NullString `db:"subscription_item_id"`
	GrantID              sql.NullString `db:"grant_id"`
	Kind                 string         `db:"kind"`
	Quantity             string         `db:"quantity"`
	UnitAmountCents      int64          `db:"unit_amount_cents"`
	AmountSubtotalCents  int64          `db:"amount_subtotal_cents"`
	AmountTotalCents     int64          `db:"amount_total_cents"`
	Description          string         `db:"description"`
	CycleStartAt         int64          `db:"cycle_start_at"`
	CycleEndAt           int64          `db:"cycle_end_at"`
	ProrationFactor      float64        `db:"proration_factor"`
	ItemProviderID       sql.NullString `db:"item_provider_id"`
}

func (r *BillingRepository) CreateInvoice(ctx context.Context, inv types.Invoice, items []types.InvoiceItem) (types.Invoice, error) {
	if inv.ID == "" {
		inv.ID = idgen.New("inv")
	}

	attemptsJSON, err := json.Marshal(inv.PaymentAttempts)
	if err != nil {
		return types.Invoice{}, err
	}
	metaJSON, err := json.Marshal(inv.Metadata)
	if err != nil {
		return types.Invoice{}, err
	}

	err = r.db.WithTx(ctx, func(ctx context.Context) error {
		q := r.db.Querier(ctx)
		if _, err := q.ExecContext(ctx, `
			INSERT INTO invoices (
				id, project_id, subscription_id, customer_id, status, subtotal_cents,
				total_cents, amount_credit_used_cents, currency, payment_provider,
				collection_method, payment_method_id, due_at, past_due_at, issue_date,
				payment_attempts, metadata
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			inv.ID, inv.ProjectID, inv.SubscriptionID, inv.CustomerID, inv.Status, inv.SubtotalCents,
			inv.TotalCents, inv.AmountCreditUsedCents, inv.Currency, inv.PaymentProvider,
			inv.CollectionMethod, inv.PaymentMethodID, inv.DueAt, inv.PastDueAt, inv.IssueDate,
			string(attemptsJSON), string(metaJSON),
		); err != nil {
			return err
		}

		for _, item := range items {
			if item.ID == "" {
				item.ID = idgen.New("invitem")
			}
			if _, err := q.ExecContext(ctx, `
				INSERT INTO invoice_items (
					id, invoice_id, feature_plan_version_id, subscription_item_id, grant_id,
					kind, quantity, unit_amount_cents, amount_subtotal_cents, amount_total_cents,
					description, cycle_start_at, cycle_end_at, proration_factor, item_provider_id
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
				item.ID, inv.ID, item.FeaturePlanVersionID, item.SubscriptionItemID, item.GrantID,
				item.Kind, item.Quantity.String(), item.UnitAmountCents, item.AmountSubtotalCents, item.AmountTotalCents,
				item.Description, item.CycleStartAt, item.CycleEndAt, item.ProrationFactor, item.ItemProviderID,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return types.Invoice{}, err
	}
	return inv, nil
}

func (r *BillingRepository) GetInvoice(ctx context.Context, projectID, invoiceID string) (types.Invoice, []types.InvoiceItem, error) {
	var row invoiceRow
	q := r.db.Querier(ctx)
	if err := q.GetContext(ctx, &row, `
		SELECT * FROM invoices WHERE project_id = $1 AND id = $2`, projectID, invoiceID,
	); err != nil {
		return types.Invoice{}, nil, err
	}
	inv, err := row.toDomain()
	if err != nil {
		return types.Invoice{}, nil, err
	}

	var itemRows []invoiceItemRow
	if err := q.SelectContext(ctx, &itemRows, `
		SELECT * FROM invoice_items WHERE invoice_id = $1`, invoiceID,
	); err != nil {
		return types.Invoice{}, nil, err
	}

	items := make([]types.InvoiceItem, len(itemRows))
	for i, ir := range itemRows {
		qty, err := decimalFromString(ir.Quantity)
		if err != nil {
			return types.Invoice{}, nil, err
		}
		item := types.InvoiceItem{
			ID:                   ir.ID,
			InvoiceID:            ir.InvoiceID,
			FeaturePlanVersionID: ir.FeaturePlanVersionID,
			Kind:                 types.InvoiceItemKind(ir.Kind),
			Quantity:             qty,
			UnitAmountCents:      ir.UnitAmountCents,
			AmountSubtotalCents:  ir.AmountSubtotalCents,
			AmountTotalCents:     ir.AmountTotalCents,
			Description:          ir.Description,
			CycleStartAt:         ir.CycleStartAt,
			CycleEndAt:           ir.CycleEndAt,
			ProrationFactor:      ir.ProrationFactor,
		}
		if ir.SubscriptionItemID.Valid {
			item.SubscriptionItemID = &ir.SubscriptionItemID.String
		}
		if ir.GrantID.Valid {
			item.GrantID = &ir.GrantID.String
		}
		if ir.ItemProviderID.Valid {
			item.ItemProviderID = &ir.ItemProviderID.String
		}
		items[i] = item
	}

	return inv, items, nil
}

func (r *BillingRepository) UpdateInvoiceStatus(ctx context.Context, projectID, invoiceID string, status types.InvoiceStatus, paidAt *int64) error {
	q := r.db.Querier(ctx)
	_, err := q.ExecContext(ctx, `
		UPDATE invoices SET status = $3, paid_at = $4 WHERE project_id = $1 AND id = $2`,
		projectID, invoiceID, status, paidAt,
	)
	return err
}

func (r *BillingRepository) SetInvoiceCreditAndTotal(ctx context.Context, projectID, invoiceID string, amountCreditUsedCents, totalCents int64, status types.InvoiceStatus, paidAt *int64) error {
	q := r.db.Querier(ctx)
	_, err := q.ExecContext(ctx, `
		UPDATE invoices SET amount_credit_used_cents = $3, total_cents = $4, status = $5, paid_at = $6
		WHERE project_id = $1 AND id = $2`,
		projectID, invoiceID, amountCreditUsedCents, totalCents, status, paidAt,
	)
	return err
}

func (r *BillingRepository) SetInvoiceProviderRef(ctx context.Context, projectID, invoiceID, providerInvoiceID, providerURL string) error {
	q := r.db.Querier(ctx)
	_, err := q.ExecContext(ctx, `
		UPDATE invoices SET invoice_payment_provider_id = $3, invoice_payment_provider_url = $4
		WHERE project_id = $1 AND id = $2`,
		projectID, invoiceID, providerInvoiceID, providerURL,
	)
	return err
}

func (r *BillingRepository) MarkInvoiceSent(ctx context.Context, projectID, invoiceID string, sentAt int64) error {
	q := r.db.Querier(ctx)
	_, err := q.ExecContext(ctx, `
		UPDATE invoices SET status = $3, sent_at = $4 WHERE project_id = $1 AND id = $2`,
		projectID, invoiceID, types.InvoiceStatusWaiting, sentAt,
	)
	return err
}

func (r *BillingRepository) AppendPaymentAttempt(ctx context.Context, projectID, invoiceID string, attempt types.PaymentAttempt) error {
	b, err := json.Marshal(attempt)
	if err != nil {
		return err
	}
	q := r.db.Querier(ctx)
	_, err = q.ExecContext(ctx, `
		UPDATE invoices SET payment_attempts = payment_attempts || $3::jsonb
		WHERE project_id = $1 AND id = $2`,
		projectID, invoiceID, "["+string(b)+"]",
	)
	return err
}

func (r *BillingRepository) ListPastDueInvoices(ctx context.Context, projectID string, maxAttempts int) ([]types.Invoice, error) {
	var rows []invoiceRow
	q := r.db.Querier(ctx)
	err := q.SelectContext(ctx, &rows, `
		SELECT * FROM invoices
		WHERE project_id = $1 AND status IN ('unpaid', 'waiting')
		  AND jsonb_array_length(payment_attempts) < $2
		ORDER BY past_due_at`,
		projectID, maxAttempts,
	)
	if err != nil {
		return nil, err
	}
	out := make([]types.Invoice, len(rows))
	for i, row := range rows {
		inv, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out[i] = inv
	}
	return out, nil
}

type creditGrantRow struct {
	ID               string        `db:"id"`
	ProjectID        string        `db:"project_id"`
	CustomerID       string        `db:"customer_id"`
	TotalAmountCents int64         `db:"total_amount_cents"`
	AmountUsedCents  int64         `db:"amount_used_cents"`
	Currency         string        `db:"currency"`
	PaymentProvider  string        `db:"payment_provider"`
	ExpiresAt        sql.NullInt64 `db:"expires_at"`
	Active           bool          `db:"active"`
}

func (r creditGrantRow) toDomain() types.CreditGrant {
	c := types.CreditGrant{
		ID:               r.ID,
		ProjectID:        r.ProjectID,
		CustomerID:       r.CustomerID,
		TotalAmountCents: r.TotalAmountCents,
		AmountUsedCents:  r.AmountUsedCents,
		Currency:         r.Currency,
		PaymentProvider:  r.PaymentProvider,
		Active:           r.Active,
	}
	if r.ExpiresAt.Valid {
		c.ExpiresAt = &r.ExpiresAt.Int64
	}
	return c
}

func (r *BillingRepository) ListActiveCreditGrants(ctx context.Context, projectID, customerID, currency, provider string, now int64) ([]types.CreditGrant, error) {
	var rows []creditGrantRow
	q := r.db.Querier(ctx)
	err := q.SelectContext(ctx, &rows, `
		SELECT * FROM credit_grants
		WHERE project_id = $1 AND customer_id = $2 AND currency = $3 AND payment_provider = $4
		  AND active = true AND amount_used_cents < total_amount_cents
		  AND (expires_at IS NULL OR expires_at > $5)
		ORDER BY expires_at NULLS LAST, id`,
		projectID, customerID, currency, provider, now,
	)
	if err != nil {
		return nil, err
	}
	out := make([]types.CreditGrant, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (r *BillingRepository) ApplyCredit(ctx context.Context, app types.InvoiceCreditApplication, newAmountUsedCents int64) (bool, error) {
	if app.ID == "" {
		app.ID = idgen.New("creditapp")
	}

	ok := true
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		q := r.db.Querier(ctx)
		res, err := q.ExecContext(ctx, `
			INSERT INTO invoice_credit_applications (id, invoice_id, credit_grant_id, amount_applied_cents, applied_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (invoice_id, credit_grant_id) DO NOTHING`,
			app.ID, app.InvoiceID, app.CreditGrantID, app.AmountAppliedCents, app.AppliedAt,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			ok = false
			return nil
		}
		_, err = q.ExecContext(ctx, `
			UPDATE credit_grants SET amount_used_cents = $2 WHERE id = $1`,
			app.CreditGrantID, newAmountUsedCents,
		)
		return err
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}
