package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/flexprice/flexcore/internal/grantsmanager"
	"github.com/flexprice/flexcore/internal/idgen"
	"github.com/flexprice/flexcore/internal/types"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// GrantRepository implements grantsmanager.GrantStore against the
// `grants` and `entitlements` tables.
type GrantRepository struct {
	db *DB
}

func NewGrantRepository(db *DB) *GrantRepository {
	return &GrantRepository{db: db}
}

type grantRow struct {
	ID                   string          `db:"id"`
	ProjectID            string          `db:"project_id"`
	SubjectType          string          `db:"subject_type"`
	SubjectID            string          `db:"subject_id"`
	FeaturePlanVersionID string          `db:"feature_plan_version_id"`
	FeatureSlug          string          `db:"feature_slug"`
	Type                 string          `db:"type"`
	EffectiveAt          int64           `db:"effective_at"`
	ExpiresAt            sql.NullInt64   `db:"expires_at"`
	GrantLimit           sql.NullString  `db:"grant_limit"`
	Units                sql.NullString  `db:"units"`
	AllowOverage         bool            `db:"allow_overage"`
	AutoRenew            bool            `db:"auto_renew"`
	Anchor               int             `db:"anchor"`
	Deleted              bool            `db:"deleted"`
	FeatureType          string          `db:"feature_type"`
	AggregationMethod    string          `db:"aggregation_method"`
	ResetConfig          sql.NullString  `db:"reset_config"`
	SubscriptionItemID   sql.NullString  `db:"subscription_item_id"`
	SubscriptionPhaseID  sql.NullString  `db:"subscription_phase_id"`
	SubscriptionID       sql.NullString  `db:"subscription_id"`
}

func (r grantRow) toDomain() types.Grant {
	g := types.Grant{
		ID:                   r.ID,
		ProjectID:            r.ProjectID,
		SubjectType:          types.SubjectType(r.SubjectType),
		SubjectID:            r.SubjectID,
		FeaturePlanVersionID: r.FeaturePlanVersionID,
		FeatureSlug:          r.FeatureSlug,
		Type:                 types.GrantType(r.Type),
		EffectiveAt:          r.EffectiveAt,
		AllowOverage:         r.AllowOverage,
		AutoRenew:            r.AutoRenew,
		Anchor:               r.Anchor,
		Deleted:              r.Deleted,
		FeatureType:          types.FeatureType(r.FeatureType),
		AggregationMethod:    types.AggregationMethod(r.AggregationMethod),
	}
	if r.ExpiresAt.Valid {
		v := r.ExpiresAt.Int64
		g.ExpiresAt = &v
	}
	if r.GrantLimit.Valid {
		d, _ := decimal.NewFromString(r.GrantLimit.String)
		g.Limit = &d
	}
	if r.Units.Valid {
		d, _ := decimal.NewFromString(r.Units.String)
		g.Units = &d
	}
	if r.SubscriptionItemID.Valid {
		g.SubscriptionItemID = &r.SubscriptionItemID.String
	}
	if r.SubscriptionPhaseID.Valid {
		g.SubscriptionPhaseID = &r.SubscriptionPhaseID.String
	}
	if r.SubscriptionID.Valid {
		g.SubscriptionID = &r.SubscriptionID.String
	}
	if r.ResetConfig.Valid {
		var cfg types.BillingConfig
		if err := json.Unmarshal([]byte(r.ResetConfig.String), &cfg); err == nil {
			g.ResetConfig = &cfg
		}
	}
	return g
}

// CreateGrant inserts with ON CONFLICT DO NOTHING on the uniqueness key
// (spec.md §4.3.1).
func (r *GrantRepository) CreateGrant(ctx context.Context, g types.Grant) (types.Grant, bool, error) {
	if g.ID == "" {
		g.ID = idgen.New("grant")
	}

	var limitStr, unitsStr, resetConfigStr sql.NullString
	if g.Limit != nil {
		limitStr = sql.NullString{String: g.Limit.String(), Valid: true}
	}
	if g.Units != nil {
		unitsStr = sql.NullString{String: g.Units.String(), Valid: true}
	}
	if g.ResetConfig != nil {
		b, err := json.Marshal(g.ResetConfig)
		if err != nil {
			return types.Grant{}, false, err
		}
		resetConfigStr = sql.NullString{String: string(b), Valid: true}
	}

	q := r.db.Querier(ctx)
	res, err := q.ExecContext(ctx, `
		INSERT INTO grants (
			id, project_id, subject_type, subject_id, feature_plan_version_id,
			feature_slug, type, effective_at, expires_at, grant_limit, units,
			allow_overage, auto_renew, anchor, deleted, feature_type, aggregation_method,
			reset_config, subscription_item_id, subscription_phase_id, subscription_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		ON CONFLICT (project_id, subject_type, subject_id, feature_plan_version_id, type, effective_at, expires_at)
		DO NOTHING`,
		g.ID, g.ProjectID, g.SubjectType, g.SubjectID, g.FeaturePlanVersionID,
		g.FeatureSlug, g.Type, g.EffectiveAt, g.ExpiresAt, limitStr, unitsStr,
		g.AllowOverage, g.AutoRenew, g.Anchor, g.Deleted, g.FeatureType, g.AggregationMethod,
		resetConfigStr, g.SubscriptionItemID, g.SubscriptionPhaseID, g.SubscriptionID,
	)
	if err != nil {
		return types.Grant{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.Grant{}, false, err
	}
	if n == 0 {
		return types.Grant{}, false, nil
	}
	return g, true, nil
}

func (r *GrantRepository) ListActiveGrantsForSubjects(ctx context.Context, projectID string, subjects []grantsmanager.Subject, startAt int64, endAt *int64) ([]types.Grant, error) {
	if len(subjects) == 0 {
		return nil, nil
	}

	types_, ids := make([]string, len(subjects)), make([]string, len(subjects))
	for i, s := range subjects {
		types_[i] = string(s.Type)
		ids[i] = s.ID
	}

	end := int64(1) << 62
	if endAt != nil {
		end = *endAt
	}

	var rows []grantRow
	q := r.db.Querier(ctx)
	err := q.SelectContext(ctx, &rows, `
		SELECT * FROM grants
		WHERE project_id = $1
		  AND deleted = false
		  AND (subject_type, subject_id) = ANY (SELECT unnest($2::text[]), unnest($3::text[]))
		  AND effective_at < $4
		  AND (expires_at IS NULL OR expires_at > $5)
		ORDER BY effective_at`,
		projectID, pq.Array(types_), pq.Array(ids), end, startAt,
	)
	if err != nil {
		return nil, err
	}

	out := make([]types.Grant, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (r *GrantRepository) ListOverlappingGrants(ctx context.Context, projectID string, subjectType types.SubjectType, subjectID, featureSlug string, startAt int64, endAt *int64) ([]types.Grant, error) {
	end := int64(1) << 62
	if endAt != nil {
		end = *endAt
	}

	var rows []grantRow
	q := r.db.Querier(ctx)
	err := q.SelectContext(ctx, &rows, `
		SELECT * FROM grants
		WHERE project_id = $1 AND subject_type = $2 AND subject_id = $3
		  AND feature_slug = $4 AND deleted = false
		  AND effective_at < $5
		  AND (expires_at IS NULL OR expires_at > $6)`,
		projectID, subjectType, subjectID, featureSlug, end, startAt,
	)
	if err != nil {
		return nil, err
	}
	out := make([]types.Grant, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (r *GrantRepository) FindCoveringGrant(ctx context.Context, projectID, featurePlanVersionID, customerID string, start, end int64) (types.Grant, bool, error) {
	var row grantRow
	q := r.db.Querier(ctx)
	err := q.GetContext(ctx, &row, `
		SELECT * FROM grants
		WHERE project_id = $1 AND feature_plan_version_id = $2
		  AND subject_type = 'customer' AND subject_id = $3 AND deleted = false
		  AND effective_at <= $4
		  AND (expires_at IS NULL OR expires_at >= $5)
		LIMIT 1`,
		projectID, featurePlanVersionID, customerID, start, end,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Grant{}, false, nil
	}
	if err != nil {
		return types.Grant{}, false, err
	}
	return row.toDomain(), true, nil
}

func (r *GrantRepository) ListAutoRenewableExpiring(ctx context.Context, projectID string, before int64) ([]types.Grant, error) {
	var rows []grantRow
	q := r.db.Querier(ctx)
	err := q.SelectContext(ctx, &rows, `
		SELECT * FROM grants
		WHERE project_id = $1 AND deleted = false AND auto_renew = true
		  AND type IN ('addon', 'promotion', 'manual')
		  AND expires_at IS NOT NULL AND expires_at < $2`,
		projectID, before,
	)
	if err != nil {
		return nil, err
	}
	out := make([]types.Grant, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}
