package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/flexprice/flexcore/internal/types"
	"github.com/shopspring/decimal"
)

// EntitlementRepository durably persists EntitlementState snapshots as
// the cold-storage tier backing internal/hotstore's in-process cache
// (spec.md §4.4: the hot store is an optimization, not the source of
// truth). The entitlement service writes states through here at most
// once per per-key minimum spacing, so not every mutation lands here.
type EntitlementRepository struct {
	db *DB
}

func NewEntitlementRepository(db *DB) *EntitlementRepository {
	return &EntitlementRepository{db: db}
}

type entitlementRow struct {
	ProjectID         string         `db:"project_id"`
	CustomerID        string         `db:"customer_id"`
	FeatureSlug       string         `db:"feature_slug"`
	FeatureType       string         `db:"feature_type"`
	AggregationMethod string         `db:"aggregation_method"`
	ResetConfig       sql.NullString `db:"reset_config"`
	MergingPolicy     string         `db:"merging_policy"`
	GrantLimit        sql.NullString `db:"grant_limit"`
	AllowOverage      bool           `db:"allow_overage"`
	Grants            string         `db:"grants"`
	EffectiveAt       int64          `db:"effective_at"`
	ExpiresAt         sql.NullInt64  `db:"expires_at"`
	Version           string         `db:"version"`
	CurrentCycleUsage string         `db:"current_cycle_usage"`
	AccumulatedUsage  string         `db:"accumulated_usage"`
	LastSyncAt        int64          `db:"last_sync_at"`
	NextRevalidateAt  int64          `db:"next_revalidate_at"`
	ComputedAt        int64          `db:"computed_at"`
}

func (r entitlementRow) toDomain() (types.EntitlementState, error) {
	s := types.EntitlementState{
		ProjectID:         r.ProjectID,
		CustomerID:        r.CustomerID,
		FeatureSlug:       r.FeatureSlug,
		FeatureType:       types.FeatureType(r.FeatureType),
		AggregationMethod: types.AggregationMethod(r.AggregationMethod),
		MergingPolicy:     types.MergingPolicy(r.MergingPolicy),
		AllowOverage:      r.AllowOverage,
		EffectiveAt:       r.EffectiveAt,
		Version:           r.Version,
		LastSyncAt:        r.LastSyncAt,
		NextRevalidateAt:  r.NextRevalidateAt,
		ComputedAt:        r.ComputedAt,
	}
	if r.ExpiresAt.Valid {
		v := r.ExpiresAt.Int64
		s.ExpiresAt = &v
	}
	if r.ResetConfig.Valid {
		var cfg types.BillingConfig
		if err := json.Unmarshal([]byte(r.ResetConfig.String), &cfg); err != nil {
			return types.EntitlementState{}, err
		}
		s.ResetConfig = &cfg
	}
	if r.GrantLimit.Valid {
		d, err := decimal.NewFromString(r.GrantLimit.String)
		if err != nil {
			return types.EntitlementState{}, err
		}
		s.Limit = &d
	}
	var snapshots []types.GrantSnapshot
	if err := json.Unmarshal([]byte(r.Grants), &snapshots); err != nil {
		return types.EntitlementState{}, err
	}
	s.Grants = snapshots

	cur, err := decimal.NewFromString(r.CurrentCycleUsage)
	if err != nil {
		return types.EntitlementState{}, err
	}
	s.CurrentCycleUsage = cur

	acc, err := decimal.NewFromString(r.AccumulatedUsage)
	if err != nil {
		return types.EntitlementState{}, err
	}
	s.AccumulatedUsage = acc

	return s, nil
}

func (r *EntitlementRepository) GetEntitlementState(ctx context.Context, projectID, customerID, featureSlug string) (types.EntitlementState, bool, error) {
	var row entitlementRow
	q := r.db.Querier(ctx)
	err := q.GetContext(ctx, &row, `
		SELECT * FROM entitlements
		WHERE project_id = $1 AND customer_id = $2 AND feature_slug = $3`,
		projectID, customerID, featureSlug,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.EntitlementState{}, false, nil
	}
	if err != nil {
		return types.EntitlementState{}, false, err
	}
	state, err := row.toDomain()
	if err != nil {
		return types.EntitlementState{}, false, err
	}
	return state, true, nil
}

// UpsertEntitlementState writes the full snapshot, overwriting whatever
// was there — callers own the read-modify-write cycle; this is a plain
// replace keyed on (project, customer, feature).
func (r *EntitlementRepository) UpsertEntitlementState(ctx context.Context, state types.EntitlementState) error {
	grantsJSON, err := json.Marshal(state.Grants)
	if err != nil {
		return err
	}

	var resetConfigJSON sql.NullString
	if state.ResetConfig != nil {
		b, err := json.Marshal(state.ResetConfig)
		if err != nil {
			return err
		}
		resetConfigJSON = sql.NullString{String: string(b), Valid: true}
	}

	var limitStr sql.NullString
	if state.Limit != nil {
		limitStr = sql.NullString{String: state.Limit.String(), Valid: true}
	}

	q := r.db.Querier(ctx)
	_, err = q.ExecContext(ctx, `
		INSERT INTO entitlements (
			project_id, customer_id, feature_slug, feature_type, aggregation_method,
			reset_config, merging_policy, grant_limit, allow_overage, grants,
			effective_at, expires_at, version, current_cycle_usage, accumulated_usage,
			last_sync_at, next_revalidate_at, computed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (project_id, customer_id, feature_slug) DO UPDATE SET
			feature_type = EXCLUDED.feature_type,
			aggregation_method = EXCLUDED.aggregation_method,
			reset_config = EXCLUDED.reset_config,
			merging_policy = EXCLUDED.merging_policy,
			grant_limit = EXCLUDED.grant_limit,
			allow_overage = EXCLUDED.allow_overage,
			grants = EXCLUDED.grants,
			effective_at = EXCLUDED.effective_at,
			expires_at = EXCLUDED.expires_at,
			version = EXCLUDED.version,
			current_cycle_usage = EXCLUDED.current_cycle_usage,
			accumulated_usage = EXCLUDED.accumulated_usage,
			last_sync_at = EXCLUDED.last_sync_at,
			next_revalidate_at = EXCLUDED.next_revalidate_at,
			computed_at = EXCLUDED.computed_at`,
		state.ProjectID, state.CustomerID, state.FeatureSlug, state.FeatureType, state.AggregationMethod,
		resetConfigJSON, state.MergingPolicy, limitStr, state.AllowOverage, string(grantsJSON),
		state.EffectiveAt, state.ExpiresAt, state.Version, state.CurrentCycleUsage.String(), state.AccumulatedUsage.String(),
		state.LastSyncAt, state.NextRevalidateAt, state.ComputedAt,
	)
	return err
}
