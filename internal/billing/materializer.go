package billing

import (
	"context"
	"strconv"

	"github.com/flexprice/flexcore/internal/cyclecalc"
	ierr "github.com/flexprice/flexcore/internal/errors"
	"github.com/flexprice/flexcore/internal/hashutil"
	"github.com/flexprice/flexcore/internal/idgen"
	"github.com/flexprice/flexcore/internal/logger"
	"github.com/flexprice/flexcore/internal/types"
	"github.com/shopspring/decimal"
)

// GrantResolver is the narrow slice of grantsmanager.Manager the
// materializer needs to look up or create the grant backing a
// subscription item's billing cycle (spec.md §4.6.1 step 3c), without
// depending on the rest of that package's verify/consume surface.
type GrantResolver interface {
	FindCoveringGrant(ctx context.Context, projectID, featurePlanVersionID, customerID string, start, end int64) (types.Grant, bool, error)
	CreateGrant(ctx context.Context, g types.Grant) (types.Grant, error)
}

// SubscriptionItem is the slice of subscription-phase data the
// materializer needs, resolved by the caller from its own subscription
// domain.
type SubscriptionItem struct {
	ProjectID            string
	CustomerID           string
	SubscriptionID       string
	SubscriptionPhaseID  string
	SubscriptionItemID   string
	FeaturePlanVersionID string
	FeatureSlug          string
	FeatureType          types.FeatureType
	AggregationMethod    types.AggregationMethod
	ResetConfig          *types.BillingConfig
	Limit                *decimal.Decimal
	AllowOverage         bool
	EffectiveStartDate   int64
	EffectiveEndDate     *int64
	TrialEndsAt          *int64
	Config               types.BillingConfig
	WhenToBill           types.WhenToBill
	Currency             string
	PaymentProvider      string
	CollectionMethod     types.CollectionMethod
}

// Materializer generates BillingPeriod rows for due cycles. Grounded on
// the teacher's proration calculator's cycle-window walk, generalized
// from a single invoice-preview computation into a durable,
// idempotent-on-retry materialization job (spec.md §4.6.1).
type Materializer struct {
	store        Store
	grants       GrantResolver
	log          *logger.Logger
	lookbackDays int
	batchSize    int
}

func NewMaterializer(store Store, grants GrantResolver, log *logger.Logger, lookbackDays, batchSize int) *Materializer {
	return &Materializer{store: store, grants: grants, log: log, lookbackDays: lookbackDays, batchSize: batchSize}
}

// resolveGrant looks up an existing grant covering window w for this
// subscription item's feature-plan-version/customer pair, creating a new
// one spanning the item's EffectiveStartDate..EffectiveEndDate
// (open-ended only when the item has no end date; autoRenew=false,
// trial type for a trial window,
// subscription type otherwise) if none covers it yet (spec.md §4.6.1
// step 3c).
func (m *Materializer) resolveGrant(ctx context.Context, item SubscriptionItem, w cyclecalc.Window) (string, error) {
	existing, ok, err := m.grants.FindCoveringGrant(ctx, item.ProjectID, item.FeaturePlanVersionID, item.CustomerID, w.Start, w.End)
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("failed to look up covering grant").
			Mark(ierr.ErrStorageFailed)
	}
	if ok {
		return existing.ID, nil
	}

	grantType := types.GrantTypeSubscription
	if w.IsTrial {
		grantType = types.GrantTypeTrial
	}

	created, err := m.grants.CreateGrant(ctx, types.Grant{
		ProjectID:            item.ProjectID,
		SubjectType:          types.SubjectCustomer,
		SubjectID:            item.CustomerID,
		FeaturePlanVersionID: item.FeaturePlanVersionID,
		FeatureSlug:          item.FeatureSlug,
		Type:                 grantType,
		EffectiveAt:          item.EffectiveStartDate,
		ExpiresAt:            item.EffectiveEndDate,
		Limit:                item.Limit,
		AllowOverage:         item.AllowOverage,
		AutoRenew:            false,
		FeatureType:          item.FeatureType,
		AggregationMethod:    item.AggregationMethod,
		ResetConfig:          item.ResetConfig,
		SubscriptionItemID:   &item.SubscriptionItemID,
		SubscriptionPhaseID:  &item.SubscriptionPhaseID,
		SubscriptionID:       &item.SubscriptionID,
	})
	if err != nil {
		return "", ierr.WithError(err).
			WithHint("failed to create covering grant").
			Mark(ierr.ErrGrantCreateFailed)
	}
	return created.ID, nil
}

// MaterializeItem enumerates every cycle window for one subscription
// item up to `now`, plus the configured lookback, and inserts any that
// aren't already recorded. Idempotent: the store's ON CONFLICT DO
// NOTHING on StatementKey makes re-running this safe.
func (m *Materializer) MaterializeItem(ctx context.Context, item SubscriptionItem, now int64) (int, error) {
	lookbackMs := int64(m.lookbackDays) * 24 * 60 * 60 * 1000
	referenceDate := now + lookbackMs

	windows, err := cyclecalc.CalculateNextNCycles(referenceDate, item.EffectiveStartDate, item.EffectiveEndDate, item.TrialEndsAt, item.Config, 0)
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("failed to enumerate billing cycles").
			Mark(ierr.ErrCycleCalculationFailed)
	}

	created := 0
	for _, w := range windows {
		if w.Start > referenceDate {
			break
		}

		periodType := types.BillingPeriodNormal
		if w.IsTrial {
			periodType = types.BillingPeriodTrial
		}

		invoiceAt := w.End
		if item.WhenToBill == types.PayInAdvance {
			invoiceAt = w.Start
		}

		// Bit-exact per spec.md §6: groups every item sharing the same
		// invoice-affecting variables onto the same statement.
		statementKey := hashutil.HexSHA256([]byte(
			item.ProjectID + "|" + item.CustomerID + "|" + item.SubscriptionID + "|" +
				strconv.FormatInt(invoiceAt, 10) + "|" + item.Currency + "|" +
				item.PaymentProvider + "|" + string(item.CollectionMethod),
		))

		grantID, err := m.resolveGrant(ctx, item, w)
		if err != nil {
			return created, err
		}

		period := types.BillingPeriod{
			ID:                  idgen.New("billperiod"),
			ProjectID:           item.ProjectID,
			SubscriptionID:      item.SubscriptionID,
			SubscriptionPhaseID: item.SubscriptionPhaseID,
			SubscriptionItemID:  item.SubscriptionItemID,
			CycleStartAt:        w.Start,
			CycleEndAt:          w.End,
			Status:              types.BillingPeriodPending,
			Type:                periodType,
			InvoiceAt:           invoiceAt,
			WhenToBill:          item.WhenToBill,
			StatementKey:        statementKey,
			GrantID:             grantID,
		}

		_, ok, err := m.store.CreateBillingPeriod(ctx, period)
		if err != nil {
			return created, ierr.WithError(err).
				WithHint("failed to persist billing period").
				Mark(ierr.ErrStorageFailed)
		}
		if ok {
			created++
		}
	}

	if len(windows) == m.batchSize {
		m.log.Warnf("materialization for %s hit the %d-window batch cap; may need another pass", item.SubscriptionItemID, m.batchSize)
	}

	return created, nil
}
