package entitlementservice

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	ierr "github.com/flexprice/flexcore/internal/errors"
	"github.com/flexprice/flexcore/internal/external"
	"github.com/flexprice/flexcore/internal/grantsmanager"
	"github.com/flexprice/flexcore/internal/logger"
	"github.com/flexprice/flexcore/internal/types"
	"github.com/shopspring/decimal"
)

// Service is EntitlementService: the central runtime API for verify and
// reportUsage, owning the hot/durable cache-coherence protocol.
type Service struct {
	hot     HotStore
	durable DurableStore
	grants  GrantsManager
	log     *logger.Logger
	cfg     Config

	syncMu     sync.Mutex
	lastSyncAt map[string]time.Time
}

func NewService(hot HotStore, durable DurableStore, grants GrantsManager, log *logger.Logger, cfg Config) *Service {
	return &Service{
		hot:        hot,
		durable:    durable,
		grants:     grants,
		log:        log,
		cfg:        cfg,
		lastSyncAt: make(map[string]time.Time),
	}
}

// VerifyRequest identifies one verify call.
type VerifyRequest struct {
	ProjectID   string
	CustomerID  string
	FeatureSlug string
	Now         int64
	RequestID   string
	SkipCache   bool
}

// Verify resolves state via the cache-coherence protocol, delegates to
// grantsmanager.Verify, and records the outcome (spec.md §4.5).
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (grantsmanager.VerificationResult, error) {
	start := time.Now()

	state, found, err := s.getStateWithRevalidation(ctx, req.ProjectID, req.CustomerID, req.FeatureSlug, req.Now, req.SkipCache)
	if err != nil {
		return grantsmanager.VerificationResult{}, err
	}

	var result grantsmanager.VerificationResult
	if !found {
		result = grantsmanager.VerificationResult{
			Allowed:      false,
			DeniedReason: types.DeniedReasonEntitlementMissing,
		}
	} else {
		result = grantsmanager.Verify(state, req.Now)
	}

	s.hot.InsertVerification(req.ProjectID, req.CustomerID, external.VerificationRecord{
		ProjectID:    req.ProjectID,
		CustomerID:   req.CustomerID,
		FeatureSlug:  req.FeatureSlug,
		Allowed:      result.Allowed,
		DeniedReason: string(result.DeniedReason),
		LatencyMs:    time.Since(start).Milliseconds(),
		RequestID:    req.RequestID,
		RecordedAt:   req.Now,
	})

	return result, nil
}

// ReportUsageRequest identifies one usage-report call.
type ReportUsageRequest struct {
	ProjectID      string
	CustomerID     string
	FeatureSlug    string
	Amount         decimal.Decimal
	Now            int64
	IdempotenceKey string
}

// ReportUsage resolves state, delegates to grantsmanager.Consume, and on
// success updates hot storage's mutable counters and schedules an async
// durable sync (spec.md §4.5).
func (s *Service) ReportUsage(ctx context.Context, req ReportUsageRequest) (grantsmanager.ReportUsageResult, error) {
	state, found, err := s.getStateWithRevalidation(ctx, req.ProjectID, req.CustomerID, req.FeatureSlug, req.Now, false)
	if err != nil {
		return grantsmanager.ReportUsageResult{}, err
	}
	if !found {
		return grantsmanager.ReportUsageResult{
			Allowed:      false,
			DeniedReason: types.DeniedReasonEntitlementMissing,
		}, nil
	}

	newState, result, err := s.grants.Consume(ctx, state, req.Amount, req.Now)
	if err != nil {
		return grantsmanager.ReportUsageResult{}, err
	}

	if result.Allowed {
		s.hot.Set(newState)
		s.hot.InsertUsageRecord(req.ProjectID, req.CustomerID, external.UsageRecord{
			ProjectID:      req.ProjectID,
			CustomerID:     req.CustomerID,
			FeatureSlug:    req.FeatureSlug,
			Amount:         req.Amount.String(),
			IdempotenceKey: req.IdempotenceKey,
			RecordedAt:     req.Now,
		})
		go s.scheduleSyncToDB(context.Background(), newState)
	}

	return result, nil
}

// getStateWithRevalidation implements the cache-coherence protocol of
// spec.md §4.5.1.
func (s *Service) getStateWithRevalidation(ctx context.Context, projectID, customerID, featureSlug string, now int64, skipCache bool) (types.EntitlementState, bool, error) {
	if !skipCache {
		if state, ok := s.hot.Get(projectID, customerID, featureSlug); ok {
			return s.reconcileCachedState(ctx, state, now)
		}
	}

	state, found, err := s.loadDurableWithRetry(ctx, projectID, customerID, featureSlug)
	if err != nil {
		return types.EntitlementState{}, false, err
	}
	if !found {
		return types.EntitlementState{}, false, nil
	}
	s.hot.Set(state)
	return state, true, nil
}

func (s *Service) reconcileCachedState(ctx context.Context, state types.EntitlementState, now int64) (types.EntitlementState, bool, error) {
	if state.ExpiresAt != nil && *state.ExpiresAt <= now {
		grants, err := s.grants.GetGrantsForCustomer(ctx, state.ProjectID, state.CustomerID, now, nil)
		if err != nil {
			return types.EntitlementState{}, false, err
		}
		usage := state.CurrentCycleUsage
		recomputed, err := s.grants.ComputeEntitlementFromGrants(ctx, state.ProjectID, state.CustomerID, state.FeatureSlug, grants, now, &usage)
		if err != nil {
			return types.EntitlementState{}, false, err
		}
		s.hot.Set(recomputed)
		return recomputed, true, nil
	}

	if now >= state.NextRevalidateAt {
		durable, found, err := s.durable.GetEntitlementState(ctx, state.ProjectID, state.CustomerID, state.FeatureSlug)
		if err != nil {
			return types.EntitlementState{}, false, err
		}
		if !found {
			s.hot.Delete(state.ProjectID, state.CustomerID, state.FeatureSlug)
			return types.EntitlementState{}, false, nil
		}
		if durable.Version != state.Version {
			s.hot.Set(durable)
			return durable, true, nil
		}
		state.NextRevalidateAt = now + s.cfg.RevalidateInterval.Milliseconds()
		s.hot.Set(state)
		return state, true, nil
	}

	return state, true, nil
}

// loadDurableWithRetry reads the durable store with up to 3 retries on
// error, using exponential backoff (policy grounded on the teacher's
// sibling pack's cenkalti/backoff usage). The read itself is not cached:
// no SWR layer sits between this call and the durable store.
func (s *Service) loadDurableWithRetry(ctx context.Context, projectID, customerID, featureSlug string) (types.EntitlementState, bool, error) {
	var state types.EntitlementState
	var found bool

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	err := backoff.Retry(func() error {
		var err error
		state, found, err = s.durable.GetEntitlementState(ctx, projectID, customerID, featureSlug)
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return types.EntitlementState{}, false, ierr.WithError(err).
			WithHint("failed to load entitlement state from durable store after retries").
			Mark(ierr.ErrStorageFailed)
	}

	return state, found, nil
}

// scheduleSyncToDB writes through to the durable store at most once per
// max(SyncMinSpacing, 1s) per (project, customer, feature) to prevent
// flooding. A sync that falls inside that spacing is dropped, not
// deferred; SyncToDBInterval is not consulted.
func (s *Service) scheduleSyncToDB(ctx context.Context, state types.EntitlementState) {
	key := state.Key()
	minSpacing := s.cfg.SyncMinSpacing
	if minSpacing < time.Second {
		minSpacing = time.Second
	}

	s.syncMu.Lock()
	last, ok := s.lastSyncAt[key]
	if ok && time.Since(last) < minSpacing {
		s.syncMu.Unlock()
		return
	}
	s.lastSyncAt[key] = time.Now()
	s.syncMu.Unlock()

	if err := s.durable.UpsertEntitlementState(ctx, state); err != nil {
		s.log.Errorf("sync-to-db failed for %s: %v", key, err)
	}
}

// InvalidateEntitlements drains buffers to analytics and deletes hot
// cache entries for one feature, or all of a customer's
// features if featureSlug is empty (spec.md §4.5.1 Invalidation).
func (s *Service) InvalidateEntitlements(ctx context.Context, projectID, customerID, featureSlug string) error {
	if err := s.hot.Flush(ctx); err != nil {
		s.log.Errorf("flush during invalidation failed for %s/%s: %v", projectID, customerID, err)
	}

	if featureSlug == "" {
		s.hot.DeleteAll(projectID, customerID)
		s.hot.DeleteAllUsageRecords(projectID, customerID)
		s.hot.DeleteAllVerifications(projectID, customerID)
		return nil
	}

	s.hot.Delete(projectID, customerID, featureSlug)
	return nil
}
