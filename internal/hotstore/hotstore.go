// Package hotstore implements EntitlementStorage: hot EntitlementState
// storage plus two append-only buffers for usage and verification
// records, scheduled-flushed to Analytics. The buffers are unbounded
// slices in process memory, kept in insertion order; records not yet
// flushed do not survive a process exit. Grounded on the teacher's
// internal/cache package's Cache interface and go-cache-backed
// implementation, generalized from an opaque key-value TTL cache into
// the spec's typed hot store plus buffers.
package hotstore

import (
	"context"
	"sync"
	"time"

	"github.com/flexprice/flexcore/internal/external"
	"github.com/flexprice/flexcore/internal/logger"
	"github.com/flexprice/flexcore/internal/types"
	goCache "github.com/patrickmn/go-cache"
)

const (
	defaultExpiration = 30 * time.Minute
	cleanupInterval   = 1 * time.Hour
)

// Store is EntitlementStorage: a hot key-value cache for
// EntitlementState snapshots plus in-memory, insertion-ordered
// append-only buffers for usage and verification records.
type Store struct {
	states *goCache.Cache

	mu            sync.Mutex
	usageBuf      map[string][]external.UsageRecord
	verifyBuf     map[string][]external.VerificationRecord
	flushMu       sync.Mutex

	analytics external.Analytics
	log       *logger.Logger
}

func New(analytics external.Analytics, log *logger.Logger) *Store {
	return &Store{
		states:    goCache.New(defaultExpiration, cleanupInterval),
		usageBuf:  make(map[string][]external.UsageRecord),
		verifyBuf: make(map[string][]external.VerificationRecord),
		analytics: analytics,
		log:       log,
	}
}

func key(projectID, customerID, featureSlug string) string {
	return projectID + ":" + customerID + ":" + featureSlug
}

// Get reads a hot EntitlementState.
func (s *Store) Get(projectID, customerID, featureSlug string) (types.EntitlementState, bool) {
	v, ok := s.states.Get(key(projectID, customerID, featureSlug))
	if !ok {
		return types.EntitlementState{}, false
	}
	return v.(types.EntitlementState), true
}

// GetAll returns every cached state for a customer.
func (s *Store) GetAll(projectID, customerID string) []types.EntitlementState {
	prefix := projectID + ":" + customerID + ":"
	var out []types.EntitlementState
	for k, item := range s.states.Items() {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, item.Object.(types.EntitlementState))
		}
	}
	return out
}

// Set is atomic per key (go-cache's SetDefault locks internally).
func (s *Store) Set(state types.EntitlementState) {
	s.states.SetDefault(key(state.ProjectID, state.CustomerID, state.FeatureSlug), state)
}

// Delete removes one feature's hot state.
func (s *Store) Delete(projectID, customerID, featureSlug string) {
	s.states.Delete(key(projectID, customerID, featureSlug))
}

// DeleteAll removes every cached state for a customer.
func (s *Store) DeleteAll(projectID, customerID string) {
	for _, state := range s.GetAll(projectID, customerID) {
		s.Delete(state.ProjectID, state.CustomerID, state.FeatureSlug)
	}
}

func bufKey(projectID, customerID string) string {
	return projectID + ":" + customerID
}

// InsertUsageRecord appends a usage record to the in-memory buffer, in call order.
func (s *Store) InsertUsageRecord(projectID, customerID string, rec external.UsageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := bufKey(projectID, customerID)
	s.usageBuf[k] = append(s.usageBuf[k], rec)
}

// InsertVerification appends a verification record to the in-memory buffer, in call order.
func (s *Store) InsertVerification(projectID, customerID string, rec external.VerificationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := bufKey(projectID, customerID)
	s.verifyBuf[k] = append(s.verifyBuf[k], rec)
}

func (s *Store) GetAllUsageRecords(projectID, customerID string) []external.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]external.UsageRecord(nil), s.usageBuf[bufKey(projectID, customerID)]...)
}

func (s *Store) GetAllVerifications(projectID, customerID string) []external.VerificationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]external.VerificationRecord(nil), s.verifyBuf[bufKey(projectID, customerID)]...)
}

func (s *Store) DeleteAllUsageRecords(projectID, customerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.usageBuf, bufKey(projectID, customerID))
}

func (s *Store) DeleteAllVerifications(projectID, customerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.verifyBuf, bufKey(projectID, customerID))
}

// Flush drains every buffer to Analytics under a per-process mutex.
// Callers must tolerate empty drains and partial failures — a failed
// ingest call leaves that customer's buffer untouched for the next
// flush rather than losing the records.
func (s *Store) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	usageSnapshot := s.usageBuf
	verifySnapshot := s.verifyBuf
	s.usageBuf = make(map[string][]external.UsageRecord)
	s.verifyBuf = make(map[string][]external.VerificationRecord)
	s.mu.Unlock()

	var firstErr error
	for k, records := range usageSnapshot {
		if len(records) == 0 {
			continue
		}
		if _, err := s.analytics.IngestFeaturesUsage(ctx, records); err != nil {
			s.log.Errorf("flush usage for %s failed: %v", k, err)
			s.mu.Lock()
			s.usageBuf[k] = append(s.usageBuf[k], records...)
			s.mu.Unlock()
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	for k, records := range verifySnapshot {
		if len(records) == 0 {
			continue
		}
		if _, err := s.analytics.IngestFeaturesVerification(ctx, records); err != nil {
			s.log.Errorf("flush verifications for %s failed: %v", k, err)
			s.mu.Lock()
			s.verifyBuf[k] = append(s.verifyBuf[k], records...)
			s.mu.Unlock()
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
