// Package clickhouse adapts external.Analytics onto a ClickHouse
// feature_usage/verification_log table pair, grounded on the teacher's
// events/stores/clickhouse.Store connection-and-query pattern and the
// aggregation style of repository/clickhouse/feature_usage.go.
package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	clickhouse_go "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/flexprice/flexcore/internal/external"
	"github.com/flexprice/flexcore/internal/logger"
)

// Config is the subset of connection options this adapter needs.
type Config struct {
	Addr     []string
	Database string
	Username string
	Password string
}

// Store implements external.Analytics against ClickHouse.
type Store struct {
	conn driver.Conn
	log  *logger.Logger
}

func New(cfg Config, log *logger.Logger) (*Store, error) {
	conn, err := clickhouse_go.Open(&clickhouse_go.Options{
		Addr: cfg.Addr,
		Auth: clickhouse_go.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init clickhouse client: %w", err)
	}
	return &Store{conn: conn, log: log}, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

// GetUsageBillingFeatures aggregates feature_usage rows per requested
// feature over [startAt, endAt), one aggregation function per feature's
// AggregationMethod (sum/max/count), mirroring the teacher's
// SUM(qty_total * sign) / MAX(...) / COUNT(DISTINCT ...) column style.
func (s *Store) GetUsageBillingFeatures(ctx context.Context, projectID, customerID string, features []external.UsageFeatureQuery, startAt, endAt int64) ([]external.UsageFeatureResult, error) {
	results := make([]external.UsageFeatureResult, 0, len(features))

	for _, f := range features {
		aggExpr, err := aggregationExpr(f.AggregationMethod)
		if err != nil {
			return nil, err
		}

		query := fmt.Sprintf(`
			SELECT %s AS usage
			FROM feature_usage
			WHERE tenant_id = ?
				AND customer_id = ?
				AND feature_slug = ?
				AND event_time >= ?
				AND event_time < ?
		`, aggExpr)

		var usage float64
		row := s.conn.QueryRow(ctx, query,
			projectID, customerID, f.FeatureSlug,
			time.UnixMilli(startAt), time.UnixMilli(endAt),
		)
		if err := row.Scan(&usage); err != nil {
			return nil, fmt.Errorf("aggregate usage for feature %s: %w", f.FeatureSlug, err)
		}

		results = append(results, external.UsageFeatureResult{
			FeatureSlug: f.FeatureSlug,
			Usage:       fmt.Sprintf("%v", usage),
		})
	}

	return results, nil
}

func aggregationExpr(method string) (string, error) {
	switch strings.ToLower(method) {
	case "sum", "sum_all":
		return "SUM(qty)", nil
	case "max":
		return "MAX(qty)", nil
	case "count", "count_all":
		return "COUNT(DISTINCT unique_hash)", nil
	case "last_during_period":
		return "argMax(qty, event_time)", nil
	default:
		return "", fmt.Errorf("unsupported aggregation method %q", method)
	}
}

// IngestFeaturesUsage bulk-inserts buffered usage events into ClickHouse's
// append-only feature_usage table.
func (s *Store) IngestFeaturesUsage(ctx context.Context, records []external.UsageRecord) (external.IngestResult, error) {
	return s.bulkInsert(ctx, "feature_usage", len(records), func(batch driver.Batch) error {
		for _, r := range records {
			if err := batch.Append(r.ProjectID, r.CustomerID, r.FeatureSlug, r.Amount, r.IdempotenceKey, time.UnixMilli(r.RecordedAt)); err != nil {
				return err
			}
		}
		return nil
	})
}

// IngestFeaturesVerification bulk-inserts buffered verify-call outcomes
// into the verification_log table for audit/analytics purposes.
func (s *Store) IngestFeaturesVerification(ctx context.Context, records []external.VerificationRecord) (external.IngestResult, error) {
	return s.bulkInsert(ctx, "verification_log", len(records), func(batch driver.Batch) error {
		for _, r := range records {
			props, err := json.Marshal(map[string]any{"request_id": r.RequestID, "latency_ms": r.LatencyMs})
			if err != nil {
				return err
			}
			if err := batch.Append(r.ProjectID, r.CustomerID, r.FeatureSlug, r.Allowed, r.DeniedReason, string(props), time.UnixMilli(r.RecordedAt)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) bulkInsert(ctx context.Context, table string, n int, appendFn func(driver.Batch) error) (external.IngestResult, error) {
	if n == 0 {
		return external.IngestResult{}, nil
	}

	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", table))
	if err != nil {
		return external.IngestResult{}, fmt.Errorf("prepare batch for %s: %w", table, err)
	}

	if err := appendFn(batch); err != nil {
		return external.IngestResult{QuarantinedRows: n}, fmt.Errorf("append rows to %s batch: %w", table, err)
	}

	if err := batch.Send(); err != nil {
		s.log.Errorw("clickhouse batch send failed, quarantining rows", "table", table, "rows", n, "error", err)
		return external.IngestResult{QuarantinedRows: n}, nil
	}

	return external.IngestResult{SuccessfulRows: n}, nil
}
