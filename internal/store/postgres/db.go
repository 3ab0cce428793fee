// Package postgres wraps sqlx for the durable relational store backing
// grants, entitlements, billing periods, invoices and credit grants.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flexprice/flexcore/internal/config"
	"github.com/flexprice/flexcore/internal/idgen"
	"github.com/flexprice/flexcore/internal/logger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Querier is implemented by both *sqlx.DB and *sqlx.Tx so repositories can
// be written once and work whether or not a transaction is in flight.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// DB wraps sqlx.DB to provide context-propagated transaction management.
// Every repository calls db.Querier(ctx) so it transparently joins an
// outer transaction started by a caller such as the invoice finalizer.
type DB struct {
	*sqlx.DB
	logger *logger.Logger
}

// NewDB opens the durable store connection.
func NewDB(cfg *config.Configuration, log *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Postgres.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &DB{DB: db, logger: log}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

type txKey struct{}

// tx wraps sqlx.Tx; savepointID lets nested WithTx calls (billing
// materializer calling into the grants manager inside its own
// transaction) compose without losing atomicity.
type tx struct {
	*sqlx.Tx
	id          string
	savepointID int
}

// GetTx retrieves the in-flight transaction, if any, from ctx.
func getTx(ctx context.Context) (*tx, bool) {
	t, ok := ctx.Value(txKey{}).(*tx)
	return t, ok
}

// Querier returns either the transaction bound to ctx or the base DB
// connection. The durable store never silently skips a write because the
// hot cache thinks a value is current (spec.md §9 cache/storage split);
// this is the one indirection that lets callers share a connection.
func (db *DB) Querier(ctx context.Context) Querier {
	if t, ok := getTx(ctx); ok {
		return t
	}
	return db.DB
}

// BeginTx starts a transaction, or a savepoint if one is already open on ctx.
func (db *DB) beginTx(ctx context.Context) (context.Context, *tx, error) {
	if t, ok := getTx(ctx); ok {
		t.savepointID++
		sp := fmt.Sprintf("sp_%d", t.savepointID)
		if _, err := t.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
			return ctx, nil, fmt.Errorf("create savepoint: %w", err)
		}
		return ctx, t, nil
	}

	sqlxTx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	t := &tx{Tx: sqlxTx, id: idgen.New("tx")}
	return context.WithValue(ctx, txKey{}, t), t, nil
}

func (db *DB) commitTx(ctx context.Context, t *tx) error {
	if t.savepointID > 0 {
		sp := fmt.Sprintf("sp_%d", t.savepointID)
		t.savepointID--
		_, err := t.ExecContext(ctx, "RELEASE SAVEPOINT "+sp)
		return err
	}
	return t.Commit()
}

func (db *DB) rollbackTx(ctx context.Context, t *tx) error {
	if t.savepointID > 0 {
		sp := fmt.Sprintf("sp_%d", t.savepointID)
		t.savepointID--
		_, err := t.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp)
		return err
	}
	return t.Rollback()
}

// WithTx runs fn inside a transaction (or a savepoint, if ctx already
// carries one), committing on success and rolling back on error or panic.
// spec.md §9: "pass a transactional handle into the grants manager rather
// than recreating one bound to an outer connection" — callers pass ctx
// through unchanged and every repository picks up the same tx via Querier.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, t, err := db.beginTx(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = db.rollbackTx(ctx, t)
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		if rbErr := db.rollbackTx(ctx, t); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	return db.commitTx(ctx, t)
}
