package library

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Policy holds the lending rules that are configuration rather than code.
type Policy struct {
	LoanDays   int
	FinePerDay decimal.Decimal
}

// DefaultPolicy is a 14 day loan and one currency unit per late day.
func DefaultPolicy() Policy {
	return Policy{LoanDays: 14, FinePerDay: decimal.NewFromInt(1)}
}

// Database owns the SQLite connection and implements the catalog, directory,
// ledger and fine operations on top of it.
type Database struct {
	db     *sql.DB
	gate   Gate
	now    func() time.Time
	policy Policy
}

// Option customizes a Database.
type Option func(*Database)

// WithGate replaces the default RoleGate.
func WithGate(g Gate) Option { return func(d *Database) { d.gate = g } }

// WithClock replaces time.Now. The clock is always read in UTC.
func WithClock(now func() time.Time) Option { return func(d *Database) { d.now = now } }

// WithPolicy sets the loan period and fine rate.
func WithPolicy(p Policy) Option { return func(d *Database) { d.policy = p } }

// NewDatabase opens (or creates) the SQLite database at dbPath and brings the
// schema up to the latest migration.
func NewDatabase(dbPath string, opts ...Option) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Immediate transactions take the write lock at BEGIN, which serializes
	// the read-check-write sequences on a book's copy counts.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return newDatabase(db, opts...), nil
}

func newDatabase(db *sql.DB, opts ...Option) *Database {
	d := &Database{
		db:     db,
		gate:   RoleGate{},
		now:    time.Now,
		policy: DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Close closes the DB.
func (d *Database) Close() error { return d.db.Close() }

func (d *Database) clock() time.Time { return d.now().UTC() }

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

func applyMigrations(db *sql.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	// m.Close is deliberately not called: the sqlite3 driver would close db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	drv, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return nil, fmt.Errorf("migrator: %w", err)
	}
	return m, nil
}

// SchemaVersion reports the applied migration version.
func (d *Database) SchemaVersion() (uint, error) {
	m, err := newMigrator(d.db)
	if err != nil {
		return 0, err
	}
	v, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("schema version: %w", err)
	}
	if dirty {
		return v, fmt.Errorf("schema version %d is dirty", v)
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Transactions and scanning
// ---------------------------------------------------------------------------

// withTx runs fn in a single transaction, committing only if fn succeeds.
func (d *Database) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func exists(ctx context.Context, q queryer, query string, args ...any) (bool, error) {
	var ok bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS(`+query+`)`, args...).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
