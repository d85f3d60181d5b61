package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialects the store speaks. SQLite is the default (single-file local
// store, matching the batch CLI); Postgres is selected by DSN scheme.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

type Config struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// Store owns the database handle and its dialect.
type Store struct {
	DB      *sql.DB
	Dialect string

	pool   *pgxpool.Pool // nil for sqlite
	logger *slog.Logger
}

// Open connects to the store named by cfg.DSN and applies the schema.
// postgres:// DSNs get a pgx pool wrapped via stdlib; everything else is
// treated as a modernc sqlite path.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connecting to database", "dsn", cfg.DSN)

	var s *Store
	if strings.HasPrefix(cfg.DSN, "postgres://") || strings.HasPrefix(cfg.DSN, "postgresql://") {
		pc, err := pgxpool.ParseConfig(cfg.DSN)
		if err != nil {
			logger.Error("failed to parse postgres dsn", "error", err)
			return nil, err
		}
		pc.MaxConns = cfg.MaxConns
		pc.MinConns = cfg.MinConns
		pc.MaxConnLifetime = cfg.MaxConnLifetime
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
		pc.ConnConfig.RuntimeParams["application_name"] = "invoice-pipeline"
		if cfg.StatementTimeout > 0 {
			pc.ConnConfig.RuntimeParams["statement_timeout"] = cfg.StatementTimeout.String()
		}

		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout(cfg))
		defer cancel()
		pool, err := pgxpool.NewWithConfig(dialCtx, pc)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return nil, err
		}
		s = &Store{DB: stdlib.OpenDBFromPool(pool), Dialect: DialectPostgres, pool: pool, logger: logger}
	} else {
		db, err := sql.Open("sqlite", sqliteDSN(cfg.DSN))
		if err != nil {
			logger.Error("failed to open sqlite store", "error", err)
			return nil, err
		}
		if strings.Contains(cfg.DSN, ":memory:") {
			// a second connection would see a different empty database
			db.SetMaxOpenConns(1)
		} else if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(int(cfg.MaxConns))
		}
		s = &Store{DB: db, Dialect: DialectSQLite, logger: logger}
	}

	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("successfully connected to database", "dialect", s.Dialect)
	return s, nil
}

func dialTimeout(cfg Config) time.Duration {
	if cfg.DialTimeout > 0 {
		return cfg.DialTimeout
	}
	return 3 * time.Second
}

// sqliteDSN turns on foreign keys and a busy timeout unless the caller
// already pinned pragmas.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS invoices (
		invoice_number     TEXT PRIMARY KEY,
		vendor_name        TEXT NOT NULL,
		customer_name      TEXT NOT NULL DEFAULT '',
		issue_date         TEXT NOT NULL,
		due_date           TEXT,
		subtotal           DOUBLE PRECISION NOT NULL DEFAULT 0,
		tax                DOUBLE PRECISION NOT NULL DEFAULT 0,
		total              DOUBLE PRECISION NOT NULL DEFAULT 0,
		currency_code      TEXT NOT NULL DEFAULT 'USD',
		source_document_id TEXT NOT NULL,
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS line_items (
		invoice_number TEXT NOT NULL REFERENCES invoices(invoice_number) ON DELETE CASCADE,
		line_index     INTEGER NOT NULL,
		description    TEXT NOT NULL DEFAULT '',
		quantity       DOUBLE PRECISION NOT NULL DEFAULT 0,
		unit_price     DOUBLE PRECISION NOT NULL DEFAULT 0,
		line_total     DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (invoice_number, line_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_vendor ON invoices(vendor_name)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_issue_date ON invoices(issue_date)`,
}

// Migrate applies the schema. Dates are stored as ISO-8601 text so range
// scans order lexicographically in both dialects.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connections gracefully
func (s *Store) Close() {
	if s == nil {
		return
	}
	s.logger.Info("closing database connections")
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			s.logger.Error("failed to close db handle", "error", err)
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// HealthCheck pings the store to catch DSN issues early.
func (s *Store) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.DB.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for the postgres dialect.
func (s *Store) rebind(query string) string {
	if s.Dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
