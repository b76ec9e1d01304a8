package audit

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
}

var schemaName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresSink appends entries to <schema>.grant_audit.
type PostgresSink struct {
	db     DBTX
	schema string
}

// NewPostgresSink creates a sink writing to schema.
func NewPostgresSink(db DBTX, schema string) (*PostgresSink, error) {
	if schema == "" {
		schema = "stokado"
	}
	if !schemaName.MatchString(schema) {
		return nil, fmt.Errorf("invalid schema name: %q", schema)
	}
	return &PostgresSink{db: db, schema: schema}, nil
}

// NewPostgresSinkFromURL connects a pool and returns the sink with the
// pool so the caller can close it.
func NewPostgresSinkFromURL(ctx context.Context, databaseURL, schema string) (*PostgresSink, *pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, nil, errors.New("database_url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("database ping failed: %w", err)
	}
	sink, err := NewPostgresSink(pool, schema)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return sink, pool, nil
}

// EnsureSchema creates the schema and table when missing.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.grant_audit (
			id UUID PRIMARY KEY,
			request_id TEXT NOT NULL DEFAULT '',
			account TEXT NOT NULL,
			signer TEXT NOT NULL,
			path TEXT NOT NULL,
			object_key TEXT NOT NULL,
			issued_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`, s.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS grant_audit_account_idx ON %s.grant_audit (account, issued_at)`, s.schema),
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare audit schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresSink) Record(ctx context.Context, entries []Entry) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.grant_audit (
			id, request_id, account, signer, path, object_key, issued_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`, s.schema)

	for _, e := range entries {
		_, err := s.db.Exec(ctx, query,
			e.ID, e.RequestID, e.Account, e.Signer, e.Path, e.ObjectKey, e.IssuedAt, e.ExpiresAt,
		)
		if err != nil {
			return handlePostgresError("record grant", err)
		}
	}
	return nil
}

func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01": // undefined_table
			return fmt.Errorf("audit table does not exist - run EnsureSchema: %w", err)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	if errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("database error in %s: transaction closed", operation)
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}
