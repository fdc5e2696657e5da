// File: internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/veilkit/pane/api/schemas"
)

var storeJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// uniqueViolation is the PostgreSQL error code raised by duplicate keys.
const uniqueViolation = "23505"

var (
	// ErrNotFound is returned when no envelope exists under the given name.
	ErrNotFound = errors.New("envelope not found")
	// ErrExists is returned by Save when the context name is already taken.
	ErrExists = errors.New("envelope already exists")
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides a PostgreSQL implementation of schemas.ContextStore.
// Envelopes are keyed by context name and never hard-deleted; terminating a
// relationship sets tombstoned_at and keeps the row.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// Connect opens a pgx connection pool for the given database URL.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return pool, nil
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS envelopes (
        name          TEXT PRIMARY KEY,
        target_url    TEXT NOT NULL DEFAULT '',
        identity      JSONB NOT NULL,
        alias         JSONB NOT NULL,
        card          JSONB NOT NULL,
        username      TEXT NOT NULL DEFAULT '',
        password      TEXT NOT NULL DEFAULT '',
        created_at    TIMESTAMPTZ NOT NULL,
        updated_at    TIMESTAMPTZ NOT NULL,
        tombstoned_at TIMESTAMPTZ
    );`,
	`CREATE INDEX IF NOT EXISTS envelopes_created_at_idx ON envelopes (created_at DESC);`,
}

// EnsureSchema creates the envelopes table and its index when missing. All
// statements run in a single transaction; PostgreSQL DDL is transactional.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a successful commit reports pgx.ErrTxClosed; that is
		// not a failure.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Debug("Schema verified.")
	return nil
}

const insertEnvelopeSQL = `
    INSERT INTO envelopes (name, target_url, identity, alias, card, username, password, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`

// Save inserts a new envelope. The context name is the primary key; saving a
// name that is already taken returns ErrExists.
func (s *Store) Save(ctx context.Context, env *schemas.Envelope) error {
	if env == nil || env.Name == "" {
		return errors.New("envelope name is required")
	}

	identity, alias, card, err := marshalColumns(env)
	if err != nil {
		return err
	}

	// Normalize timestamps to UTC before insertion to prevent ambiguity.
	now := time.Now().UTC()
	if env.CreatedAt.IsZero() {
		env.CreatedAt = now
	} else {
		env.CreatedAt = env.CreatedAt.UTC()
	}
	env.UpdatedAt = now

	_, err = s.pool.Exec(ctx, insertEnvelopeSQL,
		env.Name, env.TargetURL, identity, alias, card,
		env.Username, env.Password, env.CreatedAt, env.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrExists, env.Name)
		}
		return fmt.Errorf("failed to insert envelope %q: %w", env.Name, err)
	}

	s.log.Info("Envelope saved.", zap.String("context", env.Name))
	return nil
}

const updateEnvelopeSQL = `
    UPDATE envelopes
    SET target_url = $2,
        identity = $3,
        alias = $4,
        card = $5,
        username = $6,
        password = $7,
        updated_at = $8
    WHERE name = $1;
`

// Update rewrites an existing envelope in place.
func (s *Store) Update(ctx context.Context, env *schemas.Envelope) error {
	if env == nil || env.Name == "" {
		return errors.New("envelope name is required")
	}

	identity, alias, card, err := marshalColumns(env)
	if err != nil {
		return err
	}

	env.UpdatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx, updateEnvelopeSQL,
		env.Name, env.TargetURL, identity, alias, card,
		env.Username, env.Password, env.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update envelope %q: %w", env.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, env.Name)
	}

	s.log.Info("Envelope updated.", zap.String("context", env.Name))
	return nil
}

const selectEnvelopeSQL = `
    SELECT name, target_url, identity, alias, card, username, password, created_at, updated_at, tombstoned_at
    FROM envelopes
    WHERE name = $1;
`

// Get fetches one envelope by context name.
func (s *Store) Get(ctx context.Context, name string) (*schemas.Envelope, error) {
	row := s.pool.QueryRow(ctx, selectEnvelopeSQL, name)

	env, err := scanEnvelope(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query envelope %q: %w", name, err)
	}
	return env, nil
}

const listEnvelopesSQL = `
    SELECT name, target_url, identity, alias, card, username, password, created_at, updated_at, tombstoned_at
    FROM envelopes
    ORDER BY created_at DESC, name ASC;
`

// List returns all envelopes, newest first.
func (s *Store) List(ctx context.Context) ([]schemas.Envelope, error) {
	rows, err := s.pool.Query(ctx, listEnvelopesSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query envelopes: %w", err)
	}
	defer rows.Close()

	var envelopes []schemas.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan envelope row: %w", err)
		}
		envelopes = append(envelopes, *env)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return envelopes, nil
}

const tombstoneEnvelopeSQL = `
    UPDATE envelopes
    SET tombstoned_at = COALESCE(tombstoned_at, $2),
        updated_at = $2
    WHERE name = $1;
`

// Tombstone marks the envelope terminated. Only tombstoned_at is set and an
// earlier tombstone timestamp is preserved, so repeating the call is safe.
func (s *Store) Tombstone(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("envelope name is required")
	}

	tag, err := s.pool.Exec(ctx, tombstoneEnvelopeSQL, name, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to tombstone envelope %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	s.log.Info("Envelope tombstoned.", zap.String("context", name))
	return nil
}

func marshalColumns(env *schemas.Envelope) (identity, alias, card []byte, err error) {
	if identity, err = storeJSON.Marshal(env.Identity); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal identity: %w", err)
	}
	if alias, err = storeJSON.Marshal(env.Alias); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal alias: %w", err)
	}
	if card, err = storeJSON.Marshal(env.Card); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal card: %w", err)
	}
	return identity, alias, card, nil
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvelope(row rowScanner) (*schemas.Envelope, error) {
	var (
		env      schemas.Envelope
		identity []byte
		alias    []byte
		card     []byte
	)

	err := row.Scan(
		&env.Name, &env.TargetURL, &identity, &alias, &card,
		&env.Username, &env.Password,
		&env.CreatedAt, &env.UpdatedAt, &env.TombstonedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := storeJSON.Unmarshal(identity, &env.Identity); err != nil {
		return nil, fmt.Errorf("failed to decode identity column: %w", err)
	}
	if err := storeJSON.Unmarshal(alias, &env.Alias); err != nil {
		return nil, fmt.Errorf("failed to decode alias column: %w", err)
	}
	if err := storeJSON.Unmarshal(card, &env.Card); err != nil {
		return nil, fmt.Errorf("failed to decode card column: %w", err)
	}

	return &env, nil
}
