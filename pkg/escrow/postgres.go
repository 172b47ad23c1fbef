package escrow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore is the durable Store backed by PostgreSQL. Updates run
// under SELECT ... FOR UPDATE so the row cannot change underneath a
// transition even if a second process bypasses the in-process lock.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed intent store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const pgIntentSchema = `
CREATE TABLE IF NOT EXISTS escrow_intents (
	id TEXT PRIMARY KEY,
	amount_minor BIGINT NOT NULL,
	currency TEXT NOT NULL,
	scale INT NOT NULL,
	status TEXT NOT NULL,
	customer_id TEXT NOT NULL,
	order_id TEXT NOT NULL,
	payment_method TEXT,
	gateway_ref TEXT UNIQUE,
	refunded_minor BIGINT NOT NULL DEFAULT 0,
	metadata JSONB,
	auto_release_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Init creates the backing table if it does not exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgIntentSchema)
	return err
}

const intentColumns = `id, amount_minor, currency, scale, status, customer_id, order_id,
	payment_method, gateway_ref, refunded_minor, metadata, auto_release_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, intent *Intent) error {
	meta, err := marshalMeta(intent.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO escrow_intents (`+intentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		intent.ID, intent.Amount.AmountMinor, intent.Amount.Currency, intent.Amount.Scale,
		intent.Status, intent.CustomerID, intent.OrderID,
		nullStr(intent.PaymentMethod), nullStr(intent.GatewayRef),
		intent.RefundedMinor, meta, intent.AutoReleaseAt,
		intent.CreatedAt, intent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert intent: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Intent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM escrow_intents WHERE id = $1`, id)
	return scanIntent(row)
}

func (s *PostgresStore) GetByGatewayRef(ctx context.Context, ref string) (*Intent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM escrow_intents WHERE gateway_ref = $1`, ref)
	return scanIntent(row)
}

func (s *PostgresStore) Update(ctx context.Context, intent *Intent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM escrow_intents WHERE id = $1 FOR UPDATE`, intent.ID).Scan(&existing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock intent: %w", err)
	}

	meta, err := marshalMeta(intent.Metadata)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE escrow_intents
		 SET status = $1, payment_method = $2, gateway_ref = $3, refunded_minor = $4,
		     metadata = $5, auto_release_at = $6, updated_at = $7
		 WHERE id = $8`,
		intent.Status, nullStr(intent.PaymentMethod), nullStr(intent.GatewayRef),
		intent.RefundedMinor, meta, intent.AutoReleaseAt, now, intent.ID)
	if err != nil {
		return fmt.Errorf("update intent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit intent update: %w", err)
	}
	intent.UpdatedAt = now
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (*Intent, error) {
	var i Intent
	var method, gwRef sql.NullString
	var meta []byte
	var autoRelease sql.NullTime
	err := row.Scan(&i.ID, &i.Amount.AmountMinor, &i.Amount.Currency, &i.Amount.Scale,
		&i.Status, &i.CustomerID, &i.OrderID, &method, &gwRef,
		&i.RefundedMinor, &meta, &autoRelease, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan intent: %w", err)
	}
	i.PaymentMethod = method.String
	i.GatewayRef = gwRef.String
	if autoRelease.Valid {
		t := autoRelease.Time
		i.AutoReleaseAt = &t
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &i.Metadata); err != nil {
			return nil, fmt.Errorf("decode intent metadata: %w", err)
		}
	}
	return &i, nil
}

func marshalMeta(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode intent metadata: %w", err)
	}
	return b, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
