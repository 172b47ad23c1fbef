package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresDirectory is the durable Directory backed by PostgreSQL.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a new PostgreSQL-backed directory.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

const usersSchema = `
CREATE TABLE IF NOT EXISTS user_profiles (
	id TEXT PRIMARY KEY,
	legal_name TEXT NOT NULL,
	status TEXT NOT NULL,
	ban_reason TEXT,
	flagged_by_risk_feed BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Init creates the backing table if it does not exist.
func (d *PostgresDirectory) Init(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, usersSchema)
	return err
}

func (d *PostgresDirectory) Get(ctx context.Context, userID string) (*Profile, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, legal_name, status, ban_reason, flagged_by_risk_feed, created_at, updated_at
		 FROM user_profiles WHERE id = $1`, userID)

	var p Profile
	var banReason sql.NullString
	err := row.Scan(&p.ID, &p.LegalName, &p.Status, &banReason, &p.FlaggedByRiskFeed, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	p.BanReason = banReason.String
	return &p, nil
}

// Ban marks the profile BANNED with the given reason. The row is locked
// for the duration of the update so concurrent bans cannot interleave.
func (d *PostgresDirectory) Ban(ctx context.Context, userID, reason string) (*Profile, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var p Profile
	var banReason sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT id, legal_name, status, ban_reason, flagged_by_risk_feed, created_at, updated_at
		 FROM user_profiles WHERE id = $1 FOR UPDATE`, userID).
		Scan(&p.ID, &p.LegalName, &p.Status, &banReason, &p.FlaggedByRiskFeed, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock profile: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE user_profiles SET status = $1, ban_reason = $2, updated_at = $3 WHERE id = $4`,
		StatusBanned, reason, now, userID)
	if err != nil {
		return nil, fmt.Errorf("ban profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ban: %w", err)
	}

	p.Status = StatusBanned
	p.BanReason = reason
	p.UpdatedAt = now
	return &p, nil
}
