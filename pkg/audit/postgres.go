package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hossam-create/mnbara-trustplane/pkg/fault"
)

// PostgresLog is the durable Logger backed by PostgreSQL. Appends run
// under an advisory transaction lock so the shard has exactly one writer
// at a time and the sequence can never skip or duplicate.
type PostgresLog struct {
	db *sql.DB
}

// NewPostgresLog creates a PostgreSQL-backed audit log.
func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

// Timestamps are stored in their canonical RFC 3339 form so hash
// verification recomputes over exactly the bytes that were hashed.
const pgAuditSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	sequence BIGINT PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	ts TEXT NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	target TEXT NOT NULL,
	success BOOLEAN NOT NULL,
	error TEXT,
	payload JSONB,
	previous_hash TEXT NOT NULL,
	entry_hash TEXT NOT NULL
);
`

// Init creates the backing table if it does not exist.
func (l *PostgresLog) Init(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, pgAuditSchema)
	return err
}

func (l *PostgresLog) Append(ctx context.Context, rec Record) (*Entry, error) {
	payload, err := marshalPayload(rec.Payload)
	if err != nil {
		return nil, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Single writer per shard.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('audit_log'))`); err != nil {
		return nil, fmt.Errorf("acquire append lock: %w", err)
	}

	var lastSeq uint64
	var lastHash string
	err = tx.QueryRowContext(ctx,
		`SELECT sequence, entry_hash FROM audit_log ORDER BY sequence DESC LIMIT 1`).
		Scan(&lastSeq, &lastHash)
	if errors.Is(err, sql.ErrNoRows) {
		lastSeq, lastHash = 0, GenesisHash
	} else if err != nil {
		return nil, fmt.Errorf("read chain head: %w", err)
	}

	entry := &Entry{
		ID:           uuid.New().String(),
		Sequence:     lastSeq + 1,
		Timestamp:    time.Now().UTC(),
		Actor:        rec.Actor,
		Action:       rec.Action,
		Target:       rec.Target,
		Success:      rec.Success,
		Error:        rec.Error,
		Payload:      payload,
		PreviousHash: lastHash,
	}
	entry.EntryHash, err = ComputeEntryHash(entry)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_log (sequence, id, ts, actor, action, target, success, error, payload, previous_hash, entry_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.Sequence, entry.ID, entry.Timestamp.Format(time.RFC3339Nano),
		entry.Actor, entry.Action, entry.Target, entry.Success,
		nullable(entry.Error), nullableBytes(entry.Payload),
		entry.PreviousHash, entry.EntryHash)
	if err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit audit entry: %w", err)
	}
	return entry, nil
}

func (l *PostgresLog) VerifyChain(ctx context.Context, fromSeq, toSeq uint64) error {
	if fromSeq == 0 {
		fromSeq = 1
	}

	prev := GenesisHash
	if fromSeq > 1 {
		err := l.db.QueryRowContext(ctx,
			`SELECT entry_hash FROM audit_log WHERE sequence = $1`, fromSeq-1).Scan(&prev)
		if errors.Is(err, sql.ErrNoRows) {
			return &fault.ChainBrokenError{Sequence: fromSeq - 1, Detail: "entry missing"}
		} else if err != nil {
			return fmt.Errorf("read anchor entry: %w", err)
		}
	}

	query := `SELECT sequence, id, ts, actor, action, target, success, error, payload, previous_hash, entry_hash
		 FROM audit_log WHERE sequence >= $1`
	args := []any{fromSeq}
	if toSeq > 0 {
		query += ` AND sequence <= $2`
		args = append(args, toSeq)
	}
	query += ` ORDER BY sequence ASC`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("read chain range: %w", err)
	}
	defer func() { _ = rows.Close() }()

	expectedSeq := fromSeq
	for rows.Next() {
		entry, err := scanPGEntry(rows)
		if err != nil {
			return err
		}
		if entry.Sequence != expectedSeq {
			return &fault.ChainBrokenError{
				Sequence: expectedSeq,
				Detail:   fmt.Sprintf("sequence gap: next stored entry is %d", entry.Sequence),
			}
		}
		if err := verifyEntries(prev, []*Entry{entry}); err != nil {
			return err
		}
		prev = entry.EntryHash
		expectedSeq++
	}
	return rows.Err()
}

func (l *PostgresLog) Query(ctx context.Context, f QueryFilter) ([]*Entry, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.Action != "" {
		conds = append(conds, "action = "+arg(f.Action))
	}
	if f.Actor != "" {
		conds = append(conds, "actor = "+arg(f.Actor))
	}
	if f.Target != "" {
		conds = append(conds, "target = "+arg(f.Target))
	}
	if f.Success != nil {
		conds = append(conds, "success = "+arg(*f.Success))
	}
	if f.StartTime != nil {
		conds = append(conds, "ts >= "+arg(f.StartTime.UTC().Format(time.RFC3339Nano)))
	}
	if f.EndTime != nil {
		conds = append(conds, "ts <= "+arg(f.EndTime.UTC().Format(time.RFC3339Nano)))
	}
	if f.StartSeq > 0 {
		conds = append(conds, "sequence >= "+arg(f.StartSeq))
	}
	if f.EndSeq > 0 {
		conds = append(conds, "sequence <= "+arg(f.EndSeq))
	}

	query := `SELECT sequence, id, ts, actor, action, target, success, error, payload, previous_hash, entry_hash FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY sequence ASC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Entry
	for rows.Next() {
		entry, err := scanPGEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func scanPGEntry(rows *sql.Rows) (*Entry, error) {
	var e Entry
	var ts string
	var errMsg sql.NullString
	var payload []byte
	if err := rows.Scan(&e.Sequence, &e.ID, &ts, &e.Actor, &e.Action, &e.Target,
		&e.Success, &errMsg, &payload, &e.PreviousHash, &e.EntryHash); err != nil {
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parse entry timestamp: %w", err)
	}
	e.Timestamp = parsed
	e.Error = errMsg.String
	if len(payload) > 0 {
		e.Payload = payload
	}
	return &e, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
