package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hossam-create/mnbara-trustplane/pkg/fault"
)

// SQLiteLog is a single-node durable Logger for deployments without a
// Postgres. SQLite serializes writers itself; the in-process mutex keeps
// the read-head/insert pair atomic.
type SQLiteLog struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteLog creates a SQLite-backed audit log and its schema.
func NewSQLiteLog(db *sql.DB) (*SQLiteLog, error) {
	l := &SQLiteLog{db: db}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLog) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_log (
		sequence INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		ts TEXT NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		target TEXT NOT NULL,
		success INTEGER NOT NULL,
		error TEXT,
		payload TEXT,
		previous_hash TEXT NOT NULL,
		entry_hash TEXT NOT NULL
	);`
	_, err := l.db.ExecContext(context.Background(), query)
	return err
}

func (l *SQLiteLog) Append(ctx context.Context, rec Record) (*Entry, error) {
	payload, err := marshalPayload(rec.Payload)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var lastSeq uint64
	var lastHash string
	err = l.db.QueryRowContext(ctx,
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

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO audit_log (sequence, id, ts, actor, action, target, success, error, payload, previous_hash, entry_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Sequence, entry.ID, entry.Timestamp.Format(time.RFC3339Nano),
		entry.Actor, entry.Action, entry.Target, entry.Success,
		nullable(entry.Error), nullableBytes(entry.Payload),
		entry.PreviousHash, entry.EntryHash)
	if err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	return entry, nil
}

func (l *SQLiteLog) VerifyChain(ctx context.Context, fromSeq, toSeq uint64) error {
	if fromSeq == 0 {
		fromSeq = 1
	}

	prev := GenesisHash
	if fromSeq > 1 {
		err := l.db.QueryRowContext(ctx,
			`SELECT entry_hash FROM audit_log WHERE sequence = ?`, fromSeq-1).Scan(&prev)
		if errors.Is(err, sql.ErrNoRows) {
			return &fault.ChainBrokenError{Sequence: fromSeq - 1, Detail: "entry missing"}
		} else if err != nil {
			return fmt.Errorf("read anchor entry: %w", err)
		}
	}

	query := `SELECT sequence, id, ts, actor, action, target, success, error, payload, previous_hash, entry_hash
		 FROM audit_log WHERE sequence >= ?`
	args := []any{fromSeq}
	if toSeq > 0 {
		query += ` AND sequence <= ?`
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
		entry, err := scanSQLiteEntry(rows)
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

func (l *SQLiteLog) Query(ctx context.Context, f QueryFilter) ([]*Entry, error) {
	var conds []string
	var args []any

	if f.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, f.Action)
	}
	if f.Actor != "" {
		conds = append(conds, "actor = ?")
		args = append(args, f.Actor)
	}
	if f.Target != "" {
		conds = append(conds, "target = ?")
		args = append(args, f.Target)
	}
	if f.Success != nil {
		conds = append(conds, "success = ?")
		args = append(args, *f.Success)
	}
	if f.StartTime != nil {
		conds = append(conds, "ts >= ?")
		args = append(args, f.StartTime.UTC().Format(time.RFC3339Nano))
	}
	if f.EndTime != nil {
		conds = append(conds, "ts <= ?")
		args = append(args, f.EndTime.UTC().Format(time.RFC3339Nano))
	}
	if f.StartSeq > 0 {
		conds = append(conds, "sequence >= ?")
		args = append(args, f.StartSeq)
	}
	if f.EndSeq > 0 {
		conds = append(conds, "sequence <= ?")
		args = append(args, f.EndSeq)
	}

	query := `SELECT sequence, id, ts, actor, action, target, success, error, payload, previous_hash, entry_hash FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY sequence ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Entry
	for rows.Next() {
		entry, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func scanSQLiteEntry(rows *sql.Rows) (*Entry, error) {
	var e Entry
	var ts string
	var errMsg sql.NullString
	var payload sql.NullString
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
	if payload.Valid && payload.String != "" {
		e.Payload = []byte(payload.String)
	}
	return &e, nil
}
