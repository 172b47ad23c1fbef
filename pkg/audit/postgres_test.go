package audit

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresLog_AppendChainsFromHead(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT sequence, entry_hash FROM audit_log ORDER BY sequence DESC LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"sequence", "entry_hash"}).
			AddRow(41, "sha256:prevhead"))
	mock.ExpectExec("INSERT INTO audit_log").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	log := NewPostgresLog(db)
	entry, err := log.Append(context.Background(), Record{
		Actor:   "u-1",
		Action:  "escrow.release",
		Target:  "intent:42",
		Success: true,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if entry.Sequence != 42 {
		t.Errorf("expected sequence 42, got %d", entry.Sequence)
	}
	if entry.PreviousHash != "sha256:prevhead" {
		t.Errorf("expected chained previous hash, got %s", entry.PreviousHash)
	}

	recomputed, _ := ComputeEntryHash(entry)
	if recomputed != entry.EntryHash {
		t.Error("stored entry hash does not round-trip")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresLog_FirstEntryUsesGenesis(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT sequence, entry_hash FROM audit_log ORDER BY sequence DESC LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"sequence", "entry_hash"}))
	mock.ExpectExec("INSERT INTO audit_log").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	log := NewPostgresLog(db)
	entry, err := log.Append(context.Background(), Record{
		Actor: "system", Action: "boot", Target: "shard:0", Success: true,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if entry.Sequence != 1 || entry.PreviousHash != GenesisHash {
		t.Errorf("expected genesis anchoring, got seq=%d prev=%s", entry.Sequence, entry.PreviousHash)
	}
}
