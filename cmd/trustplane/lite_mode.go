package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hossam-create/mnbara-trustplane/pkg/api"
	"github.com/hossam-create/mnbara-trustplane/pkg/audit"
	"github.com/hossam-create/mnbara-trustplane/pkg/escrow"
	"github.com/hossam-create/mnbara-trustplane/pkg/users"

	_ "modernc.org/sqlite"
)

// setupLiteMode wires a single-node deployment without Postgres. The
// audit trail persists to sqlite so the hash chain survives restarts;
// intents, the user directory and idempotency replay stay in memory.
func setupLiteMode(ctx context.Context) (*sql.DB, escrow.Store, audit.Logger, users.Directory, api.IdempotencyStorer, error) {
	dataDir := "data"
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "trustplane.db")
	slog.Info("lite mode: using sqlite", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	trail, err := audit.NewSQLiteLog(db)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("failed to init sqlite audit log: %w", err)
	}

	return db,
		escrow.NewMemoryStore(),
		trail,
		users.NewMemoryDirectory(),
		api.NewIdempotencyStore(24 * time.Hour),
		nil
}

// runVerifyChainCmd walks the persisted audit trail and verifies every
// hash link. Exit 0 means the chain is intact.
func runVerifyChainCmd(args []string, out, errOut io.Writer) int {
	ctx := context.Background()

	var trail audit.Logger
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			fmt.Fprintf(errOut, "Failed to connect: %v\n", err)
			return 1
		}
		defer db.Close()
		pg := audit.NewPostgresLog(db)
		if err := pg.Init(ctx); err != nil {
			fmt.Fprintf(errOut, "Failed to init audit log: %v\n", err)
			return 1
		}
		trail = pg
	} else {
		dbPath := filepath.Join("data", "trustplane.db")
		if len(args) > 0 {
			dbPath = args[0]
		}
		db, err := sql.Open("sqlite", dbPath)
		if err != nil {
			fmt.Fprintf(errOut, "Failed to open %s: %v\n", dbPath, err)
			return 1
		}
		defer db.Close()
		lite, err := audit.NewSQLiteLog(db)
		if err != nil {
			fmt.Fprintf(errOut, "Failed to init audit log: %v\n", err)
			return 1
		}
		trail = lite
	}

	if err := trail.VerifyChain(ctx, 0, 0); err != nil {
		fmt.Fprintf(errOut, "Chain verification FAILED: %v\n", err)
		return 1
	}

	fmt.Fprintln(out, "Audit chain intact")
	return 0
}
