package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hossam-create/mnbara-trustplane/pkg/admin"
	"github.com/hossam-create/mnbara-trustplane/pkg/api"
	"github.com/hossam-create/mnbara-trustplane/pkg/approval"
	"github.com/hossam-create/mnbara-trustplane/pkg/audit"
	"github.com/hossam-create/mnbara-trustplane/pkg/auth"
	"github.com/hossam-create/mnbara-trustplane/pkg/config"
	"github.com/hossam-create/mnbara-trustplane/pkg/escrow"
	"github.com/hossam-create/mnbara-trustplane/pkg/gateway"
	"github.com/hossam-create/mnbara-trustplane/pkg/observability"
	"github.com/hossam-create/mnbara-trustplane/pkg/rbac"
	"github.com/hossam-create/mnbara-trustplane/pkg/server"
	"github.com/hossam-create/mnbara-trustplane/pkg/users"

	_ "github.com/lib/pq" // Postgres Driver
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		// Default to server
		startServer()
		return 0
	}

	switch args[1] {
	case "server", "serve":
		startServer()
		return 0
	case "health":
		return runHealthCmd(stdout, stderr)
	case "verify-chain":
		return runVerifyChainCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			startServer()
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Mnbara Trustplane")
	fmt.Fprintln(w, "Escrow, fraud and audit control plane.")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  trustplane <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  server        Run the trustplane API server (default)")
	fmt.Fprintln(w, "  health        Check server health (HTTP)")
	fmt.Fprintln(w, "  verify-chain  Verify the audit hash chain end to end")
	fmt.Fprintln(w, "  help          Show this help")
	fmt.Fprintln(w, "")
}

//nolint:gocognit,gocyclo
func runServer() {
	ctx := context.Background()
	cfg := config.Load()

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if path := os.Getenv("POLICY_FILE"); path != "" {
		pol, err := config.LoadPolicy(path)
		if err != nil {
			log.Fatalf("Failed to load policy file %s: %v", path, err)
		}
		cfg.Policy = pol
	}

	var (
		db          *sql.DB
		intents     escrow.Store
		trail       audit.Logger
		directory   users.Directory
		idempotency api.IdempotencyStorer
		err         error
	)

	if cfg.DatabaseURL == "" {
		logger.Info("DATABASE_URL not set, falling back to Lite Mode (sqlite)")
		db, intents, trail, directory, idempotency, err = setupLiteMode(ctx)
		if err != nil {
			log.Fatalf("Failed to setup Lite Mode: %v", err)
		}
	} else {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to DB: %v", err)
		}
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("DB Ping failed: %v", err)
		}
		logger.Info("postgres connected")

		pgIntents := escrow.NewPostgresStore(db)
		if err := pgIntents.Init(ctx); err != nil {
			log.Fatalf("Failed to init intent store: %v", err)
		}
		intents = pgIntents

		pgTrail := audit.NewPostgresLog(db)
		if err := pgTrail.Init(ctx); err != nil {
			log.Fatalf("Failed to init audit log: %v", err)
		}
		trail = pgTrail

		pgDir := users.NewPostgresDirectory(db)
		if err := pgDir.Init(ctx); err != nil {
			log.Fatalf("Failed to init user directory: %v", err)
		}
		directory = pgDir

		pgIdem := api.NewPostgresIdempotencyStore(db, 24*time.Hour)
		if err := pgIdem.Init(ctx); err != nil {
			log.Fatalf("Failed to init idempotency store: %v", err)
		}
		idempotency = pgIdem
	}
	defer db.Close()

	// Observability. OTLP export is opt-in; the provider degrades to
	// no-ops when disabled.
	obsCfg := observability.DefaultConfig()
	obsCfg.Environment = envOr("ENVIRONMENT", "development")
	obsCfg.OTLPEndpoint = envOr("OTLP_ENDPOINT", "localhost:4317")
	obsCfg.Enabled = os.Getenv("OTLP_ENDPOINT") != ""
	obsCfg.Insecure = obsCfg.Environment == "development"
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		log.Fatalf("Failed to init observability: %v", err)
	}

	// Payment gateway. Without an API key the fake processor stands in
	// so local development works end to end.
	var gw gateway.Gateway
	paymob := gateway.NewPaymobClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayHMACSecret)
	if cfg.GatewayAPIKey == "" {
		logger.Warn("GATEWAY_API_KEY not set, using fake in-memory processor")
		gw = gateway.NewFake()
	} else {
		gw = paymob
	}

	machine := escrow.NewMachine(intents, gw)
	machine.SetAutoRelease(time.Duration(cfg.Policy.AutoReleaseDays) * 24 * time.Hour)

	// Approvals and per-actor rate limits share Redis when available.
	var (
		approvals approval.Store
		limiter   auth.LimiterStore
	)
	if cfg.RedisAddr != "" {
		approvals = approval.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, 0)
		limiter = auth.NewRedisLimiterStore(cfg.RedisAddr, cfg.RedisPassword, 0)
		logger.Info("redis connected", "addr", cfg.RedisAddr)
	} else {
		approvals = approval.NewMemoryStore()
		limiter = auth.NewInMemoryLimiterStore()
	}

	matrix := rbac.DefaultMatrix()
	orch := admin.NewOrchestrator(
		matrix,
		machine,
		intents,
		directory,
		approvals,
		approval.Policy{ThresholdMinor: cfg.Policy.DualControlThresholdMinor},
		trail,
		logger,
	)

	srv := server.New(server.Config{
		Machine:   machine,
		Intents:   intents,
		Orch:      orch,
		Directory: directory,
		Trail:     trail,
		Matrix:    matrix,
		Verifier:  paymob,
		Logger:    logger,
	})

	validator := auth.NewJWTValidator(cfg.JWTSecret)
	if validator == nil {
		logger.Warn("JWT_SECRET not set, all authenticated routes will return 401")
	}

	handler := srv.Handler(server.MiddlewareConfig{
		Validator:   validator,
		Idempotency: idempotency,
		Limiter:     limiter,
		LimitPolicy: auth.LimitPolicy{RPM: cfg.Policy.RateLimitRPM, Burst: cfg.Policy.RateLimitBurst},
		IPLimiter:   api.NewGlobalRateLimiter(100, 200),
		CORSOrigins: cfg.CORSOrigins,
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("trustplane listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logger.Error("observability shutdown failed", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runHealthCmd(out, errOut io.Writer) int {
	port := envOr("PORT", "8080")
	resp, err := http.Get("http://localhost:" + port + "/health")
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Fprintln(out, "OK")
	return 0
}
