// Command actiond runs the action execution service: it loads user-authored
// action scripts from content storage, classifies their trust, and executes
// them in-process, sandboxed, or on a remote action server.
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

	"github.com/convoserve/actionkernel/pkg/audit"
	"github.com/convoserve/actionkernel/pkg/cachebus"
	"github.com/convoserve/actionkernel/pkg/catalog"
	"github.com/convoserve/actionkernel/pkg/config"
	"github.com/convoserve/actionkernel/pkg/contentstore"
	"github.com/convoserve/actionkernel/pkg/delegate"
	"github.com/convoserve/actionkernel/pkg/invalidation"
	"github.com/convoserve/actionkernel/pkg/observability"
	"github.com/convoserve/actionkernel/pkg/requires"
	"github.com/convoserve/actionkernel/pkg/router"
	"github.com/convoserve/actionkernel/pkg/sandbox"
	"github.com/convoserve/actionkernel/pkg/trust"
	"github.com/convoserve/actionkernel/pkg/workspace"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver
)

const version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		startServer()
		return 0
	}

	switch args[1] {
	case "server", "serve":
		startServer()
		return 0
	case "doctor":
		return runDoctorCmd(stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "actiond %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			startServer()
			return 0
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "actiond %s\n", version)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  actiond <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  server    Run the action execution service (default)")
	fmt.Fprintln(w, "  doctor    Check configuration and storage access")
	fmt.Fprintln(w, "  version   Show version information")
	fmt.Fprintln(w, "  help      Show this help")
	fmt.Fprintln(w, "")
}

// runDoctorCmd verifies that configured collaborators are reachable before a
// deploy flips traffic over.
func runDoctorCmd(out, errOut io.Writer) int {
	ctx := context.Background()
	cfg := loadConfig()
	failed := false

	if _, err := contentstore.NewStoreFromEnv(ctx); err != nil {
		fmt.Fprintf(errOut, "content storage: %v\n", err)
		failed = true
	} else {
		fmt.Fprintf(out, "content storage: ok (%s)\n", cfg.StorageType)
	}

	db, err := openAuditDB(cfg)
	if err != nil {
		fmt.Fprintf(errOut, "audit store: %v\n", err)
		failed = true
	} else {
		if err := db.PingContext(ctx); err != nil {
			fmt.Fprintf(errOut, "audit store: ping failed: %v\n", err)
			failed = true
		} else {
			fmt.Fprintf(out, "audit store: ok (%s)\n", cfg.AuditDriver)
		}
		_ = db.Close()
	}

	if cfg.TokenSecret == "" {
		fmt.Fprintln(out, "delegation: disabled (DELEGATION_TOKEN_SECRET not set)")
	} else {
		fmt.Fprintln(out, "delegation: ok")
	}

	if failed {
		return 1
	}
	fmt.Fprintln(out, "OK")
	return 0
}

func loadConfig() *config.Config {
	cfg := config.Load()
	if name := os.Getenv("DEPLOYMENT_PROFILE"); name != "" {
		profilesDir := os.Getenv("PROFILES_DIR")
		if profilesDir == "" {
			profilesDir = "profiles"
		}
		profile, err := config.LoadProfile(profilesDir, name)
		if err != nil {
			log.Fatalf("Failed to load deployment profile: %v", err)
		}
		profile.Apply(cfg)
	}
	return cfg
}

func openAuditDB(cfg *config.Config) (*sql.DB, error) {
	switch cfg.AuditDriver {
	case audit.DriverPostgres:
		return sql.Open("postgres", cfg.AuditDSN)
	case audit.DriverSQLite:
		return sql.Open("sqlite", cfg.AuditDSN)
	default:
		return nil, fmt.Errorf("unsupported audit driver: %s", cfg.AuditDriver)
	}
}

func logLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() {
	ctx := context.Background()
	cfg := loadConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	var obs *observability.Provider
	if cfg.TelemetryEnabled {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		var err error
		obs, err = observability.New(ctx, obsCfg)
		if err != nil {
			log.Fatalf("Failed to init observability: %v", err)
		}
	}

	// Content storage
	store, err := contentstore.NewStoreFromEnv(ctx)
	if err != nil {
		log.Fatalf("Failed to init content storage: %v", err)
	}
	logger.Info("content storage ready", "type", cfg.StorageType)

	// Audit store
	db, err := openAuditDB(cfg)
	if err != nil {
		log.Fatalf("Failed to open audit database: %v", err)
	}
	tasks, err := audit.NewSQLTaskStore(db, cfg.AuditDriver)
	if err != nil {
		log.Fatalf("Failed to init audit store: %v", err)
	}
	logger.Info("audit store ready", "driver", cfg.AuditDriver)

	// Catalog
	workspaces := workspace.NewStaticResolver(nil)
	reg := catalog.NewRegistry(store, workspaces, logger)

	// Cache invalidation over Redis pub/sub; in-memory when Redis is absent.
	var bus cachebus.Bus
	if cfg.RedisAddr != "" {
		bus = cachebus.NewRedisBus(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	} else {
		bus = cachebus.NewMemoryBus()
		logger.Warn("REDIS_ADDR not set, cache invalidation is process-local")
	}
	listener := invalidation.NewListener(reg, cfg.InvalidationWindow, logger)
	stopListener, err := listener.Start(ctx, bus)
	if err != nil {
		log.Fatalf("Failed to subscribe to invalidation bus: %v", err)
	}
	logger.Info("invalidation listener ready", "window", cfg.InvalidationWindow)

	// Delegation, enabled only when a signing secret is configured.
	var delegateClient *delegate.Client
	if cfg.TokenSecret != "" {
		minter, err := delegate.NewTokenMinter([]byte(cfg.TokenSecret))
		if err != nil {
			log.Fatalf("Failed to init token minter: %v", err)
		}
		delegateClient = delegate.NewClient(minter, reg, tasks, logger)
		logger.Info("remote delegation enabled")
	} else {
		logger.Warn("DELEGATION_TOKEN_SECRET not set, remote delegation disabled")
	}

	// Execution strategies
	sandboxCfg := sandbox.DefaultConfig()
	sandboxCfg.Timeout = cfg.SandboxTimeout
	sandboxed := sandbox.NewRunner(sandboxCfg)
	trusted := sandbox.NewTrustedRunner()
	classifier := trust.NewClassifier(reg)
	resolver := requires.NewResolver(reg, store, sandboxCfg, logger)

	svc := router.NewService(reg, classifier, resolver, sandboxed, trusted, delegateClient,
		router.Options{StrictRequires: cfg.StrictRequires}, logger)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		logger.Info("actiond ready", "version", version, "addr", addr)
		//nolint:gosec // Intentionally listening on all interfaces
		if err := http.ListenAndServe(addr, newMux(svc, reg)); err != nil {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	stopListener()
	if obs != nil {
		if err := obs.Shutdown(ctx); err != nil {
			logger.Warn("observability shutdown", "error", err)
		}
	}
	_ = db.Close()
}
