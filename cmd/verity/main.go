package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	_ "github.com/lib/pq" // Postgres Driver
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/verity-labs/verity/pkg/audit"
	"github.com/verity-labs/verity/pkg/config"
	"github.com/verity-labs/verity/pkg/observability"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "init":
		return runInitCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "verify-pack":
		return runVerifyPackCmd(args[2:], stdout, stderr)
	case "seal":
		return runSealCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "verity - tamper-evident evidence and audit chain")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  verity init        --db <dsn>                       Create schemas")
	fmt.Fprintln(w, "  verity seal        --db <dsn> --tenant <id> --action <name>")
	fmt.Fprintln(w, "                     --artifact <name=path> ...       Build and seal an evidence pack")
	fmt.Fprintln(w, "  verity verify      --db <dsn> --tenant <id>         Verify a tenant's audit chain")
	fmt.Fprintln(w, "  verity verify-pack --db <dsn> --tenant <id>         Verify evidence chain and seals")
	fmt.Fprintln(w, "  verity export      --db <dsn> --tenant <id> --pack <id>  Export a sealed bundle")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "The --db flag defaults to $DATABASE_URL. postgres:// DSNs use the")
	fmt.Fprintln(w, "postgres driver; anything else is treated as a sqlite path.")
	fmt.Fprintln(w, "Environment: SEAL_MASTER_KEY (seal), REDIS_ADDR, OTLP_ENDPOINT,")
	fmt.Fprintln(w, "EVIDENCE_POLICY_PATH, TENANT_PROFILES_DIR, VERITY_ENV.")
	fmt.Fprintln(w, "")
}

// loadConfig reads the process environment. Commands use it for flag
// defaults; a malformed environment is a usage error.
func loadConfig(stderr io.Writer) (*config.Config, bool) {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: config: %v\n", err)
		return nil, false
	}
	return cfg, true
}

// newProvider builds the telemetry provider. Without OTLP_ENDPOINT the
// provider is inert: instrumented components still work, nothing is
// exported.
func newProvider(ctx context.Context, cfg *config.Config) (*observability.Provider, error) {
	oc := observability.DefaultConfig()
	oc.Environment = cfg.Environment
	oc.OTLPEndpoint = cfg.OTLPEndpoint
	oc.Enabled = cfg.OTLPEndpoint != ""
	oc.Insecure = !cfg.IsProduction()
	return observability.New(ctx, oc)
}

// newLedger assembles the audit ledger with the optional Redis append
// lease and telemetry wrapping configured through the environment.
func newLedger(db *sql.DB, cfg *config.Config, p *observability.Provider) audit.Ledger {
	ledger := audit.NewSQLLedger(db)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ledger = ledger.WithLocker(audit.NewRedisLocker(client, 0))
	}
	return observability.InstrumentLedger(ledger, p)
}

// openDB opens the DSN with the matching driver. Anything that is not a
// postgres URL is treated as a sqlite database path.
func openDB(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("no database DSN: pass --db or set DATABASE_URL")
	}
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "postgres"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}
