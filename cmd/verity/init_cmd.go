package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/verity-labs/verity/pkg/audit"
	"github.com/verity-labs/verity/pkg/evidence"
	"github.com/verity-labs/verity/pkg/store"
)

// runInitCmd creates the audit, evidence, and outbox schemas.
//
// Idempotent; safe to run against an existing database.
func runInitCmd(args []string, stdout, stderr io.Writer) int {
	cfg, ok := loadConfig(stderr)
	if !ok {
		return 2
	}

	cmd := flag.NewFlagSet("init", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	dsn := cmd.String("db", cfg.DatabaseURL, "Database DSN")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	db, err := openDB(*dsn)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	if err := audit.NewSQLLedger(db).Init(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: audit schema: %v\n", err)
		return 2
	}
	if err := evidence.NewSQLStore(db).Init(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: evidence schema: %v\n", err)
		return 2
	}
	if err := store.InitOutbox(ctx, db); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: outbox schema: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintln(stdout, "Schemas created")
	return 0
}
