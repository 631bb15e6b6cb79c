package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
)

// runVerifyCmd implements `verity verify`.
//
// Recomputes a tenant's audit hash chain from the first event and
// reports the first broken link, if any.
//
// Exit codes:
//
//	0 = chain intact
//	1 = chain broken
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cfg, ok := loadConfig(stderr)
	if !ok {
		return 2
	}

	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dsn        string
		tenantID   string
		jsonOutput bool
	)
	cmd.StringVar(&dsn, "db", cfg.DatabaseURL, "Database DSN")
	cmd.StringVar(&tenantID, "tenant", "", "Tenant to verify (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output report as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tenantID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --tenant is required")
		return 2
	}

	db, err := openDB(dsn)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	provider, err := newProvider(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: telemetry: %v\n", err)
		return 2
	}
	defer func() { _ = provider.Shutdown(ctx) }()

	report, err := newLedger(db, cfg, provider).VerifyChain(ctx, tenantID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: verification failed: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if report.Valid {
		_, _ = fmt.Fprintf(stdout, "✅ Audit chain intact for tenant %s\n", tenantID)
	} else {
		_, _ = fmt.Fprintf(stdout, "❌ Audit chain BROKEN for tenant %s\n", tenantID)
		_, _ = fmt.Fprintf(stdout, "  broken at: event %d\n", report.BrokenAt)
		_, _ = fmt.Fprintf(stdout, "  reason:    %s\n", report.Reason)
	}

	if !report.Valid {
		return 1
	}
	return 0
}
