package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/verity-labs/verity/pkg/evidence"
	"github.com/verity-labs/verity/pkg/observability"
	"github.com/verity-labs/verity/pkg/policy"
	"github.com/verity-labs/verity/pkg/seal"
)

// artifactList collects repeated --artifact name=path flags.
type artifactList map[string]string

func (a artifactList) String() string {
	return fmt.Sprintf("%d artifacts", len(a))
}

func (a artifactList) Set(v string) error {
	name, path, ok := strings.Cut(v, "=")
	if !ok || name == "" || path == "" {
		return fmt.Errorf("want name=path, got %q", v)
	}
	a[name] = path
	return nil
}

// runSealCmd implements `verity seal`.
//
// Builds an evidence pack from artifact files, seals it with the
// tenant's derived key, appends it to the tenant's hash chain, and
// records the seal in the audit ledger. The action is classified
// first: a mandatory action that fails to seal exits non-zero, a
// best-effort one degrades to a warning.
//
// Exit codes:
//
//	0 = sealed (or best-effort capture failed)
//	1 = mandatory capture failed
//	2 = usage or runtime error
func runSealCmd(args []string, stdout, stderr io.Writer) int {
	cfg, ok := loadConfig(stderr)
	if !ok {
		return 2
	}

	cmd := flag.NewFlagSet("seal", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dsn        string
		tenantID   string
		actorID    string
		action     string
		targetType string
		targetID   string
		policyPath string
		keyID      string
		artifacts  = artifactList{}
	)
	cmd.StringVar(&dsn, "db", cfg.DatabaseURL, "Database DSN")
	cmd.StringVar(&tenantID, "tenant", "", "Tenant owning the evidence (REQUIRED)")
	cmd.StringVar(&actorID, "actor", "system", "Actor recorded in the audit event")
	cmd.StringVar(&action, "action", "", "Terminal action being evidenced (REQUIRED)")
	cmd.StringVar(&targetType, "target-type", "", "Type of the evidenced target")
	cmd.StringVar(&targetID, "target-id", "", "Id of the evidenced target")
	cmd.StringVar(&policyPath, "policy", cfg.PolicyPath, "Classification policy YAML")
	cmd.StringVar(&keyID, "key-id", "local", "Identifier recorded for the sealing key")
	cmd.Var(&artifacts, "artifact", "Artifact as name=path (repeatable, REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tenantID == "" || action == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --tenant and --action are required")
		return 2
	}
	if len(artifacts) == 0 {
		_, _ = fmt.Fprintln(stderr, "Error: at least one --artifact is required")
		return 2
	}
	if len(cfg.SealMasterKey) == 0 {
		_, _ = fmt.Fprintln(stderr, "Error: SEAL_MASTER_KEY must be set (64 hex chars)")
		return 2
	}

	payloads := make(map[string][]byte, len(artifacts))
	for name, path := range artifacts {
		data, err := os.ReadFile(path)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: read artifact %s: %v\n", name, err)
			return 2
		}
		payloads[name] = data
	}

	pol := policy.Default(policy.WithProduction(cfg.IsProduction()))
	if policyPath != "" {
		loaded, err := policy.LoadFile(policyPath, policy.WithProduction(cfg.IsProduction()))
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: policy: %v\n", err)
			return 2
		}
		pol = loaded
	}
	class := pol.Classify(action)

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

	sealer, err := seal.NewLocalSealer(cfg.SealMasterKey, keyID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: sealer: %v\n", err)
		return 2
	}

	builder := evidence.NewBuilder(
		evidence.NewSQLStore(db),
		observability.InstrumentSealer(sealer, provider),
	).WithLedger(newLedger(db, cfg, provider))

	opCtx, done := provider.TrackOperation(ctx, "evidence.build_and_seal",
		observability.PackSeal(tenantID, action, len(payloads))...)
	pack, err := builder.BuildAndSeal(opCtx, evidence.Request{
		TenantID:   tenantID,
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Artifacts:  payloads,
	})
	if err == nil {
		observability.AddSpanEvent(opCtx, "pack sealed",
			observability.AttrClass.String(string(class)),
			observability.AttrPackID.String(pack.ID),
			observability.AttrChainIndex.Int64(int64(pack.Entry.Index)))
	}
	done(err)

	if err != nil {
		var nonTerminal *evidence.ErrNonTerminal
		if errors.As(err, &nonTerminal) {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		if class == policy.ClassBestEffort {
			_, _ = fmt.Fprintf(stderr, "Warning: best-effort evidence capture failed: %v\n", err)
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "Error: mandatory evidence capture failed: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "Sealed pack %s\n", pack.ID)
	_, _ = fmt.Fprintf(stdout, "  class:       %s\n", class)
	_, _ = fmt.Fprintf(stdout, "  chain index: %d\n", pack.Entry.Index)
	_, _ = fmt.Fprintf(stdout, "  chain hash:  %s\n", pack.Entry.ChainHash)
	return 0
}
