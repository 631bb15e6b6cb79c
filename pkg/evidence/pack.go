// Package evidence assembles the artifacts of a terminal (irreversible)
// action into a sealed, hash-chained pack: per-artifact digests, a
// signed envelope from the seal provider, and a chain entry linking the
// pack to its tenant's evidence chain. No partial pack is ever
// persisted; a failure at any step aborts the whole build.
package evidence

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/verity-labs/verity/pkg/chain"
	"github.com/verity-labs/verity/pkg/seal"
)

var (
	// ErrNotFound is returned for a missing pack.
	ErrNotFound = errors.New("evidence: pack not found")
	// ErrNoArtifacts is returned when a build carries nothing to seal.
	ErrNoArtifacts = errors.New("evidence: no artifacts supplied")
)

// TerminalActions is the fixed set of irreversible action types
// eligible for evidence sealing. Membership is exact-match and
// case-sensitive.
var TerminalActions = []string{
	"session.sealed",
	"result.finalized",
	"export.generated",
}

// IsTerminal reports whether action is in the terminal set.
func IsTerminal(action string) bool {
	for _, a := range TerminalActions {
		if a == action {
			return true
		}
	}
	return false
}

// ErrNonTerminal names the offending action and lists the valid set.
type ErrNonTerminal struct {
	Action string
}

func (e *ErrNonTerminal) Error() string {
	return fmt.Sprintf("evidence: action %q is not a terminal event type; valid types: %s",
		e.Action, strings.Join(TerminalActions, ", "))
}

// Pack is the sealed output of a terminal action. Owned by the tenant
// whose action produced it; the audit ledger references it by id only.
type Pack struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenant_id"`
	Action          string            `json:"action"`
	TargetType      string            `json:"target_type"`
	TargetID        string            `json:"target_id,omitempty"`
	ArtifactDigests map[string]string `json:"artifact_digests"` // name -> digest
	Envelope        *seal.Envelope    `json:"envelope"`
	Entry           chain.Entry       `json:"entry"`
	CreatedAt       time.Time         `json:"created_at"`
}

// DigestList returns the pack's artifact digests sorted by name, in the
// shape the seal provider consumes.
func (p *Pack) DigestList() []seal.ArtifactDigest {
	out := make([]seal.ArtifactDigest, 0, len(p.ArtifactDigests))
	for name, d := range p.ArtifactDigests {
		out = append(out, seal.ArtifactDigest{Name: name, Digest: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
