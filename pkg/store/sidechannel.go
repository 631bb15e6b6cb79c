package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/verity-labs/verity/pkg/audit"
)

// SideChannel receives audit entries that could not reach the ledger.
// The record must be durable and carry the full event payload so the
// information is recoverable even though the primary chain is missing
// an entry.
type SideChannel interface {
	Write(e audit.Entry) error
}

// FileSideChannel appends JSON lines to a file opened in append-only
// mode. One line per lost event, prefixed timestamp, full payload.
type FileSideChannel struct {
	mu   sync.Mutex
	path string
}

// NewFileSideChannel creates (touching if needed) the fallback file.
func NewFileSideChannel(path string) (*FileSideChannel, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("store: open side channel: %w", err)
	}
	_ = f.Close()
	return &FileSideChannel{path: path}, nil
}

type sideRecord struct {
	LostAt        time.Time `json:"lost_at"`
	TenantID      string    `json:"tenant_id"`
	ActorID       string    `json:"actor_id"`
	ActorRole     string    `json:"actor_role,omitempty"`
	Action        string    `json:"action"`
	TargetType    string    `json:"target_type"`
	TargetID      string    `json:"target_id,omitempty"`
	Before        any       `json:"before,omitempty"`
	After         any       `json:"after,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func (c *FileSideChannel) Write(e audit.Entry) error {
	rec := sideRecord{
		LostAt:        time.Now().UTC(),
		TenantID:      e.TenantID,
		ActorID:       e.ActorID,
		ActorRole:     e.ActorRole,
		Action:        e.Action,
		TargetType:    e.TargetType,
		TargetID:      e.TargetID,
		Before:        e.Before,
		After:         e.After,
		CorrelationID: e.CorrelationID,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal side record: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("store: open side channel: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("store: write side record: %w", err)
	}
	return f.Sync()
}
