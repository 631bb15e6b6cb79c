package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/verity-labs/verity/pkg/chain"
	"github.com/verity-labs/verity/pkg/seal"
)

// SQLStore implements Store using database/sql.
// It supports both Postgres and SQLite via standard drivers. The pack
// row carries its chain entry inline, so a single insert persists both
// atomically; UNIQUE(tenant_id, chain_index) rejects a duplicate claim
// to the same chain position.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const evidenceSchema = `
CREATE TABLE IF NOT EXISTS evidence_packs (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	action TEXT NOT NULL,
	target_type TEXT NOT NULL,
	target_id TEXT,
	artifact_digests TEXT NOT NULL,
	envelope TEXT NOT NULL,
	chain_index BIGINT NOT NULL,
	content_hash TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	chain_hash TEXT NOT NULL,
	chain_timestamp TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (tenant_id, chain_index)
);
`

func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, evidenceSchema)
	return err
}

func (s *SQLStore) Save(ctx context.Context, p *Pack) error {
	digests, err := json.Marshal(p.ArtifactDigests)
	if err != nil {
		return fmt.Errorf("evidence: marshal digests: %w", err)
	}
	envelope, err := json.Marshal(p.Envelope)
	if err != nil {
		return fmt.Errorf("evidence: marshal envelope: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO evidence_packs
			(id, tenant_id, action, target_type, target_id, artifact_digests, envelope,
			 chain_index, content_hash, prev_hash, chain_hash, chain_timestamp, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.TenantID, p.Action, p.TargetType, nullable(p.TargetID),
		string(digests), string(envelope),
		p.Entry.Index, p.Entry.ContentHash, p.Entry.PrevHash, p.Entry.ChainHash,
		p.Entry.Timestamp, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("evidence: insert pack: %w", err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM evidence_packs WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("evidence: delete pack: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const packColumns = `id, tenant_id, action, target_type, target_id, artifact_digests,
	envelope, chain_index, content_hash, prev_hash, chain_hash, chain_timestamp, created_at`

func (s *SQLStore) Get(ctx context.Context, tenantID, id string) (*Pack, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+packColumns+` FROM evidence_packs WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	return scanPack(row)
}

func (s *SQLStore) Latest(ctx context.Context, tenantID string) (*Pack, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+packColumns+` FROM evidence_packs WHERE tenant_id = $1
		 ORDER BY chain_index DESC LIMIT 1`,
		tenantID)
	return scanPack(row)
}

func (s *SQLStore) List(ctx context.Context, tenantID string) ([]Pack, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+packColumns+` FROM evidence_packs WHERE tenant_id = $1
		 ORDER BY chain_index ASC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("evidence: list packs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]Pack, 0)
	for rows.Next() {
		p, err := scanPackRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPack(row *sql.Row) (*Pack, error) {
	p, err := scanPackRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func scanPackRow(row rowScanner) (*Pack, error) {
	var p Pack
	var targetID sql.NullString
	var digests, envelope string
	var entry chain.Entry
	if err := row.Scan(&p.ID, &p.TenantID, &p.Action, &p.TargetType, &targetID,
		&digests, &envelope, &entry.Index, &entry.ContentHash, &entry.PrevHash,
		&entry.ChainHash, &entry.Timestamp, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.TargetID = targetID.String
	p.Entry = entry
	if err := json.Unmarshal([]byte(digests), &p.ArtifactDigests); err != nil {
		return nil, fmt.Errorf("evidence: corrupt digests for pack %s: %w", p.ID, err)
	}
	var env seal.Envelope
	if err := json.Unmarshal([]byte(envelope), &env); err != nil {
		return nil, fmt.Errorf("evidence: corrupt envelope for pack %s: %w", p.ID, err)
	}
	p.Envelope = &env
	return &p, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
