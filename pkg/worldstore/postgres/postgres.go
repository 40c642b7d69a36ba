// SPDX-License-Identifier: AGPL-3.0-or-later

// Package postgres implements worldstore.Store on top of PostgreSQL,
// grounded on the same database/sql + pgx stdlib driver pattern the
// teacher's raw SQL migration engine uses, generalized from a one-shot
// migration runner into a long-lived, queryable lineage store.
//
// Feature: GOVERNANCE_WORLDSTORE_POSTGRES
// Spec: spec/governance/world.md
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"melrun/pkg/errs"
	"melrun/pkg/worldstore"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS mel_worlds (
	world_id             TEXT PRIMARY KEY,
	schema_hash          TEXT NOT NULL,
	snapshot_hash        TEXT NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL,
	created_by_proposal  TEXT
);

CREATE TABLE IF NOT EXISTS mel_deltas (
	to_world_id   TEXT PRIMARY KEY REFERENCES mel_worlds(world_id),
	from_world_id TEXT NOT NULL,
	patches       JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS mel_children (
	parent_world_id TEXT NOT NULL,
	child_world_id  TEXT NOT NULL,
	PRIMARY KEY (parent_world_id, child_world_id)
);

CREATE TABLE IF NOT EXISTS mel_branches (
	name  TEXT PRIMARY KEY,
	id    TEXT NOT NULL,
	head  TEXT NOT NULL,
	epoch BIGINT NOT NULL
);
`

// Store is a PostgreSQL-backed worldstore.Store.
type Store struct {
	db *sql.DB
}

var _ worldstore.Store = (*Store)(nil)

// Open connects to dbURL (a standard postgres:// connection string) via
// the pgx stdlib driver and ensures the lineage tables exist.
func Open(ctx context.Context, dbURL string) (*Store, error) {
	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("ensuring worldstore schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) InitializeGenesis(ctx context.Context, schemaHash, snapshotHash string, now time.Time) (*worldstore.World, error) {
	id := "world-genesis-" + schemaHash[:min(12, len(schemaHash))]

	var existing worldstore.World
	err := s.db.QueryRowContext(ctx,
		`SELECT w.world_id, w.schema_hash, w.snapshot_hash, w.created_at FROM mel_worlds w
		 JOIN mel_deltas d ON d.to_world_id = w.world_id
		 WHERE d.from_world_id = d.to_world_id LIMIT 1`,
	).Scan(&existing.WorldID, &existing.SchemaHash, &existing.SnapshotHash, &existing.CreatedAt)
	if err == nil {
		return &existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("checking genesis world: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning genesis transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO mel_worlds (world_id, schema_hash, snapshot_hash, created_at) VALUES ($1, $2, $3, $4)`,
		id, schemaHash, snapshotHash, now,
	); err != nil {
		return nil, fmt.Errorf("inserting genesis world: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO mel_deltas (to_world_id, from_world_id, patches, created_at) VALUES ($1, $1, $2, $3)`,
		id, "[]", now,
	); err != nil {
		return nil, fmt.Errorf("inserting genesis delta: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing genesis world: %w", err)
	}

	return &worldstore.World{WorldID: id, SchemaHash: schemaHash, SnapshotHash: snapshotHash, CreatedAt: now}, nil
}

func (s *Store) Store(ctx context.Context, parent worldstore.World, next worldstore.World, delta worldstore.WorldDelta) error {
	patchesJSON, err := json.Marshal(delta.Patches)
	if err != nil {
		return fmt.Errorf("marshaling delta patches: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning store transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO mel_worlds (world_id, schema_hash, snapshot_hash, created_at, created_by_proposal) VALUES ($1, $2, $3, $4, $5)`,
		next.WorldID, next.SchemaHash, next.SnapshotHash, next.CreatedAt, nullIfEmpty(next.CreatedByProposal),
	); err != nil {
		return fmt.Errorf("inserting world: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO mel_deltas (to_world_id, from_world_id, patches, created_at) VALUES ($1, $2, $3, $4)`,
		delta.ToWorldID, delta.FromWorldID, patchesJSON, delta.CreatedAt,
	); err != nil {
		return fmt.Errorf("inserting delta: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO mel_children (parent_world_id, child_world_id) VALUES ($1, $2)`,
		parent.WorldID, next.WorldID,
	); err != nil {
		return fmt.Errorf("inserting child edge: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetWorld(ctx context.Context, worldID string) (*worldstore.World, error) {
	var w worldstore.World
	var proposal sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT world_id, schema_hash, snapshot_hash, created_at, created_by_proposal FROM mel_worlds WHERE world_id = $1`,
		worldID,
	).Scan(&w.WorldID, &w.SchemaHash, &w.SnapshotHash, &w.CreatedAt, &proposal)
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.KindWorldNotFound, "world %q not found", worldID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying world: %w", err)
	}
	w.CreatedByProposal = proposal.String
	return &w, nil
}

func (s *Store) Has(ctx context.Context, worldID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM mel_worlds WHERE world_id = $1)`, worldID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking world existence: %w", err)
	}
	return exists, nil
}

func (s *Store) GetChildren(ctx context.Context, worldID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT child_world_id FROM mel_children WHERE parent_world_id = $1 ORDER BY child_world_id`, worldID)
	if err != nil {
		return nil, fmt.Errorf("querying children: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning child id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) GetLineage(ctx context.Context, worldID string) ([]*worldstore.World, error) {
	parentOf := map[string]string{}
	rows, err := s.db.QueryContext(ctx, `SELECT parent_world_id, child_world_id FROM mel_children`)
	if err != nil {
		return nil, fmt.Errorf("querying lineage edges: %w", err)
	}
	for rows.Next() {
		var parent, child string
		if err := rows.Scan(&parent, &child); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning lineage edge: %w", err)
		}
		parentOf[child] = parent
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var chain []*worldstore.World
	cur := worldID
	seen := map[string]bool{}
	for {
		w, err := s.GetWorld(ctx, cur)
		if err != nil {
			return nil, err
		}
		if seen[cur] {
			break
		}
		seen[cur] = true
		chain = append(chain, w)
		parent, ok := parentOf[cur]
		if !ok {
			break
		}
		cur = parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func (s *Store) SaveBranchState(ctx context.Context, b worldstore.Branch) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mel_branches (name, id, head, epoch) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE SET id = $2, head = $3, epoch = $4`,
		b.Name, b.ID, b.Head, b.Epoch,
	)
	if err != nil {
		return fmt.Errorf("saving branch state: %w", err)
	}
	return nil
}

func (s *Store) LoadBranchState(ctx context.Context, name string) (*worldstore.Branch, error) {
	var b worldstore.Branch
	err := s.db.QueryRowContext(ctx, `SELECT id, name, head, epoch FROM mel_branches WHERE name = $1`, name).
		Scan(&b.ID, &b.Name, &b.Head, &b.Epoch)
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.KindWorldNotFound, "branch %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("loading branch state: %w", err)
	}
	return &b, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

