// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package contextstore persists versioned analysis artifacts keyed by
// (run, agent, key). Every write creates a new immutable version; the
// previously active version is deactivated, never deleted. Physical
// deletion happens only through an explicit retention sweep.
package contextstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/gap-engine/internal/blob"
	"github.com/pdiddy/gap-engine/pkg/types"
)

const (
	indexDir = "index"
	dbFile   = "contexts.db"

	// DefaultMaxArtifactBytes is the hard per-artifact size limit.
	DefaultMaxArtifactBytes = 10 << 20

	summaryLen = 160
)

var (
	// ErrSizeLimitExceeded means a write exceeded the per-artifact limit.
	// Nothing is written; the error is not retryable.
	ErrSizeLimitExceeded = errors.New("context artifact exceeds size limit")

	// ErrVersionConflict indicates a duplicate version number was
	// allocated. Under correct atomic allocation this never happens; if
	// observed it is a store bug and must fail loudly.
	ErrVersionConflict = errors.New("context version conflict")

	// ErrNotFound means no version matched the read.
	ErrNotFound = errors.New("context not found")
)

// Store manages the context version index and blob payloads.
type Store struct {
	db       *sql.DB
	blobs    blob.Store
	maxBytes int64
}

// New opens or creates the version index database at
// dataDir/index/contexts.db and wires the given blob store for payloads.
func New(cfg types.ContextStoreConfig, blobs blob.Store) (*Store, error) {
	dbDir := filepath.Join(cfg.DataDir, indexDir)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dbDir, dbFile)+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening context index: %w", err)
	}

	maxBytes := cfg.MaxArtifactBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxArtifactBytes
	}

	s := &Store{db: db, blobs: blobs, maxBytes: maxBytes}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS context_versions (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			key TEXT NOT NULL,
			version INTEGER NOT NULL,
			active INTEGER NOT NULL,
			size_bytes INTEGER NOT NULL,
			summary TEXT,
			metadata TEXT,
			blob_path TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(run_id, agent_id, key, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ctx_run ON context_versions(run_id)`,
		// At most one active version per key, enforced by the schema.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_ctx_active
			ON context_versions(run_id, agent_id, key) WHERE active = 1`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Receipt reports the outcome of a successful write.
type Receipt struct {
	Version   int
	SizeBytes int64
	Summary   string
}

// Write stores data under (runID, agentID, key). Mode append merges into
// the current active payload by type: strings concatenate with a newline
// separator, arrays concatenate, objects shallow-merge with new keys
// winning. When the existing and new payload types are incompatible,
// append deliberately degrades to overwrite; callers relying on append
// must keep payload types stable.
//
// The payload is durably stored before the version row is created, so a
// reader never observes a half-written version. Version numbers increase
// monotonically per key and are never reused.
func (s *Store) Write(ctx context.Context, runID, agentID, key string, data any, mode types.WriteMode, metadata map[string]string) (Receipt, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshaling context payload: %w", err)
	}

	if mode == types.ModeAppend {
		existing, err := s.activePayload(ctx, runID, agentID, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Receipt{}, err
		}
		if existing != nil {
			payload, err = mergePayloads(existing, payload)
			if err != nil {
				return Receipt{}, err
			}
		}
	}

	size := int64(len(payload))
	if size > s.maxBytes {
		return Receipt{}, fmt.Errorf("%d bytes against limit %d: %w", size, s.maxBytes, ErrSizeLimitExceeded)
	}

	blobPath := fmt.Sprintf("%s/%s/%s.json", runID, agentID, uuid.NewString())
	if err := s.blobs.Put(ctx, blobPath, payload); err != nil {
		return Receipt{}, fmt.Errorf("storing context payload: %w", err)
	}

	metaJSON, _ := json.Marshal(metadata)
	summary := summarize(payload)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Receipt{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE context_versions SET active = 0
		 WHERE run_id = ? AND agent_id = ? AND key = ? AND active = 1`,
		runID, agentID, key,
	); err != nil {
		return Receipt{}, fmt.Errorf("deactivating previous version: %w", err)
	}

	// Allocation and insert in one statement keeps the next version
	// atomic with respect to the exclusive write transaction.
	res, err := tx.ExecContext(ctx,
		`INSERT INTO context_versions
			(run_id, agent_id, key, version, active, size_bytes, summary, metadata, blob_path, created_at)
		 SELECT ?, ?, ?, COALESCE(MAX(version), 0) + 1, 1, ?, ?, ?, ?, ?
		 FROM context_versions WHERE run_id = ? AND agent_id = ? AND key = ?`,
		runID, agentID, key, size, summary, string(metaJSON), blobPath, now,
		runID, agentID, key,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Receipt{}, fmt.Errorf("key %s/%s/%s: %w", runID, agentID, key, ErrVersionConflict)
		}
		return Receipt{}, fmt.Errorf("inserting version row: %w", err)
	}

	rowID, err := res.LastInsertId()
	if err != nil {
		return Receipt{}, fmt.Errorf("reading insert id: %w", err)
	}
	var version int
	if err := tx.QueryRowContext(ctx,
		`SELECT version FROM context_versions WHERE rowid = ?`, rowID,
	).Scan(&version); err != nil {
		return Receipt{}, fmt.Errorf("reading allocated version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Receipt{}, fmt.Errorf("committing version: %w", err)
	}

	return Receipt{Version: version, SizeBytes: size, Summary: summary}, nil
}

// mergePayloads applies the type-directed append rules to two JSON
// payloads. A type mismatch returns the new payload unchanged, which
// degrades the append to an overwrite.
func mergePayloads(existing, incoming []byte) ([]byte, error) {
	var oldVal, newVal any
	if err := json.Unmarshal(existing, &oldVal); err != nil {
		return incoming, nil
	}
	if err := json.Unmarshal(incoming, &newVal); err != nil {
		return nil, fmt.Errorf("unmarshaling append payload: %w", err)
	}

	switch o := oldVal.(type) {
	case string:
		if n, ok := newVal.(string); ok {
			return json.Marshal(o + "\n" + n)
		}
	case []any:
		if n, ok := newVal.([]any); ok {
			return json.Marshal(append(o, n...))
		}
	case map[string]any:
		if n, ok := newVal.(map[string]any); ok {
			for k, v := range n {
				o[k] = v
			}
			return json.Marshal(o)
		}
	}
	return incoming, nil
}

// activePayload reads the payload of the current active version of a key.
func (s *Store) activePayload(ctx context.Context, runID, agentID, key string) ([]byte, error) {
	var blobPath string
	err := s.db.QueryRowContext(ctx,
		`SELECT blob_path FROM context_versions
		 WHERE run_id = ? AND agent_id = ? AND key = ? AND active = 1`,
		runID, agentID, key,
	).Scan(&blobPath)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("looking up active version: %w", err)
	}
	return s.blobs.Get(ctx, blobPath)
}

// Artifact is one version row, optionally with its payload materialized.
type Artifact struct {
	types.ContextVersion

	// Data is nil for summary-only reads.
	Data json.RawMessage `json:"data,omitempty" yaml:"data,omitempty"`
}

// ReadOptions filters a Read. RunID is required; AgentID and Key narrow
// the result. Version selects a specific version of one key (requires
// AgentID and Key); zero means the latest active version. SummaryOnly
// skips payload materialization, which keeps listings over many large
// artifacts cheap.
type ReadOptions struct {
	RunID       string
	AgentID     string
	Key         string
	Version     int
	SummaryOnly bool
}

// Read returns the artifacts matching opts, ordered by agent, key,
// version. A listing (no Key or Version filter) over an empty match set
// returns an empty slice; a read of one specific key or version that
// does not exist returns ErrNotFound.
func (s *Store) Read(ctx context.Context, opts ReadOptions) ([]Artifact, error) {
	query := `SELECT run_id, agent_id, key, version, active, size_bytes, summary, metadata, blob_path, created_at
		FROM context_versions WHERE run_id = ?`
	args := []any{opts.RunID}

	if opts.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, opts.AgentID)
	}
	if opts.Key != "" {
		query += ` AND key = ?`
		args = append(args, opts.Key)
	}
	if opts.Version > 0 {
		query += ` AND version = ?`
		args = append(args, opts.Version)
	} else {
		query += ` AND active = 1`
	}
	query += ` ORDER BY agent_id, key, version`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying contexts: %w", err)
	}
	defer rows.Close()

	var artifacts []Artifact
	var blobPaths []string
	for rows.Next() {
		var (
			a        Artifact
			active   int
			metaJSON sql.NullString
			blobPath string
			created  string
		)
		if err := rows.Scan(
			&a.RunID, &a.AgentID, &a.Key, &a.Version, &active,
			&a.SizeBytes, &a.Summary, &metaJSON, &blobPath, &created,
		); err != nil {
			return nil, fmt.Errorf("scanning version row: %w", err)
		}
		a.Active = active == 1
		if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
			json.Unmarshal([]byte(metaJSON.String), &a.Metadata)
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		artifacts = append(artifacts, a)
		blobPaths = append(blobPaths, blobPath)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(artifacts) == 0 {
		// A listing over a run or agent may legitimately be empty; only
		// a read of one specific key or version is a miss.
		if opts.Key == "" && opts.Version == 0 {
			return nil, nil
		}
		return nil, ErrNotFound
	}

	if !opts.SummaryOnly {
		for i := range artifacts {
			data, err := s.blobs.Get(ctx, blobPaths[i])
			if err != nil {
				return nil, fmt.Errorf("materializing %s v%d: %w", artifacts[i].Key, artifacts[i].Version, err)
			}
			artifacts[i].Data = data
		}
	}

	return artifacts, nil
}

// History returns every version row for one key, oldest first, without
// payloads.
func (s *Store) History(ctx context.Context, runID, agentID, key string) ([]types.ContextVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version, active, size_bytes, summary, created_at
		 FROM context_versions
		 WHERE run_id = ? AND agent_id = ? AND key = ?
		 ORDER BY version`,
		runID, agentID, key,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var history []types.ContextVersion
	for rows.Next() {
		v := types.ContextVersion{RunID: runID, AgentID: agentID, Key: key}
		var active int
		var created string
		if err := rows.Scan(&v.Version, &active, &v.SizeBytes, &v.Summary, &created); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		v.Active = active == 1
		v.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		history = append(history, v)
	}
	return history, rows.Err()
}

// Sweep physically deletes superseded (inactive) versions older than the
// given age, including their payloads. Active versions are never swept.
// Returns the number of versions removed.
func (s *Store) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	rows, err := s.db.QueryContext(ctx,
		`SELECT rowid, blob_path, created_at FROM context_versions WHERE active = 0`,
	)
	if err != nil {
		return 0, fmt.Errorf("querying sweep candidates: %w", err)
	}

	type candidate struct {
		rowID    int64
		blobPath string
	}
	var candidates []candidate
	for rows.Next() {
		var (
			c       candidate
			created string
		)
		if err := rows.Scan(&c.rowID, &c.blobPath, &created); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning sweep candidate: %w", err)
		}
		// Timestamps are RFC3339Nano strings; compare parsed values
		// rather than lexically.
		ts, err := time.Parse(time.RFC3339Nano, created)
		if err != nil || !ts.Before(cutoff) {
			continue
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	swept := 0
	for _, c := range candidates {
		if err := s.blobs.Delete(ctx, c.blobPath); err != nil && !errors.Is(err, blob.ErrNotFound) {
			return swept, fmt.Errorf("deleting swept payload: %w", err)
		}
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM context_versions WHERE rowid = ?`, c.rowID,
		); err != nil {
			return swept, fmt.Errorf("deleting swept version row: %w", err)
		}
		swept++
	}
	return swept, nil
}

// summarize produces a short single-line preview of a JSON payload.
func summarize(payload []byte) string {
	runes := []rune(string(payload))
	if len(runes) <= summaryLen {
		return string(runes)
	}
	return string(runes[:summaryLen]) + "..."
}

// isUniqueViolation reports whether err is a sqlite UNIQUE constraint error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
