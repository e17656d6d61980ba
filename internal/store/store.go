// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists runs, agents, tier outputs, and the event log
// in SQLite. Status transitions are compare-and-swap updates so that
// concurrent workers cannot activate the same agent twice or move a
// run backwards out of a terminal state.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/gap-engine/pkg/types"
)

const (
	indexDir = "index"
	dbFile   = "engine.db"
)

var (
	// ErrNotFound is returned when a run or agent id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a compare-and-swap transition loses:
	// the row exists but is not in the expected source state.
	ErrConflict = errors.New("state conflict")
)

// Store manages the engine SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the database at dataDir/index/engine.db and
// creates the schema if it does not exist.
func NewStore(dataDir string) (*Store, error) {
	dbDir := filepath.Join(dataDir, indexDir)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	dbPath := filepath.Join(dbDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
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
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			config TEXT NOT NULL,
			iteration INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id),
			tier TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			execution_ns INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_run ON agents(run_id, iteration, tier)`,
		`CREATE TABLE IF NOT EXISTS outputs (
			agent_id TEXT PRIMARY KEY REFERENCES agents(id),
			run_id TEXT NOT NULL,
			tier TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outputs_run ON outputs(run_id, iteration, tier)`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			agent_id TEXT,
			kind TEXT NOT NULL,
			detail TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// CreateRun inserts a new run in its initial status.
func (s *Store) CreateRun(ctx context.Context, run *types.Run) error {
	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("marshaling run config: %w", err)
	}
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, topic, config, iteration, status, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Topic, string(configJSON), run.Iteration, string(run.Status), run.Error,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*types.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, topic, config, iteration, status, error, created_at, updated_at
		 FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]*types.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, topic, config, iteration, status, error, created_at, updated_at
		 FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*types.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*types.Run, error) {
	var run types.Run
	var configJSON, status, created, updated string
	var errMsg sql.NullString
	err := row.Scan(&run.ID, &run.Topic, &configJSON, &run.Iteration, &status, &errMsg, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	if err := json.Unmarshal([]byte(configJSON), &run.Config); err != nil {
		return nil, fmt.Errorf("unmarshaling run config: %w", err)
	}
	run.Status = types.RunStatus(status)
	run.Error = errMsg.String
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	run.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &run, nil
}

// TransitionRun moves a run from one status to another. The update only
// applies if the run is still in the expected source status; otherwise
// ErrConflict (or ErrNotFound for a missing id) is returned.
func (s *Store) TransitionRun(ctx context.Context, id string, from, to types.RunStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), errMsg, formatTime(time.Now().UTC()), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("transitioning run %s: %w", id, err)
	}
	return s.checkAffected(ctx, res, `SELECT count(*) FROM runs WHERE id = ?`, id)
}

// SetRunIteration records the iteration the run has advanced to.
func (s *Store) SetRunIteration(ctx context.Context, id string, iteration int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET iteration = ?, updated_at = ? WHERE id = ?`,
		iteration, formatTime(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("setting run iteration: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateAgents inserts a batch of agents in the pending state.
func (s *Store) CreateAgents(ctx context.Context, agents []*types.Agent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO agents (id, run_id, tier, iteration, status, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing agent insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range agents {
		metaJSON, _ := json.Marshal(a.Metadata)
		if _, err := stmt.ExecContext(ctx,
			a.ID, a.RunID, string(a.Tier), a.Iteration, string(types.AgentPending), string(metaJSON),
		); err != nil {
			return fmt.Errorf("inserting agent %s: %w", a.ID, err)
		}
		a.Status = types.AgentPending
	}
	return tx.Commit()
}

// GetAgent loads one agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, tier, iteration, status, started_at, completed_at, execution_ns, error, metadata
		 FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// ListAgents returns all agents for one run iteration, all tiers.
func (s *Store) ListAgents(ctx context.Context, runID string, iteration int) ([]*types.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, tier, iteration, status, started_at, completed_at, execution_ns, error, metadata
		 FROM agents WHERE run_id = ? AND iteration = ? ORDER BY id`, runID, iteration)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*types.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func scanAgent(row scanner) (*types.Agent, error) {
	var a types.Agent
	var tier, status string
	var started, completed, errMsg, metaJSON sql.NullString
	var execNS int64
	err := row.Scan(&a.ID, &a.RunID, &tier, &a.Iteration, &status, &started, &completed, &execNS, &errMsg, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	a.Tier = types.AgentTier(tier)
	a.Status = types.AgentStatus(status)
	a.ExecutionTime = time.Duration(execNS)
	a.Error = errMsg.String
	if started.Valid {
		a.StartedAt, _ = time.Parse(time.RFC3339Nano, started.String)
	}
	if completed.Valid {
		a.CompletedAt, _ = time.Parse(time.RFC3339Nano, completed.String)
	}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		if err := json.Unmarshal([]byte(metaJSON.String), &a.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling agent metadata: %w", err)
		}
	}
	return &a, nil
}

// MarkAgentActive claims an agent for execution: pending→active on the
// first attempt, failed→active when a retry reclaims it for a fresh
// run of the full unit of work. Only one claimer wins at a time; an
// agent that is already active or completed returns ErrConflict.
// Reclaiming clears the previous attempt's failure record.
func (s *Store) MarkAgentActive(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = ?, started_at = ?, completed_at = NULL, error = '', execution_ns = 0
		 WHERE id = ? AND status IN (?, ?)`,
		string(types.AgentActive), formatTime(time.Now().UTC()), id,
		string(types.AgentPending), string(types.AgentFailed),
	)
	if err != nil {
		return fmt.Errorf("activating agent %s: %w", id, err)
	}
	return s.checkAffected(ctx, res, `SELECT count(*) FROM agents WHERE id = ?`, id)
}

// MarkAgentCompleted moves an active agent to completed and records its
// execution time.
func (s *Store) MarkAgentCompleted(ctx context.Context, id string) error {
	return s.finishAgent(ctx, id, types.AgentCompleted, "")
}

// MarkAgentFailed moves an active agent to failed with the reason retained.
func (s *Store) MarkAgentFailed(ctx context.Context, id string, reason string) error {
	return s.finishAgent(ctx, id, types.AgentFailed, reason)
}

func (s *Store) finishAgent(ctx context.Context, id string, to types.AgentStatus, reason string) error {
	now := time.Now().UTC()
	// execution_ns derives from the stored started_at so the transition
	// stays a single statement.
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = ?, completed_at = ?, error = ?,
			execution_ns = CAST((julianday(?) - julianday(started_at)) * 86400.0 * 1e9 AS INTEGER)
		 WHERE id = ? AND status = ?`,
		string(to), formatTime(now), reason, formatTime(now), id, string(types.AgentActive),
	)
	if err != nil {
		return fmt.Errorf("finishing agent %s: %w", id, err)
	}
	return s.checkAffected(ctx, res, `SELECT count(*) FROM agents WHERE id = ?`, id)
}

// checkAffected distinguishes a lost compare-and-swap from a missing row.
func (s *Store) checkAffected(ctx context.Context, res sql.Result, existsQuery string, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var count int
	if err := s.db.QueryRowContext(ctx, existsQuery, id).Scan(&count); err != nil {
		return fmt.Errorf("checking existence of %s: %w", id, err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// CountAgents tallies agents of one tier in one iteration by status.
func (s *Store) CountAgents(ctx context.Context, runID string, iteration int, tier types.AgentTier) (map[types.AgentStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, count(*) FROM agents
		 WHERE run_id = ? AND iteration = ? AND tier = ? GROUP BY status`,
		runID, iteration, string(tier))
	if err != nil {
		return nil, fmt.Errorf("counting agents: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.AgentStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning agent count: %w", err)
		}
		counts[types.AgentStatus(status)] = n
	}
	return counts, rows.Err()
}

// SaveOutput stores one agent's tier output as JSON. An agent produces
// at most one output; a second save for the same agent replaces it.
func (s *Store) SaveOutput(ctx context.Context, agent *types.Agent, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling output: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO outputs (agent_id, run_id, tier, iteration, payload)
		 VALUES (?, ?, ?, ?, ?)`,
		agent.ID, agent.RunID, string(agent.Tier), agent.Iteration, string(data),
	)
	if err != nil {
		return fmt.Errorf("saving output for agent %s: %w", agent.ID, err)
	}
	return nil
}

// MicroOutputs returns every micro extraction saved for one iteration.
func (s *Store) MicroOutputs(ctx context.Context, runID string, iteration int) ([]*types.MicroOutput, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM outputs
		 WHERE run_id = ? AND iteration = ? AND tier = ? ORDER BY agent_id`,
		runID, iteration, string(types.TierMicro))
	if err != nil {
		return nil, fmt.Errorf("querying micro outputs: %w", err)
	}
	defer rows.Close()

	var outs []*types.MicroOutput
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning micro output: %w", err)
		}
		var out types.MicroOutput
		if err := json.Unmarshal([]byte(payload), &out); err != nil {
			return nil, fmt.Errorf("unmarshaling micro output: %w", err)
		}
		outs = append(outs, &out)
	}
	return outs, rows.Err()
}

// MesoOutput returns the clustering output for one iteration, or
// ErrNotFound if the meso tier has not completed.
func (s *Store) MesoOutput(ctx context.Context, runID string, iteration int) (*types.MesoOutput, error) {
	var out types.MesoOutput
	if err := s.loadSingleOutput(ctx, runID, iteration, types.TierMeso, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MetaOutput returns the synthesis output for one iteration, or
// ErrNotFound. Convergence checks read the previous iteration through
// this.
func (s *Store) MetaOutput(ctx context.Context, runID string, iteration int) (*types.MetaOutput, error) {
	var out types.MetaOutput
	if err := s.loadSingleOutput(ctx, runID, iteration, types.TierMeta, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) loadSingleOutput(ctx context.Context, runID string, iteration int, tier types.AgentTier, dst any) error {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM outputs
		 WHERE run_id = ? AND iteration = ? AND tier = ?`,
		runID, iteration, string(tier),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying %s output: %w", tier, err)
	}
	if err := json.Unmarshal([]byte(payload), dst); err != nil {
		return fmt.Errorf("unmarshaling %s output: %w", tier, err)
	}
	return nil
}

// Event is one append-only log entry for a run.
type Event struct {
	Seq       int64
	RunID     string
	AgentID   string
	Kind      string
	Detail    string
	CreatedAt time.Time
}

// LogEvent appends an entry to the run's event log. Logging is
// best-effort bookkeeping; failures surface to the caller but should
// not abort the run.
func (s *Store) LogEvent(ctx context.Context, runID, agentID, kind, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (run_id, agent_id, kind, detail, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		runID, agentID, kind, detail, formatTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("logging event %s: %w", kind, err)
	}
	return nil
}

// Events returns a run's log entries in append order.
func (s *Store) Events(ctx context.Context, runID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, run_id, agent_id, kind, detail, created_at
		 FROM events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var agentID, detail sql.NullString
		var created string
		if err := rows.Scan(&e.Seq, &e.RunID, &agentID, &e.Kind, &detail, &created); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.AgentID = agentID.String
		e.Detail = detail.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		events = append(events, e)
	}
	return events, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
