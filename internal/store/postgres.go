package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/trigger-cli/internal/db"
	"github.com/sells-group/trigger-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const triggerColumns = `id, tenant_id, emoji, name, description, interval_secs, last_run, next_run, active, blocks, blacklist, version, created_at, updated_at`

const runColumns = `id, trigger_id, run_at, completed_at, status, status_message, metadata, candidate_count`

var candidateColumns = []string{"id", "run_id", "trigger_id", "first_name", "last_name", "title", "company", "profile_url", "custom_data", "created_at"}

// preparedStatements lists queries to prepare on each new connection for
// the hot paths of the runner and scheduler.
var preparedStatements = map[string]string{
	"get_trigger":       `SELECT ` + triggerColumns + ` FROM triggers WHERE id = $1`,
	"list_due_triggers": `SELECT ` + triggerColumns + ` FROM triggers WHERE active AND (next_run IS NULL OR next_run <= $1) ORDER BY next_run NULLS FIRST`,
	"get_blacklist":     `SELECT blacklist, version FROM triggers WHERE id = $1`,
	"cas_blacklist":     `UPDATE triggers SET blacklist = $1, version = version + 1, updated_at = $2 WHERE id = $3 AND version = $4`,
	"insert_run":        `INSERT INTO trigger_runs (id, trigger_id, run_at, status, status_message, metadata, candidate_count) VALUES ($1, $2, $3, $4, '', '{}', 0)`,
	"update_run_status": `UPDATE trigger_runs SET status = $1, status_message = $2 WHERE id = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS triggers (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id     TEXT NOT NULL,
	emoji         TEXT NOT NULL DEFAULT '',
	name          TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	interval_secs BIGINT NOT NULL,
	last_run      TIMESTAMPTZ,
	next_run      TIMESTAMPTZ,
	active        BOOLEAN NOT NULL DEFAULT true,
	blocks        JSONB NOT NULL DEFAULT '[]',
	blacklist     JSONB NOT NULL DEFAULT '{}',
	version       BIGINT NOT NULL DEFAULT 1,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS trigger_runs (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	trigger_id      TEXT NOT NULL REFERENCES triggers(id),
	run_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at    TIMESTAMPTZ,
	status          TEXT NOT NULL DEFAULT 'RUNNING',
	status_message  TEXT NOT NULL DEFAULT '',
	metadata        JSONB NOT NULL DEFAULT '{}',
	candidate_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS trigger_candidates (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id      TEXT NOT NULL REFERENCES trigger_runs(id),
	trigger_id  TEXT NOT NULL REFERENCES triggers(id),
	first_name  TEXT NOT NULL DEFAULT '',
	last_name   TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	company     TEXT NOT NULL DEFAULT '',
	profile_url TEXT NOT NULL,
	custom_data JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_triggers_tenant ON triggers(tenant_id);
CREATE INDEX IF NOT EXISTS idx_triggers_due ON triggers(next_run) WHERE active;
CREATE INDEX IF NOT EXISTS idx_trigger_runs_trigger ON trigger_runs(trigger_id, run_at DESC);
CREATE INDEX IF NOT EXISTS idx_trigger_runs_status ON trigger_runs(status);
CREATE INDEX IF NOT EXISTS idx_trigger_candidates_run ON trigger_candidates(run_id);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Triggers

func (s *PostgresStore) CreateTrigger(ctx context.Context, t *model.Trigger) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	t.Version = 1
	if t.Blacklist == nil {
		t.Blacklist = model.Blacklist{}
	}

	blocksJSON, err := model.EncodeBlocks(t.Blocks)
	if err != nil {
		return eris.Wrap(err, "postgres: encode blocks")
	}
	blacklistJSON, err := json.Marshal(t.Blacklist)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal blacklist")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO triggers (`+triggerColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.TenantID, t.Emoji, t.Name, t.Description, int64(t.Interval/time.Second),
		t.LastRun, t.NextRun, t.Active, blocksJSON, blacklistJSON, t.Version, t.CreatedAt, t.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert trigger")
}

func (s *PostgresStore) GetTrigger(ctx context.Context, id string) (*model.Trigger, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE id = $1`, id)
	t, err := scanPgTrigger(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: trigger %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get trigger %s", id)
	}
	return t, nil
}

func (s *PostgresStore) ListTriggers(ctx context.Context, filter TriggerFilter) ([]model.Trigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM triggers WHERE true`
	args := []any{}
	argIdx := 1

	if filter.TenantID != "" {
		query += fmt.Sprintf(` AND tenant_id = $%d`, argIdx)
		args = append(args, filter.TenantID)
		argIdx++
	}
	if filter.ActiveOnly {
		query += ` AND active`
	}
	query += ` ORDER BY created_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, normalizeLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	return s.queryTriggers(ctx, "list triggers", false, query, args...)
}

func (s *PostgresStore) ListDueTriggers(ctx context.Context, now time.Time) ([]model.Trigger, error) {
	return s.queryTriggers(ctx, "list due triggers", true,
		`SELECT `+triggerColumns+` FROM triggers WHERE active AND (next_run IS NULL OR next_run <= $1) ORDER BY next_run NULLS FIRST`,
		now,
	)
}

// queryTriggers scans trigger rows. With lenient set, rows whose blocks do
// not decode are logged and skipped instead of failing the whole scan.
func (s *PostgresStore) queryTriggers(ctx context.Context, op string, lenient bool, query string, args ...any) ([]model.Trigger, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var out []model.Trigger
	for rows.Next() {
		t, err := scanPgTrigger(rows)
		if err != nil {
			if lenient && skipMalformed(op, t, err) {
				continue
			}
			return nil, eris.Wrapf(err, "postgres: %s scan", op)
		}
		out = append(out, *t)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}

// UpdateTrigger replaces the configuration fields of a trigger. The
// blacklist and schedule timestamps are owned by the runner and left alone.
func (s *PostgresStore) UpdateTrigger(ctx context.Context, t *model.Trigger) error {
	blocksJSON, err := model.EncodeBlocks(t.Blocks)
	if err != nil {
		return eris.Wrap(err, "postgres: encode blocks")
	}
	now := time.Now().UTC()

	var version int64
	err = s.pool.QueryRow(ctx,
		`UPDATE triggers SET emoji = $1, name = $2, description = $3, interval_secs = $4, active = $5, blocks = $6,
		 version = version + 1, updated_at = $7 WHERE id = $8 RETURNING version`,
		t.Emoji, t.Name, t.Description, int64(t.Interval/time.Second), t.Active, blocksJSON, now, t.ID,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "postgres: trigger %s", t.ID)
		}
		return eris.Wrapf(err, "postgres: update trigger %s", t.ID)
	}
	t.Version = version
	t.UpdatedAt = now
	return nil
}

func (s *PostgresStore) SetTriggerActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE triggers SET active = $1, version = version + 1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set trigger active %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: trigger %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdateSchedule(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE triggers SET last_run = $1, next_run = $2, updated_at = $3 WHERE id = $4`,
		lastRun, nextRun, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update schedule %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: trigger %s", id)
	}
	return nil
}

func (s *PostgresStore) MergeBlacklist(ctx context.Context, id string, names []string, now time.Time, retention time.Duration) (model.Blacklist, error) {
	return mergeBlacklist(ctx, blacklistCAS{
		load: func(ctx context.Context) (model.Blacklist, int64, error) {
			var raw []byte
			var version int64
			err := s.pool.QueryRow(ctx, `SELECT blacklist, version FROM triggers WHERE id = $1`, id).Scan(&raw, &version)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return nil, 0, eris.Wrapf(ErrNotFound, "postgres: trigger %s", id)
				}
				return nil, 0, eris.Wrapf(err, "postgres: load blacklist %s", id)
			}
			bl := model.Blacklist{}
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &bl); err != nil {
					return nil, 0, eris.Wrap(err, "postgres: unmarshal blacklist")
				}
			}
			return bl, version, nil
		},
		save: func(ctx context.Context, next model.Blacklist, version int64) (bool, error) {
			raw, err := json.Marshal(next)
			if err != nil {
				return false, eris.Wrap(err, "postgres: marshal blacklist")
			}
			tag, err := s.pool.Exec(ctx,
				`UPDATE triggers SET blacklist = $1, version = version + 1, updated_at = $2 WHERE id = $3 AND version = $4`,
				raw, time.Now().UTC(), id, version,
			)
			if err != nil {
				return false, eris.Wrapf(err, "postgres: save blacklist %s", id)
			}
			return tag.RowsAffected() == 1, nil
		},
	}, names, now, retention)
}

// Runs

func (s *PostgresStore) CreateRun(ctx context.Context, triggerID string, runAt time.Time) (*model.TriggerRun, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trigger_runs (id, trigger_id, run_at, status, status_message, metadata, candidate_count) VALUES ($1, $2, $3, $4, '', '{}', 0)`,
		id, triggerID, runAt, string(model.RunStatusRunning),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert run for trigger %s", triggerID)
	}
	return &model.TriggerRun{
		ID:        id,
		TriggerID: triggerID,
		RunAt:     runAt,
		Status:    model.RunStatusRunning,
		Metadata:  map[string]any{},
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trigger_runs SET status = $1, status_message = $2 WHERE id = $3`,
		string(status), message, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, finish RunFinish) error {
	metaJSON, err := json.Marshal(nonNilMap(finish.Metadata))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run metadata")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE trigger_runs SET status = $1, status_message = $2, metadata = $3, completed_at = $4 WHERE id = $5`,
		string(finish.Status), finish.Message, metaJSON, finish.CompletedAt, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.TriggerRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM trigger_runs WHERE id = $1`, runID)
	r, err := scanPgRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.TriggerRun, error) {
	query := `SELECT ` + runColumns + ` FROM trigger_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.TriggerID != "" {
		query += fmt.Sprintf(` AND trigger_id = $%d`, argIdx)
		args = append(args, filter.TriggerID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY run_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, normalizeLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	return s.queryRuns(ctx, "list runs", query, args...)
}

func (s *PostgresStore) ListStuckRuns(ctx context.Context, startedBefore time.Time) ([]model.TriggerRun, error) {
	return s.queryRuns(ctx, "list stuck runs",
		`SELECT `+runColumns+` FROM trigger_runs WHERE status IN ('RUNNING', 'UPLOADING') AND run_at < $1 ORDER BY run_at`,
		startedBefore,
	)
}

func (s *PostgresStore) queryRuns(ctx context.Context, op, query string, args ...any) ([]model.TriggerRun, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var out []model.TriggerRun
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: %s scan", op)
		}
		out = append(out, *r)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}

func (s *PostgresStore) RunStats(ctx context.Context, since time.Time) (*RunStats, error) {
	var st RunStats
	err := s.pool.QueryRow(ctx,
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'RUNNING'),
			COUNT(*) FILTER (WHERE status = 'UPLOADING'),
			COUNT(*) FILTER (WHERE status = 'COMPLETED'),
			COUNT(*) FILTER (WHERE status = 'FAILED'),
			COALESCE(SUM(candidate_count), 0)
		 FROM trigger_runs WHERE run_at >= $1`,
		since,
	).Scan(&st.Total, &st.Running, &st.Uploading, &st.Completed, &st.Failed, &st.CandidatesUploaded)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: run stats")
	}
	return &st, nil
}

// Candidates

// InsertCandidates bulk-copies the rows and bumps the run's candidate count
// in the same transaction.
func (s *PostgresStore) InsertCandidates(ctx context.Context, runID string, candidates []model.TriggerCandidate) error {
	if len(candidates) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for i := range candidates {
		c := &candidates[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.RunID = runID
		c.CreatedAt = now
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: insert candidates: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := db.CopyRows(ctx, tx, "trigger_candidates", candidateColumns, candidates, candidateRow)
	if err != nil {
		return eris.Wrap(err, "postgres: insert candidates")
	}
	tag, err := tx.Exec(ctx,
		`UPDATE trigger_runs SET candidate_count = candidate_count + $1 WHERE id = $2`,
		n, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: bump candidate count %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: insert candidates: commit tx")
}

func candidateRow(c model.TriggerCandidate) ([]any, error) {
	custom, err := json.Marshal(nonNilMap(c.CustomData))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal candidate custom data")
	}
	return []any{c.ID, c.RunID, c.TriggerID, c.FirstName, c.LastName, c.Title, c.Company, c.ProfileURL, custom, c.CreatedAt}, nil
}

func (s *PostgresStore) ListCandidates(ctx context.Context, runID string) ([]model.TriggerCandidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, trigger_id, first_name, last_name, title, company, profile_url, custom_data, created_at
		 FROM trigger_candidates WHERE run_id = $1 ORDER BY created_at, id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list candidates")
	}
	defer rows.Close()

	var out []model.TriggerCandidate
	for rows.Next() {
		var c model.TriggerCandidate
		var custom []byte
		if err := rows.Scan(&c.ID, &c.RunID, &c.TriggerID, &c.FirstName, &c.LastName, &c.Title,
			&c.Company, &c.ProfileURL, &custom, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		if len(custom) > 0 {
			if err := json.Unmarshal(custom, &c.CustomData); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal candidate custom data")
			}
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list candidates iterate")
}

// helpers

func scanPgTrigger(row pgx.Row) (*model.Trigger, error) {
	var t model.Trigger
	var intervalSecs int64
	var blocksJSON, blacklistJSON []byte

	if err := row.Scan(&t.ID, &t.TenantID, &t.Emoji, &t.Name, &t.Description, &intervalSecs,
		&t.LastRun, &t.NextRun, &t.Active, &blocksJSON, &blacklistJSON, &t.Version,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return decodeTrigger(&t, intervalSecs, blocksJSON, blacklistJSON)
}

func scanPgRun(row pgx.Row) (*model.TriggerRun, error) {
	var r model.TriggerRun
	var metaJSON []byte
	if err := row.Scan(&r.ID, &r.TriggerID, &r.RunAt, &r.CompletedAt, &r.Status, &r.StatusMessage,
		&metaJSON, &r.CandidateCount); err != nil {
		return nil, err
	}
	if err := decodeMetadata(&r, metaJSON); err != nil {
		return nil, err
	}
	return &r, nil
}
