package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/trigger-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per-connection; a single connection keeps them applied
	// and serialises writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS triggers (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	emoji         TEXT NOT NULL DEFAULT '',
	name          TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	interval_secs INTEGER NOT NULL,
	last_run      DATETIME,
	next_run      DATETIME,
	active        INTEGER NOT NULL DEFAULT 1,
	blocks        TEXT NOT NULL DEFAULT '[]',
	blacklist     TEXT NOT NULL DEFAULT '{}',
	version       INTEGER NOT NULL DEFAULT 1,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS trigger_runs (
	id              TEXT PRIMARY KEY,
	trigger_id      TEXT NOT NULL REFERENCES triggers(id),
	run_at          DATETIME NOT NULL,
	completed_at    DATETIME,
	status          TEXT NOT NULL DEFAULT 'RUNNING',
	status_message  TEXT NOT NULL DEFAULT '',
	metadata        TEXT NOT NULL DEFAULT '{}',
	candidate_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS trigger_candidates (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES trigger_runs(id),
	trigger_id  TEXT NOT NULL REFERENCES triggers(id),
	first_name  TEXT NOT NULL DEFAULT '',
	last_name   TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	company     TEXT NOT NULL DEFAULT '',
	profile_url TEXT NOT NULL,
	custom_data TEXT NOT NULL DEFAULT '{}',
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_triggers_tenant ON triggers(tenant_id);
CREATE INDEX IF NOT EXISTS idx_trigger_runs_trigger ON trigger_runs(trigger_id, run_at);
CREATE INDEX IF NOT EXISTS idx_trigger_runs_status ON trigger_runs(status);
CREATE INDEX IF NOT EXISTS idx_trigger_candidates_run ON trigger_candidates(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Triggers

func (s *SQLiteStore) CreateTrigger(ctx context.Context, t *model.Trigger) error {
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
		return eris.Wrap(err, "sqlite: encode blocks")
	}
	blacklistJSON, err := json.Marshal(t.Blacklist)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal blacklist")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO triggers (`+triggerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TenantID, t.Emoji, t.Name, t.Description, int64(t.Interval/time.Second),
		nullTime(t.LastRun), nullTime(t.NextRun), t.Active, string(blocksJSON), string(blacklistJSON),
		t.Version, t.CreatedAt, t.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert trigger")
}

func (s *SQLiteStore) GetTrigger(ctx context.Context, id string) (*model.Trigger, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE id = ?`, id)
	t, err := scanSQLiteTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: trigger %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get trigger %s", id)
	}
	return t, nil
}

func (s *SQLiteStore) ListTriggers(ctx context.Context, filter TriggerFilter) ([]model.Trigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM triggers WHERE 1=1`
	var args []any

	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.ActiveOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, normalizeLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}
	return s.queryTriggers(ctx, "list triggers", false, query, args...)
}

// ListDueTriggers filters in Go so that time comparison does not depend on
// how the driver serialised the timestamps.
func (s *SQLiteStore) ListDueTriggers(ctx context.Context, now time.Time) ([]model.Trigger, error) {
	all, err := s.queryTriggers(ctx, "list due triggers", true,
		`SELECT `+triggerColumns+` FROM triggers WHERE active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	var due []model.Trigger
	for i := range all {
		if all[i].Due(now) {
			due = append(due, all[i])
		}
	}
	return due, nil
}

// queryTriggers scans trigger rows. With lenient set, rows whose blocks do
// not decode are logged and skipped instead of failing the whole scan.
func (s *SQLiteStore) queryTriggers(ctx context.Context, op string, lenient bool, query string, args ...any) ([]model.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Trigger
	for rows.Next() {
		t, err := scanSQLiteTrigger(rows)
		if err != nil {
			if lenient && skipMalformed(op, t, err) {
				continue
			}
			return nil, eris.Wrapf(err, "sqlite: %s scan", op)
		}
		out = append(out, *t)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: %s iterate", op)
}

func (s *SQLiteStore) UpdateTrigger(ctx context.Context, t *model.Trigger) error {
	blocksJSON, err := model.EncodeBlocks(t.Blocks)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode blocks")
	}
	now := time.Now().UTC()

	var version int64
	err = s.db.QueryRowContext(ctx,
		`UPDATE triggers SET emoji = ?, name = ?, description = ?, interval_secs = ?, active = ?, blocks = ?,
		 version = version + 1, updated_at = ? WHERE id = ? RETURNING version`,
		t.Emoji, t.Name, t.Description, int64(t.Interval/time.Second), t.Active, string(blocksJSON), now, t.ID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: trigger %s", t.ID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: update trigger %s", t.ID)
	}
	t.Version = version
	t.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) SetTriggerActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE triggers SET active = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set trigger active %s", id)
	}
	return checkRowsAffected(res, "trigger", id)
}

func (s *SQLiteStore) UpdateSchedule(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE triggers SET last_run = ?, next_run = ?, updated_at = ? WHERE id = ?`,
		lastRun.UTC(), nextRun.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update schedule %s", id)
	}
	return checkRowsAffected(res, "trigger", id)
}

func (s *SQLiteStore) MergeBlacklist(ctx context.Context, id string, names []string, now time.Time, retention time.Duration) (model.Blacklist, error) {
	return mergeBlacklist(ctx, blacklistCAS{
		load: func(ctx context.Context) (model.Blacklist, int64, error) {
			var raw string
			var version int64
			err := s.db.QueryRowContext(ctx, `SELECT blacklist, version FROM triggers WHERE id = ?`, id).Scan(&raw, &version)
			if errors.Is(err, sql.ErrNoRows) {
				return nil, 0, eris.Wrapf(ErrNotFound, "sqlite: trigger %s", id)
			}
			if err != nil {
				return nil, 0, eris.Wrapf(err, "sqlite: load blacklist %s", id)
			}
			bl := model.Blacklist{}
			if raw != "" {
				if err := json.Unmarshal([]byte(raw), &bl); err != nil {
					return nil, 0, eris.Wrap(err, "sqlite: unmarshal blacklist")
				}
			}
			return bl, version, nil
		},
		save: func(ctx context.Context, next model.Blacklist, version int64) (bool, error) {
			raw, err := json.Marshal(next)
			if err != nil {
				return false, eris.Wrap(err, "sqlite: marshal blacklist")
			}
			res, err := s.db.ExecContext(ctx,
				`UPDATE triggers SET blacklist = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
				string(raw), time.Now().UTC(), id, version,
			)
			if err != nil {
				return false, eris.Wrapf(err, "sqlite: save blacklist %s", id)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return false, eris.Wrap(err, "sqlite: rows affected")
			}
			return n == 1, nil
		},
	}, names, now, retention)
}

// Runs

func (s *SQLiteStore) CreateRun(ctx context.Context, triggerID string, runAt time.Time) (*model.TriggerRun, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trigger_runs (id, trigger_id, run_at, status, status_message, metadata, candidate_count) VALUES (?, ?, ?, ?, '', '{}', 0)`,
		id, triggerID, runAt.UTC(), string(model.RunStatusRunning),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert run for trigger %s", triggerID)
	}
	return &model.TriggerRun{
		ID:        id,
		TriggerID: triggerID,
		RunAt:     runAt,
		Status:    model.RunStatusRunning,
		Metadata:  map[string]any{},
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trigger_runs SET status = ?, status_message = ? WHERE id = ?`,
		string(status), message, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, finish RunFinish) error {
	metaJSON, err := json.Marshal(nonNilMap(finish.Metadata))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run metadata")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE trigger_runs SET status = ?, status_message = ?, metadata = ?, completed_at = ? WHERE id = ?`,
		string(finish.Status), finish.Message, string(metaJSON), finish.CompletedAt.UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.TriggerRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM trigger_runs WHERE id = ?`, runID)
	r, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.TriggerRun, error) {
	query := `SELECT ` + runColumns + ` FROM trigger_runs WHERE 1=1`
	var args []any

	if filter.TriggerID != "" {
		query += ` AND trigger_id = ?`
		args = append(args, filter.TriggerID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY run_at DESC LIMIT ?`
	args = append(args, normalizeLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}
	return s.queryRuns(ctx, "list runs", query, args...)
}

func (s *SQLiteStore) ListStuckRuns(ctx context.Context, startedBefore time.Time) ([]model.TriggerRun, error) {
	open, err := s.queryRuns(ctx, "list stuck runs",
		`SELECT `+runColumns+` FROM trigger_runs WHERE status IN ('RUNNING', 'UPLOADING') ORDER BY run_at`)
	if err != nil {
		return nil, err
	}
	var stuck []model.TriggerRun
	for _, r := range open {
		if r.RunAt.Before(startedBefore) {
			stuck = append(stuck, r)
		}
	}
	return stuck, nil
}

func (s *SQLiteStore) queryRuns(ctx context.Context, op, query string, args ...any) ([]model.TriggerRun, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.TriggerRun
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s scan", op)
		}
		out = append(out, *r)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: %s iterate", op)
}

func (s *SQLiteStore) RunStats(ctx context.Context, since time.Time) (*RunStats, error) {
	runs, err := s.queryRuns(ctx, "run stats", `SELECT `+runColumns+` FROM trigger_runs`)
	if err != nil {
		return nil, err
	}
	var st RunStats
	for _, r := range runs {
		if r.RunAt.Before(since) {
			continue
		}
		st.Total++
		st.CandidatesUploaded += r.CandidateCount
		switch r.Status {
		case model.RunStatusRunning:
			st.Running++
		case model.RunStatusUploading:
			st.Uploading++
		case model.RunStatusCompleted:
			st.Completed++
		case model.RunStatusFailed:
			st.Failed++
		}
	}
	return &st, nil
}

// Candidates

func (s *SQLiteStore) InsertCandidates(ctx context.Context, runID string, candidates []model.TriggerCandidate) error {
	if len(candidates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert candidates: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for i := range candidates {
		c := &candidates[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.RunID = runID
		c.CreatedAt = now
		custom, err := json.Marshal(nonNilMap(c.CustomData))
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal candidate custom data")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trigger_candidates (id, run_id, trigger_id, first_name, last_name, title, company, profile_url, custom_data, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, runID, c.TriggerID, c.FirstName, c.LastName, c.Title, c.Company, c.ProfileURL, string(custom), now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert candidate for run %s", runID)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE trigger_runs SET candidate_count = candidate_count + ? WHERE id = ?`,
		len(candidates), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: bump candidate count %s", runID)
	}
	if err := checkRowsAffected(res, "run", runID); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: insert candidates: commit tx")
}

func (s *SQLiteStore) ListCandidates(ctx context.Context, runID string) ([]model.TriggerCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, trigger_id, first_name, last_name, title, company, profile_url, custom_data, created_at
		 FROM trigger_candidates WHERE run_id = ? ORDER BY rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list candidates")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.TriggerCandidate
	for rows.Next() {
		var c model.TriggerCandidate
		var custom string
		if err := rows.Scan(&c.ID, &c.RunID, &c.TriggerID, &c.FirstName, &c.LastName, &c.Title,
			&c.Company, &c.ProfileURL, &custom, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		if custom != "" {
			if err := json.Unmarshal([]byte(custom), &c.CustomData); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal candidate custom data")
			}
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list candidates iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func scanSQLiteTrigger(row scannable) (*model.Trigger, error) {
	var t model.Trigger
	var intervalSecs int64
	var lastRun, nextRun sql.NullTime
	var blocksJSON, blacklistJSON string

	if err := row.Scan(&t.ID, &t.TenantID, &t.Emoji, &t.Name, &t.Description, &intervalSecs,
		&lastRun, &nextRun, &t.Active, &blocksJSON, &blacklistJSON, &t.Version,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.LastRun = timePtr(lastRun)
	t.NextRun = timePtr(nextRun)
	return decodeTrigger(&t, intervalSecs, []byte(blocksJSON), []byte(blacklistJSON))
}

func scanSQLiteRun(row scannable) (*model.TriggerRun, error) {
	var r model.TriggerRun
	var completedAt sql.NullTime
	var metaJSON string

	if err := row.Scan(&r.ID, &r.TriggerID, &r.RunAt, &completedAt, &r.Status, &r.StatusMessage,
		&metaJSON, &r.CandidateCount); err != nil {
		return nil, err
	}
	r.CompletedAt = timePtr(completedAt)
	if err := decodeMetadata(&r, []byte(metaJSON)); err != nil {
		return nil, err
	}
	return &r, nil
}
