package monitor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Splits used by the training driver.
const (
	SplitTrain = "train"
	SplitValid = "valid"
)

// ErrRunNotFound is returned when no run matches an id or id prefix.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs(
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	config     TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS scalars(
	run_id    TEXT NOT NULL REFERENCES runs(id),
	split     TEXT NOT NULL,
	tag       TEXT NOT NULL,
	step      INTEGER NOT NULL,
	value     REAL, -- NULL holds NaN
	wall_time INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS scalars_series ON scalars(run_id, split, tag, step);
`

// Store persists runs and their scalar streams in a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// RunInfo describes a stored run.
type RunInfo struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Config    string
}

// OpenStore opens or creates the database at path. Use ":memory:" for a
// throwaway store.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	// One connection serialises writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("open store %s: %w", path, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open store %s: create schema: %w", path, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewRun registers a run and returns a handle for writing its scalars.
func (s *Store) NewRun(ctx context.Context, name, config string) (*Run, error) {
	info := RunInfo{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
		Config:    config,
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs(id, name, created_at, config) VALUES(?, ?, ?, ?)",
		info.ID, info.Name, info.CreatedAt.UnixMilli(), info.Config)
	if err != nil {
		return nil, fmt.Errorf("new run %q: %w", name, err)
	}
	return &Run{store: s, info: info}, nil
}

// Runs lists every run, newest first.
func (s *Store) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, created_at, config FROM runs ORDER BY created_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		info, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, info)
	}
	return runs, rows.Err()
}

// FindRun returns the single run whose id starts with prefix.
func (s *Store) FindRun(ctx context.Context, prefix string) (RunInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, created_at, config FROM runs WHERE substr(id, 1, ?) = ? LIMIT 2",
		len(prefix), prefix)
	if err != nil {
		return RunInfo{}, fmt.Errorf("find run %q: %w", prefix, err)
	}
	defer rows.Close()

	var found []RunInfo
	for rows.Next() {
		info, err := scanRun(rows)
		if err != nil {
			return RunInfo{}, fmt.Errorf("find run %q: %w", prefix, err)
		}
		found = append(found, info)
	}
	if err := rows.Err(); err != nil {
		return RunInfo{}, fmt.Errorf("find run %q: %w", prefix, err)
	}
	switch len(found) {
	case 0:
		return RunInfo{}, fmt.Errorf("find run %q: %w", prefix, ErrRunNotFound)
	case 1:
		return found[0], nil
	default:
		return RunInfo{}, fmt.Errorf("find run %q: prefix is ambiguous", prefix)
	}
}

// Scalars returns one series of a run ordered by step.
func (s *Store) Scalars(ctx context.Context, runID, split, tag string) ([]Point, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT step, value FROM scalars WHERE run_id = ? AND split = ? AND tag = ? ORDER BY step, rowid",
		runID, split, tag)
	if err != nil {
		return nil, fmt.Errorf("scalars %s/%s/%s: %w", runID, split, tag, err)
	}
	defer rows.Close()

	var pts []Point
	for rows.Next() {
		var (
			p     Point
			value sql.NullFloat64
		)
		if err := rows.Scan(&p.Step, &value); err != nil {
			return nil, fmt.Errorf("scalars %s/%s/%s: %w", runID, split, tag, err)
		}
		p.Value = math.NaN()
		if value.Valid {
			p.Value = value.Float64
		}
		pts = append(pts, p)
	}
	return pts, rows.Err()
}

// Tags returns the distinct tags logged for a run split.
func (s *Store) Tags(ctx context.Context, runID, split string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT tag FROM scalars WHERE run_id = ? AND split = ? ORDER BY tag",
		runID, split)
	if err != nil {
		return nil, fmt.Errorf("tags %s/%s: %w", runID, split, err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("tags %s/%s: %w", runID, split, err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func scanRun(rows *sql.Rows) (RunInfo, error) {
	var (
		info    RunInfo
		created int64
	)
	if err := rows.Scan(&info.ID, &info.Name, &created, &info.Config); err != nil {
		return RunInfo{}, err
	}
	info.CreatedAt = time.UnixMilli(created).UTC()
	return info, nil
}

// Run is a handle on one stored run.
type Run struct {
	store *Store
	info  RunInfo
}

// ID returns the run id.
func (r *Run) ID() string {
	return r.info.ID
}

// Info returns the run description.
func (r *Run) Info() RunInfo {
	return r.info
}

// Writer returns a sink that stores scalars under the given split.
func (r *Run) Writer(split string) *RunWriter {
	return &RunWriter{run: r, split: split}
}

// RunWriter stores scalars for one run split.
type RunWriter struct {
	run   *Run
	split string
}

// AddScalar inserts one scalar row. SQLite has no NaN, so NaN is stored as
// NULL and read back as NaN.
func (w *RunWriter) AddScalar(tag string, value float64, step int) error {
	s := w.run.store
	_, err := s.db.Exec(
		"INSERT INTO scalars(run_id, split, tag, step, value, wall_time) VALUES(?, ?, ?, ?, ?, ?)",
		w.run.info.ID, w.split, tag, step,
		sql.NullFloat64{Float64: value, Valid: !math.IsNaN(value)}, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("add scalar %s/%s step %d: %w", w.split, tag, step, err)
	}
	return nil
}
