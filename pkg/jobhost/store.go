package jobhost

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"

	"github.com/sdejongh/bucketsync/pkg/job"
	"github.com/sdejongh/bucketsync/pkg/logging"
	"github.com/sdejongh/bucketsync/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    identity TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    attempt INTEGER NOT NULL DEFAULT 1,
    state TEXT NOT NULL,
    params TEXT NOT NULL,
    progress_count INTEGER NOT NULL DEFAULT 0,
    progress_bytes INTEGER NOT NULL DEFAULT 0,
    progress_bytes_per_sec INTEGER,
    progress_percentage REAL NOT NULL DEFAULT 0,
    diff_count INTEGER NOT NULL DEFAULT 0,
    diff_bytes INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    cancel_requested INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL, -- RFC3339
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
`

const selectColumns = `identity, run_id, attempt, state, params,
    progress_count, progress_bytes, progress_bytes_per_sec, progress_percentage,
    diff_count, diff_bytes, error, cancel_requested, created_at, updated_at`

// timeFormat is fixed width so stored timestamps sort lexically
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const nonTerminal = `state NOT IN ('SUCCEEDED', 'FAILED', 'CANCELLED')`

var (
	// ErrNotFound is returned for identities with no stored record
	ErrNotFound = errors.New("job not found")

	// ErrNotOwner is returned when writing to a job this store does not hold
	ErrNotOwner = errors.New("job is not held by this store")
)

// Record is the stored row of one job identity
type Record struct {
	Identity job.Identity     `json:"identity"`
	RunID    string           `json:"runId"`
	Attempt  int              `json:"attempt"`
	State    models.JobState  `json:"state"`
	Params   models.JobParams `json:"params"`

	models.ProgressRecord

	CancelRequested bool      `json:"cancelRequested"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// dbRecord is used for scanning rows where params are JSON and times TEXT
type dbRecord struct {
	Identity string `db:"identity"`
	RunID    string `db:"run_id"`
	Attempt  int    `db:"attempt"`
	State    string `db:"state"`
	Params   string `db:"params"`

	models.ProgressRecord

	CancelRequested bool   `db:"cancel_requested"`
	CreatedAt       string `db:"created_at"`
	UpdatedAt       string `db:"updated_at"`
}

func (r *dbRecord) record() (*Record, error) {
	out := &Record{
		Identity:        job.Identity(r.Identity),
		RunID:           r.RunID,
		Attempt:         r.Attempt,
		State:           models.JobState(r.State),
		ProgressRecord:  r.ProgressRecord,
		CancelRequested: r.CancelRequested,
	}
	if err := json.Unmarshal([]byte(r.Params), &out.Params); err != nil {
		return nil, fmt.Errorf("failed to decode params of %s: %w", r.Identity, err)
	}
	var err error
	if out.CreatedAt, err = time.Parse(timeFormat, r.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse stored timestamp for %s: %w", r.Identity, err)
	}
	if out.UpdatedAt, err = time.Parse(timeFormat, r.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse stored timestamp for %s: %w", r.Identity, err)
	}
	return out, nil
}

// Option configures a Store
type Option func(*Store)

// WithLockDir sets the directory holding per-job lock files
func WithLockDir(dir string) Option {
	return func(s *Store) { s.lockDir = dir }
}

// WithClock sets the clock used for timestamps
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// WithLogger sets the store logger
func WithLogger(logger logging.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store persists job records in SQLite and serializes runs of one identity
// across processes with lock files. It implements job.Registry, job.Sink and
// job.CancelChecker.
type Store struct {
	db      *sqlx.DB
	path    string
	lockDir string
	clock   clockwork.Clock
	logger  logging.Logger

	mu    sync.Mutex
	locks map[job.Identity]*flock.Flock
}

var (
	_ job.Registry      = (*Store)(nil)
	_ job.Sink          = (*Store)(nil)
	_ job.CancelChecker = (*Store)(nil)
)

// Open opens or creates the job database at path. Lock files live in a
// "locks" directory next to it unless WithLockDir is given, which is
// required for ":memory:".
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:   path,
		clock:  clockwork.NewRealClock(),
		logger: logging.NewNullLogger(),
		locks:  make(map[job.Identity]*flock.Flock),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.lockDir == "" {
		if path == memoryPath {
			return nil, fmt.Errorf("an in-memory job store needs a lock directory")
		}
		s.lockDir = filepath.Join(filepath.Dir(path), "locks")
	}
	if err := os.MkdirAll(s.lockDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory %s: %w", s.lockDir, err)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize job schema: %w", err)
	}
	s.db = db
	return s, nil
}

// Path returns the database path
func (s *Store) Path() string { return s.path }

// Close releases every held lock and closes the database
func (s *Store) Close() error {
	s.mu.Lock()
	for id, fl := range s.locks {
		fl.Unlock()
		delete(s.locks, id)
	}
	s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) lockPath(id job.Identity) string {
	return filepath.Join(s.lockDir, string(id)+".lock")
}

func (s *Store) now() string {
	return s.clock.Now().UTC().Format(timeFormat)
}

// TryAcquire takes the lock of the claimed identity and writes a fresh
// ENQUEUED row for the run. It reports false while any holder, in this
// process or another, has the lock. A non-terminal row found once the lock is
// free was left by a holder that went away and is taken over.
func (s *Store) TryAcquire(ctx context.Context, claim job.Claim) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.locks[claim.Identity]; held {
		return false, nil
	}

	fl := flock.New(s.lockPath(claim.Identity))
	locked, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to lock %s: %w", claim.Identity, err)
	}
	if !locked {
		return false, nil
	}

	if err := s.claim(ctx, claim); err != nil {
		fl.Unlock()
		return false, err
	}
	s.locks[claim.Identity] = fl
	return true, nil
}

func (s *Store) claim(ctx context.Context, claim job.Claim) error {
	params, err := json.Marshal(claim.Params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var previous struct {
		State string `db:"state"`
		RunID string `db:"run_id"`
	}
	err = tx.GetContext(ctx, &previous, "SELECT state, run_id FROM jobs WHERE identity = ?", string(claim.Identity))
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to query job %s: %w", claim.Identity, err)
	case !models.JobState(previous.State).IsTerminal():
		s.logger.Warn(ctx, "Taking over stale job", logging.Fields{
			"job":          string(claim.Identity),
			"stale_run_id": previous.RunID,
			"stale_state":  previous.State,
		})
	}

	now := s.now()
	_, err = tx.ExecContext(ctx, `
INSERT INTO jobs (identity, run_id, attempt, state, params, created_at, updated_at)
VALUES (?, ?, 1, ?, ?, ?, ?)
ON CONFLICT(identity) DO UPDATE SET
    run_id = excluded.run_id,
    attempt = CASE WHEN jobs.state IN ('SUCCEEDED', 'CANCELLED') THEN 1 ELSE jobs.attempt + 1 END,
    state = excluded.state,
    params = excluded.params,
    progress_count = 0,
    progress_bytes = 0,
    progress_bytes_per_sec = NULL,
    progress_percentage = 0,
    diff_count = 0,
    diff_bytes = 0,
    error = '',
    cancel_requested = 0,
    updated_at = excluded.updated_at`,
		string(claim.Identity), claim.RunID, string(models.StateEnqueued), string(params), now, now)
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", claim.Identity, err)
	}
	return tx.Commit()
}

// Release unlocks the identity
func (s *Store) Release(_ context.Context, id job.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fl, ok := s.locks[id]
	if !ok {
		return nil
	}
	delete(s.locks, id)
	return fl.Unlock()
}

// Holds reports whether this store holds the identity
func (s *Store) Holds(id job.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.locks[id]
	return ok
}

func (s *Store) update(ctx context.Context, id job.Identity, query string, args ...any) error {
	if !s.Holds(id) {
		return ErrNotOwner
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetState implements job.Sink
func (s *Store) SetState(ctx context.Context, id job.Identity, state models.JobState) error {
	return s.update(ctx, id,
		"UPDATE jobs SET state = ?, updated_at = ? WHERE identity = ?",
		string(state), s.now(), string(id))
}

// Progress implements job.Sink
func (s *Store) Progress(ctx context.Context, id job.Identity, r models.ProgressRecord) error {
	return s.update(ctx, id, `
UPDATE jobs SET progress_count = ?, progress_bytes = ?, progress_bytes_per_sec = ?,
    progress_percentage = ?, diff_count = ?, diff_bytes = ?, updated_at = ?
WHERE identity = ?`,
		r.ProgressCount, r.ProgressBytes, nullInt64(r.ProgressBytesPerSec),
		r.ProgressPercentage, r.DiffCount, r.DiffBytes, s.now(), string(id))
}

// Finish implements job.Sink
func (s *Store) Finish(ctx context.Context, id job.Identity, result models.JobResult) error {
	r := result.Record()
	return s.update(ctx, id, `
UPDATE jobs SET state = ?, progress_count = ?, progress_bytes = ?, progress_bytes_per_sec = ?,
    progress_percentage = ?, diff_count = ?, diff_bytes = ?, error = ?, updated_at = ?
WHERE identity = ?`,
		string(result.State), r.ProgressCount, r.ProgressBytes, nullInt64(r.ProgressBytesPerSec),
		r.ProgressPercentage, r.DiffCount, r.DiffBytes, r.Error, s.now(), string(id))
}

// RequestCancel flags a non-terminal job for cancellation. It reports false
// when no such job exists.
func (s *Store) RequestCancel(ctx context.Context, id job.Identity) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE identity = ? AND "+nonTerminal,
		s.now(), string(id))
	if err != nil {
		return false, fmt.Errorf("failed to request cancellation of %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CancelRequested implements job.CancelChecker
func (s *Store) CancelRequested(ctx context.Context, id job.Identity) (bool, error) {
	var requested bool
	err := s.db.GetContext(ctx, &requested, "SELECT cancel_requested FROM jobs WHERE identity = ?", string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query job %s: %w", id, err)
	}
	return requested, nil
}

// Get returns the record of id
func (s *Store) Get(ctx context.Context, id job.Identity) (*Record, error) {
	var row dbRecord
	err := s.db.GetContext(ctx, &row, "SELECT "+selectColumns+" FROM jobs WHERE identity = ?", string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job %s: %w", id, err)
	}
	return row.record()
}

// List returns every record, most recently updated first
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	return s.query(ctx, "SELECT "+selectColumns+" FROM jobs ORDER BY updated_at DESC, identity")
}

// Stale returns the non-terminal records whose lock no process holds
func (s *Store) Stale(ctx context.Context) ([]*Record, error) {
	records, err := s.query(ctx, "SELECT "+selectColumns+" FROM jobs WHERE "+nonTerminal+" ORDER BY updated_at, identity")
	if err != nil {
		return nil, err
	}

	var stale []*Record
	for _, r := range records {
		if s.Holds(r.Identity) {
			continue
		}
		fl := flock.New(s.lockPath(r.Identity))
		locked, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to probe lock of %s: %w", r.Identity, err)
		}
		if locked {
			fl.Unlock()
			stale = append(stale, r)
		}
	}
	return stale, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*Record, error) {
	var rows []dbRecord
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	records := make([]*Record, 0, len(rows))
	for i := range rows {
		r, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
