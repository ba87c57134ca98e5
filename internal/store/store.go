package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/scribeflow/api/internal/model"
)

// Store is the durable record of every job and chunk, and the single
// source of truth all coordination components read and mutate through.
// CompareAndSetChunkState is the sole mutation primitive for chunk
// state; SQLite's serialized writes make it linearizable per chunk.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		total_chunks INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		paused INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS chunks (
		job_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		source_ref TEXT NOT NULL,
		start_sec REAL NOT NULL,
		end_sec REAL NOT NULL,
		state TEXT NOT NULL DEFAULT 'pending',
		worker_id TEXT,
		lease_started_at DATETIME,
		attempts INTEGER NOT NULL DEFAULT 0,
		result TEXT,
		processing_sec REAL,
		completed_at DATETIME,
		PRIMARY KEY (job_id, idx)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_state ON chunks(state);

	CREATE TABLE IF NOT EXISTS workers (
		id TEXT PRIMARY KEY,
		hostname TEXT,
		registered_at DATETIME NOT NULL,
		last_seen DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS activity_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		log_type TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_logs_created ON activity_logs(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateJob inserts a job and its N chunk rows (indices 0..N-1, all
// pending) in one transaction. Fails with ErrInvalidInput when the
// segment list is empty.
func (s *Store) CreateJob(id, filename string, segments []model.SegmentRef) (*model.Job, error) {
	if id == "" || len(segments) == 0 {
		return nil, fmt.Errorf("create job: %w", ErrInvalidInput)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.Exec(
		`INSERT INTO jobs (id, filename, total_chunks, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, filename, len(segments), model.JobStatusActive, now,
	); err != nil {
		return nil, err
	}

	for i, seg := range segments {
		if _, err := tx.Exec(
			`INSERT INTO chunks (job_id, idx, source_ref, start_sec, end_sec, state) VALUES (?, ?, ?, ?, ?, ?)`,
			id, i, seg.SourceRef, seg.StartSec, seg.EndSec, model.ChunkPending,
		); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &model.Job{
		ID:          id,
		Filename:    filename,
		TotalChunks: len(segments),
		Status:      model.JobStatusActive,
		CreatedAt:   now,
	}, nil
}

// GetJob returns one job or ErrNotFound.
func (s *Store) GetJob(id string) (*model.Job, error) {
	row := s.db.QueryRow(
		`SELECT id, filename, total_chunks, status, paused, created_at, completed_at FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListJobs returns all jobs, newest first, with per-job progress.
func (s *Store) ListJobs() ([]model.JobSummary, error) {
	rows, err := s.db.Query(
		`SELECT id, filename, total_chunks, status, paused, created_at, completed_at
		 FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.JobSummary
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		progress, err := s.JobProgress(j.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, model.JobSummary{Job: *j, Progress: *progress})
	}
	return out, rows.Err()
}

// JobProgress counts the chunks of one job by state.
func (s *Store) JobProgress(jobID string) (*model.JobProgress, error) {
	counts, err := s.ChunkStateCounts(jobID)
	if err != nil {
		return nil, err
	}
	return progressFromCounts(counts), nil
}

// ChunkStateCounts returns how many chunks of the job are in each state.
func (s *Store) ChunkStateCounts(jobID string) (map[model.ChunkState]int, error) {
	rows, err := s.db.Query(
		`SELECT state, COUNT(*) FROM chunks WHERE job_id = ? GROUP BY state`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.ChunkState]int)
	for rows.Next() {
		var state model.ChunkState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// GetChunk returns one chunk or ErrNotFound.
func (s *Store) GetChunk(jobID string, idx int) (*model.Chunk, error) {
	row := s.db.QueryRow(chunkSelect+` WHERE job_id = ? AND idx = ?`, jobID, idx)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chunk %s/%d: %w", jobID, idx, ErrNotFound)
	}
	return c, err
}

// ListChunksByState returns every chunk currently in the given state.
func (s *Store) ListChunksByState(state model.ChunkState) ([]*model.Chunk, error) {
	return s.queryChunks(chunkSelect+` WHERE state = ? ORDER BY job_id, idx`, state)
}

// ListJobChunks returns all chunks of a job in ascending index order.
func (s *Store) ListJobChunks(jobID string) ([]*model.Chunk, error) {
	return s.queryChunks(chunkSelect+` WHERE job_id = ? ORDER BY idx`, jobID)
}

// NextPendingChunk selects the assignment candidate: the pending chunk
// with the oldest job creation time and lowest index, skipping paused
// jobs and jobs no longer active. Returns nil when the pool is empty.
// The tie-break among equally old jobs (job id) is implementation
// defined and not part of the contract.
func (s *Store) NextPendingChunk() (*model.Chunk, error) {
	row := s.db.QueryRow(chunkSelectPrefixed + `
		FROM chunks c
		JOIN jobs j ON j.id = c.job_id
		WHERE c.state = 'pending' AND j.status = 'active' AND j.paused = 0
		ORDER BY j.created_at, j.id, c.idx
		LIMIT 1`)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ChunkUpdate carries the extra fields written alongside a state
// transition. Nil fields are left untouched; ClearLease nulls both the
// worker id and the lease timestamp.
type ChunkUpdate struct {
	WorkerID       *string
	LeaseStartedAt *time.Time
	ClearLease     bool
	Attempts       *int
	Result         []byte
	ProcessingSec  *float64
	CompletedAt    *time.Time

	// RequireWorker additionally guards the transition on the current
	// lease owner, so a stale worker's write cannot race a re-lease.
	RequireWorker *string
}

// CompareAndSetChunkState atomically moves a chunk from expected to
// next, applying the update in the same statement. Returns
// ErrStateConflict when the chunk's current state (or lease owner, if
// required) did not match, meaning the caller lost a race.
func (s *Store) CompareAndSetChunkState(jobID string, idx int, expected, next model.ChunkState, up ChunkUpdate) error {
	set := []string{"state = ?"}
	args := []interface{}{next}

	if up.ClearLease {
		set = append(set, "worker_id = NULL", "lease_started_at = NULL")
	} else {
		if up.WorkerID != nil {
			set = append(set, "worker_id = ?")
			args = append(args, *up.WorkerID)
		}
		if up.LeaseStartedAt != nil {
			set = append(set, "lease_started_at = ?")
			args = append(args, up.LeaseStartedAt.UTC())
		}
	}
	if up.Attempts != nil {
		set = append(set, "attempts = ?")
		args = append(args, *up.Attempts)
	}
	if up.Result != nil {
		set = append(set, "result = ?")
		args = append(args, string(up.Result))
	}
	if up.ProcessingSec != nil {
		set = append(set, "processing_sec = ?")
		args = append(args, *up.ProcessingSec)
	}
	if up.CompletedAt != nil {
		set = append(set, "completed_at = ?")
		args = append(args, up.CompletedAt.UTC())
	}

	query := `UPDATE chunks SET ` + strings.Join(set, ", ") + ` WHERE job_id = ? AND idx = ? AND state = ?`
	args = append(args, jobID, idx, expected)
	if up.RequireWorker != nil {
		query += ` AND worker_id = ?`
		args = append(args, *up.RequireWorker)
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("chunk %s/%d %s->%s: %w", jobID, idx, expected, next, ErrStateConflict)
	}
	return nil
}

// ListExpiredLeases returns leased chunks whose lease started before
// the relevant cutoff: assignedBefore for chunks never acknowledged,
// processingBefore for chunks mid-transcription.
func (s *Store) ListExpiredLeases(assignedBefore, processingBefore time.Time) ([]*model.Chunk, error) {
	return s.queryChunks(chunkSelect+`
		WHERE (state = 'assigned' AND lease_started_at < ?)
		   OR (state = 'processing' AND lease_started_at < ?)
		ORDER BY lease_started_at`,
		assignedBefore.UTC(), processingBefore.UTC())
}

// MarkJobDone performs the exactly-once terminal transition of a job.
// The guard on the current active status means only one caller observes
// done == true, no matter how many race.
func (s *Store) MarkJobDone(jobID string, status model.JobStatus, at time.Time) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE jobs SET status = ?, completed_at = ? WHERE id = ? AND status = 'active'`,
		status, at.UTC(), jobID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetJobPaused pauses or resumes assignment for a job. Paused jobs keep
// their in-flight leases; only new assignments stop.
func (s *Store) SetJobPaused(jobID string, paused bool) error {
	p := 0
	if paused {
		p = 1
	}
	res, err := s.db.Exec(`UPDATE jobs SET paused = ? WHERE id = ?`, p, jobID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

// DeleteJob removes a job and its chunks, returning the chunk source
// refs so the caller can delete the audio files.
func (s *Store) DeleteJob(jobID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT source_ref FROM chunks WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, err
	}
	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			rows.Close()
			return nil, err
		}
		refs = append(refs, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM chunks WHERE job_id = ?`, jobID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`DELETE FROM jobs WHERE id = ?`, jobID); err != nil {
		return nil, err
	}
	return refs, tx.Commit()
}

// UpsertWorker registers a worker, refreshing last_seen on re-register.
func (s *Store) UpsertWorker(id, hostname string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO workers (id, hostname, registered_at, last_seen) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET hostname = excluded.hostname, last_seen = excluded.last_seen`,
		id, hostname, now, now)
	return err
}

// TouchWorker refreshes a worker's last_seen timestamp. Unknown workers
// are created on first contact.
func (s *Store) TouchWorker(id string) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(`UPDATE workers SET last_seen = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.UpsertWorker(id, "")
	}
	return nil
}

// ActiveWorkers returns workers seen since the given time.
func (s *Store) ActiveWorkers(since time.Time) ([]model.Worker, error) {
	rows, err := s.db.Query(
		`SELECT id, hostname, registered_at, last_seen FROM workers WHERE last_seen > ? ORDER BY id`,
		since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Worker
	for rows.Next() {
		var w model.Worker
		var hostname sql.NullString
		if err := rows.Scan(&w.ID, &hostname, &w.RegisteredAt, &w.LastSeen); err != nil {
			return nil, err
		}
		w.Hostname = hostname.String
		out = append(out, w)
	}
	return out, rows.Err()
}

// AddActivityLog appends a dashboard history line, keeping only the
// most recent 500 to bound growth.
func (s *Store) AddActivityLog(logType, message string) error {
	if _, err := s.db.Exec(
		`INSERT INTO activity_logs (log_type, message, created_at) VALUES (?, ?, ?)`,
		logType, message, time.Now().UTC()); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		DELETE FROM activity_logs WHERE id NOT IN (
			SELECT id FROM activity_logs ORDER BY created_at DESC LIMIT 500
		)`)
	return err
}

// RecentLogs returns the newest activity-log lines.
func (s *Store) RecentLogs(limit int) ([]model.ActivityLog, error) {
	rows, err := s.db.Query(
		`SELECT log_type, message, created_at FROM activity_logs ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ActivityLog
	for rows.Next() {
		var l model.ActivityLog
		var at time.Time
		if err := rows.Scan(&l.LogType, &l.Message, &at); err != nil {
			return nil, err
		}
		l.CreatedAt = at.UTC().Format(time.RFC3339)
		out = append(out, l)
	}
	return out, rows.Err()
}

// StatusSummary returns the global chunk-state totals.
func (s *Store) StatusSummary() (*model.JobProgress, error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM chunks GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.ChunkState]int)
	for rows.Next() {
		var state model.ChunkState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return progressFromCounts(counts), nil
}

const chunkSelect = `SELECT job_id, idx, source_ref, start_sec, end_sec, state, worker_id,
	lease_started_at, attempts, result, processing_sec, completed_at FROM chunks`

const chunkSelectPrefixed = `SELECT c.job_id, c.idx, c.source_ref, c.start_sec, c.end_sec, c.state, c.worker_id,
	c.lease_started_at, c.attempts, c.result, c.processing_sec, c.completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row rowScanner) (*model.Chunk, error) {
	c := &model.Chunk{}
	var workerID, result sql.NullString
	var leaseStart, completedAt sql.NullTime
	var processing sql.NullFloat64
	if err := row.Scan(&c.JobID, &c.Index, &c.SourceRef, &c.StartSec, &c.EndSec, &c.State,
		&workerID, &leaseStart, &c.Attempts, &result, &processing, &completedAt); err != nil {
		return nil, err
	}
	c.WorkerID = workerID.String
	if leaseStart.Valid {
		t := leaseStart.Time
		c.LeaseStartedAt = &t
	}
	if result.Valid {
		c.Result = []byte(result.String)
	}
	c.ProcessingSec = processing.Float64
	if completedAt.Valid {
		t := completedAt.Time
		c.CompletedAt = &t
	}
	return c, nil
}

func scanJob(row rowScanner) (*model.Job, error) {
	j := &model.Job{}
	var paused int
	var completedAt sql.NullTime
	if err := row.Scan(&j.ID, &j.Filename, &j.TotalChunks, &j.Status, &paused, &j.CreatedAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("job: %w", ErrNotFound)
		}
		return nil, err
	}
	j.Paused = paused == 1
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return j, nil
}

func (s *Store) queryChunks(query string, args ...interface{}) ([]*model.Chunk, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func progressFromCounts(counts map[model.ChunkState]int) *model.JobProgress {
	p := &model.JobProgress{
		Pending:    counts[model.ChunkPending],
		Assigned:   counts[model.ChunkAssigned],
		Processing: counts[model.ChunkProcessing],
		Completed:  counts[model.ChunkCompleted],
		Dead:       counts[model.ChunkDead],
	}
	p.Total = p.Pending + p.Assigned + p.Processing + p.Completed + p.Dead
	if p.Total > 0 {
		p.Percent = float64(p.Completed) / float64(p.Total) * 100
	}
	return p
}
