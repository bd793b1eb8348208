package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// Compile-time check that SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)

// video_task_id is indexed but deliberately not UNIQUE: a redelivered
// audio completion re-inserts the same video task id, and an upsert only
// absorbs conflicts on its named target (audio_task_id).
const schemaSQL = `
CREATE TABLE IF NOT EXISTS tasks (
    audio_task_id TEXT PRIMARY KEY,
    video_task_id TEXT,
    title         TEXT NOT NULL DEFAULT '',
    audio_url     TEXT NOT NULL DEFAULT '',
    video_url     TEXT NOT NULL DEFAULT '',
    lyrics        TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    error         TEXT NOT NULL DEFAULT '',
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_video_task_id ON tasks(video_task_id);
`

// Open opens (or creates) the SQLite database at path with the pragmas
// the repository relies on.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

// SQLiteRepository is the persistent Repository implementation backed by
// SQLite. The conditional upserts make duplicate and out-of-order
// callback deliveries safe without any delivery-ordering assumptions.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on top of an open database handle.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// EnsureSchema creates the tasks table if it does not exist.
func (r *SQLiteRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// CreatePending inserts a new pending record, ignoring duplicates.
func (r *SQLiteRepository) CreatePending(ctx context.Context, audioTaskID, title string) error {
	now := time.Now().UTC()
	const q = `INSERT INTO tasks (audio_task_id, title, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(audio_task_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, q, audioTaskID, title, string(StatusPending), now, now); err != nil {
		return fmt.Errorf("create pending task: %w", err)
	}
	return nil
}

// CompleteAudio performs a single atomic insert-or-merge keyed on the
// audio task id. The WHERE clause on the conflict branch re-validates the
// duplicate check at write time: a record that already reached audio_done
// or done reports zero affected rows and nothing is clobbered.
func (r *SQLiteRepository) CompleteAudio(ctx context.Context, c AudioCompletion) (bool, error) {
	now := time.Now().UTC()
	const q = `INSERT INTO tasks (audio_task_id, video_task_id, title, audio_url, lyrics, status, error, created_at, updated_at)
		VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, '', ?, ?)
		ON CONFLICT(audio_task_id) DO UPDATE SET
			video_task_id = excluded.video_task_id,
			title         = CASE WHEN excluded.title != '' THEN excluded.title ELSE tasks.title END,
			audio_url     = excluded.audio_url,
			lyrics        = excluded.lyrics,
			status        = excluded.status,
			error         = '',
			updated_at    = excluded.updated_at
		WHERE tasks.status IN (?, ?)`

	res, err := r.db.ExecContext(ctx, q,
		c.AudioTaskID, c.VideoTaskID, c.Title, c.AudioURL, string(c.Lyrics),
		string(StatusAudioDone), now, now,
		string(StatusPending), string(StatusError),
	)
	if err != nil {
		return false, fmt.Errorf("complete audio: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete audio: rows affected: %w", err)
	}
	return n > 0, nil
}

// CompleteVideo conditionally advances the record matching videoTaskID to
// done. Zero affected rows means either a duplicate delivery or an orphan;
// a follow-up lookup distinguishes the two.
func (r *SQLiteRepository) CompleteVideo(ctx context.Context, videoTaskID, videoURL string) (bool, error) {
	const q = `UPDATE tasks SET video_url = ?, status = ?, error = '', updated_at = ?
		WHERE video_task_id = ? AND status != ?`
	res, err := r.db.ExecContext(ctx, q, videoURL, string(StatusDone), time.Now().UTC(), videoTaskID, string(StatusDone))
	if err != nil {
		return false, fmt.Errorf("complete video: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete video: rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE video_task_id = ?`, videoTaskID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrTaskNotFound
	}
	if err != nil {
		return false, fmt.Errorf("complete video: lookup: %w", err)
	}
	return false, nil
}

// MarkError records a fault unless the task already finished.
func (r *SQLiteRepository) MarkError(ctx context.Context, audioTaskID, msg string) error {
	const q = `UPDATE tasks SET status = ?, error = ?, updated_at = ?
		WHERE audio_task_id = ? AND status != ?`
	res, err := r.db.ExecContext(ctx, q, string(StatusError), msg, time.Now().UTC(), audioTaskID, string(StatusDone))
	if err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark error: rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		err = r.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE audio_task_id = ?`, audioTaskID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTaskNotFound
		}
		if err != nil {
			return fmt.Errorf("mark error: lookup: %w", err)
		}
	}
	return nil
}

// FindByAudioTaskID retrieves a task by its audio task id.
func (r *SQLiteRepository) FindByAudioTaskID(ctx context.Context, audioTaskID string) (*Task, error) {
	return r.findBy(ctx, "audio_task_id", audioTaskID)
}

// FindByVideoTaskID retrieves a task by its video task id.
func (r *SQLiteRepository) FindByVideoTaskID(ctx context.Context, videoTaskID string) (*Task, error) {
	return r.findBy(ctx, "video_task_id", videoTaskID)
}

func (r *SQLiteRepository) findBy(ctx context.Context, column, value string) (*Task, error) {
	q := fmt.Sprintf(`SELECT audio_task_id, video_task_id, title, audio_url, video_url, lyrics, status, error, created_at, updated_at
		FROM tasks WHERE %s = ?`, column)

	var (
		t           Task
		videoTaskID sql.NullString
		lyrics      string
		status      string
	)
	err := r.db.QueryRowContext(ctx, q, value).Scan(
		&t.AudioTaskID, &videoTaskID, &t.Title, &t.AudioURL, &t.VideoURL,
		&lyrics, &status, &t.Error, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find task by %s: %w", column, err)
	}

	if videoTaskID.Valid {
		t.VideoTaskID = videoTaskID.String
	}
	if lyrics != "" {
		t.Lyrics = []byte(lyrics)
	}
	t.Status = Status(status)
	return &t, nil
}
