package task

import (
	"context"
	"errors"
)

// ErrTaskNotFound is returned when a task cannot be found by either id.
var ErrTaskNotFound = errors.New("task not found")

// Repository defines the interface for task persistence.
//
// Write operations are conditional on the stored status so that duplicate
// or racing callback deliveries are re-validated at the moment of the
// write, not only at the moment of an earlier read. Implementations must
// be safe for concurrent use.
type Repository interface {
	// CreatePending inserts a new record in pending status.
	// Inserting an id that already exists is a no-op.
	CreatePending(ctx context.Context, audioTaskID, title string) error

	// CompleteAudio atomically inserts or merges the audio-completion
	// fields, keyed on AudioTaskID, and advances status to audio_done.
	// Fields absent from the update are left untouched. It returns
	// applied=false without modifying anything when the record has
	// already reached audio_done or done.
	CompleteAudio(ctx context.Context, c AudioCompletion) (applied bool, err error)

	// CompleteVideo sets the video URL and advances status to done for the
	// record matching videoTaskID. It returns applied=false when the
	// record is already done, and ErrTaskNotFound for orphan deliveries.
	CompleteVideo(ctx context.Context, videoTaskID, videoURL string) (applied bool, err error)

	// MarkError records a fault on the task for operator visibility.
	// A task that is already done is left untouched.
	MarkError(ctx context.Context, audioTaskID, msg string) error

	// FindByAudioTaskID retrieves a task by its audio task id.
	// Returns ErrTaskNotFound if no record exists.
	FindByAudioTaskID(ctx context.Context, audioTaskID string) (*Task, error)

	// FindByVideoTaskID retrieves a task by its video task id.
	// Returns ErrTaskNotFound if no record exists.
	FindByVideoTaskID(ctx context.Context, videoTaskID string) (*Task, error)
}
