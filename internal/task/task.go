// Package task provides the Task record for tracking music-generation
// progress across the audio → video pipeline, along with repository
// interfaces for idempotent persistence.
package task

import (
	"time"
)

// Status represents the current state of a Task. Transitions are
// monotonic: pending → audio_done → done. The error status is reachable
// from pending and audio_done, never from done, and a successful
// redelivery may move an errored task forward again.
type Status string

const (
	// StatusPending indicates the generation request was submitted and no
	// completion callback has been processed yet.
	StatusPending Status = "pending"
	// StatusAudioDone indicates the audio asset was downloaded and video
	// generation was triggered (or attempted).
	StatusAudioDone Status = "audio_done"
	// StatusDone indicates the video asset was downloaded; the task is complete.
	StatusDone Status = "done"
	// StatusError indicates an unrecoverable fault during side-effect
	// execution, recorded for operator visibility.
	StatusError Status = "error"
)

// rank orders the progress states. StatusError sits alongside
// StatusPending so that a retried delivery can move an errored task forward.
func (s Status) rank() int {
	switch s {
	case StatusAudioDone:
		return 1
	case StatusDone:
		return 2
	default: // pending, error
		return 0
	}
}

// AtLeast reports whether s has progressed at least as far as other.
func (s Status) AtLeast(other Status) bool {
	return s.rank() >= other.rank()
}

// IsValid returns true if the status is one of the defined states.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusAudioDone, StatusDone, StatusError:
		return true
	}
	return false
}

// DefaultTitle is used when the provider supplies no track title.
const DefaultTitle = "Untitled"

// Task is the unit of persisted state, one per audio-generation request.
// It is a value snapshot; mutation happens exclusively through Repository
// operations so that concurrent callback deliveries stay serialized at
// the store.
type Task struct {
	// AudioTaskID is the provider-issued id of the audio generation task.
	// It is the primary key and the only identity known at creation time.
	AudioTaskID string
	// VideoTaskID is the provider-issued id of the dependent video task.
	// Empty until audio completion triggers video generation.
	VideoTaskID string
	// Title is the track title, defaulting to DefaultTitle when the
	// provider sends none.
	Title string
	// AudioURL is the locally-served URL of the downloaded audio asset.
	AudioURL string
	// VideoURL is the locally-served URL of the downloaded video asset.
	VideoURL string
	// Lyrics holds the serialized timestamp-aligned lyric tokens fetched
	// after audio completion. Empty when lyrics were unavailable.
	Lyrics []byte
	// Status is the current pipeline state.
	Status Status
	// Error contains the last recorded fault, if any.
	Error string
	// CreatedAt is when the record was first persisted.
	CreatedAt time.Time
	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time
}

// Clone creates a deep copy of the task for safe reads.
func (t *Task) Clone() *Task {
	c := *t
	if t.Lyrics != nil {
		c.Lyrics = make([]byte, len(t.Lyrics))
		copy(c.Lyrics, t.Lyrics)
	}
	return &c
}

// AudioCompletion carries the fields written when an audio-completion
// callback has been fully processed.
type AudioCompletion struct {
	// AudioTaskID keys the upsert.
	AudioTaskID string
	// Title replaces the stored title unless empty.
	Title string
	// AudioURL is the locally-served audio URL.
	AudioURL string
	// Lyrics is the serialized aligned-lyrics payload; may be empty.
	Lyrics []byte
	// VideoTaskID is the provider id of the triggered video task; empty
	// when the trigger failed or was skipped.
	VideoTaskID string
}
