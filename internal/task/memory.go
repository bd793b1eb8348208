package task

import (
	"context"
	"sync"
	"time"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// It uses maps with a mutex for thread-safe access.
// Suitable for development and testing; the SQLite repository is the
// persistent implementation.
type MemoryRepository struct {
	mu      sync.RWMutex
	byAudio map[string]*Task
	byVideo map[string]string // video task id -> audio task id
}

// NewMemoryRepository creates a new in-memory task repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byAudio: make(map[string]*Task),
		byVideo: make(map[string]string),
	}
}

// CreatePending inserts a new pending record. Existing records are left untouched.
func (r *MemoryRepository) CreatePending(_ context.Context, audioTaskID, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byAudio[audioTaskID]; ok {
		return nil
	}
	now := time.Now()
	r.byAudio[audioTaskID] = &Task{
		AudioTaskID: audioTaskID,
		Title:       title,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return nil
}

// CompleteAudio merges the audio-completion fields under the lock, so the
// duplicate check holds at the moment of the write.
func (r *MemoryRepository) CompleteAudio(_ context.Context, c AudioCompletion) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	t, ok := r.byAudio[c.AudioTaskID]
	if !ok {
		t = &Task{
			AudioTaskID: c.AudioTaskID,
			Status:      StatusPending,
			CreatedAt:   now,
		}
		r.byAudio[c.AudioTaskID] = t
	}

	if t.Status.AtLeast(StatusAudioDone) {
		return false, nil
	}

	if c.Title != "" {
		t.Title = c.Title
	}
	t.AudioURL = c.AudioURL
	t.Lyrics = c.Lyrics
	t.VideoTaskID = c.VideoTaskID
	t.Status = StatusAudioDone
	t.Error = ""
	t.UpdatedAt = now
	if c.VideoTaskID != "" {
		r.byVideo[c.VideoTaskID] = c.AudioTaskID
	}
	return true, nil
}

// CompleteVideo advances the matching record to done.
func (r *MemoryRepository) CompleteVideo(_ context.Context, videoTaskID, videoURL string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	audioID, ok := r.byVideo[videoTaskID]
	if !ok {
		return false, ErrTaskNotFound
	}
	t := r.byAudio[audioID]
	if t.Status == StatusDone {
		return false, nil
	}
	t.VideoURL = videoURL
	t.Status = StatusDone
	t.Error = ""
	t.UpdatedAt = time.Now()
	return true, nil
}

// MarkError records a fault unless the task already finished.
func (r *MemoryRepository) MarkError(_ context.Context, audioTaskID, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byAudio[audioTaskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status == StatusDone {
		return nil
	}
	t.Status = StatusError
	t.Error = msg
	t.UpdatedAt = time.Now()
	return nil
}

// FindByAudioTaskID retrieves a task by its audio task id.
// Returns a clone to prevent external mutations.
func (r *MemoryRepository) FindByAudioTaskID(_ context.Context, audioTaskID string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byAudio[audioTaskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

// FindByVideoTaskID retrieves a task by its video task id.
// Returns a clone to prevent external mutations.
func (r *MemoryRepository) FindByVideoTaskID(_ context.Context, videoTaskID string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	audioID, ok := r.byVideo[videoTaskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return r.byAudio[audioID].Clone(), nil
}
