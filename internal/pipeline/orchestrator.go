package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/melodymind/melodymind-api/internal/media"
	"github.com/melodymind/melodymind-api/internal/suno"
	"github.com/melodymind/melodymind-api/internal/task"
)

// Ack describes the internally observed outcome of a callback. It is
// always delivered to the provider with HTTP 200: webhook receipt must be
// acknowledged even when internal processing fails, otherwise the
// provider redelivers spuriously.
type Ack struct {
	// Status is the outcome label ("audio_processed", "video_saved",
	// "processing", "ignored", "error", "video_processing").
	Status string `json:"status"`
	// TaskID is the provider task id the callback referred to.
	TaskID string `json:"task_id,omitempty"`
	// AudioID is the generated clip id for audio completions.
	AudioID string `json:"audio_id,omitempty"`
	// VideoTaskID is the id of the triggered video sub-task.
	VideoTaskID string `json:"video_task_id,omitempty"`
	// State echoes the provider state for intermediate notifications.
	State string `json:"state,omitempty"`
	// Reason explains ignored outcomes.
	Reason string `json:"reason,omitempty"`
	// Message carries additional operator-facing detail.
	Message string `json:"message,omitempty"`
}

// Ack status labels.
const (
	AckAudioProcessed  = "audio_processed"
	AckVideoSaved      = "video_saved"
	AckVideoProcessing = "video_processing"
	AckProcessing      = "processing"
	AckIgnored         = "ignored"
	AckError           = "error"
)

// Endpoints carries the service-public URLs woven into provider calls and
// persisted records.
type Endpoints struct {
	// CallbackURL is handed to the provider for follow-up webhooks.
	CallbackURL string
	// MediaBaseURL prefixes locally-served asset URLs.
	MediaBaseURL string
	// DomainName is stamped on generated videos.
	DomainName string
}

const lockStripes = 64

// Orchestrator is the pipeline state machine. Given a normalized event
// and the persisted task record it decides which side effects to perform
// (asset download, lyric retrieval, video trigger) and what state to
// persist. Correctness under duplicate and out-of-order delivery relies
// on state-checked transitions and the store's conditional writes, never
// on delivery ordering.
type Orchestrator struct {
	tasks     task.Repository
	fetcher   media.Fetcher
	provider  suno.Client
	endpoints Endpoints
	logger    *slog.Logger

	// locks serializes concurrent deliveries for the same task id so a
	// redelivered callback cannot race its twin between the duplicate
	// check and the side effects. The store re-validates at write time
	// regardless.
	locks [lockStripes]sync.Mutex
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(tasks task.Repository, fetcher media.Fetcher, provider suno.Client, endpoints Endpoints, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		tasks:     tasks,
		fetcher:   fetcher,
		provider:  provider,
		endpoints: endpoints,
		logger:    logger,
	}
}

// Handle runs the state-machine transition for one normalized event and
// returns the acknowledgement body. It never returns an error: every
// internal failure is converted into a descriptive Ack.
func (o *Orchestrator) Handle(ctx context.Context, ev Event) Ack {
	switch e := ev.(type) {
	case AudioCompleted:
		return o.handleAudioCompleted(ctx, e)
	case VideoCompleted:
		return o.handleVideoCompleted(ctx, e)
	case Ignored:
		if e.Reason == ReasonStillProcessing {
			return Ack{Status: AckProcessing, State: e.State}
		}
		return Ack{Status: AckIgnored, Reason: e.Reason}
	default:
		return Ack{Status: AckIgnored, Reason: "unknown_event"}
	}
}

// handleAudioCompleted downloads the audio asset, fetches aligned lyrics
// (best-effort), triggers video generation and upserts the record to
// audio_done. A download failure leaves state unadvanced so a redelivered
// callback retries; a video-trigger failure still persists the audio side
// so no work is silently lost.
func (o *Orchestrator) handleAudioCompleted(ctx context.Context, e AudioCompleted) Ack {
	unlock := o.lockTask(e.TaskID)
	defer unlock()

	cur, err := o.tasks.FindByAudioTaskID(ctx, e.TaskID)
	if err != nil && !errors.Is(err, task.ErrTaskNotFound) {
		o.logger.Error("task lookup failed",
			slog.String("audio_task_id", e.TaskID),
			slog.String("error", err.Error()),
		)
		return Ack{Status: AckError, TaskID: e.TaskID, Message: "task lookup failed"}
	}
	if err == nil && cur.Status.AtLeast(task.StatusAudioDone) {
		o.logger.Info("duplicate audio completion ignored",
			slog.String("audio_task_id", e.TaskID),
			slog.String("status", string(cur.Status)),
		)
		return Ack{Status: AckIgnored, TaskID: e.TaskID, Reason: "already_processed"}
	}

	assetName := e.TaskID + ".mp3"
	if _, err := o.fetcher.Fetch(ctx, e.AudioURL, assetName); err != nil {
		o.logger.Warn("audio download failed",
			slog.String("audio_task_id", e.TaskID),
			slog.String("url", e.AudioURL),
			slog.String("error", err.Error()),
		)
		return Ack{Status: AckIgnored, TaskID: e.TaskID, Reason: "audio_download_failed", Message: err.Error()}
	}

	lyrics := o.fetchLyrics(ctx, e)

	var (
		videoTaskID string
		triggerErr  error
	)
	if e.AudioID != "" {
		resp, err := o.provider.GenerateVideo(ctx, suno.VideoParams{
			TaskID:      e.TaskID,
			AudioID:     e.AudioID,
			CallBackURL: o.endpoints.CallbackURL,
			DomainName:  o.endpoints.DomainName,
		})
		if err != nil {
			// Persist the audio side anyway: a record stuck in audio_done
			// with no video task id is the operator-visible failure mode.
			triggerErr = err
			o.logger.Error("video trigger failed",
				slog.String("audio_task_id", e.TaskID),
				slog.String("audio_id", e.AudioID),
				slog.String("error", err.Error()),
			)
		} else {
			videoTaskID = resp.TaskID
			o.logger.Info("video generation triggered",
				slog.String("audio_task_id", e.TaskID),
				slog.String("video_task_id", videoTaskID),
			)
		}
	}

	title := e.Title
	if title == "" {
		title = task.DefaultTitle
	}

	applied, err := o.tasks.CompleteAudio(ctx, task.AudioCompletion{
		AudioTaskID: e.TaskID,
		Title:       title,
		AudioURL:    o.assetURL(assetName),
		Lyrics:      lyrics,
		VideoTaskID: videoTaskID,
	})
	if err != nil {
		o.logger.Error("audio completion upsert failed",
			slog.String("audio_task_id", e.TaskID),
			slog.String("error", err.Error()),
		)
		o.markFailed(ctx, e.TaskID, "failed to persist audio completion: "+err.Error())
		return Ack{Status: AckError, TaskID: e.TaskID, Message: "failed to persist audio completion"}
	}
	if !applied {
		// A concurrent delivery won the write; everything we did was an
		// idempotent overwrite.
		return Ack{Status: AckIgnored, TaskID: e.TaskID, Reason: "already_processed"}
	}

	ack := Ack{Status: AckAudioProcessed, TaskID: e.TaskID, AudioID: e.AudioID, VideoTaskID: videoTaskID}
	switch {
	case triggerErr != nil:
		ack.Message = "video trigger failed: " + triggerErr.Error()
	case e.AudioID == "":
		ack.Message = "no audio id; video generation not triggered"
	}
	return ack
}

// handleVideoCompleted downloads the video asset and advances the
// matching record to done. The asset is saved even for orphan deliveries
// (no matching record); only the record update is skipped.
func (o *Orchestrator) handleVideoCompleted(ctx context.Context, e VideoCompleted) Ack {
	unlock := o.lockTask(e.TaskID)
	defer unlock()

	rec, err := o.tasks.FindByVideoTaskID(ctx, e.TaskID)
	orphan := errors.Is(err, task.ErrTaskNotFound)
	if err != nil && !orphan {
		o.logger.Error("task lookup failed",
			slog.String("video_task_id", e.TaskID),
			slog.String("error", err.Error()),
		)
		return Ack{Status: AckError, TaskID: e.TaskID, Message: "task lookup failed"}
	}
	if err == nil && rec.Status == task.StatusDone {
		o.logger.Info("duplicate video completion ignored",
			slog.String("video_task_id", e.TaskID),
		)
		return Ack{Status: AckIgnored, TaskID: e.TaskID, Reason: "already_done"}
	}

	assetName := e.TaskID + ".mp4"
	if _, err := o.fetcher.Fetch(ctx, e.VideoURL, assetName); err != nil {
		o.logger.Warn("video download failed",
			slog.String("video_task_id", e.TaskID),
			slog.String("url", e.VideoURL),
			slog.String("error", err.Error()),
		)
		return Ack{Status: AckIgnored, TaskID: e.TaskID, Reason: "video_download_failed", Message: err.Error()}
	}

	if orphan {
		o.logger.Warn("orphan video completion",
			slog.String("video_task_id", e.TaskID),
		)
		return Ack{Status: AckVideoSaved, TaskID: e.TaskID, Message: "no matching task record"}
	}

	applied, err := o.tasks.CompleteVideo(ctx, e.TaskID, o.assetURL(assetName))
	if errors.Is(err, task.ErrTaskNotFound) {
		return Ack{Status: AckVideoSaved, TaskID: e.TaskID, Message: "no matching task record"}
	}
	if err != nil {
		o.logger.Error("video completion update failed",
			slog.String("video_task_id", e.TaskID),
			slog.String("error", err.Error()),
		)
		o.markFailed(ctx, rec.AudioTaskID, "failed to persist video completion: "+err.Error())
		return Ack{Status: AckError, TaskID: e.TaskID, Message: "failed to persist video completion"}
	}
	if !applied {
		return Ack{Status: AckIgnored, TaskID: e.TaskID, Reason: "already_done"}
	}

	o.logger.Info("video saved",
		slog.String("video_task_id", e.TaskID),
		slog.String("audio_task_id", rec.AudioTaskID),
	)
	return Ack{Status: AckVideoSaved, TaskID: e.TaskID}
}

// markFailed records the fault on the task for operator visibility.
// Best-effort: the record keeps its prior state if this write fails too.
func (o *Orchestrator) markFailed(ctx context.Context, audioTaskID, msg string) {
	if err := o.tasks.MarkError(ctx, audioTaskID, msg); err != nil {
		o.logger.Warn("failed to record task error",
			slog.String("audio_task_id", audioTaskID),
			slog.String("error", err.Error()),
		)
	}
}

// fetchLyrics retrieves aligned lyrics best-effort: provider failures are
// logged and yield nil so video triggering is never blocked by lyric
// unavailability.
func (o *Orchestrator) fetchLyrics(ctx context.Context, e AudioCompleted) []byte {
	raw, err := o.provider.TimestampedLyrics(ctx, suno.LyricsParams{TaskID: e.TaskID, AudioID: e.AudioID})
	if err != nil {
		o.logger.Warn("lyrics fetch failed",
			slog.String("audio_task_id", e.TaskID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return raw
}

// assetURL returns the locally-served URL for a stored asset.
func (o *Orchestrator) assetURL(name string) string {
	return o.endpoints.MediaBaseURL + "/" + name
}

// lockTask acquires the stripe lock for a task id and returns the
// release function.
func (o *Orchestrator) lockTask(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	m := &o.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
