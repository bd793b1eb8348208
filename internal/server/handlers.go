package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/melodymind/melodymind-api/internal/pipeline"
	"github.com/melodymind/melodymind-api/internal/storage"
	"github.com/melodymind/melodymind-api/internal/suno"
	"github.com/melodymind/melodymind-api/internal/task"
)

// maxCallbackBody bounds the webhook payload size.
const maxCallbackBody = 1 << 20 // 1 MiB

// defaultModel is the provider model used when the client names none.
const defaultModel = "V4_5"

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	provider           suno.Client
	orch               *pipeline.Orchestrator
	tasks              task.Repository
	files              storage.Store
	endpoints          pipeline.Endpoints
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables detached callback processing.
// When disabled, the callback handler runs the full side-effect chain
// inline and returns its real outcome; used in tests.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(provider suno.Client, orch *pipeline.Orchestrator, tasks task.Repository, files storage.Store, endpoints pipeline.Endpoints, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		provider:           provider,
		orch:               orch,
		tasks:              tasks,
		files:              files,
		endpoints:          endpoints,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true, // Default to enabled
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Info handles GET / requests.
func (h *Handlers) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, InfoResponse{
		Status:  "running",
		Service: "MelodyMind AI Music API",
		Endpoints: map[string]string{
			"generate": "/generate",
			"check":    "/check/{task_id}",
			"lyrics":   "/lyrics",
			"video":    "/video",
			"status":   "/status/{audio_task_id}",
			"media":    "/media",
		},
	})
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		CallbackURL: h.endpoints.CallbackURL,
	})
}

// Generate handles POST /generate requests. It forwards the request to
// the provider with the service's callback URL injected and returns the
// provider's raw creation response.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	model := req.Model
	if model == "" {
		model = defaultModel
	}

	resp, err := h.provider.Generate(r.Context(), suno.GenerateParams{
		Prompt:       req.Prompt,
		Style:        req.Style,
		Title:        req.Title,
		Instrumental: req.Instrumental,
		CustomMode:   req.CustomMode,
		Model:        model,
		CallBackURL:  h.endpoints.CallbackURL,
	})
	if err != nil {
		h.writeUpstreamError(w, err, "generation request failed")
		return
	}

	// Persist the pending record so /status works before the first
	// callback. Best-effort: the audio-completion upsert creates the
	// record if this write is lost.
	if resp.TaskID != "" {
		title := req.Title
		if title == "" {
			title = task.DefaultTitle
		}
		if err := h.tasks.CreatePending(r.Context(), resp.TaskID, title); err != nil {
			h.logger.Warn("failed to persist pending task",
				slog.String("audio_task_id", resp.TaskID),
				slog.String("error", err.Error()),
			)
		}
	}

	h.logger.Info("generation requested",
		slog.String("audio_task_id", resp.TaskID),
	)
	writeRaw(w, http.StatusOK, resp.Raw)
}

// Check handles GET /check/{task_id} requests by proxying the provider's
// status-query endpoint.
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task ID is required", "MISSING_TASK_ID")
		return
	}

	raw, err := h.provider.RecordInfo(r.Context(), taskID)
	if err != nil {
		h.writeUpstreamError(w, err, "status check failed")
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

// Lyrics handles POST /lyrics requests.
func (h *Handlers) Lyrics(w http.ResponseWriter, r *http.Request) {
	var req LyricsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	raw, err := h.provider.TimestampedLyrics(r.Context(), suno.LyricsParams{
		TaskID:  req.TaskID,
		AudioID: req.AudioID,
	})
	if err != nil {
		h.writeUpstreamError(w, err, "lyrics fetch failed")
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

// Video handles POST /video requests for manually triggering video
// generation.
func (h *Handlers) Video(w http.ResponseWriter, r *http.Request) {
	var req VideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	callback := req.CallBackURL
	if callback == "" {
		callback = h.endpoints.CallbackURL
	}
	domain := req.DomainName
	if domain == "" {
		domain = h.endpoints.DomainName
	}

	resp, err := h.provider.GenerateVideo(r.Context(), suno.VideoParams{
		TaskID:      req.TaskID,
		AudioID:     req.AudioID,
		CallBackURL: callback,
		Author:      req.Author,
		DomainName:  domain,
	})
	if err != nil {
		h.writeUpstreamError(w, err, "video generation failed")
		return
	}
	writeRaw(w, http.StatusOK, resp.Raw)
}

// Callback handles POST /callback webhooks from the provider. It always
// acknowledges with HTTP 200: a malformed or not-yet-actionable payload
// must never look like a delivery failure to the provider.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallbackBody)).Decode(&payload); err != nil {
		h.logger.Warn("malformed callback payload",
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusOK, pipeline.Ack{Status: pipeline.AckIgnored, Reason: "invalid_json"})
		return
	}

	ev := pipeline.Normalize(payload)

	if !h.enableAsyncProcess {
		writeJSON(w, http.StatusOK, h.orch.Handle(r.Context(), ev))
		return
	}

	// The provider enforces short webhook response-time limits, so the
	// side-effect chain is dispatched detached and the acknowledgement
	// returns immediately. The detached run is allowed to outlive this
	// request.
	switch e := ev.(type) {
	case pipeline.AudioCompleted:
		go h.runDetached(ev)
		writeJSON(w, http.StatusOK, pipeline.Ack{
			Status:  pipeline.AckAudioProcessed,
			TaskID:  e.TaskID,
			AudioID: e.AudioID,
			Message: "audio processing started",
		})
	case pipeline.VideoCompleted:
		go h.runDetached(ev)
		writeJSON(w, http.StatusOK, pipeline.Ack{
			Status:  pipeline.AckVideoProcessing,
			TaskID:  e.TaskID,
			Message: "video download started",
		})
	default:
		writeJSON(w, http.StatusOK, h.orch.Handle(r.Context(), ev))
	}
}

// runDetached executes one pipeline transition outside the request
// lifecycle. There is no cancellation: an in-flight download or provider
// call completes on its own. The webhook was already acknowledged, so a
// panic here must not take the process down with it.
func (h *Handlers) runDetached(ev pipeline.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("detached pipeline run panicked",
				slog.Any("error", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	ack := h.orch.Handle(context.WithoutCancel(context.Background()), ev)
	h.logger.Info("detached pipeline run finished",
		slog.String("status", ack.Status),
		slog.String("task_id", ack.TaskID),
		slog.String("reason", ack.Reason),
		slog.String("message", ack.Message),
	)
}

// Status handles GET /status/{audio_task_id} requests.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	audioTaskID := r.PathValue("audio_task_id")
	if audioTaskID == "" {
		writeError(w, http.StatusBadRequest, "task ID is required", "MISSING_TASK_ID")
		return
	}

	t, err := h.tasks.FindByAudioTaskID(r.Context(), audioTaskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found", "TASK_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get task",
			slog.String("audio_task_id", audioTaskID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get task", "TASK_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Title:    t.Title,
		AudioURL: t.AudioURL,
		VideoURL: t.VideoURL,
		Lyrics:   json.RawMessage(t.Lyrics),
		Status:   string(t.Status),
		Error:    t.Error,
	})
}

// Media handles GET /media/{filename} requests for previously downloaded
// assets.
func (h *Handlers) Media(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	if filename == "" || filename != filepath.Base(filename) || strings.Contains(filename, "..") {
		writeError(w, http.StatusBadRequest, "invalid filename", "INVALID_FILENAME")
		return
	}

	path := h.files.Path(filename)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "file not found", "FILE_NOT_FOUND")
		return
	}

	http.ServeFile(w, r, path)
}

// MediaList handles GET /media requests.
func (h *Handlers) MediaList(w http.ResponseWriter, r *http.Request) {
	files, err := h.files.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list media",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list media", "MEDIA_LIST_FAILED")
		return
	}

	out := MediaListResponse{Files: make([]MediaFile, 0, len(files))}
	for _, f := range files {
		out.Files = append(out.Files, MediaFile{
			Filename: f.Name,
			Size:     f.Size,
			URL:      h.endpoints.MediaBaseURL + "/" + f.Name,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// writeUpstreamError surfaces a provider failure to the direct caller,
// passing the provider's own status and body through to aid diagnosis.
func (h *Handlers) writeUpstreamError(w http.ResponseWriter, err error, message string) {
	var perr *suno.ProviderError
	if errors.As(err, &perr) {
		h.logger.Warn("provider error",
			slog.Int("status", perr.StatusCode),
			slog.String("body", perr.Body),
		)
		status := perr.StatusCode
		if status < 400 {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, ErrorResponse{Error: perr.Body, Code: "PROVIDER_ERROR"})
		return
	}

	h.logger.Error(message,
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, message, "UPSTREAM_FAILED")
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeRaw writes a provider response body verbatim.
func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Error("failed to write response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
