// Package pipeline contains the callback-driven orchestration core: the
// normalizer that classifies raw provider webhooks into a closed event
// set, and the orchestrator that advances the per-task state machine.
package pipeline

// The provider's webhook contract is not self-describing and has drifted
// across integration iterations: field names vary (taskId/task_id,
// state/status, audioUrl/streamAudioUrl) and the "data" body arrives as
// either a single object or a single-element list. Normalize isolates
// all of that into one place so the orchestrator operates on typed events.

// Event is the normalized form of a provider webhook payload.
type Event interface {
	event()
}

// VideoCompleted reports that a video-generation sub-task finished.
type VideoCompleted struct {
	// TaskID is the provider's video task id.
	TaskID string
	// VideoURL is the provider-hosted location of the rendered video.
	VideoURL string
}

// AudioCompleted reports that an audio-generation task finished.
type AudioCompleted struct {
	// TaskID is the provider's audio task id.
	TaskID string
	// AudioID identifies the generated clip within the task.
	AudioID string
	// Title is the track title, possibly empty.
	Title string
	// AudioURL is the provider-hosted location of the audio.
	AudioURL string
}

// Ignored reports a payload that requires no pipeline action.
type Ignored struct {
	// Reason describes why the payload was not actionable.
	Reason string
	// State carries the provider's reported state for intermediate
	// progress notifications.
	State string
}

func (VideoCompleted) event() {}
func (AudioCompleted) event() {}
func (Ignored) event()        {}

// Ignored reasons.
const (
	ReasonNoData            = "no_data"
	ReasonInvalidDataFormat = "invalid_data_format"
	ReasonEmptyItem         = "empty_item"
	ReasonStillProcessing   = "still_processing"
	ReasonNoAudioURL        = "no_audio_url"
	ReasonNoTaskID          = "no_task_id"
)

// stateSucceeded is the provider's success sentinel for audio tasks.
const stateSucceeded = "succeeded"

// Normalize classifies a raw callback payload into exactly one Event.
//
// Video completions are checked first: the same endpoint receives both
// audio and video completions, and the video shape is distinguishable by
// a success code with a direct video URL at the top result level.
func Normalize(payload map[string]any) Event {
	if code, ok := payload["code"].(float64); ok && code == 0 {
		if data, ok := payload["data"].(map[string]any); ok {
			if videoURL := stringField(data, "video_url", "videoUrl"); videoURL != "" {
				return VideoCompleted{
					TaskID:   stringField(data, "task_id", "taskId"),
					VideoURL: videoURL,
				}
			}
		}
	}

	taskID := stringField(payload, "taskId", "task_id")

	raw, ok := payload["data"]
	if !ok || raw == nil {
		return Ignored{Reason: ReasonNoData}
	}

	var item map[string]any
	switch v := raw.(type) {
	case map[string]any:
		item = v
	case []any:
		if len(v) == 0 {
			return Ignored{Reason: ReasonEmptyItem}
		}
		first, ok := v[0].(map[string]any)
		if !ok {
			return Ignored{Reason: ReasonInvalidDataFormat}
		}
		item = first
	default:
		return Ignored{Reason: ReasonInvalidDataFormat}
	}

	// Not an error: the provider posts intermediate progress notifications
	// on the same endpoint.
	state := stringField(item, "state", "status")
	if state != stateSucceeded {
		return Ignored{Reason: ReasonStillProcessing, State: state}
	}

	audioURL := stringField(item, "audioUrl", "streamAudioUrl")
	if audioURL == "" {
		return Ignored{Reason: ReasonNoAudioURL}
	}

	if taskID == "" {
		return Ignored{Reason: ReasonNoTaskID}
	}

	return AudioCompleted{
		TaskID:   taskID,
		AudioID:  stringField(item, "audioId", "audio_id"),
		Title:    stringField(item, "title"),
		AudioURL: audioURL,
	}
}

// stringField returns the first non-empty string value among the given
// keys, tolerating the provider's field-name drift.
func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
