package suno

import (
	"encoding/json"
	"fmt"
)

// GenerateParams contains the parameters for a music-generation request.
// Field names follow the provider's wire contract.
type GenerateParams struct {
	// Prompt is the text describing the music to generate.
	Prompt string `json:"prompt"`
	// Style is an optional style description.
	Style string `json:"style,omitempty"`
	// Title is an optional track title.
	Title string `json:"title,omitempty"`
	// Instrumental requests a track without vocals.
	Instrumental bool `json:"instrumental"`
	// CustomMode enables the provider's custom generation mode.
	CustomMode bool `json:"customMode"`
	// Model selects the provider model version.
	Model string `json:"model"`
	// CallBackURL is where the provider posts completion webhooks.
	CallBackURL string `json:"callBackUrl"`
}

// LyricsParams identifies the audio whose aligned lyrics are requested.
type LyricsParams struct {
	// TaskID is the audio generation task id.
	TaskID string `json:"taskId"`
	// AudioID optionally narrows the request to one generated clip.
	AudioID string `json:"audioId,omitempty"`
}

// VideoParams contains the parameters for triggering video generation
// from a completed audio task.
type VideoParams struct {
	// TaskID is the audio generation task id.
	TaskID string `json:"taskId"`
	// AudioID identifies the generated clip to render.
	AudioID string `json:"audioId,omitempty"`
	// CallBackURL is where the provider posts the video-completion webhook.
	CallBackURL string `json:"callBackUrl"`
	// Author is displayed in the rendered video.
	Author string `json:"author,omitempty"`
	// DomainName is displayed in the rendered video.
	DomainName string `json:"domainName,omitempty"`
}

// TaskResponse is the parsed result of a task-creating provider call.
// Raw preserves the provider's full response body for passthrough to
// direct callers.
type TaskResponse struct {
	// TaskID is the provider-assigned task id, empty if absent.
	TaskID string
	// Raw is the provider's unmodified response body.
	Raw json.RawMessage
}

// ProviderError is returned for any non-success provider response.
// It carries the upstream status code and body so direct endpoints can
// surface them transparently.
type ProviderError struct {
	// StatusCode is the HTTP status the provider returned.
	StatusCode int
	// Body is the provider's response body.
	Body string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("suno: provider returned status %d: %s", e.StatusCode, e.Body)
}

// taskEnvelope matches the id-bearing part of the provider's
// task-creation responses, tolerating both observed field spellings.
type taskEnvelope struct {
	Data struct {
		TaskID      string `json:"taskId"`
		TaskIDSnake string `json:"task_id"`
	} `json:"data"`
}

// parseTaskID extracts the provider-assigned task id from a raw response
// body. Returns an empty string when no id is present.
func parseTaskID(raw []byte) string {
	var env taskEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	if env.Data.TaskID != "" {
		return env.Data.TaskID
	}
	return env.Data.TaskIDSnake
}
