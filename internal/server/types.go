// Package server provides the HTTP surface for the MelodyMind API.
// It includes handlers, middleware, routes, and DTOs separated from
// domain types.
package server

import "encoding/json"

// GenerateRequest is the HTTP request body for creating a music
// generation task.
type GenerateRequest struct {
	// Prompt is the text describing the music to generate.
	Prompt string `json:"prompt" validate:"required"`
	// Style is an optional style description.
	Style string `json:"style,omitempty"`
	// Title is an optional track title.
	Title string `json:"title,omitempty"`
	// Instrumental requests a track without vocals.
	Instrumental bool `json:"instrumental"`
	// CustomMode enables the provider's custom generation mode.
	CustomMode bool `json:"customMode"`
	// Model selects the provider model version. Defaults to V4_5.
	Model string `json:"model,omitempty"`
}

// LyricsRequest is the HTTP request body for fetching aligned lyrics.
type LyricsRequest struct {
	// TaskID is the audio generation task id.
	TaskID string `json:"taskId" validate:"required"`
	// AudioID optionally narrows the request to one generated clip.
	AudioID string `json:"audioId,omitempty"`
}

// VideoRequest is the HTTP request body for manually triggering video
// generation.
type VideoRequest struct {
	// TaskID is the audio generation task id.
	TaskID string `json:"taskId" validate:"required"`
	// AudioID identifies the generated clip to render.
	AudioID string `json:"audioId,omitempty"`
	// CallBackURL overrides the service's own callback URL.
	CallBackURL string `json:"callBackUrl,omitempty"`
	// Author is displayed in the rendered video.
	Author string `json:"author,omitempty"`
	// DomainName is displayed in the rendered video.
	DomainName string `json:"domainName,omitempty"`
}

// StatusResponse is the HTTP response for a task status lookup.
type StatusResponse struct {
	// Title is the track title.
	Title string `json:"title"`
	// AudioURL is the locally-served audio URL, empty until audio completes.
	AudioURL string `json:"audio_url,omitempty"`
	// VideoURL is the locally-served video URL, empty until video completes.
	VideoURL string `json:"video_url,omitempty"`
	// Lyrics is the serialized aligned-lyrics payload.
	Lyrics json.RawMessage `json:"lyrics,omitempty"`
	// Status is the pipeline state.
	Status string `json:"status"`
	// Error contains the last recorded fault, if any.
	Error string `json:"error,omitempty"`
}

// MediaFile describes one downloadable asset.
type MediaFile struct {
	// Filename is the asset name within the media root.
	Filename string `json:"filename"`
	// Size is the file size in bytes.
	Size int64 `json:"size"`
	// URL is the public URL the asset is served at.
	URL string `json:"url"`
}

// MediaListResponse is the HTTP response for the media listing.
type MediaListResponse struct {
	Files []MediaFile `json:"files"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// CallbackURL is the webhook URL handed to the provider.
	CallbackURL string `json:"callback_url"`
}

// InfoResponse is the HTTP response for the root endpoint.
type InfoResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Endpoints map[string]string `json:"endpoints"`
}
