package dto

import (
	"time"

	"interview-recorder/constant"
)

// Requests and responses of the interview backend REST API.

type CreateSessionRequest struct {
	Title  string `json:"title"`
	Status string `json:"status"`
}

type CreateSessionResponse struct {
	SessionId  string            `json:"sessionId"`
	UploadUrls map[string]string `json:"uploadUrls,omitempty"`
	CreatedAt  string            `json:"createdAt"`
}

type UploadResponse struct {
	Url            string                  `json:"url"`
	Camera         constant.Camera         `json:"camera"`
	SessionId      string                  `json:"sessionId"`
	TaskId         string                  `json:"taskId"`
	AnalysisStatus constant.AnalysisStatus `json:"analysisStatus"`
	Message        string                  `json:"message"`
	Warning        string                  `json:"warning,omitempty"`
}

type CompleteSessionRequest struct {
	ActualDuration int            `json:"actualDuration"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type CompleteSessionResponse struct {
	Message                 string `json:"message"`
	InterviewId             string `json:"interviewId"`
	AnalysisId              string `json:"analysisId"`
	EstimatedCompletionTime int    `json:"estimatedCompletionTime"`
}

type AnalysisStatusResponse struct {
	Status      constant.AnalysisStatus `json:"status"`
	Progress    int                     `json:"progress"`
	Message     string                  `json:"message,omitempty"`
	StartedAt   string                  `json:"startedAt,omitempty"`
	CompletedAt string                  `json:"completedAt,omitempty"`
}

// ErrorBody is the backend error envelope, {"error":{"code","message"}}.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Control API payloads.

// InitializeRequest configures capture acquisition. The microphone is on
// unless explicitly disabled.
type InitializeRequest struct {
	Mode       constant.CaptureMode `json:"mode"`
	MicEnabled *bool                `json:"micEnabled,omitempty"`
}

type StartRecordingRequest struct {
	Title string `json:"title,omitempty"`
}

type SetTrackRequest struct {
	Camera  constant.Camera    `json:"camera"`
	Kind    constant.TrackKind `json:"kind"`
	Enabled *bool              `json:"enabled"`
}

type CaptureCapabilities struct {
	CameraCount  int  `json:"cameraCount"`
	MicAvailable bool `json:"micAvailable"`
}

type UploadTaskView struct {
	Camera       constant.Camera       `json:"camera"`
	Status       constant.UploadStatus `json:"status"`
	Progress     int                   `json:"progress"`
	RetryCount   int                   `json:"retryCount"`
	RemoteTaskId string                `json:"remoteTaskId,omitempty"`
	Error        string                `json:"error,omitempty"`
}

// SessionSnapshot is the full externally visible state of the agent,
// served by GET /api/state and streamed over /api/state/stream.
type SessionSnapshot struct {
	State           constant.SessionState `json:"state"`
	Mode            constant.CaptureMode  `json:"mode,omitempty"`
	RemoteSessionId string                `json:"remoteSessionId,omitempty"`
	ElapsedSeconds  int                   `json:"elapsedSeconds"`
	Capabilities    CaptureCapabilities   `json:"capabilities"`
	Uploads         []UploadTaskView      `json:"uploads,omitempty"`
	AnalysisId      string                `json:"analysisId,omitempty"`
	Error           string                `json:"error,omitempty"`
}

type DeviceView struct {
	Id    string `json:"id"`
	Path  string `json:"path"`
	Label string `json:"label"`
}

// SessionEvent is published to the telemetry exchange when enabled.
type SessionEvent struct {
	EventId   string                `json:"eventId"`
	Type      string                `json:"type"`
	SessionId string                `json:"sessionId,omitempty"`
	Camera    constant.Camera       `json:"camera,omitempty"`
	State     constant.SessionState `json:"state,omitempty"`
	Detail    string                `json:"detail,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}
