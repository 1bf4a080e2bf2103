package entities

import (
	"github.com/google/uuid"
	"time"

	"interview-recorder/constant"
)

type SessionRecord struct {
	ID              uuid.UUID            `json:"id"`
	RemoteSessionId string               `json:"remote_session_id"`
	Title           string               `json:"title"`
	Mode            constant.CaptureMode `json:"mode"`
	Outcome         string               `json:"outcome"`
	DurationSeconds int                  `json:"duration_seconds"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

func (SessionRecord) TableName() string {
	return "recorder_sessions"
}
