package entities

import (
	"github.com/google/uuid"
	"time"

	"interview-recorder/constant"
)

type UploadRecord struct {
	ID              uuid.UUID             `json:"id"`
	RemoteSessionId string                `json:"remote_session_id"`
	Camera          constant.Camera       `json:"camera"`
	Status          constant.UploadStatus `json:"status"`
	RetryCount      int                   `json:"retry_count"`
	SizeBytes       int                   `json:"size_bytes"`
	RemoteTaskId    string                `json:"remote_task_id"`
	Error           string                `json:"error"`
	CreatedAt       time.Time             `json:"created_at"`
}

func (UploadRecord) TableName() string {
	return "recorder_uploads"
}
