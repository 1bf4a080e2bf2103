package journal

import (
	"context"

	"gorm.io/gorm"

	"interview-recorder/constant"
	"interview-recorder/dto"
	"interview-recorder/entities"
)

type noop struct{}

// Noop satisfies Journal for stations that run without local history.
func Noop() Journal {
	return noop{}
}

func (noop) GetDB() *gorm.DB {
	return nil
}

func (noop) SessionStarted(ctx context.Context, remoteSessionId string, title string, mode constant.CaptureMode) error {
	return nil
}

func (noop) SessionFinished(ctx context.Context, remoteSessionId string, outcome string, durationSeconds int) error {
	return nil
}

func (noop) UploadFinished(ctx context.Context, remoteSessionId string, view dto.UploadTaskView, sizeBytes int) error {
	return nil
}

func (noop) RecentSessions(ctx context.Context, limit int) ([]*entities.SessionRecord, error) {
	return nil, nil
}

func (noop) UploadsBySession(ctx context.Context, remoteSessionId string) ([]*entities.UploadRecord, error) {
	return nil, nil
}
