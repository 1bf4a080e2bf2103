package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"interview-recorder/config"
	"interview-recorder/constant"
	"interview-recorder/dto"
	"interview-recorder/entities"
)

const (
	OutcomeRecording = "recording"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRetaken   = "retaken"
	OutcomeAbandoned = "abandoned"
)

// Journal keeps a station-local record of sessions and upload outcomes so an
// operator can audit what happened after the fact. Media bytes never touch it.
type Journal interface {
	GetDB() *gorm.DB
	SessionStarted(ctx context.Context, remoteSessionId string, title string, mode constant.CaptureMode) error
	SessionFinished(ctx context.Context, remoteSessionId string, outcome string, durationSeconds int) error
	UploadFinished(ctx context.Context, remoteSessionId string, view dto.UploadTaskView, sizeBytes int) error
	RecentSessions(ctx context.Context, limit int) ([]*entities.SessionRecord, error)
	UploadsBySession(ctx context.Context, remoteSessionId string) ([]*entities.UploadRecord, error)
}

type journal struct {
	db *gorm.DB
}

func NewJournal(cfg *config.Config) (Journal, error) {
	var dialector gorm.Dialector
	switch cfg.Journal.Driver {
	case "postgres":
		if cfg.DB == nil {
			return nil, fmt.Errorf("journal driver postgres requires postgresql_host")
		}
		dialector = postgres.New(postgres.Config{
			Conn: cfg.DB})
	case "", "sqlite":
		dialector = sqlite.Open(cfg.Journal.Path)
	default:
		return nil, fmt.Errorf("unknown journal driver %q", cfg.Journal.Driver)
	}

	gormDB, err := gorm.Open(dialector,
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	if err != nil {
		return nil, err
	}
	err = gormDB.AutoMigrate(&entities.SessionRecord{}, &entities.UploadRecord{})
	if err != nil {
		return nil, err
	}
	return &journal{
		db: gormDB,
	}, nil
}

func (j *journal) GetDB() *gorm.DB {
	return j.db
}

func (j *journal) SessionStarted(ctx context.Context, remoteSessionId string, title string, mode constant.CaptureMode) error {
	record := &entities.SessionRecord{
		ID:              uuid.New(),
		RemoteSessionId: remoteSessionId,
		Title:           title,
		Mode:            mode,
		Outcome:         OutcomeRecording,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	err := j.GetDB().Create(record).Error
	if err != nil {
		return err
	}

	return nil
}

func (j *journal) SessionFinished(ctx context.Context, remoteSessionId string, outcome string, durationSeconds int) error {
	record := &entities.SessionRecord{}
	updates := map[string]interface{}{
		"outcome":          outcome,
		"duration_seconds": durationSeconds,
		"updated_at":       time.Now(),
	}
	err := j.GetDB().Model(record).Where("remote_session_id = ?", remoteSessionId).Updates(updates).Error
	if err != nil {
		return err
	}

	return nil
}

func (j *journal) UploadFinished(ctx context.Context, remoteSessionId string, view dto.UploadTaskView, sizeBytes int) error {
	record := &entities.UploadRecord{
		ID:              uuid.New(),
		RemoteSessionId: remoteSessionId,
		Camera:          view.Camera,
		Status:          view.Status,
		RetryCount:      view.RetryCount,
		SizeBytes:       sizeBytes,
		RemoteTaskId:    view.RemoteTaskId,
		Error:           view.Error,
		CreatedAt:       time.Now(),
	}
	err := j.GetDB().Create(record).Error
	if err != nil {
		return err
	}

	return nil
}

func (j *journal) RecentSessions(ctx context.Context, limit int) ([]*entities.SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []*entities.SessionRecord
	err := j.GetDB().Order("created_at DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (j *journal) UploadsBySession(ctx context.Context, remoteSessionId string) ([]*entities.UploadRecord, error) {
	var records []*entities.UploadRecord
	err := j.GetDB().Where("remote_session_id = ?", remoteSessionId).Order("created_at ASC").Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
