package task

import (
	"context"
	"encoding/json"

	"github.com/misaka-danmu/danmu-server/internal/apperr"
	"github.com/misaka-danmu/danmu-server/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists task snapshots across restarts.
type Store interface {
	Load(ctx context.Context) ([]*Task, error)
	Upsert(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id string) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Load(ctx context.Context) ([]*Task, error) {
	var records []model.TaskRecord
	if err := s.db.WithContext(ctx).Order("created_at asc").Find(&records).Error; err != nil {
		return nil, apperr.Store(err, "load task history")
	}
	tasks := make([]*Task, 0, len(records))
	for i := range records {
		tasks = append(tasks, fromRecord(&records[i]))
	}
	return tasks, nil
}

func (s *GormStore) Upsert(ctx context.Context, t *Task) error {
	rec := toRecord(t)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "status", "pausable", "current", "total", "result_summary",
			"error_code", "error_message", "updated_at", "started_at", "finished_at",
		}),
	}).Create(rec).Error
	if err != nil {
		return apperr.Store(err, "save task %s", t.ID)
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&model.TaskRecord{}, "id = ?", id).Error; err != nil {
		return apperr.Store(err, "delete task %s", id)
	}
	return nil
}

func toRecord(t *Task) *model.TaskRecord {
	rec := &model.TaskRecord{
		ID:         t.ID,
		Title:      t.Title,
		Kind:       string(t.Kind),
		Status:     string(t.Status),
		Pausable:   t.Pausable,
		Current:    t.Progress.Current,
		Total:      t.Progress.Total,
		CreatedAt:  t.CreatedAt,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
	}
	if len(t.Payload) > 0 {
		rec.Payload = datatypes.JSON(t.Payload)
	}
	if len(t.ResultSummary) > 0 {
		rec.ResultSummary = datatypes.JSON(t.ResultSummary)
	}
	if t.Error != nil {
		rec.ErrorCode = t.Error.Code
		rec.ErrorMessage = t.Error.Message
	}
	return rec
}

func fromRecord(rec *model.TaskRecord) *Task {
	t := &Task{
		ID:         rec.ID,
		Title:      rec.Title,
		Kind:       Kind(rec.Kind),
		Status:     Status(rec.Status),
		Pausable:   rec.Pausable,
		Progress:   Progress{Current: rec.Current, Total: rec.Total},
		CreatedAt:  rec.CreatedAt,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}
	if len(rec.Payload) > 0 {
		t.Payload = json.RawMessage(rec.Payload)
	}
	if len(rec.ResultSummary) > 0 {
		t.ResultSummary = json.RawMessage(rec.ResultSummary)
	}
	if rec.ErrorCode != "" || rec.ErrorMessage != "" {
		t.Error = &apperr.Detail{Code: rec.ErrorCode, Message: rec.ErrorMessage}
	}
	return t
}
