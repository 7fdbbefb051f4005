package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"localqueue/internal/domain"
)

// taskModel maps a TaskRecord onto the gorm_tasks table. Seq preserves
// insertion order for records created within the same instant.
type taskModel struct {
	Seq          uint       `gorm:"primaryKey;autoIncrement"`
	ID           string     `gorm:"uniqueIndex;size:64;not null"`
	TaskType     string     `gorm:"index;size:128;not null"`
	Status       string     `gorm:"index;size:16;not null"`
	Progress     int        `gorm:"not null;default:0"`
	Parameters   string     `gorm:"type:text;not null"`
	ResultData   *string    `gorm:"type:text"`
	ErrorMessage *string    `gorm:"type:text"`
	RetryOf      *string    `gorm:"size:64"`
	CreatedAt    time.Time  `gorm:"index;not null"`
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

func (taskModel) TableName() string { return "gorm_tasks" }

// GormStore is a TaskStore on any database gorm can drive.
type GormStore struct{ db *gorm.DB }

func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{db: db} }

// AutoMigrate creates or updates the backing table.
func (s *GormStore) AutoMigrate() error { return s.db.AutoMigrate(&taskModel{}) }

func (s *GormStore) Create(ctx context.Context, rec domain.TaskRecord) error {
	m, err := toTaskModel(rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&taskModel{}).Where("id = ?", rec.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return duplicate(rec.ID)
		}
		return tx.Create(&m).Error
	})
}

func (s *GormStore) Get(ctx context.Context, id string) (domain.TaskRecord, error) {
	var m taskModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.TaskRecord{}, notFound(id)
		}
		return domain.TaskRecord{}, err
	}
	return fromTaskModel(m)
}

func (s *GormStore) List(ctx context.Context, f domain.Filter) ([]domain.TaskRecord, error) {
	q := s.db.WithContext(ctx).Model(&taskModel{})
	if f.Status != nil {
		q = q.Where("status = ?", string(*f.Status))
	}
	if f.TaskType != "" {
		q = q.Where("task_type = ?", f.TaskType)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var list []taskModel
	if err := q.Order("created_at DESC").Order("seq DESC").Find(&list).Error; err != nil {
		return nil, err
	}
	out := make([]domain.TaskRecord, 0, len(list))
	for _, m := range list {
		rec, err := fromTaskModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *GormStore) Update(ctx context.Context, id string, p domain.Patch) (domain.TaskRecord, error) {
	var out domain.TaskRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m taskModel
		if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound(id)
			}
			return err
		}
		rec, err := fromTaskModel(m)
		if err != nil {
			return err
		}
		if err := p.Apply(&rec); err != nil {
			return err
		}
		result, err := encodeMap(rec.ResultData)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		err = tx.Model(&taskModel{}).Where("id = ?", id).Updates(map[string]any{
			"status":        string(rec.Status),
			"progress":      rec.Progress,
			"result_data":   result,
			"error_message": rec.ErrorMessage,
			"started_at":    utcPtr(rec.StartedAt),
			"completed_at":  utcPtr(rec.CompletedAt),
		}).Error
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return domain.TaskRecord{}, err
	}
	return out, nil
}

func toTaskModel(r domain.TaskRecord) (taskModel, error) {
	params := r.Parameters
	if params == nil {
		params = map[string]any{}
	}
	p, err := encodeMap(params)
	if err != nil {
		return taskModel{}, fmt.Errorf("encode parameters: %w", err)
	}
	result, err := encodeMap(r.ResultData)
	if err != nil {
		return taskModel{}, fmt.Errorf("encode result: %w", err)
	}
	return taskModel{
		ID:           r.ID,
		TaskType:     r.TaskType,
		Status:       string(r.Status),
		Progress:     r.Progress,
		Parameters:   *p,
		ResultData:   result,
		ErrorMessage: r.ErrorMessage,
		RetryOf:      r.RetryOf,
		CreatedAt:    r.CreatedAt.UTC(),
		StartedAt:    utcPtr(r.StartedAt),
		CompletedAt:  utcPtr(r.CompletedAt),
	}, nil
}

func fromTaskModel(m taskModel) (domain.TaskRecord, error) {
	params, err := decodeMap(&m.Parameters)
	if err != nil {
		return domain.TaskRecord{}, fmt.Errorf("decode parameters of %s: %w", m.ID, err)
	}
	result, err := decodeMap(m.ResultData)
	if err != nil {
		return domain.TaskRecord{}, fmt.Errorf("decode result of %s: %w", m.ID, err)
	}
	return domain.TaskRecord{
		ID:           m.ID,
		TaskType:     m.TaskType,
		Status:       domain.Status(m.Status),
		CreatedAt:    m.CreatedAt,
		StartedAt:    m.StartedAt,
		CompletedAt:  m.CompletedAt,
		Progress:     m.Progress,
		Parameters:   params,
		ResultData:   result,
		ErrorMessage: m.ErrorMessage,
		RetryOf:      m.RetryOf,
	}, nil
}
