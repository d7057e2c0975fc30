// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

package task

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"gorm.io/gorm"

	"github.com/moneta-ai/moneta/a2a"
)

// statusJSON provides JSON serialization for TaskStatus in database columns.
type statusJSON struct {
	a2a.TaskStatus
}

// Value implements the driver.Valuer interface for database storage.
func (s statusJSON) Value() (driver.Value, error) {
	return json.Marshal(s.TaskStatus)
}

// Scan implements the sql.Scanner interface for database retrieval.
func (s *statusJSON) Scan(value any) error {
	return scanJSON(value, &s.TaskStatus)
}

// messagesJSON provides JSON serialization for []Message in database columns.
type messagesJSON struct {
	Messages []a2a.Message
}

// Value implements the driver.Valuer interface for database storage.
func (m messagesJSON) Value() (driver.Value, error) {
	if m.Messages == nil {
		return nil, nil
	}
	return json.Marshal(m.Messages)
}

// Scan implements the sql.Scanner interface for database retrieval.
func (m *messagesJSON) Scan(value any) error {
	if value == nil {
		m.Messages = nil
		return nil
	}
	return scanJSON(value, &m.Messages)
}

// artifactsJSON provides JSON serialization for []Artifact in database columns.
type artifactsJSON struct {
	Artifacts []a2a.Artifact
}

// Value implements the driver.Valuer interface for database storage.
func (a artifactsJSON) Value() (driver.Value, error) {
	if a.Artifacts == nil {
		return nil, nil
	}
	return json.Marshal(a.Artifacts)
}

// Scan implements the sql.Scanner interface for database retrieval.
func (a *artifactsJSON) Scan(value any) error {
	if value == nil {
		a.Artifacts = nil
		return nil
	}
	return scanJSON(value, &a.Artifacts)
}

// pushConfigJSON provides JSON serialization for PushNotificationConfig in
// database columns.
type pushConfigJSON struct {
	Config *a2a.PushNotificationConfig
}

// Value implements the driver.Valuer interface for database storage.
func (p pushConfigJSON) Value() (driver.Value, error) {
	if p.Config == nil {
		return nil, nil
	}
	return json.Marshal(p.Config)
}

// Scan implements the sql.Scanner interface for database retrieval.
func (p *pushConfigJSON) Scan(value any) error {
	if value == nil {
		p.Config = nil
		return nil
	}
	return scanJSON(value, &p.Config)
}

func scanJSON(value, dst any) error {
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T as JSON column", value)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("cannot unmarshal JSON column: %w", err)
	}
	return nil
}

// taskRecord is the GORM model backing one task row.
type taskRecord struct {
	ID               string         `gorm:"primaryKey;size:64"`
	SessionID        string         `gorm:"size:64;index"`
	State            string         `gorm:"size:16;index"`
	Status           statusJSON     `gorm:"type:json"`
	History          messagesJSON   `gorm:"type:json"`
	Artifacts        artifactsJSON  `gorm:"type:json"`
	PushNotification pushConfigJSON `gorm:"type:json"`
	UpdatedAt        time.Time
}

// TableName returns the table name for the taskRecord.
func (taskRecord) TableName() string {
	return "tasks"
}

func recordFromTask(task *a2a.Task) *taskRecord {
	return &taskRecord{
		ID:               task.ID,
		SessionID:        task.SessionID,
		State:            string(task.Status.State),
		Status:           statusJSON{task.Status},
		History:          messagesJSON{Messages: task.History},
		Artifacts:        artifactsJSON{Artifacts: task.Artifacts},
		PushNotification: pushConfigJSON{Config: task.PushNotification},
		UpdatedAt:        task.UpdatedAt,
	}
}

func (r *taskRecord) toTask() *a2a.Task {
	return &a2a.Task{
		ID:               r.ID,
		SessionID:        r.SessionID,
		Status:           r.Status.TaskStatus,
		History:          r.History.Messages,
		Artifacts:        r.Artifacts.Artifacts,
		PushNotification: r.PushNotification.Config,
		UpdatedAt:        r.UpdatedAt,
	}
}

// DatabaseStore is a database implementation of Store using GORM. A store
// level mutex serializes mutations; tasks are small and contention is per
// process, so a read-modify-write inside a transaction is sufficient.
type DatabaseStore struct {
	mu sync.Mutex
	db *gorm.DB
}

var _ Store = (*DatabaseStore)(nil)

// NewDatabaseStore creates a new DatabaseStore.
func NewDatabaseStore(db *gorm.DB) (*DatabaseStore, error) {
	if db == nil {
		return nil, errors.New("database connection cannot be nil")
	}
	return &DatabaseStore{db: db}, nil
}

// CreateOrGet returns the stored task or creates it in the submitted state.
func (s *DatabaseStore) CreateOrGet(ctx context.Context, id, sessionID string, message a2a.Message) (*a2a.Task, bool, error) {
	if id == "" {
		return nil, false, a2a.InvalidParamsError{Msg: "task ID cannot be empty"}
	}
	if err := message.Validate(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var task *a2a.Task
	var created bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record taskRecord
		err := tx.Where("id = ?", id).First(&record).Error
		switch {
		case err == nil:
			task = record.toTask()
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			task = a2a.NewTask(id, sessionID, message)
			created = true
			return tx.Create(recordFromTask(task)).Error
		default:
			return err
		}
	})
	if err != nil {
		return nil, false, fmt.Errorf("create task %s: %w", id, err)
	}
	return task, created, nil
}

// Get retrieves a task snapshot by its ID.
func (s *DatabaseStore) Get(ctx context.Context, taskID string) (*a2a.Task, error) {
	if taskID == "" {
		return nil, a2a.InvalidParamsError{Msg: "task ID cannot be empty"}
	}

	var record taskRecord
	if err := s.db.WithContext(ctx).Where("id = ?", taskID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, a2a.TaskNotFoundError{TaskID: taskID}
		}
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return record.toTask(), nil
}

// Apply atomically mutates a task inside a transaction.
func (s *DatabaseStore) Apply(ctx context.Context, taskID string, mutate func(*a2a.Task) error) (*a2a.Task, error) {
	if taskID == "" {
		return nil, a2a.InvalidParamsError{Msg: "task ID cannot be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var next *a2a.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record taskRecord
		if err := tx.Where("id = ?", taskID).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return a2a.TaskNotFoundError{TaskID: taskID}
			}
			return err
		}

		var err error
		next, err = applyMutation(record.toTask(), mutate)
		if err != nil {
			return err
		}
		return tx.Save(recordFromTask(next)).Error
	})
	if err != nil {
		var protoErr a2a.Error
		if errors.As(err, &protoErr) {
			return nil, err
		}
		return nil, fmt.Errorf("update task %s: %w", taskID, err)
	}
	return next, nil
}

// Initialize migrates the tasks table.
func (s *DatabaseStore) Initialize(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&taskRecord{}); err != nil {
		return fmt.Errorf("migrate tasks table: %w", err)
	}
	return nil
}

// Close cleanly shuts down the database store. The underlying connection is
// owned by the caller.
func (s *DatabaseStore) Close(ctx context.Context) error {
	return nil
}
