package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// EventRecord is one processed event.
type EventRecord struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID           string    `gorm:"not null;index" json:"event_id"`
	EventType         string    `gorm:"not null;index" json:"event_type"`
	Source            string    `json:"source"`
	Priority          string    `json:"priority"`
	Category          string    `json:"category"`
	TriggeredCommands string    `json:"triggered_commands"` // comma separated
	Success           bool      `gorm:"not null" json:"success"`
	Error             string    `json:"error,omitempty"`
	ProcessingMS      int64     `json:"processing_ms"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (EventRecord) TableName() string {
	return "event_records"
}

// Commands splits TriggeredCommands back into a slice.
func (r EventRecord) Commands() []string {
	if r.TriggeredCommands == "" {
		return nil
	}
	return strings.Split(r.TriggeredCommands, ",")
}

type EventRecordRepository interface {
	Create(ctx context.Context, record *EventRecord) error
	ListRecent(ctx context.Context, limit int) ([]EventRecord, error)
	ListByType(ctx context.Context, eventType string, limit int) ([]EventRecord, error)
}

type eventRecordRepository struct {
	db *gorm.DB
}

func NewEventRecordRepository(db *gorm.DB) EventRecordRepository {
	return &eventRecordRepository{db: db}
}

// OpenGorm connects gorm to PostgreSQL and migrates the event_records table.
func OpenGorm(dsn string, debug bool) (*gorm.DB, error) {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		CloseGorm(db)
		return nil, fmt.Errorf("failed to migrate event_records: %w", err)
	}
	return db, nil
}

// CloseGorm closes the connection pool behind db. A nil db is a no-op.
func CloseGorm(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB from gorm: %w", err)
	}
	return sqlDB.Close()
}

func (r *eventRecordRepository) Create(ctx context.Context, record *EventRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *eventRecordRepository) ListRecent(ctx context.Context, limit int) ([]EventRecord, error) {
	var records []EventRecord
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(clampLimit(limit)).
		Find(&records).Error
	return records, err
}

func (r *eventRecordRepository) ListByType(ctx context.Context, eventType string, limit int) ([]EventRecord, error) {
	var records []EventRecord
	err := r.db.WithContext(ctx).
		Where("event_type = ?", eventType).
		Order("created_at DESC").
		Limit(clampLimit(limit)).
		Find(&records).Error
	return records, err
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	}
	return limit
}
