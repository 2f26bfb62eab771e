package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PersistenceSink records completed invocation results. Sinks are called
// fire-and-forget; a failing sink never fails the invocation.
type PersistenceSink interface {
	Record(ctx context.Context, kind, invocationID, query string, payload any) error
}

// NopSink discards every record.
type NopSink struct{}

// Record implements PersistenceSink.
func (NopSink) Record(context.Context, string, string, string, any) error { return nil }

// InvocationRecord is the stored row for one pipeline or council result.
// The full result is kept as a JSON payload; the indexed columns exist
// for lookup and retention queries.
type InvocationRecord struct {
	ID           uint   `gorm:"primaryKey"`
	InvocationID string `gorm:"uniqueIndex;size:64"`
	Kind         string `gorm:"index;size:32"`
	Query        string
	Payload      string `gorm:"type:text"`
	CreatedAt    time.Time
}

// GormSink persists invocation records through gorm, against sqlite or
// postgres.
type GormSink struct {
	db *gorm.DB
}

var _ PersistenceSink = (*GormSink)(nil)

// OpenSQLite opens (and creates if needed) a sqlite database. Use
// ":memory:" for tests.
func OpenSQLite(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Discard})
}

// OpenPostgres opens a postgres database from a DSN.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
}

// NewGormSink creates a sink over db and migrates its schema.
func NewGormSink(db *gorm.DB) (*GormSink, error) {
	if err := db.AutoMigrate(&InvocationRecord{}); err != nil {
		return nil, fmt.Errorf("migrate invocation records: %w", err)
	}
	return &GormSink{db: db}, nil
}

// Record implements PersistenceSink.
func (s *GormSink) Record(ctx context.Context, kind, invocationID, query string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	rec := InvocationRecord{
		InvocationID: invocationID,
		Kind:         kind,
		Query:        query,
		Payload:      string(raw),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("store %s record: %w", kind, err)
	}
	return nil
}

// Load fetches one stored record by invocation ID.
func (s *GormSink) Load(ctx context.Context, invocationID string) (*InvocationRecord, error) {
	var rec InvocationRecord
	err := s.db.WithContext(ctx).
		Where("invocation_id = ?", invocationID).
		First(&rec).Error
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", invocationID, err)
	}
	return &rec, nil
}

// Recent returns up to limit records, newest first.
func (s *GormSink) Recent(ctx context.Context, limit int) ([]InvocationRecord, error) {
	var recs []InvocationRecord
	err := s.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return recs, nil
}
