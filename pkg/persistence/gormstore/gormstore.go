// Package gormstore is a PostgreSQL annotation record repository on gorm.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/menta2k/annotation-overlay/pkg/persistence"
)

// AnnotationRecord is the table row of one stored annotation
type AnnotationRecord struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey"`
	InstanceID     string         `gorm:"type:varchar(128);not null;index:idx_annotation_records_instance"`
	AnnotationType string         `gorm:"type:varchar(32);not null"`
	AnnotationData datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (AnnotationRecord) TableName() string {
	return "annotation_records"
}

func toModel(rec persistence.Record) (AnnotationRecord, error) {
	id := uuid.New()
	if rec.ID != "" {
		parsed, err := uuid.Parse(rec.ID)
		if err != nil {
			return AnnotationRecord{}, fmt.Errorf("invalid record id %q: %w", rec.ID, err)
		}
		id = parsed
	}
	return AnnotationRecord{
		ID:             id,
		InstanceID:     rec.InstanceID,
		AnnotationType: rec.AnnotationType,
		AnnotationData: datatypes.JSON(rec.AnnotationData),
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}, nil
}

func toRecord(m AnnotationRecord) persistence.Record {
	return persistence.Record{
		ID:             m.ID.String(),
		InstanceID:     m.InstanceID,
		AnnotationType: m.AnnotationType,
		AnnotationData: string(m.AnnotationData),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// Open connects to PostgreSQL and sizes the connection pool. SQL logging goes
// through l at warn level and above.
func Open(dsn string, l *zap.Logger) (*gorm.DB, error) {
	if l == nil {
		l = zap.NewNop()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.New(
			zap.NewStdLog(l.Named("gorm")),
			logger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
				ParameterizedQueries:      true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// Repository implements persistence.Repository on a gorm connection
type Repository struct {
	db *gorm.DB
}

// New wraps an open connection
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the records table
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&AnnotationRecord{})
}

func (r *Repository) Create(ctx context.Context, rec persistence.Record) (persistence.Record, error) {
	m, err := toModel(rec)
	if err != nil {
		return persistence.Record{}, err
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return persistence.Record{}, fmt.Errorf("failed to create record: %w", err)
	}
	return toRecord(m), nil
}

func (r *Repository) GetByInstanceID(ctx context.Context, instanceID string) ([]persistence.Record, error) {
	var rows []AnnotationRecord
	err := r.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	out := make([]persistence.Record, 0, len(rows))
	for _, m := range rows {
		out = append(out, toRecord(m))
	}
	return out, nil
}

func (r *Repository) Update(ctx context.Context, rec persistence.Record) (persistence.Record, error) {
	m, err := toModel(rec)
	if err != nil {
		return persistence.Record{}, err
	}

	var existing AnnotationRecord
	db := r.db.WithContext(ctx)
	if err := db.First(&existing, "id = ?", m.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return persistence.Record{}, fmt.Errorf("%w: %s", persistence.ErrRecordNotFound, rec.ID)
		}
		return persistence.Record{}, err
	}

	existing.InstanceID = m.InstanceID
	existing.AnnotationType = m.AnnotationType
	existing.AnnotationData = m.AnnotationData
	if err := db.Save(&existing).Error; err != nil {
		return persistence.Record{}, fmt.Errorf("failed to update record %s: %w", rec.ID, err)
	}
	return toRecord(existing), nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: %s", persistence.ErrRecordNotFound, id)
	}
	res := r.db.WithContext(ctx).Delete(&AnnotationRecord{}, "id = ?", parsed)
	if res.Error != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", persistence.ErrRecordNotFound, id)
	}
	return nil
}
