package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/maverickdeepak/mahadev-auto/models"
)

// Store is the datastore contract the lifecycle manager needs.
// repository.ServiceRecordRepo satisfies it.
type Store interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.ServiceRecord, error)
	FindByBikeNumber(ctx context.Context, bikeNumber string) ([]models.ServiceRecord, error)
	FindByBikeSuffix(ctx context.Context, suffix string) ([]models.ServiceRecord, error)
	CountByBikeNumber(ctx context.Context, bikeNumber string) (int64, error)
	Create(ctx context.Context, rec *models.ServiceRecord) error
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error
	EachBatch(ctx context.Context, size int, fn func([]models.ServiceRecord) error) error
}

// RecordLister is the read side used by the reporting endpoints.
type RecordLister interface {
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]models.ServiceRecord, error)
	ListPendingPayments(ctx context.Context, limit int) ([]models.ServiceRecord, error)
}

// NotificationLogWriter records every delivery notification attempt.
type NotificationLogWriter interface {
	CreateNotificationLog(ctx context.Context, entry *models.NotificationLog) error
}
