package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maverickdeepak/mahadev-auto/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("record not found")

// ServiceRecordRepo is the Postgres-backed datastore for service records.
type ServiceRecordRepo struct{ DB *gorm.DB }

func NewServiceRecordRepo(db *gorm.DB) *ServiceRecordRepo { return &ServiceRecordRepo{DB: db} }

// FindByID loads a single record.
func (r *ServiceRecordRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.ServiceRecord, error) {
	var rec models.ServiceRecord
	if err := r.DB.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// FindByBikeNumber returns every visit with exactly this bike number, newest first.
func (r *ServiceRecordRepo) FindByBikeNumber(ctx context.Context, bikeNumber string) ([]models.ServiceRecord, error) {
	var recs []models.ServiceRecord
	err := r.DB.WithContext(ctx).
		Where("bike_number = ?", bikeNumber).
		Order("created_at DESC").
		Find(&recs).Error
	return recs, err
}

// FindByBikeSuffix returns every visit whose bike number ends with suffix, newest first.
func (r *ServiceRecordRepo) FindByBikeSuffix(ctx context.Context, suffix string) ([]models.ServiceRecord, error) {
	var recs []models.ServiceRecord
	err := r.DB.WithContext(ctx).
		Where("UPPER(bike_number) LIKE ?", "%"+escapeLike(strings.ToUpper(suffix))).
		Order("created_at DESC").
		Find(&recs).Error
	return recs, err
}

// CountByBikeNumber counts earlier visits for a bike.
func (r *ServiceRecordRepo) CountByBikeNumber(ctx context.Context, bikeNumber string) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.ServiceRecord{}).
		Where("bike_number = ?", bikeNumber).
		Count(&n).Error
	return n, err
}

// ListCreatedBetween returns records created inside [from, to], newest first.
func (r *ServiceRecordRepo) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]models.ServiceRecord, error) {
	var recs []models.ServiceRecord
	err := r.DB.WithContext(ctx).
		Where("created_at >= ? AND created_at <= ?", from, to).
		Order("created_at DESC").
		Find(&recs).Error
	return recs, err
}

// ListPendingPayments returns records with an outstanding balance, largest first.
func (r *ServiceRecordRepo) ListPendingPayments(ctx context.Context, limit int) ([]models.ServiceRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	var recs []models.ServiceRecord
	err := r.DB.WithContext(ctx).
		Where("pending_amount > 0").
		Order("pending_amount DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// Create inserts a new record.
func (r *ServiceRecordRepo) Create(ctx context.Context, rec *models.ServiceRecord) error {
	return r.DB.WithContext(ctx).Create(rec).Error
}

// UpdateFields applies a partial update as a single statement, so every
// derived field in fields lands together or not at all.
func (r *ServiceRecordRepo) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	res := r.DB.WithContext(ctx).Model(&models.ServiceRecord{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// EachBatch walks every record once, in primary key order. FindInBatches
// pages on the key, so no other ordering may be added here.
func (r *ServiceRecordRepo) EachBatch(ctx context.Context, size int, fn func([]models.ServiceRecord) error) error {
	var batch []models.ServiceRecord
	return r.DB.WithContext(ctx).
		FindInBatches(&batch, size, func(tx *gorm.DB, _ int) error {
			return fn(batch)
		}).Error
}

// CreateNotificationLog stores the outcome of a delivery notification.
func (r *ServiceRecordRepo) CreateNotificationLog(ctx context.Context, entry *models.NotificationLog) error {
	return r.DB.WithContext(ctx).Create(entry).Error
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
