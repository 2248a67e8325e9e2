package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maverickdeepak/mahadev-auto/models"
	"github.com/maverickdeepak/mahadev-auto/repository"
	"github.com/stretchr/testify/mock"
)

// memStore is an in-memory Store. UpdateFields applies columns the same way
// the Postgres repo does, so tests see what would be persisted.
type memStore struct {
	mu        sync.Mutex
	records   map[uuid.UUID]models.ServiceRecord
	updates   []map[string]interface{}
	failWrite error
	logs      []models.NotificationLog
}

func newMemStore(recs ...models.ServiceRecord) *memStore {
	s := &memStore{records: make(map[uuid.UUID]models.ServiceRecord)}
	for _, r := range recs {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		s.records[r.ID] = r.Clone()
	}
	return s
}

func (s *memStore) get(id uuid.UUID) models.ServiceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].Clone()
}

func (s *memStore) FindByID(_ context.Context, id uuid.UUID) (*models.ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := r.Clone()
	return &c, nil
}

func (s *memStore) FindByBikeNumber(_ context.Context, bike string) ([]models.ServiceRecord, error) {
	return s.filter(func(r models.ServiceRecord) bool { return r.BikeNumber == bike }), nil
}

func (s *memStore) FindByBikeSuffix(_ context.Context, suffix string) ([]models.ServiceRecord, error) {
	return s.filter(func(r models.ServiceRecord) bool {
		return strings.HasSuffix(strings.ToUpper(r.BikeNumber), strings.ToUpper(suffix))
	}), nil
}

func (s *memStore) filter(keep func(models.ServiceRecord) bool) []models.ServiceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ServiceRecord
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	return out
}

func (s *memStore) CountByBikeNumber(ctx context.Context, bike string) (int64, error) {
	recs, _ := s.FindByBikeNumber(ctx, bike)
	return int64(len(recs)), nil
}

func (s *memStore) Create(_ context.Context, rec *models.ServiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return s.failWrite
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *memStore) UpdateFields(_ context.Context, id uuid.UUID, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return s.failWrite
	}
	r, ok := s.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	for col, v := range fields {
		switch col {
		case models.ColServiceItems:
			r.ServiceItems = append(models.ServiceItems{}, v.(models.ServiceItems)...)
		case models.ColTotalCost:
			r.TotalCost = v.(float64)
		case models.ColPendingAmount:
			r.PendingAmount = v.(float64)
		case models.ColAmountPaid:
			r.AmountPaid = v.(float64)
		case models.ColPaymentHistory:
			r.PaymentHistory = append(models.PaymentHistory{}, v.(models.PaymentHistory)...)
		case models.ColServiceStatus:
			r.ServiceStatus = v.(models.ServiceStatus)
		case models.ColDeliveryDate:
			t := v.(time.Time)
			r.DeliveryDate = &t
		default:
			return fmt.Errorf("unexpected column %q", col)
		}
	}
	s.records[id] = r
	s.updates = append(s.updates, fields)
	return nil
}

func (s *memStore) EachBatch(_ context.Context, size int, fn func([]models.ServiceRecord) error) error {
	all := s.filter(func(models.ServiceRecord) bool { return true })
	for start := 0; start < len(all); start += size {
		end := start + size
		if end > len(all) {
			end = len(all)
		}
		if err := fn(all[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) CreateNotificationLog(_ context.Context, entry *models.NotificationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, *entry)
	return nil
}

func (s *memStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) NotifyDelivered(ctx context.Context, n DeliveryNotice) error {
	return m.Called(ctx, n).Error(0)
}

type mockSender struct{ mock.Mock }

func (m *mockSender) Channel() string { return "sms" }

func (m *mockSender) Send(ctx context.Context, to, body string) (string, error) {
	args := m.Called(ctx, to, body)
	return args.String(0), args.Error(1)
}

var errStoreDown = errors.New("connection refused")
