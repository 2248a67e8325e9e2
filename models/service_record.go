package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ServiceStatus is the lifecycle state of a single bike-service visit.
type ServiceStatus string

const (
	StatusPending    ServiceStatus = "Pending"
	StatusInProgress ServiceStatus = "In Progress"
	StatusDone       ServiceStatus = "Done"
	StatusDelivered  ServiceStatus = "Delivered"
)

// ServiceStatuses lists every permitted status in workshop order.
var ServiceStatuses = []ServiceStatus{StatusPending, StatusInProgress, StatusDone, StatusDelivered}

// ServiceTypes lists the services offered at intake.
var ServiceTypes = []string{
	"Basic Tune-Up",
	"Full Service",
	"Emergency Repairs",
	"Parts Replacement",
}

// DefaultPaymentMethod is assumed when a payment carries no method.
const DefaultPaymentMethod = "Cash"

// IsValidStatus reports whether s is one of the fixed statuses.
func IsValidStatus(s ServiceStatus) bool {
	for _, status := range ServiceStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsValidServiceType reports whether t is one of the offered service types.
func IsValidServiceType(t string) bool {
	for _, serviceType := range ServiceTypes {
		if t == serviceType {
			return true
		}
	}
	return false
}

// ServiceItem is one billed line on top of the base service cost.
type ServiceItem struct {
	ID       string  `json:"id"`
	ItemName string  `json:"itemName"`
	ItemCost float64 `json:"itemCost"`
}

// ServiceItems is stored as a JSONB array.
type ServiceItems []ServiceItem

func (s ServiceItems) Value() (driver.Value, error) {
	return encodeJSONList(s)
}

func (s *ServiceItems) Scan(value interface{}) error {
	*s = decodeJSONList[ServiceItem](value)
	return nil
}

// Sum adds up every item cost.
func (s ServiceItems) Sum() float64 {
	var total float64
	for _, item := range s {
		total += item.ItemCost
	}
	return total
}

// PaymentEntry is an immutable payment posting.
type PaymentEntry struct {
	ID            string    `json:"id"`
	Amount        float64   `json:"amount"`
	Date          time.Time `json:"date"`
	Notes         string    `json:"notes,omitempty"`
	PaymentMethod string    `json:"paymentMethod,omitempty"`
}

// Method returns the payment method, falling back to cash.
func (p PaymentEntry) Method() string {
	if p.PaymentMethod == "" {
		return DefaultPaymentMethod
	}
	return p.PaymentMethod
}

// PaymentHistory is stored as a JSONB array, append-only.
type PaymentHistory []PaymentEntry

func (p PaymentHistory) Value() (driver.Value, error) {
	return encodeJSONList(p)
}

func (p *PaymentHistory) Scan(value interface{}) error {
	*p = decodeJSONList[PaymentEntry](value)
	return nil
}

// ServiceRecord is one service visit for a bike. Several records may share a
// bike number; together they form that bike's visit history.
type ServiceRecord struct {
	ID uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`

	BikeNumber   string `gorm:"type:varchar(32);index;not null" json:"bikeNumber"`
	CustomerName string `gorm:"not null" json:"customerName"`
	Phone        string `json:"phone"`
	Address      string `json:"address"`
	BikeModel    string `json:"bikeModel"`

	ServiceType  string       `gorm:"not null" json:"serviceType"`
	ServiceCost  float64      `gorm:"type:decimal(10,2);not null;default:0" json:"serviceCost"`
	ServiceItems ServiceItems `gorm:"type:jsonb;not null;default:'[]'" json:"serviceItems"`
	TotalCost    float64      `gorm:"type:decimal(10,2);not null;default:0" json:"totalCost"`

	ServiceStatus       ServiceStatus `gorm:"type:varchar(20);index;not null" json:"serviceStatus"`
	ServiceStartDate    *time.Time    `json:"serviceStartDate"`
	DeliveryDate        *time.Time    `json:"deliveryDate"`
	EstimatedCompletion *time.Time    `json:"estimatedCompletion"`

	AmountPaid     float64        `gorm:"type:decimal(10,2);not null;default:0" json:"amountPaid"`
	PendingAmount  float64        `gorm:"type:decimal(10,2);not null;default:0;index" json:"pendingAmount"`
	PaymentHistory PaymentHistory `gorm:"type:jsonb;not null;default:'[]'" json:"paymentHistory"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *ServiceRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}

// RoundPaise rounds v to the two decimals the money columns hold.
func RoundPaise(v float64) float64 {
	return math.Round(v*100) / 100
}

// InPaise reports whether v has at most two decimals.
func InPaise(v float64) bool {
	return math.Abs(v-RoundPaise(v)) <= 1e-9*math.Max(1, math.Abs(v))
}

// ComputeTotal is the base cost plus every item, in paise.
func ComputeTotal(serviceCost float64, items ServiceItems) float64 {
	return RoundPaise(serviceCost + items.Sum())
}

// ComputePending is the outstanding balance, never negative.
func ComputePending(totalCost, amountPaid float64) float64 {
	return math.Max(0, RoundPaise(totalCost-amountPaid))
}

// Drifted reports whether a derived field disagrees with its inputs.
func (r *ServiceRecord) Drifted() bool {
	return r.TotalCost != ComputeTotal(r.ServiceCost, r.ServiceItems) ||
		r.PendingAmount != ComputePending(r.TotalCost, r.AmountPaid)
}

// IsPostDelivery reports whether p was posted after the bike was handed over.
func (r *ServiceRecord) IsPostDelivery(p PaymentEntry) bool {
	return r.DeliveryDate != nil && p.Date.After(*r.DeliveryDate)
}

// HasItem reports whether an item with the given id exists.
func (r *ServiceRecord) HasItem(id string) bool {
	for _, item := range r.ServiceItems {
		if item.ID == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without touching cached views.
func (r ServiceRecord) Clone() ServiceRecord {
	out := r
	out.ServiceItems = append(ServiceItems{}, r.ServiceItems...)
	out.PaymentHistory = append(PaymentHistory{}, r.PaymentHistory...)
	out.ServiceStartDate = cloneTime(r.ServiceStartDate)
	out.DeliveryDate = cloneTime(r.DeliveryDate)
	out.EstimatedCompletion = cloneTime(r.EstimatedCompletion)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func encodeJSONList[T any](list []T) (driver.Value, error) {
	if list == nil {
		return "[]", nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// decodeJSONList never fails: empty, null or malformed text yields an empty
// list. Text that was stored double-encoded as a JSON string is unwrapped once.
func decodeJSONList[T any](value interface{}) []T {
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return []T{}
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return []T{}
	}

	var out []T
	if err := json.Unmarshal(raw, &out); err == nil {
		if out == nil {
			return []T{}
		}
		return out
	}

	var inner string
	if err := json.Unmarshal(raw, &inner); err != nil {
		return []T{}
	}
	if err := json.Unmarshal([]byte(inner), &out); err != nil || out == nil {
		return []T{}
	}
	return out
}

// Column names used for partial updates.
const (
	ColServiceItems   = "service_items"
	ColTotalCost      = "total_cost"
	ColPendingAmount  = "pending_amount"
	ColAmountPaid     = "amount_paid"
	ColPaymentHistory = "payment_history"
	ColServiceStatus  = "service_status"
	ColDeliveryDate   = "delivery_date"
)
