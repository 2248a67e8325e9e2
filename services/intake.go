package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/maverickdeepak/mahadev-auto/models"
	"github.com/maverickdeepak/mahadev-auto/utils"
	log "github.com/sirupsen/logrus"
)

type IntakeItem struct {
	ItemName string  `json:"itemName"`
	ItemCost float64 `json:"itemCost"`
}

// IntakeRequest is the bike-store intake form.
type IntakeRequest struct {
	BikeNumber          string               `json:"bikeNumber"`
	CustomerName        string               `json:"customerName"`
	Phone               string               `json:"phone"`
	Address             string               `json:"address"`
	BikeModel           string               `json:"bikeModel"`
	ServiceType         string               `json:"serviceType"`
	ServiceCost         float64              `json:"serviceCost"`
	ServiceItems        []IntakeItem         `json:"serviceItems"`
	ServiceStatus       models.ServiceStatus `json:"serviceStatus"`
	ServiceStartDate    *time.Time           `json:"serviceStartDate"`
	DeliveryDate        *time.Time           `json:"deliveryDate"`
	EstimatedCompletion *time.Time           `json:"estimatedCompletion"`
}

type IntakeResult struct {
	Record         *models.ServiceRecord `json:"record"`
	PreviousVisits int64                 `json:"previousVisits"`
}

func (req IntakeRequest) validate() error {
	if NormalizeBikeNumber(req.BikeNumber) == "" {
		return invalid("bikeNumber", "bike number is required")
	}
	if strings.TrimSpace(req.CustomerName) == "" {
		return invalid("customerName", "customer name is required")
	}
	if !utils.ValidatePhone(req.Phone) {
		return invalid("phone", "invalid phone number")
	}
	if !models.IsValidServiceType(req.ServiceType) {
		return invalid("serviceType", fmt.Sprintf("unknown service type %q", req.ServiceType))
	}
	if !nonNegative(req.ServiceCost) {
		return invalid("serviceCost", "service cost cannot be negative")
	}
	if err := checkPaise("serviceCost", req.ServiceCost); err != nil {
		return err
	}
	if !models.IsValidStatus(req.ServiceStatus) {
		return invalid("serviceStatus", fmt.Sprintf("unknown status %q", req.ServiceStatus))
	}
	for i, item := range req.ServiceItems {
		if strings.TrimSpace(item.ItemName) == "" {
			return invalid(fmt.Sprintf("serviceItems[%d].itemName", i), "item name is required")
		}
		if !positive(item.ItemCost) {
			return invalid(fmt.Sprintf("serviceItems[%d].itemCost", i), "item cost must be greater than 0")
		}
		if err := checkPaise(fmt.Sprintf("serviceItems[%d].itemCost", i), item.ItemCost); err != nil {
			return err
		}
	}
	return nil
}

// CreateRecord stores a new visit. The status is whatever the operator chose.
func (m *RecordManager) CreateRecord(ctx context.Context, req IntakeRequest) (*IntakeResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	rec := models.ServiceRecord{
		BikeNumber:          NormalizeBikeNumber(req.BikeNumber),
		CustomerName:        strings.TrimSpace(req.CustomerName),
		Phone:               strings.TrimSpace(req.Phone),
		Address:             strings.TrimSpace(req.Address),
		BikeModel:           strings.TrimSpace(req.BikeModel),
		ServiceType:         req.ServiceType,
		ServiceCost:         req.ServiceCost,
		ServiceItems:        models.ServiceItems{},
		ServiceStatus:       req.ServiceStatus,
		ServiceStartDate:    req.ServiceStartDate,
		DeliveryDate:        req.DeliveryDate,
		EstimatedCompletion: req.EstimatedCompletion,
		PaymentHistory:      models.PaymentHistory{},
	}
	for _, item := range req.ServiceItems {
		rec.ServiceItems = append(rec.ServiceItems, models.ServiceItem{
			ID:       m.newID(),
			ItemName: strings.TrimSpace(item.ItemName),
			ItemCost: item.ItemCost,
		})
	}
	applyDerived(&rec)

	sctx, cancel := m.storeCtx(ctx)
	defer cancel()

	previous, err := m.store.CountByBikeNumber(sctx, rec.BikeNumber)
	if err != nil {
		return nil, &PersistenceError{Op: "count previous visits", Err: err}
	}
	if err := m.store.Create(sctx, &rec); err != nil {
		return nil, &PersistenceError{Op: "create record", Err: err}
	}

	log.WithFields(log.Fields{
		"record_id":       rec.ID,
		"bike_number":     rec.BikeNumber,
		"previous_visits": previous,
	}).Info("Service record created")

	return &IntakeResult{Record: &rec, PreviousVisits: previous}, nil
}

func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
