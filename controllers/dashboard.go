package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/maverickdeepak/mahadev-auto/models"
	"github.com/maverickdeepak/mahadev-auto/services"
	"github.com/maverickdeepak/mahadev-auto/utils"
	log "github.com/sirupsen/logrus"
)

const pendingPaymentsLimit = 1000

type DashboardController struct {
	Records services.RecordLister
	Timeout time.Duration
}

type PendingPaymentsResponse struct {
	Records      []models.ServiceRecord `json:"records"`
	Count        int                    `json:"count"`
	TotalPending float64                `json:"totalPending"`
}

// GetPendingPayments lists every visit with money still owed, largest balance first
func (dc *DashboardController) GetPendingPayments(c *gin.Context) {
	ctx := c.Request.Context()
	if dc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dc.Timeout)
		defer cancel()
	}

	records, err := dc.Records.ListPendingPayments(ctx, pendingPaymentsLimit)
	if err != nil {
		log.WithError(err).Error("Failed to fetch pending payments")
		utils.RespondWithError(c, http.StatusBadGateway, "Error fetching pending payments")
		return
	}

	resp := PendingPaymentsResponse{Records: records, Count: len(records)}
	if resp.Records == nil {
		resp.Records = []models.ServiceRecord{}
	}
	for _, r := range records {
		resp.TotalPending += r.PendingAmount
	}
	c.JSON(http.StatusOK, resp)
}
