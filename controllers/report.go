// controllers/report.go
package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/maverickdeepak/mahadev-auto/analytics"
	"github.com/maverickdeepak/mahadev-auto/models"
	"github.com/maverickdeepak/mahadev-auto/services"
	"github.com/maverickdeepak/mahadev-auto/utils"
	log "github.com/sirupsen/logrus"
)

// ReportController serves the analytics dashboard
type ReportController struct {
	Records services.RecordLister
	Timeout time.Duration
	Now     func() time.Time
}

// AnalyticsResponse is the report for one window plus its growth over the previous one
type AnalyticsResponse struct {
	analytics.Report
	Range           string    `json:"range"`
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
	PreviousRevenue float64   `json:"previousRevenue"`
	RevenueGrowth   float64   `json:"revenueGrowth"`
}

func (rc *ReportController) now() time.Time {
	if rc.Now != nil {
		return rc.Now()
	}
	return time.Now()
}

func (rc *ReportController) GetAnalytics(c *gin.Context) {
	rangeName := c.DefaultQuery("range", utils.DefaultAnalyticsRange)
	from, to, err := utils.RangeWindow(rangeName, rc.now())
	if err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	current, err := rc.list(c.Request.Context(), from, to)
	if err != nil {
		log.WithError(err).Error("Failed to load analytics window")
		utils.RespondWithError(c, http.StatusBadGateway, "Failed to get service records")
		return
	}

	prevFrom, prevTo := utils.PreviousWindow(from, to)
	previous, err := rc.list(c.Request.Context(), prevFrom, prevTo)
	if err != nil {
		log.WithError(err).Error("Failed to load previous analytics window")
		utils.RespondWithError(c, http.StatusBadGateway, "Failed to get previous period records")
		return
	}

	report := analytics.Aggregate(current)
	previousRevenue := analytics.Aggregate(previous).Overview.TotalRevenue

	c.JSON(http.StatusOK, AnalyticsResponse{
		Report:          report,
		Range:           rangeName,
		From:            from,
		To:              to,
		PreviousRevenue: previousRevenue,
		RevenueGrowth:   analytics.GrowthPercentage(report.Overview.TotalRevenue, previousRevenue),
	})
}

func (rc *ReportController) list(ctx context.Context, from, to time.Time) ([]models.ServiceRecord, error) {
	if rc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rc.Timeout)
		defer cancel()
	}
	return rc.Records.ListCreatedBetween(ctx, from, to)
}
