// controllers/record.go
package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/maverickdeepak/mahadev-auto/models"
	"github.com/maverickdeepak/mahadev-auto/services"
	"github.com/maverickdeepak/mahadev-auto/utils"
)

// Lifecycle is implemented by services.RecordManager.
type Lifecycle interface {
	CreateRecord(ctx context.Context, req services.IntakeRequest) (*services.IntakeResult, error)
	Search(ctx context.Context, operator, query string) (*services.SearchResult, error)
	Select(ctx context.Context, operator string, id uuid.UUID) (*models.ServiceRecord, error)
	Desk(operator string) services.DeskView
	SetStatus(ctx context.Context, operator string, id uuid.UUID, status models.ServiceStatus) (*services.Result, error)
	AddServiceItem(ctx context.Context, operator string, id uuid.UUID, itemName string, itemCost float64) (*services.Result, error)
	RemoveServiceItem(ctx context.Context, operator string, id uuid.UUID, itemID string) (*services.Result, error)
	PostPayment(ctx context.Context, operator string, id uuid.UUID, amount float64, method, notes string) (*services.Result, error)
	Recalculate(ctx context.Context, operator string, id uuid.UUID) (*services.Result, error)
	PendingConfirmation(operator string) (*services.Prompt, error)
	Confirm(ctx context.Context, operator, token string) (*services.Result, error)
	Cancel(operator, token string) error
}

type RecordController struct {
	Records Lifecycle
}

type SetStatusInput struct {
	Status models.ServiceStatus `json:"status" binding:"required"`
}

type AddItemInput struct {
	ItemName string  `json:"itemName"`
	ItemCost float64 `json:"itemCost"`
}

type PaymentInput struct {
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"paymentMethod"`
	Notes         string  `json:"notes"`
}

// respondResult sends 202 when the operator still has to confirm.
func respondResult(c *gin.Context, res *services.Result) {
	if res.Confirmation != nil {
		c.JSON(http.StatusAccepted, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CreateRecord handles bike-store intake.
func (rc *RecordController) CreateRecord(c *gin.Context) {
	var input services.IntakeRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	res, err := rc.Records.CreateRecord(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (rc *RecordController) Search(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	res, err := rc.Records.Search(c.Request.Context(), op, c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (rc *RecordController) GetDesk(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rc.Records.Desk(op))
}

func (rc *RecordController) Select(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	id, ok := recordID(c)
	if !ok {
		return
	}
	rec, err := rc.Records.Select(c.Request.Context(), op, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (rc *RecordController) SetStatus(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	id, ok := recordID(c)
	if !ok {
		return
	}
	var input SetStatusInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	res, err := rc.Records.SetStatus(c.Request.Context(), op, id, input.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	respondResult(c, res)
}

func (rc *RecordController) AddItem(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	id, ok := recordID(c)
	if !ok {
		return
	}
	var input AddItemInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	res, err := rc.Records.AddServiceItem(c.Request.Context(), op, id, input.ItemName, input.ItemCost)
	if err != nil {
		respondError(c, err)
		return
	}
	respondResult(c, res)
}

func (rc *RecordController) RemoveItem(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	id, ok := recordID(c)
	if !ok {
		return
	}

	res, err := rc.Records.RemoveServiceItem(c.Request.Context(), op, id, c.Param("itemId"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondResult(c, res)
}

func (rc *RecordController) PostPayment(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	id, ok := recordID(c)
	if !ok {
		return
	}
	var input PaymentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	res, err := rc.Records.PostPayment(c.Request.Context(), op, id, input.Amount, input.PaymentMethod, input.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	respondResult(c, res)
}

func (rc *RecordController) Recalculate(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	id, ok := recordID(c)
	if !ok {
		return
	}
	res, err := rc.Records.Recalculate(c.Request.Context(), op, id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondResult(c, res)
}

func (rc *RecordController) PendingConfirmation(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	p, err := rc.Records.PendingConfirmation(op)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"confirmation": p})
}

func (rc *RecordController) Confirm(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	res, err := rc.Records.Confirm(c.Request.Context(), op, c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondResult(c, res)
}

func (rc *RecordController) Cancel(c *gin.Context) {
	op, ok := operator(c)
	if !ok {
		return
	}
	if err := rc.Records.Cancel(op, c.Param("token")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cancelled"})
}
