package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/maverickdeepak/mahadev-auto/services"
	"github.com/maverickdeepak/mahadev-auto/utils"
	log "github.com/sirupsen/logrus"
)

// respondError maps the service error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case services.IsValidation(err):
		utils.RespondWithError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrRecordNotFound):
		utils.RespondWithError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrNoPendingConfirmation):
		utils.RespondWithError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrRecordBusy):
		utils.RespondWithError(c, http.StatusConflict, err.Error())
	case services.IsPersistence(err):
		log.WithError(err).WithField("path", c.FullPath()).Error("Datastore call failed")
		utils.RespondWithError(c, http.StatusBadGateway, "Database error, please retry")
	default:
		log.WithError(err).WithField("path", c.FullPath()).Error("Unhandled error")
		utils.RespondWithError(c, http.StatusInternalServerError, "Internal server error")
	}
}

func recordID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid record ID format")
		return uuid.Nil, false
	}
	return id, true
}

func operator(c *gin.Context) (string, bool) {
	op := utils.OperatorID(c)
	if op == "" {
		utils.RespondWithError(c, http.StatusUnauthorized, "Operator not found in context")
		return "", false
	}
	return op, true
}
