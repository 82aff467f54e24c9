package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/terkoizmy/jobdex/db/kvdb"
	"github.com/terkoizmy/jobdex/logger"
	"github.com/terkoizmy/jobdex/services/index"
)

type RebuildRequest struct {
	Scrape bool `json:"scrape"`
}

type RebuildResponse struct {
	ID string `json:"id"`
}

type RebuildStatusResponse struct {
	ID       string `json:"id"`
	Progress int    `json:"progress"`
}

func SetupRebuild(router *gin.Engine, logger logger.Logger, service *index.Service) {
	router.POST("/rebuild", handleRebuild(service, logger))
	router.GET("/rebuild/:id", handleRebuildStatus(service, logger))

}

func handleRebuild(service *index.Service, logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		request := RebuildRequest{}
		if err := c.ShouldBindJSON(&request); err != nil {
			logger.Warn("could not extract expected body from rebuild request", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusUnprocessableEntity, []string{"failed to extract request body parameters"})
			return
		}

		requestID := uuid.NewString()
		if err := service.Rebuild(requestID, request.Scrape); err != nil {
			if errors.Is(err, index.ErrRebuildInProgress) {
				logger.Warn("rejected rebuild request, another rebuild is already running")
				c.Abort()
				writeResponse(c, nil, http.StatusConflict, []string{err.Error()})
				return
			}
			logger.Error("could not start rebuild", "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusInternalServerError, []string{err.Error()})
			return
		}

		writeResponse(c, RebuildResponse{ID: requestID}, http.StatusAccepted, nil)
	}
}

func handleRebuildStatus(service *index.Service, logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.Param("id")

		progress, err := service.GetStatus(requestID)
		if err != nil {
			if errors.Is(err, kvdb.ErrNotFound) {
				c.Abort()
				writeResponse(c, nil, http.StatusNotFound, []string{"unknown rebuild request"})
				return
			}
			logger.Error("could not get rebuild status", "request_id", requestID, "err", err.Error())
			c.Abort()
			writeResponse(c, nil, http.StatusInternalServerError, []string{err.Error()})
			return
		}

		statusResponse := RebuildStatusResponse{ID: requestID, Progress: progress}
		switch progress {
		case index.ProgressStatusComplete:
			writeResponse(c, statusResponse, http.StatusOK, nil)
		case index.ProgressStatusFailed:
			writeResponse(c, statusResponse, http.StatusInternalServerError, []string{"rebuild failed"})
		default:
			writeResponse(c, statusResponse, http.StatusAccepted, nil)
		}
	}
}
