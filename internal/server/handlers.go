package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/xpanvictor/aisly/internal/history"
	"github.com/xpanvictor/aisly/internal/session"
	"github.com/xpanvictor/aisly/pkg/io/capture"
)

func (rm *RoutesManager) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, rm.deps.Controller.Status())
}

func (rm *RoutesManager) handleStart(c *gin.Context) {
	err := rm.deps.Controller.Start(c.Request.Context())
	switch {
	case err == nil:
	case errors.Is(err, session.ErrAlreadyListening):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Already listening"})
		return
	case errors.Is(err, capture.ErrDeviceUnavailable):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Capture device unavailable", Details: err.Error()})
		return
	default:
		rm.deps.Logger.Errorf("start listening: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to start listening", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rm.deps.Controller.Status())
}

func (rm *RoutesManager) handleStop(c *gin.Context) {
	if err := rm.deps.Controller.Stop(c.Request.Context()); err != nil {
		rm.deps.Logger.Errorf("stop listening: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to stop listening", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rm.deps.Controller.Status())
}

func (rm *RoutesManager) handleAsk(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request data", Details: err.Error()})
		return
	}

	ticket, err := rm.deps.Controller.Ask(c.Request.Context(), req.Text)
	if err != nil {
		rm.writeSubmitError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, TicketResponse{TurnID: ticket.TurnID, RecordID: ticket.RecordID})
}

func (rm *RoutesManager) handleResend(c *gin.Context) {
	id, ok := parseRecordID(c)
	if !ok {
		return
	}

	var req AskRequest
	// an empty body resends the recorded question
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request data", Details: err.Error()})
			return
		}
	}

	ticket, err := rm.deps.Controller.Resubmit(c.Request.Context(), id, req.Text)
	if err != nil {
		rm.writeSubmitError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, TicketResponse{TurnID: ticket.TurnID, RecordID: ticket.RecordID})
}

func (rm *RoutesManager) writeSubmitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrEmptyRequest):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Request text is empty"})
	case errors.Is(err, history.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Record not found"})
	case errors.Is(err, session.ErrDispatcherClosed):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Shutting down"})
	default:
		rm.deps.Logger.Errorf("submit request: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to send request", Details: err.Error()})
	}
}

func (rm *RoutesManager) handleLegend(c *gin.Context) {
	var req LegendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request data", Details: err.Error()})
		return
	}
	rm.deps.Controller.SetUseLegend(*req.Enabled)
	c.JSON(http.StatusOK, rm.deps.Controller.Status())
}

func (rm *RoutesManager) handleListHistory(c *gin.Context) {
	records, err := rm.deps.Controller.History(c.Request.Context())
	if err != nil {
		rm.deps.Logger.Errorf("list history: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list history", Details: err.Error()})
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	c.JSON(http.StatusOK, HistoryResponse{Records: records, Count: len(records)})
}

func (rm *RoutesManager) handleGetRecord(c *gin.Context) {
	id, ok := parseRecordID(c)
	if !ok {
		return
	}
	rec, err := rm.deps.Controller.Record(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Record not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get record", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (rm *RoutesManager) handleClearHistory(c *gin.Context) {
	if err := rm.deps.Controller.ClearHistory(c.Request.Context()); err != nil {
		rm.deps.Logger.Errorf("clear history: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to clear history", Details: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func parseRecordID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid record id", Details: err.Error()})
		return uuid.Nil, false
	}
	return id, true
}
