package server

import (
	"github.com/google/uuid"
	"github.com/xpanvictor/aisly/internal/history"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// AskRequest carries typed or edited question text
type AskRequest struct {
	Text string `json:"text"`
}

// LegendRequest toggles the legend system turn
type LegendRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// TicketResponse identifies a dispatched request
type TicketResponse struct {
	TurnID   uint64    `json:"turn_id"`
	RecordID uuid.UUID `json:"record_id"`
}

// HistoryResponse lists records in display order
type HistoryResponse struct {
	Records []history.Record `json:"records"`
	Count   int              `json:"count"`
}
