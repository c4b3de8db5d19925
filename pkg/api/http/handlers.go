package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/reactor/internal/application/orchestrator"
	"github.com/aescanero/reactor/pkg/domain"
	"github.com/aescanero/reactor/pkg/events"
	"github.com/aescanero/reactor/pkg/lifecycle"
	"github.com/aescanero/reactor/pkg/ports"
)

// EmitRequest represents a change event submission
type EmitRequest struct {
	Type    string      `json:"type" binding:"required"`
	Payload interface{} `json:"payload"`
	Source  string      `json:"source"`
}

// SetEnabledRequest toggles processing of a change type
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// ChangeTypeInfo describes one change type
type ChangeTypeInfo struct {
	Type    events.ChangeType `json:"type"`
	Enabled bool              `json:"enabled"`
	Actions []string          `json:"actions"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message},
	})
}

// handleHealth reports ready once the orchestrator is initialized
func (s *Server) handleHealth(c *gin.Context) {
	state := s.orchestrator.State()
	status, code := "healthy", http.StatusOK
	if state != lifecycle.Ready {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks": gin.H{
			"orchestrator":       state.String(),
			"active_generations": s.orchestrator.ActiveGenerations().Get(),
			"pending_events":     s.orchestrator.PendingEvents(),
			"subscriptions":      s.bus.SubscriptionCount(),
		},
	})
}

func (s *Server) handleListChangeTypes(c *gin.Context) {
	types := events.Types()
	out := make([]ChangeTypeInfo, 0, len(types))
	for _, t := range types {
		actions := s.orchestrator.Actions(t)
		if actions == nil {
			actions = []string{}
		}
		out = append(out, ChangeTypeInfo{
			Type:    t,
			Enabled: s.orchestrator.IsEnabled(t),
			Actions: actions,
		})
	}
	c.JSON(http.StatusOK, gin.H{"change_types": out})
}

// handleEmit emits a change event. Its actions run in the background; use
// the wait endpoint to observe them.
func (s *Server) handleEmit(c *gin.Context) {
	var req EmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	source := events.Source(req.Source)
	if source == "" {
		source = events.SourceAPI
	}
	if !source.Valid() {
		abort(c, http.StatusBadRequest, "INVALID_SOURCE", "unknown source: "+req.Source)
		return
	}

	// Handlers must not inherit the request's cancellation.
	ev, err := s.bus.Emit(context.WithoutCancel(c.Request.Context()), events.ChangeType(req.Type), req.Payload, source)
	switch {
	case errors.Is(err, events.ErrUnknownChangeType):
		abort(c, http.StatusBadRequest, "UNKNOWN_CHANGE_TYPE", err.Error())
		return
	case errors.Is(err, events.ErrDebounced):
		abort(c, http.StatusTooManyRequests, "DEBOUNCED", err.Error())
		return
	case err != nil:
		s.logger.Error("failed to emit change", zap.Error(err))
		abort(c, http.StatusInternalServerError, "EMIT_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusAccepted, ev)
}

// handleWait blocks until the running generations of a type settle
func (s *Server) handleWait(c *gin.Context) {
	t, ok := s.changeType(c)
	if !ok {
		return
	}

	var timeout time.Duration
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			abort(c, http.StatusBadRequest, "INVALID_TIMEOUT", err.Error())
			return
		}
		timeout = d
	}

	err := s.orchestrator.WaitForChangeActions(c.Request.Context(), t, timeout)

	var timeoutErr *orchestrator.TimeoutError
	var actionErr *orchestrator.ActionError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"change_type": t, "status": "settled"})
	case errors.As(err, &timeoutErr):
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: ErrorDetail{
			Code:    "TIMEOUT",
			Message: err.Error(),
			Details: gin.H{"pending": timeoutErr.Pending},
		}})
	case errors.As(err, &actionErr):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: ErrorDetail{
			Code:    "ACTION_FAILED",
			Message: err.Error(),
			Details: gin.H{"generation_id": actionErr.GenerationID, "action": actionErr.Action},
		}})
	default:
		abort(c, http.StatusRequestTimeout, "CANCELLED", err.Error())
	}
}

func (s *Server) handleSetEnabled(c *gin.Context) {
	t, ok := s.changeType(c)
	if !ok {
		return
	}

	var req SetEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if *req.Enabled {
		s.orchestrator.EnableChangeType(t)
	} else {
		s.orchestrator.DisableChangeType(t)
	}
	s.logger.Info("change type toggled",
		zap.String("change_type", string(t)),
		zap.Bool("enabled", *req.Enabled))

	c.JSON(http.StatusOK, ChangeTypeInfo{
		Type:    t,
		Enabled: s.orchestrator.IsEnabled(t),
		Actions: s.orchestrator.Actions(t),
	})
}

// handleListGenerations lists the in-memory generation records
func (s *Server) handleListGenerations(c *gin.Context) {
	var t events.ChangeType
	if raw := c.Query("type"); raw != "" {
		parsed, err := events.ParseChangeType(raw)
		if err != nil {
			abort(c, http.StatusBadRequest, "UNKNOWN_CHANGE_TYPE", err.Error())
			return
		}
		t = parsed
	}

	records := s.orchestrator.Records(t)
	if records == nil {
		records = []*domain.GenerationRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"generations": records,
		"total":       len(records),
	})
}

func (s *Server) handleGetGeneration(c *gin.Context) {
	rec, err := s.orchestrator.Record(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, orchestrator.ErrNotFound) || errors.Is(err, ports.ErrNotFound) {
			abort(c, http.StatusNotFound, "NOT_FOUND", "generation not found")
			return
		}
		s.logger.Error("failed to load generation", zap.Error(err))
		abort(c, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	c.JSON(http.StatusOK, rec)
}

// handleRecentEvents returns the newest journaled events, oldest first
func (s *Server) handleRecentEvents(c *gin.Context) {
	if s.journal == nil {
		abort(c, http.StatusNotFound, "NOT_CONFIGURED", "event journal is disabled")
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			abort(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = n
	}

	var t events.ChangeType
	if raw := c.Query("type"); raw != "" {
		parsed, err := events.ParseChangeType(raw)
		if err != nil {
			abort(c, http.StatusBadRequest, "UNKNOWN_CHANGE_TYPE", err.Error())
			return
		}
		t = parsed
	}

	recent := s.journal.Recent(t, limit)
	if recent == nil {
		recent = []events.ChangeEvent{}
	}
	c.JSON(http.StatusOK, gin.H{
		"events": recent,
		"total":  s.journal.Total(),
	})
}

func (s *Server) changeType(c *gin.Context) (events.ChangeType, bool) {
	t, err := events.ParseChangeType(c.Param("type"))
	if err != nil {
		abort(c, http.StatusBadRequest, "UNKNOWN_CHANGE_TYPE", err.Error())
		return "", false
	}
	return t, true
}
