package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/danghamo/convoy/internal/api/jsonrpcx"
	"github.com/danghamo/convoy/internal/api/middleware"
	"github.com/danghamo/convoy/internal/domain/session"
	"github.com/danghamo/convoy/internal/domain/shared"
	"github.com/danghamo/convoy/internal/tracker"
	"github.com/danghamo/convoy/pkg/logger"
)

// SessionService is the part of the session manager the API drives
type SessionService interface {
	StartSession(ctx context.Context, req tracker.StartRequest) (*session.Session, error)
	StopSession(ctx context.Context, id shared.ID) (*session.Session, error)
	GetSession(ctx context.Context, id shared.ID) (*session.Session, error)
	ListSessions(ctx context.Context) ([]*session.Session, error)
}

// TrackingHandler exposes tracking sessions over JSON-RPC
type TrackingHandler struct {
	logger   *logger.Logger
	sessions SessionService
}

// NewTrackingHandler creates a new tracking handler
func NewTrackingHandler(logger *logger.Logger, sessions SessionService) *TrackingHandler {
	return &TrackingHandler{
		logger:   logger.WithComponent("tracking-handler"),
		sessions: sessions,
	}
}

// SessionRequest identifies one session
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// ListSessionsRequest filters the session list
type ListSessionsRequest struct {
	DriverID    string `json:"driver_id,omitempty"`
	RunningOnly bool   `json:"running_only,omitempty"`
}

// ListSessionsResponse is the result of tracking.List
type ListSessionsResponse struct {
	Sessions []*session.Session `json:"sessions"`
	Total    int                `json:"total"`
}

// Start handles POST /api/v1/tracking.Start
func (h *TrackingHandler) Start(w http.ResponseWriter, r *http.Request) {
	var params tracker.StartRequest
	req, ok := decodeCall(r, &params)
	if !ok {
		return
	}

	sess, err := h.sessions.StartSession(r.Context(), params)
	if err != nil {
		h.logger.Warn("Failed to start session",
			zap.String("driverId", params.DriverID),
			zap.Error(err))
		jsonrpcx.WithDomainError(r, req.ID, err)
		return
	}

	operator, _ := middleware.GetOperator(r.Context())
	h.logger.Info("Tracking session started",
		zap.String("sessionId", sess.ID.String()),
		zap.String("driverId", sess.DriverID),
		zap.String("operator", operator))

	jsonrpcx.Success(w, req.ID, sess)
}

// Stop handles POST /api/v1/tracking.Stop
func (h *TrackingHandler) Stop(w http.ResponseWriter, r *http.Request) {
	var params SessionRequest
	req, ok := decodeCall(r, &params)
	if !ok {
		return
	}
	if params.SessionID == "" {
		jsonrpcx.WithError(r, req.ID, jsonrpcx.InvalidParams, "session_id is required")
		return
	}

	sess, err := h.sessions.StopSession(r.Context(), shared.ID(params.SessionID))
	if err != nil {
		jsonrpcx.WithDomainError(r, req.ID, err)
		return
	}

	jsonrpcx.Success(w, req.ID, sess)
}

// Get handles POST /api/v1/tracking.Get
func (h *TrackingHandler) Get(w http.ResponseWriter, r *http.Request) {
	var params SessionRequest
	req, ok := decodeCall(r, &params)
	if !ok {
		return
	}
	if params.SessionID == "" {
		jsonrpcx.WithError(r, req.ID, jsonrpcx.InvalidParams, "session_id is required")
		return
	}

	sess, err := h.sessions.GetSession(r.Context(), shared.ID(params.SessionID))
	if err != nil {
		jsonrpcx.WithDomainError(r, req.ID, err)
		return
	}

	jsonrpcx.Success(w, req.ID, sess)
}

// List handles POST /api/v1/tracking.List
func (h *TrackingHandler) List(w http.ResponseWriter, r *http.Request) {
	var params ListSessionsRequest
	req, ok := decodeCall(r, &params)
	if !ok {
		return
	}

	all, err := h.sessions.ListSessions(r.Context())
	if err != nil {
		jsonrpcx.WithDomainError(r, req.ID, err)
		return
	}

	filtered := make([]*session.Session, 0, len(all))
	for _, s := range all {
		if params.DriverID != "" && s.DriverID != params.DriverID {
			continue
		}
		if params.RunningOnly && !s.IsRunning() {
			continue
		}
		filtered = append(filtered, s)
	}

	jsonrpcx.Success(w, req.ID, ListSessionsResponse{
		Sessions: filtered,
		Total:    len(filtered),
	})
}
