package handlers

import (
	"net/http"
	"time"

	"github.com/danghamo/convoy/internal/api/jsonrpcx"
)

// ServerInfo describes how this agent is configured
type ServerInfo struct {
	Version         string `json:"version"`
	Source          string `json:"source"`
	IntervalSeconds int64  `json:"interval_seconds"`
	EventTransport  string `json:"event_transport"`
	ActiveSessions  int    `json:"active_sessions"`
	StartedAt       string `json:"started_at"`
}

// ServerHandler handles server information requests
type ServerHandler struct {
	info   ServerInfo
	active func() int
}

// NewServerHandler creates a server handler. active reports the running
// session count at call time.
func NewServerHandler(version, source string, interval time.Duration, transport string, active func() int) *ServerHandler {
	return &ServerHandler{
		info: ServerInfo{
			Version:         version,
			Source:          source,
			IntervalSeconds: int64(interval / time.Second),
			EventTransport:  transport,
			StartedAt:       time.Now().UTC().Format(time.RFC3339),
		},
		active: active,
	}
}

// Info handles POST /api/v1/server.Info
func (h *ServerHandler) Info(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCall(r, nil)
	if !ok {
		return
	}

	info := h.info
	if h.active != nil {
		info.ActiveSessions = h.active()
	}
	jsonrpcx.Success(w, req.ID, info)
}
