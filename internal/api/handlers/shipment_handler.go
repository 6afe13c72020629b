package handlers

import (
	"context"
	"encoding/base64"
	"net/http"

	"go.uber.org/zap"

	"github.com/danghamo/convoy/internal/api/jsonrpcx"
	"github.com/danghamo/convoy/internal/backend"
	"github.com/danghamo/convoy/internal/domain/geo"
	"github.com/danghamo/convoy/pkg/logger"
)

// ShipmentBackend is the part of the freight backend the shipment endpoints use
type ShipmentBackend interface {
	GetShipment(ctx context.Context, shipmentID string) (*backend.Shipment, error)
	UploadDocument(ctx context.Context, shipmentID string, doc backend.Document) (backend.UploadResult, error)
}

// ShipmentHandler proxies shipment lookups and document uploads
type ShipmentHandler struct {
	logger  *logger.Logger
	backend ShipmentBackend
}

// NewShipmentHandler creates a shipment handler
func NewShipmentHandler(logger *logger.Logger, backend ShipmentBackend) *ShipmentHandler {
	return &ShipmentHandler{
		logger:  logger.WithComponent("shipment-handler"),
		backend: backend,
	}
}

// GetShipmentRequest identifies a shipment
type GetShipmentRequest struct {
	ShipmentID string `json:"shipment_id"`
}

// ShipmentResponse is a shipment with unusable coordinates left out
type ShipmentResponse struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	DriverID    string          `json:"driver_id,omitempty"`
	Pickup      *geo.Coordinate `json:"pickup,omitempty"`
	Drop        *geo.Coordinate `json:"drop,omitempty"`
	Driver      *geo.Coordinate `json:"driver,omitempty"`
	Phase       string          `json:"phase,omitempty"`
	Destination *geo.Coordinate `json:"destination,omitempty"`
}

// UploadDocumentRequest carries a base64 encoded document
type UploadDocumentRequest struct {
	ShipmentID  string `json:"shipment_id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Content     string `json:"content"`
}

// Get handles POST /api/v1/shipment.Get
func (h *ShipmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	var params GetShipmentRequest
	req, ok := decodeCall(r, &params)
	if !ok {
		return
	}

	s, err := h.backend.GetShipment(r.Context(), params.ShipmentID)
	if err != nil {
		jsonrpcx.WithDomainError(r, req.ID, err)
		return
	}

	resp := ShipmentResponse{
		ID:       s.ID,
		Status:   s.Status,
		DriverID: s.DriverID,
		Pickup:   usable(s.Pickup),
		Drop:     usable(s.Drop),
		Driver:   usable(s.Driver),
	}
	if dest, phase, err := s.Destination(); err == nil {
		resp.Phase = string(phase)
		resp.Destination = &dest
	}

	jsonrpcx.Success(w, req.ID, resp)
}

// UploadDocument handles POST /api/v1/shipment.UploadDocument
func (h *ShipmentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	var params UploadDocumentRequest
	req, ok := decodeCall(r, &params)
	if !ok {
		return
	}

	content, err := base64.StdEncoding.DecodeString(params.Content)
	if err != nil {
		jsonrpcx.WithError(r, req.ID, jsonrpcx.InvalidParams, "content must be base64")
		return
	}

	result, err := h.backend.UploadDocument(r.Context(), params.ShipmentID, backend.Document{
		Name:        params.Name,
		ContentType: params.ContentType,
		Content:     content,
	})
	if err != nil {
		h.logger.Warn("Document upload failed",
			zap.String("shipmentId", params.ShipmentID),
			zap.Int("attempts", result.Attempts),
			zap.Error(err))
		jsonrpcx.WithDomainError(r, req.ID, err)
		return
	}

	h.logger.Info("Document uploaded",
		zap.String("shipmentId", params.ShipmentID),
		zap.String("name", params.Name),
		zap.Int("attempts", result.Attempts))

	jsonrpcx.Success(w, req.ID, result)
}

func usable(c geo.Coordinate) *geo.Coordinate {
	if !c.IsValid() {
		return nil
	}
	return &c
}
