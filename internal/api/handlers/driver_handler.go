package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/danghamo/convoy/internal/api/jsonrpcx"
	"github.com/danghamo/convoy/internal/backend"
	"github.com/danghamo/convoy/internal/domain/geo"
	"github.com/danghamo/convoy/internal/location"
	"github.com/danghamo/convoy/pkg/logger"
)

// DriverBackend looks drivers up in the freight backend
type DriverBackend interface {
	GetDriver(ctx context.Context, driverID string) (*backend.Driver, error)
}

// DeviceSink receives fixes and permission changes from device bridges
type DeviceSink interface {
	Push(driverID string, fix location.Fix) error
	SetPermission(driverID string, granted bool) error
}

// DriverHandler serves driver lookups and the device bridge endpoints
type DriverHandler struct {
	logger  *logger.Logger
	backend DriverBackend
	devices DeviceSink
}

// NewDriverHandler creates a driver handler. devices is nil unless the
// location source is "device".
func NewDriverHandler(logger *logger.Logger, backend DriverBackend, devices DeviceSink) *DriverHandler {
	return &DriverHandler{
		logger:  logger.WithComponent("driver-handler"),
		backend: backend,
		devices: devices,
	}
}

// GetDriverRequest identifies a driver
type GetDriverRequest struct {
	DriverID string `json:"driver_id"`
}

// DriverResponse is a driver with an unusable location left out
type DriverResponse struct {
	ID         string          `json:"id"`
	Name       string          `json:"name,omitempty"`
	ShipmentID string          `json:"shipment_id,omitempty"`
	Location   *geo.Coordinate `json:"location,omitempty"`
}

// PushFixRequest is one position reported by a device bridge
type PushFixRequest struct {
	DriverID       string  `json:"driver_id"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracy_meters,omitempty"`
	// Timestamp in Unix milliseconds; zero means now
	Timestamp int64 `json:"timestamp,omitempty"`
}

// SetPermissionRequest reports the device's location permission state
type SetPermissionRequest struct {
	DriverID string `json:"driver_id"`
	Granted  bool   `json:"granted"`
}

// Get handles POST /api/v1/driver.Get
func (h *DriverHandler) Get(w http.ResponseWriter, r *http.Request) {
	var params GetDriverRequest
	req, ok := decodeCall(r, &params)
	if !ok {
		return
	}

	d, err := h.backend.GetDriver(r.Context(), params.DriverID)
	if err != nil {
		jsonrpcx.WithDomainError(r, req.ID, err)
		return
	}

	jsonrpcx.Success(w, req.ID, DriverResponse{
		ID:         d.ID,
		Name:       d.Name,
		ShipmentID: d.ShipmentID,
		Location:   usable(d.Location),
	})
}

// PushFix handles POST /api/v1/driver.PushFix
func (h *DriverHandler) PushFix(w http.ResponseWriter, r *http.Request) {
	var params PushFixRequest
	req, ok := decodeCall(r, &params)
	if !ok {
		return
	}
	if h.devices == nil {
		jsonrpcx.WithError(r, req.ID, jsonrpcx.MethodNotFound, "Device source is not enabled")
		return
	}

	fix := location.Fix{
		Coordinate:     geo.Coordinate{Latitude: params.Latitude, Longitude: params.Longitude},
		AccuracyMeters: params.AccuracyMeters,
	}
	if params.Timestamp > 0 {
		fix.Timestamp = time.UnixMilli(params.Timestamp)
	}

	if err := h.devices.Push(params.DriverID, fix); err != nil {
		jsonrpcx.WithDomainError(r, req.ID, err)
		return
	}

	jsonrpcx.Success(w, req.ID, map[string]bool{"accepted": true})
}

// SetPermission handles POST /api/v1/driver.SetPermission
func (h *DriverHandler) SetPermission(w http.ResponseWriter, r *http.Request) {
	var params SetPermissionRequest
	req, ok := decodeCall(r, &params)
	if !ok {
		return
	}
	if h.devices == nil {
		jsonrpcx.WithError(r, req.ID, jsonrpcx.MethodNotFound, "Device source is not enabled")
		return
	}

	if err := h.devices.SetPermission(params.DriverID, params.Granted); err != nil {
		jsonrpcx.WithDomainError(r, req.ID, err)
		return
	}

	jsonrpcx.Success(w, req.ID, map[string]bool{"granted": params.Granted})
}
