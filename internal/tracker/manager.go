package tracker

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	jsonpatch "github.com/evanphx/json-patch/v5"
	"go.uber.org/zap"

	"github.com/danghamo/convoy/internal/backend"
	"github.com/danghamo/convoy/internal/domain/geo"
	"github.com/danghamo/convoy/internal/domain/session"
	"github.com/danghamo/convoy/internal/domain/shared"
	"github.com/danghamo/convoy/internal/events"
	"github.com/danghamo/convoy/internal/location"
	"github.com/danghamo/convoy/internal/metrics"
	"github.com/danghamo/convoy/internal/routing"
	"github.com/danghamo/convoy/pkg/logger"
)

// Stop reasons recorded on sessions
const (
	ReasonRequested = "requested"
	ReasonReplaced  = "replaced"
	ReasonShutdown  = "shutdown"
)

// ManagerConfig holds the defaults applied to every session
type ManagerConfig struct {
	Interval         time.Duration
	SampleTimeout    time.Duration
	Fallback         geo.Coordinate
	RadiusMeters     float64
	ExitMarginMeters float64
	// PersistTimeout bounds repository, routing and publish calls made
	// from the tick goroutine
	PersistTimeout time.Duration
}

// ShipmentLookup resolves a shipment's pickup and drop coordinates
type ShipmentLookup interface {
	GetShipment(ctx context.Context, shipmentID string) (*backend.Shipment, error)
}

// RoutePlanner estimates arrival time
type RoutePlanner interface {
	ETA(ctx context.Context, from, to geo.Coordinate, now time.Time) (time.Time, routing.Route, error)
}

// EventPublisher publishes tracking events
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Dependencies are the collaborators of a Manager. Shipments, Routes,
// Publisher and Metrics are optional.
type Dependencies struct {
	Locations  location.Source
	Reporter   Reporter
	Repository session.Repository
	Shipments  ShipmentLookup
	Routes     RoutePlanner
	Publisher  EventPublisher
	Metrics    *metrics.Collector
}

// StartRequest asks for a driver to be tracked. Without Target the
// destination comes from the shipment; with neither, no arrival check runs.
type StartRequest struct {
	DriverID         string          `json:"driver_id"`
	ShipmentID       string          `json:"shipment_id,omitempty"`
	Target           *geo.Coordinate `json:"target,omitempty"`
	RadiusMeters     float64         `json:"radius_meters,omitempty"`
	ExitMarginMeters *float64        `json:"exit_margin_meters,omitempty"`
}

// tickState is what the tick observer of one session needs besides the
// snapshot
type tickState struct {
	target   *geo.Coordinate
	etaKnown atomic.Bool
}

type running struct {
	sessionID shared.ID
	driverID  string
	loop      *Loop
	handle    *Handle
}

// Manager supervises one reporting loop per driver and keeps the session
// snapshots current
type Manager struct {
	cfg    ManagerConfig
	deps   Dependencies
	logger *logger.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	byDriver  map[string]*running
	bySession map[shared.ID]*running
	closed    bool
}

// NewManager creates a manager
func NewManager(cfg ManagerConfig, deps Dependencies, log *logger.Logger) (*Manager, error) {
	if deps.Locations == nil {
		return nil, shared.ErrInvalidInput("location source is required")
	}
	if deps.Reporter == nil {
		return nil, shared.ErrInvalidInput("reporter is required")
	}
	if deps.Repository == nil {
		return nil, shared.ErrInvalidInput("session repository is required")
	}
	if cfg.Interval <= 0 {
		return nil, shared.ErrInvalidInput("tracking interval must be positive")
	}
	if cfg.SampleTimeout <= 0 {
		return nil, shared.ErrInvalidInput("sample timeout must be positive")
	}
	if err := cfg.Fallback.Validate(); err != nil {
		return nil, err
	}
	if cfg.RadiusMeters <= 0 {
		cfg.RadiusMeters = geo.DefaultArrivalRadiusMeters
	}
	if cfg.ExitMarginMeters < 0 {
		return nil, shared.ErrInvalidInput("exit margin cannot be negative")
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		deps:      deps,
		logger:    log.WithComponent("session-manager"),
		baseCtx:   ctx,
		cancel:    cancel,
		byDriver:  make(map[string]*running),
		bySession: make(map[shared.ID]*running),
	}, nil
}

// StartSession starts tracking a driver. A running session for the same
// driver is stopped and replaced.
func (m *Manager) StartSession(ctx context.Context, req StartRequest) (*session.Session, error) {
	if req.DriverID == "" {
		return nil, shared.ErrInvalidInput("driver id is required")
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, shared.NewError(shared.KindRejected, domain, "session manager is closed")
	}

	target, phase, err := m.resolveTarget(ctx, req)
	if err != nil {
		return nil, err
	}

	radius := req.RadiusMeters
	if radius <= 0 {
		radius = m.cfg.RadiusMeters
	}
	margin := m.cfg.ExitMarginMeters
	if req.ExitMarginMeters != nil {
		margin = *req.ExitMarginMeters
	}

	sess, err := session.NewSession(req.DriverID, req.ShipmentID, target, radius, margin)
	if err != nil {
		return nil, err
	}
	sess.Phase = string(phase)

	log := m.logger.WithSessionID(sess.ID.String()).WithDriverID(req.DriverID)

	provider, permissions, err := m.deps.Locations.ProviderFor(req.DriverID)
	if err != nil {
		return nil, err
	}
	sampler, err := location.NewSampler(provider, location.SamplerConfig{
		Timeout:  m.cfg.SampleTimeout,
		Fallback: m.cfg.Fallback,
	}, log)
	if err != nil {
		return nil, err
	}

	var fence *geo.Geofence
	if target != nil {
		fence, err = geo.NewGeofence(*target, radius, margin)
		if err != nil {
			return nil, err
		}
	}

	id := sess.ID
	state := &tickState{target: target}
	loop, err := NewLoop(LoopConfig{
		Interval:    m.cfg.Interval,
		Sampler:     sampler,
		Reporter:    m.deps.Reporter,
		Permissions: permissions,
		Geofence:    fence,
		Observer: func(res TickResult) {
			m.handleTick(id, state, res)
		},
	}, log)
	if err != nil {
		return nil, err
	}

	if err := m.deps.Repository.Insert(ctx, sess); err != nil {
		return nil, err
	}

	handle, err := loop.Start(m.baseCtx, req.DriverID)
	if err != nil {
		if delErr := m.deps.Repository.Delete(ctx, id); delErr != nil {
			log.Warn("Failed to remove unstarted session", zap.Error(delErr))
		}
		return nil, err
	}

	r := &running{sessionID: id, driverID: req.DriverID, loop: loop, handle: handle}

	m.mu.Lock()
	prev := m.byDriver[req.DriverID]
	m.byDriver[req.DriverID] = r
	m.bySession[id] = r
	if prev != nil {
		delete(m.bySession, prev.sessionID)
	}
	active := len(m.bySession)
	m.mu.Unlock()

	m.deps.Metrics.SetActiveSessions(active)

	if prev != nil {
		log.Info("Replacing running session", zap.String("previous", prev.sessionID.String()))
		if _, err := m.finish(ctx, prev, ReasonReplaced); err != nil {
			log.Warn("Failed to stop replaced session", zap.Error(err))
		}
	}

	m.publish(ctx, &events.TrackingStarted{
		SessionID:    id.String(),
		DriverID:     sess.DriverID,
		ShipmentID:   sess.ShipmentID,
		Phase:        sess.Phase,
		Target:       sess.Target,
		RadiusMeters: sess.RadiusMeters,
		Timestamp:    sess.StartedAt,
		RequestID:    watermill.NewUUID(),
	})

	log.Info("Session started",
		zap.String("shipment_id", sess.ShipmentID),
		zap.Float64("radius_meters", radius),
		zap.Bool("arrival_check", target != nil))

	return sess.Clone(), nil
}

func (m *Manager) resolveTarget(ctx context.Context, req StartRequest) (*geo.Coordinate, backend.Phase, error) {
	if req.Target != nil {
		if err := req.Target.Validate(); err != nil {
			return nil, "", err
		}
		t := *req.Target
		return &t, "", nil
	}
	if req.ShipmentID == "" || m.deps.Shipments == nil {
		return nil, "", nil
	}

	shipment, err := m.deps.Shipments.GetShipment(ctx, req.ShipmentID)
	if err != nil {
		return nil, "", err
	}
	dest, phase, err := shipment.Destination()
	if err != nil {
		return nil, "", err
	}
	return &dest, phase, nil
}

// StopSession stops a session. Stopping a stopped session returns its
// snapshot without publishing again.
func (m *Manager) StopSession(ctx context.Context, id shared.ID) (*session.Session, error) {
	m.mu.Lock()
	r := m.bySession[id]
	if r != nil {
		delete(m.bySession, id)
		if m.byDriver[r.driverID] == r {
			delete(m.byDriver, r.driverID)
		}
	}
	active := len(m.bySession)
	m.mu.Unlock()

	if r == nil {
		// Already stopped, or left behind by another process
		return m.markStopped(ctx, id, ReasonRequested)
	}

	m.deps.Metrics.SetActiveSessions(active)
	return m.finish(ctx, r, ReasonRequested)
}

func (m *Manager) finish(ctx context.Context, r *running, reason string) (*session.Session, error) {
	r.handle.Stop()
	return m.markStopped(ctx, r.sessionID, reason)
}

func (m *Manager) markStopped(ctx context.Context, id shared.ID, reason string) (*session.Session, error) {
	var (
		snapshot *session.Session
		stopped  bool
	)
	err := m.deps.Repository.FindOneAndUpdate(ctx, id, func(s *session.Session) (*session.Session, error) {
		stopped = s.Stop(reason, time.Now())
		snapshot = s.Clone()
		if !stopped {
			return nil, nil
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	if stopped {
		m.publish(ctx, &events.TrackingStopped{
			SessionID: id.String(),
			DriverID:  snapshot.DriverID,
			Reason:    reason,
			Counters:  snapshot.Counters,
			Timestamp: *snapshot.StoppedAt,
			RequestID: watermill.NewUUID(),
		})
		m.logger.Info("Session stopped",
			zap.String("session_id", id.String()),
			zap.String("reason", reason),
			zap.Int64("reported", snapshot.Counters.Reported),
			zap.Int64("failed", snapshot.Counters.Failed))
	}
	return snapshot, nil
}

// GetSession returns a session snapshot
func (m *Manager) GetSession(ctx context.Context, id shared.ID) (*session.Session, error) {
	return m.deps.Repository.GetByID(ctx, id)
}

// ListSessions returns every stored session
func (m *Manager) ListSessions(ctx context.Context) ([]*session.Session, error) {
	return m.deps.Repository.GetAll(ctx)
}

// ActiveSessions counts running loops in this process
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bySession)
}

// Close stops every running session. The manager accepts no new sessions
// afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	all := make([]*running, 0, len(m.bySession))
	for _, r := range m.bySession {
		all = append(all, r)
	}
	m.bySession = make(map[shared.ID]*running)
	m.byDriver = make(map[string]*running)
	m.mu.Unlock()

	var firstErr error
	for _, r := range all {
		if _, err := m.finish(ctx, r, ReasonShutdown); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.cancel()
	m.deps.Metrics.SetActiveSessions(0)

	m.logger.Info("Session manager closed", zap.Int("stopped", len(all)))
	return firstErr
}

// handleTick runs on the loop goroutine of the session
func (m *Manager) handleTick(id shared.ID, state *tickState, res TickResult) {
	failureKind := ""
	if res.Outcome == OutcomeFailed {
		failureKind = string(shared.KindOf(res.Err))
	}
	sampled := res.Outcome != OutcomeSkipped
	m.deps.Metrics.ObserveTick(string(res.Outcome), sampled && res.Fix.Fallback, failureKind)

	ctx, cancel := context.WithTimeout(m.baseCtx, m.cfg.PersistTimeout)
	defer cancel()

	arrivalChanged := res.Evaluation != nil && res.Evaluation.Changed

	var (
		eta      *time.Time
		route    routing.Route
		snapshot *session.Session
		before   []byte
		after    []byte
	)

	// Refresh the ETA on arrival changes and until the first estimate lands
	if state.target != nil && m.deps.Routes != nil && sampled && !res.Fix.Fallback &&
		(arrivalChanged || !state.etaKnown.Load()) {
		eta, route = m.refreshETA(ctx, id, res.Fix.Coordinate, *state.target)
		if eta != nil {
			state.etaKnown.Store(true)
		}
	}

	err := m.deps.Repository.FindOneAndUpdate(ctx, id, func(s *session.Session) (*session.Session, error) {
		if !s.IsRunning() {
			return nil, nil
		}

		before, _ = json.Marshal(s)
		applyTick(s, res)
		if eta != nil {
			s.ETA = eta
			s.RouteLengthMeters = route.LengthMeters
		}
		after, _ = json.Marshal(s)

		snapshot = s.Clone()
		return s, nil
	})
	if err != nil {
		m.logger.Warn("Failed to persist tick",
			zap.String("session_id", id.String()),
			zap.Error(err))
		return
	}
	if snapshot == nil {
		return
	}

	m.publishTick(ctx, snapshot, res, changes(before, after))

	if arrivalChanged {
		m.deps.Metrics.ObserveArrival(res.Evaluation.Inside)
		m.publish(ctx, &events.ArrivalChanged{
			SessionID:      id.String(),
			DriverID:       snapshot.DriverID,
			ShipmentID:     snapshot.ShipmentID,
			Phase:          snapshot.Phase,
			Arrived:        res.Evaluation.Inside,
			DistanceMeters: res.Evaluation.DistanceMeters,
			ETA:            snapshot.ETA,
			Timestamp:      res.At,
			RequestID:      watermill.NewUUID(),
		})
	}
}

func (m *Manager) refreshETA(ctx context.Context, id shared.ID, from, to geo.Coordinate) (*time.Time, routing.Route) {
	eta, route, err := m.deps.Routes.ETA(ctx, from, to, time.Now())
	if err != nil {
		m.logger.Warn("ETA refresh failed",
			zap.String("session_id", id.String()),
			zap.String("kind", string(shared.KindOf(err))),
			zap.Error(err))
		return nil, routing.Route{}
	}
	return &eta, route
}

func (m *Manager) publishTick(ctx context.Context, s *session.Session, res TickResult, diff map[string]interface{}) {
	switch res.Outcome {
	case OutcomeReported:
		m.publish(ctx, &events.LocationReported{
			SessionID:      s.ID.String(),
			DriverID:       s.DriverID,
			Position:       *s.LastPosition,
			DistanceMeters: s.LastDistanceMeters,
			Changes:        diff,
			Timestamp:      res.At,
			RequestID:      watermill.NewUUID(),
		})
	case OutcomeFailed:
		m.publish(ctx, &events.LocationReportFailed{
			SessionID: s.ID.String(),
			DriverID:  s.DriverID,
			Position:  *s.LastPosition,
			Kind:      s.LastErrorKind,
			Error:     s.LastError,
			Timestamp: res.At,
			RequestID: watermill.NewUUID(),
		})
	}
}

func (m *Manager) publish(ctx context.Context, event any) {
	if m.deps.Publisher == nil {
		return
	}
	if err := m.deps.Publisher.Publish(ctx, event); err != nil {
		m.logger.Warn("Failed to publish event",
			zap.String("event", eventName(event)),
			zap.Error(err))
	}
}

// applyTick folds one tick result into the snapshot
func applyTick(s *session.Session, res TickResult) {
	s.UpdatedAt = res.At

	if res.Outcome == OutcomeSkipped {
		s.Counters.Skipped++
		return
	}

	s.LastPosition = &session.Position{
		Coordinate:     res.Fix.Coordinate,
		AccuracyMeters: res.Fix.AccuracyMeters,
		Timestamp:      res.Fix.Timestamp,
		Fallback:       res.Fix.Fallback,
	}
	if res.Fix.Fallback {
		s.Counters.Fallback++
	}

	switch res.Outcome {
	case OutcomeReported:
		s.Counters.Reported++
		s.LastErrorKind = ""
		s.LastError = ""
	case OutcomeFailed:
		s.Counters.Failed++
		s.LastErrorKind = string(shared.KindOf(res.Err))
		if res.Err != nil {
			s.LastError = res.Err.Error()
		}
	}

	if res.Evaluation != nil {
		d := res.Evaluation.DistanceMeters
		s.LastDistanceMeters = &d
		s.Arrived = res.Evaluation.Inside
	}
}

// changes returns the JSON merge patch between two snapshots
func changes(before, after []byte) map[string]interface{} {
	if len(before) == 0 || len(after) == 0 {
		return nil
	}
	patch, err := jsonpatch.CreateMergePatch(before, after)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(patch, &out); err != nil {
		return nil
	}
	return out
}

func eventName(event any) string {
	switch event.(type) {
	case *events.TrackingStarted:
		return "TrackingStarted"
	case *events.LocationReported:
		return "LocationReported"
	case *events.LocationReportFailed:
		return "LocationReportFailed"
	case *events.ArrivalChanged:
		return "ArrivalChanged"
	case *events.TrackingStopped:
		return "TrackingStopped"
	default:
		return "unknown"
	}
}
