package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/convoy/internal/domain/geo"
	"github.com/danghamo/convoy/internal/domain/shared"
	"github.com/danghamo/convoy/internal/location"
	"github.com/danghamo/convoy/pkg/logger"
)

const domain = "tracker"

// Outcome is what happened on one tick
type Outcome string

const (
	OutcomeReported Outcome = "reported"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"
)

// TickResult is the explicit result of one sample+report+proximity cycle.
// Err carries the failure kind (see shared.KindOf); a fallback fix with a
// successful report is still OutcomeReported.
type TickResult struct {
	Identifier string          `json:"identifier"`
	Outcome    Outcome         `json:"outcome"`
	Fix        location.Fix    `json:"fix"`
	Evaluation *geo.Evaluation `json:"evaluation,omitempty"`
	Err        error           `json:"-"`
	At         time.Time       `json:"at"`
}

// Reporter pushes a sampled position to the backend
type Reporter interface {
	ReportLocation(ctx context.Context, identifier string, fix location.Fix) error
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(ctx context.Context, identifier string, fix location.Fix) error

func (f ReporterFunc) ReportLocation(ctx context.Context, identifier string, fix location.Fix) error {
	return f(ctx, identifier, fix)
}

// LoopConfig wires a Loop
type LoopConfig struct {
	Interval    time.Duration
	Sampler     *location.Sampler
	Reporter    Reporter
	Permissions location.PermissionChecker
	// Geofence is optional; without it no proximity check runs
	Geofence *geo.Geofence
	// Observer receives every tick result on the ticking goroutine. It must
	// not call Stop on the handle it observes.
	Observer func(TickResult)
}

// Loop periodically samples a position and reports it. At most one ticker
// is active per Loop and at most one tick is in flight.
type Loop struct {
	cfg    LoopConfig
	logger *logger.Logger

	busy atomic.Bool

	mu      sync.Mutex
	current *Handle
}

// Handle is the owned reference to a running loop returned by Start
type Handle struct {
	owner      *Loop
	identifier string
	startedAt  time.Time
	cancel     context.CancelFunc
	done       chan struct{}
	once       sync.Once
}

// Identifier is the driver or session the handle reports for
func (h *Handle) Identifier() string {
	return h.identifier
}

// StartedAt is when Start returned this handle
func (h *Handle) StartedAt() time.Time {
	return h.startedAt
}

// Done is closed once the ticker goroutine has exited
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Stop cancels the ticker and any in-flight request and waits for the
// ticking goroutine to exit. The owning loop no longer counts the handle as
// running. Calling it more than once is a no-op.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.halt()
	h.owner.release(h)
}

func (h *Handle) halt() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
}

// NewLoop creates a loop
func NewLoop(cfg LoopConfig, log *logger.Logger) (*Loop, error) {
	if cfg.Interval <= 0 {
		return nil, shared.ErrInvalidInput("tracking interval must be positive")
	}
	if cfg.Sampler == nil {
		return nil, shared.ErrInvalidInput("sampler is required")
	}
	if cfg.Reporter == nil {
		return nil, shared.ErrInvalidInput("reporter is required")
	}
	if cfg.Permissions == nil {
		cfg.Permissions = location.AlwaysPermitted{}
	}
	return &Loop{
		cfg:    cfg,
		logger: log.WithComponent("tracking-loop"),
	}, nil
}

// Start begins periodic reporting for identifier. Any handle previously
// returned by this loop is stopped first. The loop runs until the handle is
// stopped or ctx is cancelled.
func (l *Loop) Start(ctx context.Context, identifier string) (*Handle, error) {
	if identifier == "" {
		return nil, shared.ErrInvalidInput("identifier is required")
	}

	granted, err := l.cfg.Permissions.LocationPermitted(ctx)
	if err != nil {
		return nil, shared.WrapError(err, shared.KindPermissionDenied, domain, "location permission check failed")
	}
	if !granted {
		return nil, shared.NewError(shared.KindPermissionDenied, domain, "location permission not granted")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current != nil {
		l.logger.Debug("Replacing running ticker",
			zap.String("previous", l.current.identifier),
			zap.String("identifier", identifier))
		l.current.halt()
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		owner:      l,
		identifier: identifier,
		startedAt:  time.Now(),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	l.current = h

	go l.run(runCtx, h)

	l.logger.Info("Tracking started",
		zap.String("identifier", identifier),
		zap.Duration("interval", l.cfg.Interval))

	return h, nil
}

// Stop stops the active handle, if any. Idempotent.
func (l *Loop) Stop() {
	l.mu.Lock()
	h := l.current
	l.current = nil
	l.mu.Unlock()

	if h != nil {
		h.halt()
		l.logger.Info("Tracking stopped", zap.String("identifier", h.identifier))
	}
}

// release forgets h if it is still the active handle
func (l *Loop) release(h *Handle) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == h {
		l.current = nil
	}
}

// Running reports whether a handle is active
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current != nil
}

// Tick runs one cycle for the active handle outside the ticker schedule.
// It is skipped when another cycle is in flight or the loop is not started.
func (l *Loop) Tick(ctx context.Context) TickResult {
	l.mu.Lock()
	h := l.current
	l.mu.Unlock()

	if h == nil {
		return TickResult{
			Outcome: OutcomeSkipped,
			Err:     shared.NewError(shared.KindInvalidInput, domain, "loop is not started"),
			At:      time.Now(),
		}
	}
	return l.tick(ctx, h.identifier)
}

func (l *Loop) run(ctx context.Context, h *Handle) {
	defer close(h.done)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx, h.identifier)
		}
	}
}

func (l *Loop) tick(ctx context.Context, identifier string) TickResult {
	if !l.busy.CompareAndSwap(false, true) {
		res := TickResult{Identifier: identifier, Outcome: OutcomeSkipped, At: time.Now()}
		l.logger.Debug("Previous tick still in flight, skipping", zap.String("identifier", identifier))
		l.notify(res)
		return res
	}
	defer l.busy.Store(false)

	fix := l.cfg.Sampler.Sample(ctx)
	res := TickResult{
		Identifier: identifier,
		Outcome:    OutcomeReported,
		Fix:        fix,
		At:         time.Now(),
	}

	if err := l.cfg.Reporter.ReportLocation(ctx, identifier, fix); err != nil {
		res.Err = err
		// Stop cancelled the request; nothing was reported and nothing failed
		if ctx.Err() != nil {
			res.Outcome = OutcomeSkipped
			l.notify(res)
			return res
		}
		res.Outcome = OutcomeFailed
		l.logger.Warn("Location report failed",
			zap.String("identifier", identifier),
			zap.String("kind", string(shared.KindOf(err))),
			zap.Error(err))
	}

	// A fallback position says nothing about where the driver is
	if l.cfg.Geofence != nil && !fix.Fallback {
		ev := l.cfg.Geofence.Evaluate(fix.Coordinate)
		res.Evaluation = &ev
		if ev.Changed {
			l.logger.Info("Arrival state changed",
				zap.String("identifier", identifier),
				zap.Bool("arrived", ev.Inside),
				zap.Float64("distance_meters", ev.DistanceMeters))
		}
	}

	l.notify(res)
	return res
}

func (l *Loop) notify(res TickResult) {
	if l.cfg.Observer != nil {
		l.cfg.Observer(res)
	}
}
