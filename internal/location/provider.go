package location

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danghamo/convoy/internal/domain/geo"
	"github.com/danghamo/convoy/internal/domain/shared"
)

// Fix is one sampled position
type Fix struct {
	Coordinate     geo.Coordinate `json:"coordinate"`
	AccuracyMeters float64        `json:"accuracy_meters"`
	Timestamp      time.Time      `json:"timestamp"`
	// Fallback marks a fix that came from the configured default rather
	// than the location service
	Fallback bool `json:"fallback"`
	// Cause is why the fallback was used
	Cause error `json:"-"`
}

// Provider is a location service that can be asked for the current position
type Provider interface {
	CurrentPosition(ctx context.Context) (Fix, error)
}

// ProviderFunc adapts a function to Provider
type ProviderFunc func(ctx context.Context) (Fix, error)

func (f ProviderFunc) CurrentPosition(ctx context.Context) (Fix, error) {
	return f(ctx)
}

// PermissionChecker reports whether the location permission is granted
type PermissionChecker interface {
	LocationPermitted(ctx context.Context) (bool, error)
}

// AlwaysPermitted is used where no permission model exists
type AlwaysPermitted struct{}

func (AlwaysPermitted) LocationPermitted(context.Context) (bool, error) {
	return true, nil
}

// StaticProvider always reports the same position
type StaticProvider struct {
	Coordinate     geo.Coordinate
	AccuracyMeters float64
}

func (p StaticProvider) CurrentPosition(context.Context) (Fix, error) {
	return Fix{
		Coordinate:     p.Coordinate,
		AccuracyMeters: p.AccuracyMeters,
		Timestamp:      time.Now(),
	}, nil
}

// ReplayProvider walks a fixed list of waypoints, one per call, and stays
// on the last one
type ReplayProvider struct {
	mu        sync.Mutex
	waypoints []geo.Coordinate
	next      int
	loop      bool
}

// NewReplayProvider creates a replay over waypoints. With loop set it
// starts over after the last waypoint.
func NewReplayProvider(waypoints []geo.Coordinate, loop bool) (*ReplayProvider, error) {
	if len(waypoints) == 0 {
		return nil, shared.ErrInvalidInput("replay needs at least one waypoint")
	}
	for _, wp := range waypoints {
		if err := wp.Validate(); err != nil {
			return nil, err
		}
	}
	return &ReplayProvider{waypoints: waypoints, loop: loop}, nil
}

func (p *ReplayProvider) CurrentPosition(context.Context) (Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.waypoints[p.next]
	switch {
	case p.next < len(p.waypoints)-1:
		p.next++
	case p.loop:
		p.next = 0
	}

	return Fix{Coordinate: c, AccuracyMeters: 5, Timestamp: time.Now()}, nil
}

// DeviceProvider holds the latest fix pushed by a device bridge. Fixes
// older than maxAge are treated as unavailable.
type DeviceProvider struct {
	mu      sync.RWMutex
	latest  *Fix
	maxAge  time.Duration
	granted bool
	now     func() time.Time
	used    atomic.Int64 // unix nanos of the last push or read
}

// NewDeviceProvider creates an empty device provider
func NewDeviceProvider(maxAge time.Duration) *DeviceProvider {
	p := &DeviceProvider{maxAge: maxAge, granted: true, now: time.Now}
	p.touch()
	return p
}

func (p *DeviceProvider) touch() {
	p.used.Store(p.now().UnixNano())
}

func (p *DeviceProvider) lastUsed() time.Time {
	return time.Unix(0, p.used.Load())
}

// Push records a fix reported by the device
func (p *DeviceProvider) Push(fix Fix) error {
	if err := fix.Coordinate.Validate(); err != nil {
		return err
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = p.now()
	}
	p.touch()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = &fix
	return nil
}

// SetPermission records the device's location permission state
func (p *DeviceProvider) SetPermission(granted bool) {
	p.touch()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granted = granted
}

func (p *DeviceProvider) LocationPermitted(context.Context) (bool, error) {
	p.touch()
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.granted, nil
}

func (p *DeviceProvider) CurrentPosition(context.Context) (Fix, error) {
	p.touch()
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.granted {
		return Fix{}, shared.NewError(shared.KindPermissionDenied, "location", "location permission revoked")
	}
	if p.latest == nil {
		return Fix{}, shared.NewError(shared.KindLocationUnavailable, "location", "no fix received from device")
	}
	if p.maxAge > 0 && p.now().Sub(p.latest.Timestamp) > p.maxAge {
		return Fix{}, shared.NewError(shared.KindLocationUnavailable, "location", "last fix is older than %s", p.maxAge)
	}
	return *p.latest, nil
}
