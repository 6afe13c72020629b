package location

import (
	"sync"
	"time"

	"github.com/danghamo/convoy/internal/domain/geo"
	"github.com/danghamo/convoy/internal/domain/shared"
)

// Source hands out the location provider and permission checker for a
// driver
type Source interface {
	ProviderFor(driverID string) (Provider, PermissionChecker, error)
}

// StaticSource gives every driver the same fixed position
type StaticSource struct {
	Provider StaticProvider
}

func (s StaticSource) ProviderFor(string) (Provider, PermissionChecker, error) {
	if err := s.Provider.Coordinate.Validate(); err != nil {
		return nil, nil, err
	}
	return s.Provider, AlwaysPermitted{}, nil
}

// ReplaySource gives each driver its own replay of the same waypoints
type ReplaySource struct {
	Waypoints []geo.Coordinate
	Loop      bool
}

func (s ReplaySource) ProviderFor(string) (Provider, PermissionChecker, error) {
	p, err := NewReplayProvider(s.Waypoints, s.Loop)
	if err != nil {
		return nil, nil, err
	}
	return p, AlwaysPermitted{}, nil
}

const (
	// deviceIdleTTL is how long a device may go without pushes or reads
	// before it is forgotten. Running loops read their device every tick.
	deviceIdleTTL = 15 * time.Minute
	maxDevices    = 10000
)

// DeviceRegistry keeps one DeviceProvider per driver, created on first use.
// Devices idle for longer than the idle TTL are evicted, and at most
// maxDevices are tracked.
type DeviceRegistry struct {
	mu        sync.Mutex
	maxAge    time.Duration
	idleTTL   time.Duration
	limit     int
	now       func() time.Time
	lastSweep time.Time
	devices   map[string]*DeviceProvider
}

// NewDeviceRegistry creates an empty registry
func NewDeviceRegistry(maxAge time.Duration) *DeviceRegistry {
	ttl := deviceIdleTTL
	if maxAge > ttl {
		ttl = maxAge
	}
	return &DeviceRegistry{
		maxAge:    maxAge,
		idleTTL:   ttl,
		limit:     maxDevices,
		now:       time.Now,
		lastSweep: time.Now(),
		devices:   make(map[string]*DeviceProvider),
	}
}

func (r *DeviceRegistry) device(driverID string) (*DeviceProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[driverID]; ok {
		return d, nil
	}

	now := r.now()
	if now.Sub(r.lastSweep) > r.idleTTL/4 || len(r.devices) >= r.limit {
		r.sweep(now)
	}
	if len(r.devices) >= r.limit {
		return nil, shared.NewError(shared.KindRejected, "location", "device registry is full (%d drivers)", r.limit)
	}

	d := NewDeviceProvider(r.maxAge)
	d.now = r.now
	d.touch()
	r.devices[driverID] = d
	return d, nil
}

// sweep drops idle devices; r.mu must be held
func (r *DeviceRegistry) sweep(now time.Time) {
	for id, d := range r.devices {
		if now.Sub(d.lastUsed()) > r.idleTTL {
			delete(r.devices, id)
		}
	}
	r.lastSweep = now
}

// Len is the number of tracked devices
func (r *DeviceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

func (r *DeviceRegistry) ProviderFor(driverID string) (Provider, PermissionChecker, error) {
	if driverID == "" {
		return nil, nil, shared.ErrInvalidInput("driver id is required")
	}
	d, err := r.device(driverID)
	if err != nil {
		return nil, nil, err
	}
	return d, d, nil
}

// Push records a fix for driverID
func (r *DeviceRegistry) Push(driverID string, fix Fix) error {
	if driverID == "" {
		return shared.ErrInvalidInput("driver id is required")
	}
	d, err := r.device(driverID)
	if err != nil {
		return err
	}
	return d.Push(fix)
}

// SetPermission records driverID's location permission state
func (r *DeviceRegistry) SetPermission(driverID string, granted bool) error {
	if driverID == "" {
		return shared.ErrInvalidInput("driver id is required")
	}
	d, err := r.device(driverID)
	if err != nil {
		return err
	}
	d.SetPermission(granted)
	return nil
}
