package location

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/convoy/internal/domain/geo"
	"github.com/danghamo/convoy/internal/domain/shared"
	"github.com/danghamo/convoy/pkg/logger"
)

// SamplerConfig is the fallback policy for a slow or failing location service
type SamplerConfig struct {
	Timeout  time.Duration
	Fallback geo.Coordinate
}

// Sampler asks a Provider for a position with a bounded wait and substitutes
// the fallback coordinate when the provider fails, times out or returns an
// invalid coordinate. Sample never blocks longer than Timeout.
type Sampler struct {
	provider Provider
	cfg      SamplerConfig
	logger   *logger.Logger
}

// NewSampler creates a sampler
func NewSampler(provider Provider, cfg SamplerConfig, log *logger.Logger) (*Sampler, error) {
	if provider == nil {
		return nil, shared.ErrInvalidInput("location provider is required")
	}
	if cfg.Timeout <= 0 {
		return nil, shared.ErrInvalidInput("sample timeout must be positive")
	}
	if err := cfg.Fallback.Validate(); err != nil {
		return nil, err
	}
	return &Sampler{
		provider: provider,
		cfg:      cfg,
		logger:   log.WithComponent("location-sampler"),
	}, nil
}

type sampleResult struct {
	fix Fix
	err error
}

// Sample returns the current position or the fallback
func (s *Sampler) Sample(ctx context.Context) Fix {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	// Buffered so a provider that ignores ctx can still finish and exit
	results := make(chan sampleResult, 1)
	go func() {
		fix, err := s.provider.CurrentPosition(ctx)
		results <- sampleResult{fix: fix, err: err}
	}()

	select {
	case r := <-results:
		if r.err != nil {
			return s.fallback(shared.WrapError(r.err, kindOrUnavailable(r.err), "location", "location service failed"))
		}
		if err := r.fix.Coordinate.Validate(); err != nil {
			return s.fallback(err)
		}
		if r.fix.Timestamp.IsZero() {
			r.fix.Timestamp = time.Now()
		}
		return r.fix
	case <-ctx.Done():
		return s.fallback(shared.WrapError(ctx.Err(), shared.KindLocationUnavailable, "location",
			"no position within %s", s.cfg.Timeout))
	}
}

func (s *Sampler) fallback(cause error) Fix {
	s.logger.Warn("Using fallback location",
		zap.Stringer("fallback", s.cfg.Fallback),
		zap.Error(cause))

	return Fix{
		Coordinate: s.cfg.Fallback,
		Timestamp:  time.Now(),
		Fallback:   true,
		Cause:      cause,
	}
}

func kindOrUnavailable(err error) shared.Kind {
	if k := shared.KindOf(err); k != shared.KindUnknown {
		return k
	}
	return shared.KindLocationUnavailable
}
