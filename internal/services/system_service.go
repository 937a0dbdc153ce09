package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/repositories"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles the readiness collaborators.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	// CacheTTL reuses the last report for this long. Zero probes on every call.
	CacheTTL time.Duration
}

type systemService struct {
	probes repositories.HealthRepository
	now    func() time.Time
	build  BuildInfo
	ttl    time.Duration

	flight   singleflight.Group
	mu       sync.Mutex
	cached   SystemHealthReport
	cachedAt time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService builds the service behind /readyz. Concurrent callers share one probe run.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = now()
	}
	return &systemService{
		probes: deps.HealthRepository,
		now:    now,
		build:  build,
		ttl:    deps.CacheTTL,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if report, ok := s.fromCache(); ok {
		return report, nil
	}

	value, err, _ := s.flight.Do("readiness", func() (any, error) {
		readiness, err := s.probes.Collect(ctx)
		if err != nil {
			return SystemHealthReport{}, err
		}
		report := SystemHealthReport{
			ReadinessReport: readiness,
			Build:           s.build,
			Uptime:          s.now().Sub(s.build.StartedAt),
		}
		if report.GeneratedAt.IsZero() {
			report.GeneratedAt = s.now().UTC()
		}
		s.mu.Lock()
		s.cached, s.cachedAt = report, s.now()
		s.mu.Unlock()
		return report, nil
	})
	if err != nil {
		return SystemHealthReport{}, err
	}
	return value.(SystemHealthReport), nil
}

func (s *systemService) fromCache() (SystemHealthReport, bool) {
	if s.ttl <= 0 {
		return SystemHealthReport{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cachedAt.IsZero() || s.now().Sub(s.cachedAt) >= s.ttl {
		return SystemHealthReport{}, false
	}
	report := s.cached
	report.Uptime = s.now().Sub(s.build.StartedAt)
	return report, true
}
