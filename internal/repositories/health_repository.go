package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
)

const (
	defaultProbeTimeout = 1500 * time.Millisecond
	maxParallelProbes   = 8
)

// DependencyCheck is one readiness probe. A failing Critical check takes the instance out of
// rotation; any other failure only marks it degraded.
type DependencyCheck struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Check    func(context.Context) error
}

// ProbeOption customises the probe runner.
type ProbeOption func(*probeRunner)

// WithProbeTimeout sets the timeout for checks that do not carry their own.
func WithProbeTimeout(timeout time.Duration) ProbeOption {
	return func(p *probeRunner) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithProbeClock injects the clock used for latency and timestamps.
func WithProbeClock(clock func() time.Time) ProbeOption {
	return func(p *probeRunner) {
		if clock != nil {
			p.now = clock
		}
	}
}

type probeRunner struct {
	checks  []DependencyCheck
	timeout time.Duration
	now     func() time.Time
}

var _ HealthRepository = (*probeRunner)(nil)

// NewProbeRunner validates checks and returns a HealthRepository that runs them concurrently.
// Names must be unique.
func NewProbeRunner(checks []DependencyCheck, opts ...ProbeOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks registered")
	}
	seen := make(map[string]struct{}, len(checks))
	for _, check := range checks {
		name := strings.TrimSpace(check.Name)
		if name == "" {
			return nil, errors.New("health: dependency check without a name")
		}
		if check.Check == nil {
			return nil, fmt.Errorf("health: dependency %q has no check function", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health: dependency %q registered twice", name)
		}
		seen[name] = struct{}{}
	}

	runner := &probeRunner{
		checks:  append([]DependencyCheck(nil), checks...),
		timeout: defaultProbeTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(runner)
		}
	}
	return runner, nil
}

// Collect never returns a probe failure as an error; failures are folded into the report.
func (p *probeRunner) Collect(ctx context.Context) (domain.ReadinessReport, error) {
	if err := ctx.Err(); err != nil {
		return domain.ReadinessReport{}, err
	}

	results := make([]domain.DependencyHealth, len(p.checks))
	var group errgroup.Group
	group.SetLimit(maxParallelProbes)
	for i, check := range p.checks {
		group.Go(func() error {
			results[i] = p.run(ctx, check)
			return nil
		})
	}
	_ = group.Wait()

	return domain.NewReadinessReport(results, p.now().UTC()), nil
}

func (p *probeRunner) run(ctx context.Context, check DependencyCheck) domain.DependencyHealth {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := p.now()
	err := check.Check(probeCtx)
	if err == nil {
		// A check that ignores its context still fails once the deadline passed.
		err = probeCtx.Err()
	}
	finished := p.now()

	result := domain.DependencyHealth{
		Name:      strings.TrimSpace(check.Name),
		Critical:  check.Critical,
		Status:    domain.HealthOK,
		Latency:   finished.Sub(start),
		CheckedAt: finished.UTC(),
	}
	if err == nil {
		return result
	}

	result.Status = domain.HealthDegraded
	if check.Critical {
		result.Status = domain.HealthDown
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result.Error = fmt.Sprintf("timed out after %s", timeout)
	default:
		result.Error = err.Error()
	}
	return result
}
