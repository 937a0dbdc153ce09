package domain

import (
	"fmt"
	"sort"
	"time"
)

// HealthStatus ranks readiness; a larger value is worse.
type HealthStatus int

const (
	HealthOK HealthStatus = iota
	// HealthDegraded means an optional dependency failed. The instance keeps taking traffic.
	HealthDegraded
	// HealthDown means a critical dependency failed and the instance should be taken out of rotation.
	HealthDown
)

func (s HealthStatus) String() string {
	switch s {
	case HealthOK:
		return "ok"
	case HealthDegraded:
		return "degraded"
	case HealthDown:
		return "down"
	default:
		return fmt.Sprintf("HealthStatus(%d)", int(s))
	}
}

// MarshalText encodes the status by name in JSON payloads.
func (s HealthStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DependencyHealth is the outcome of one readiness probe.
type DependencyHealth struct {
	Name      string
	Critical  bool
	Status    HealthStatus
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// ReadinessReport collects probe outcomes. Status is the worst dependency status.
type ReadinessReport struct {
	Status       HealthStatus
	Dependencies []DependencyHealth
	GeneratedAt  time.Time
}

// NewReadinessReport sorts deps by name and derives the overall status.
func NewReadinessReport(deps []DependencyHealth, at time.Time) ReadinessReport {
	sorted := append([]DependencyHealth(nil), deps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	report := ReadinessReport{Status: HealthOK, Dependencies: sorted, GeneratedAt: at}
	for _, dep := range sorted {
		if dep.Status > report.Status {
			report.Status = dep.Status
		}
	}
	return report
}

// Ready reports whether the instance can serve traffic.
func (r ReadinessReport) Ready() bool {
	return r.Status != HealthDown
}
