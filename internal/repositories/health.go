package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultDependencyTimeout = 1500 * time.Millisecond

// HealthStatus is the outcome of a dependency probe.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// DependencyCheck describes one backing service to probe, such as the order store or the cache.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// DependencyResult captures a single probe.
type DependencyResult struct {
	Status  HealthStatus  `json:"status"`
	Detail  string        `json:"detail"`
	Latency time.Duration `json:"latency"`
}

// HealthReport aggregates probe results. Status is the worst individual status.
type HealthReport struct {
	Status    HealthStatus                `json:"status"`
	Checks    map[string]DependencyResult `json:"checks"`
	CheckedAt time.Time                   `json:"checkedAt"`
}

// DependencyProber runs dependency checks concurrently, each under its own timeout.
type DependencyProber struct {
	checks         []DependencyCheck
	defaultTimeout time.Duration
	now            func() time.Time
}

// NewDependencyProber validates the check set. Names must be unique and non-empty.
func NewDependencyProber(checks []DependencyCheck, defaultTimeout time.Duration, clock func() time.Time) (*DependencyProber, error) {
	if len(checks) == 0 {
		return nil, errors.New("dependency prober: at least one check is required")
	}
	seen := make(map[string]struct{}, len(checks))
	for _, check := range checks {
		name := strings.TrimSpace(check.Name)
		if name == "" {
			return nil, errors.New("dependency prober: check name is required")
		}
		if check.Check == nil {
			return nil, fmt.Errorf("dependency prober: %s has no check function", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("dependency prober: duplicate check %s", name)
		}
		seen[name] = struct{}{}
	}
	if defaultTimeout <= 0 {
		defaultTimeout = defaultDependencyTimeout
	}
	if clock == nil {
		clock = time.Now
	}
	return &DependencyProber{
		checks:         append([]DependencyCheck(nil), checks...),
		defaultTimeout: defaultTimeout,
		now:            clock,
	}, nil
}

// Probe runs every check and waits for all of them.
func (p *DependencyProber) Probe(ctx context.Context) HealthReport {
	results := make(map[string]DependencyResult, len(p.checks))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	wg.Add(len(p.checks))
	for _, check := range p.checks {
		go func() {
			defer wg.Done()
			result := p.run(ctx, check)
			mu.Lock()
			results[strings.TrimSpace(check.Name)] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := HealthStatusOK
	for _, result := range results {
		switch result.Status {
		case HealthStatusError:
			status = HealthStatusError
		case HealthStatusDegraded:
			if status == HealthStatusOK {
				status = HealthStatusDegraded
			}
		}
	}
	return HealthReport{Status: status, Checks: results, CheckedAt: p.now().UTC()}
}

func (p *DependencyProber) run(ctx context.Context, check DependencyCheck) DependencyResult {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := p.now()
	err := check.Check(checkCtx)
	result := DependencyResult{Status: HealthStatusOK, Detail: "ok", Latency: p.now().Sub(start)}

	switch {
	case err == nil && checkCtx.Err() != nil:
		// Finished after its deadline without reporting it.
		result.Status, result.Detail = HealthStatusError, "timeout"
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result.Status, result.Detail = HealthStatusError, "timeout"
	case errors.Is(err, context.Canceled):
		result.Status, result.Detail = HealthStatusError, "cancelled"
	default:
		result.Status, result.Detail = HealthStatusDegraded, err.Error()
		var repoErr RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
			result.Status = HealthStatusError
		}
	}
	return result
}
