// Package health runs dependency probes and aggregates them into a
// single status. The service keeps working from memory when the broker
// is down, so a failing non-critical probe only degrades the report.
package health

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultTimeout bounds each probe individually.
const DefaultTimeout = 2 * time.Second

// Probe checks one dependency. A failing critical probe makes the whole
// report unhealthy; a failing non-critical one only degrades it.
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

type CheckResult struct {
	Status    Status  `json:"status"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

func (r Report) Healthy() bool { return r.Status == StatusHealthy }

type Checker struct {
	timeout time.Duration
	probes  []Probe
}

type Option func(*Checker)

func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewChecker(probes []Probe, opts ...Option) *Checker {
	c := &Checker{timeout: DefaultTimeout, probes: probes}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check runs every probe concurrently and aggregates the worst outcome.
func (c *Checker) Check(ctx context.Context) Report {
	report := Report{Status: StatusHealthy}
	if len(c.probes) == 0 {
		return report
	}

	results := make([]CheckResult, len(c.probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range c.probes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, c.timeout)
			defer cancel()

			start := time.Now()
			err := p.Check(pctx)
			res := CheckResult{
				Status:    StatusHealthy,
				LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
			}
			if err != nil {
				res.Error = err.Error()
				res.Status = StatusDegraded
				if p.Critical {
					res.Status = StatusUnhealthy
				}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	report.Checks = make(map[string]CheckResult, len(c.probes))
	for i, p := range c.probes {
		report.Checks[p.Name] = results[i]
		switch results[i].Status {
		case StatusUnhealthy:
			report.Status = StatusUnhealthy
		case StatusDegraded:
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}
