package health

import (
	"context"
	"time"
)

// Probe is one health check function. It must honor its context: the
// monitor races every probe against its own timeout, and a timed-out probe
// counts as a failure without blocking the rest of the run.
type Probe func(ctx context.Context) error

// DefaultCheckTimeout bounds a probe whose options do not.
const DefaultCheckTimeout = 5 * time.Second

// CheckOptions configures one registered check.
type CheckOptions struct {
	// Interval gates how often this check actually runs; zero means every
	// monitor run. A skipped check's last result still appears in the
	// snapshot.
	Interval time.Duration

	// Timeout bounds one probe execution (default 5s)
	Timeout time.Duration

	// Critical checks fail the whole snapshot when they fail.
	Critical bool
}

// check is a registered probe plus its runtime state. The state is mutated
// only by the monitor's own run loop.
type check struct {
	name    string
	probe   Probe
	opts    CheckOptions
	lastRun time.Time

	lastResult          *Result
	consecutiveFailures int
}

// Result is the outcome of one probe execution.
type Result struct {
	Healthy  bool
	Critical bool
	Err      string
	Detail   string
	Duration time.Duration
}

// Snapshot aggregates one monitor run. OverallHealthy is false if any
// critical probe failed.
type Snapshot struct {
	Timestamp      time.Time
	Results        map[string]Result
	OverallHealthy bool
	CriticalIssues []string
}

// Status is the monitor's latest aggregate state.
type Status struct {
	Status   string // "healthy", "unhealthy" or "unknown" before the first run
	Snapshot *Snapshot
}

// Metrics summarizes the most recent snapshots.
type Metrics struct {
	// Availability is the fraction of snapshots that were overall healthy.
	Availability float64

	// MeanProbeDuration averages probe durations across the window.
	MeanProbeDuration time.Duration

	// ErrorRate is the fraction of probe results that failed.
	ErrorRate float64

	// Window is the number of snapshots the metrics cover.
	Window int
}

// AlertFunc receives unhealthy snapshots. A panicking callback is isolated:
// it neither prevents other callbacks from running nor crashes the monitor.
type AlertFunc func(level string, snapshot Snapshot)
