// Package health runs a registry of named probes on a timer, aggregates the
// results into bounded rolling history, and raises alert callbacks when a
// critical probe fails.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/resilience"
)

// DefaultHistorySize caps the snapshot ring buffer.
const DefaultHistorySize = 100

// DefaultMetricsWindow is how many recent snapshots Metrics covers.
const DefaultMetricsWindow = 20

// DefaultInterval is the run-loop period when Start is given a non-positive
// interval.
const DefaultInterval = 30 * time.Second

// breakersCheckName is the synthetic check surfacing circuit breaker counts.
const breakersCheckName = "circuit-breakers"

// Monitor owns the probe registry and the periodic run loop. Construct with
// NewMonitor and inject wherever health reporting is needed; there is no
// package-level instance.
type Monitor struct {
	log           *logging.Logger
	registry      *resilience.Registry
	historySize   int
	metricsWindow int

	mu      sync.Mutex
	checks  map[string]*check
	history []Snapshot
	alerts  []AlertFunc

	running bool
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor's logger.
func WithLogger(log *logging.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// WithBreakerRegistry attaches a circuit breaker registry; its counts are
// surfaced as a synthetic, non-critical check.
func WithBreakerRegistry(reg *resilience.Registry) Option {
	return func(m *Monitor) { m.registry = reg }
}

// WithHistorySize caps the snapshot ring buffer.
func WithHistorySize(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.historySize = n
		}
	}
}

// WithMetricsWindow sets how many recent snapshots Metrics covers.
func WithMetricsWindow(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.metricsWindow = n
		}
	}
}

// NewMonitor creates a stopped monitor.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		historySize:   DefaultHistorySize,
		metricsWindow: DefaultMetricsWindow,
		checks:        make(map[string]*check),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logging.Discard("health")
	}
	return m
}

// AddCheck registers a named probe. Registering an existing name overwrites
// the previous check, including its runtime state.
func (m *Monitor) AddCheck(name string, probe Probe, opts CheckOptions) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCheckTimeout
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = &check{name: name, probe: probe, opts: opts}
}

// OnAlert registers a callback invoked with ("critical", snapshot) whenever
// a snapshot is overall unhealthy.
func (m *Monitor) OnAlert(fn AlertFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, fn)
}

// Start launches the run loop: an immediate first run, then one run per
// interval. A non-positive interval falls back to DefaultInterval. Calling
// Start while already running is a no-op.
func (m *Monitor) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel
	m.stopped = make(chan struct{})
	stopped := m.stopped
	m.mu.Unlock()

	go func() {
		defer close(stopped)

		m.RunOnce(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.RunOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the run loop and waits for it to exit. Safe to call when not
// running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	stopped := m.stopped
	m.mu.Unlock()

	cancel()
	<-stopped
}

// RunOnce executes every due probe concurrently, appends the aggregated
// snapshot to history, and fires alert callbacks if the snapshot is
// unhealthy. Probes within one run have no ordering guarantee; the snapshot
// is emitted only once all of them are accounted for.
func (m *Monitor) RunOnce(ctx context.Context) Snapshot {
	now := time.Now()

	m.mu.Lock()
	due := make([]*check, 0, len(m.checks))
	carried := make(map[string]Result)
	for _, c := range m.checks {
		if c.opts.Interval > 0 && !c.lastRun.IsZero() && now.Sub(c.lastRun) < c.opts.Interval {
			if c.lastResult != nil {
				carried[c.name] = *c.lastResult
			}
			continue
		}
		due = append(due, c)
	}
	m.mu.Unlock()

	type outcome struct {
		name   string
		result Result
	}
	outcomes := make(chan outcome, len(due))

	var wg sync.WaitGroup
	for _, c := range due {
		wg.Add(1)
		go func(c *check) {
			defer wg.Done()
			outcomes <- outcome{name: c.name, result: m.runProbe(ctx, c)}
		}(c)
	}
	wg.Wait()
	close(outcomes)

	snap := Snapshot{
		Timestamp:      now,
		Results:        carried,
		OverallHealthy: true,
	}
	for o := range outcomes {
		snap.Results[o.name] = o.result
	}

	if m.registry != nil {
		rs := m.registry.Snapshot()
		snap.Results[breakersCheckName] = Result{
			Healthy: true,
			Detail:  fmt.Sprintf("total=%d open=%d half-open=%d", rs.Total, rs.Open, rs.HalfOpen),
		}
	}

	for name, r := range snap.Results {
		if r.Critical && !r.Healthy {
			snap.OverallHealthy = false
			snap.CriticalIssues = append(snap.CriticalIssues, name)
		}
	}

	m.record(due, now, snap)

	if !snap.OverallHealthy {
		m.fireAlerts(snap)
	}
	return snap
}

// runProbe races one probe against its own timeout. The losing probe is not
// forcibly terminated; its goroutine is abandoned and its eventual result
// discarded.
func (m *Monitor) runProbe(ctx context.Context, c *check) Result {
	probeCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("probe panicked: %v", r)
			}
		}()
		done <- c.probe(probeCtx)
	}()

	result := Result{Critical: c.opts.Critical}
	select {
	case err := <-done:
		result.Duration = time.Since(start)
		if err != nil {
			result.Err = err.Error()
			m.log.Warnf("check %s failed: %v", c.name, err)
		} else {
			result.Healthy = true
		}
	case <-probeCtx.Done():
		result.Duration = time.Since(start)
		result.Err = "check timed out after " + c.opts.Timeout.String()
		m.log.Warnf("check %s timed out after %s", c.name, c.opts.Timeout)
	}
	return result
}

// record updates per-check state and appends the snapshot to the capped
// history ring.
func (m *Monitor) record(ran []*check, at time.Time, snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range ran {
		// The check may have been overwritten mid-run; only update live ones.
		if current, ok := m.checks[c.name]; ok && current == c {
			r := snap.Results[c.name]
			c.lastRun = at
			c.lastResult = &r
			if r.Healthy {
				c.consecutiveFailures = 0
			} else {
				c.consecutiveFailures++
			}
		}
	}

	m.history = append(m.history, snap)
	if len(m.history) > m.historySize {
		m.history = m.history[len(m.history)-m.historySize:]
	}
}

// fireAlerts invokes the registered callbacks. One panicking callback never
// prevents the others from running.
func (m *Monitor) fireAlerts(snap Snapshot) {
	m.mu.Lock()
	alerts := make([]AlertFunc, len(m.alerts))
	copy(alerts, m.alerts)
	m.mu.Unlock()

	for _, fn := range alerts {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Errorf("alert callback panicked: %v", r)
				}
			}()
			fn("critical", snap)
		}()
	}
}

// GetStatus returns the latest aggregate status; "unknown" before any run.
func (m *Monitor) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return Status{Status: "unknown"}
	}
	latest := m.history[len(m.history)-1]
	status := "healthy"
	if !latest.OverallHealthy {
		status = "unhealthy"
	}
	return Status{Status: status, Snapshot: &latest}
}

// GetMetrics aggregates availability, mean probe duration and error rate
// over the most recent snapshots.
func (m *Monitor) GetMetrics() Metrics {
	m.mu.Lock()
	window := m.history
	if len(window) > m.metricsWindow {
		window = window[len(window)-m.metricsWindow:]
	}
	snapshots := make([]Snapshot, len(window))
	copy(snapshots, window)
	m.mu.Unlock()

	metrics := Metrics{Window: len(snapshots)}
	if len(snapshots) == 0 {
		return metrics
	}

	healthy := 0
	var totalDuration time.Duration
	results, failures := 0, 0
	for _, snap := range snapshots {
		if snap.OverallHealthy {
			healthy++
		}
		for _, r := range snap.Results {
			results++
			totalDuration += r.Duration
			if !r.Healthy {
				failures++
			}
		}
	}

	metrics.Availability = float64(healthy) / float64(len(snapshots))
	if results > 0 {
		metrics.MeanProbeDuration = totalDuration / time.Duration(results)
		metrics.ErrorRate = float64(failures) / float64(results)
	}
	return metrics
}

// GetHistory returns up to limit most recent snapshots, oldest first. A
// non-positive limit returns the full retained history.
func (m *Monitor) GetHistory(limit int) []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.history
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]Snapshot, len(history))
	copy(out, history)
	return out
}
