// Package main provides the pilot daemon: it discovers a debuggable browser
// target, opens a protocol session, and keeps a health monitor running over
// the session and its circuit breakers until interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/entrhq/pilot/pkg/cache"
	"github.com/entrhq/pilot/pkg/cdp"
	"github.com/entrhq/pilot/pkg/config"
	"github.com/entrhq/pilot/pkg/dom"
	"github.com/entrhq/pilot/pkg/health"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/resilience"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigFile  string
	EnvFile     string
	Navigate    string
	ShowVersion bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("pilot v%s\n", version)
		return
	}

	if err := run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "pilot: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() CLIConfig {
	var cli CLIConfig
	flag.StringVar(&cli.ConfigFile, "config", "", "Path to YAML config file")
	flag.StringVar(&cli.EnvFile, "env-file", ".env", "Path to dotenv file with PILOT_* overrides")
	flag.StringVar(&cli.Navigate, "navigate", "", "Optional URL to load once connected (smoke check)")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Print version and exit")
	flag.Parse()
	return cli
}

func run(cli CLIConfig) error {
	if err := config.LoadEnvFile(cli.EnvFile); err != nil {
		return err
	}
	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return err
	}

	log, logErr := logging.NewLogger("pilot")
	if logErr != nil {
		fmt.Fprintf(os.Stderr, "pilot: file logging unavailable: %v\n", logErr)
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Shared infrastructure: one cache, one breaker registry, one monitor.
	queryCache := cache.New(cache.Options{
		MaxSize:    cfg.Cache.MaxSize,
		DynamicTTL: cfg.Cache.DynamicTTL.Std(),
		StaticTTL:  cfg.Cache.StaticTTL.Std(),
	}, log)

	registry := resilience.NewRegistry(resilience.BreakerOptions{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout.Std(),
	})

	monitor := health.NewMonitor(
		health.WithLogger(log),
		health.WithBreakerRegistry(registry),
		health.WithHistorySize(cfg.Health.HistorySize),
	)

	session, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		queryCache.InvalidateSession(session)
		session.Close()
	}()

	monitor.AddCheck("session", func(ctx context.Context) error {
		if !session.IsHealthy() {
			return errors.New("protocol session is not healthy")
		}
		return nil
	}, health.CheckOptions{Critical: true})

	monitor.OnAlert(func(level string, snap health.Snapshot) {
		log.Errorf("health alert (%s): critical issues %v", level, snap.CriticalIssues)
	})

	monitor.Start(cfg.Health.Interval.Std())
	defer monitor.Stop()

	if cli.Navigate != "" {
		if err := smokeNavigate(ctx, cli, cfg, session, queryCache, registry, log); err != nil {
			return err
		}
	}

	log.Infof("pilot v%s running, session %s", version, session.Tag())
	fmt.Printf("pilot connected (session %s), press Ctrl-C to stop\n", session.Tag())

	<-sigChan
	fmt.Println()
	printStatus(monitor, queryCache)
	return nil
}

// connect discovers a target and opens the session, retrying the whole
// connect phase with backoff.
func connect(ctx context.Context, cfg config.Config, log *logging.Logger) (*cdp.Session, error) {
	return resilience.RetryValue(ctx, resilience.RetryOptions{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay.Std(),
	}, func(ctx context.Context) (*cdp.Session, error) {
		target, err := cdp.Discover(ctx, nil, cfg.Discovery.URL, cfg.Discovery.MaxAttempts, cfg.Discovery.Delay.Std())
		if err != nil {
			return nil, err
		}
		log.Infof("discovered target %s (%s)", target.ID, target.URL)

		return cdp.Connect(ctx, target.WebSocketDebuggerURL, cdp.Options{
			ConnectTimeout: cfg.Session.ConnectTimeout.Std(),
			CommandTimeout: cfg.Session.CommandTimeout.Std(),
		}, log)
	})
}

// smokeNavigate loads one page through the full stack: retry around a
// breaker-guarded DOM operation.
func smokeNavigate(ctx context.Context, cli CLIConfig, cfg config.Config, session *cdp.Session, queryCache *cache.QueryCache, registry *resilience.Registry, log *logging.Logger) error {
	elements := dom.NewElements(session, queryCache, log)
	breaker := registry.Get("navigate")

	err := resilience.Retry(ctx, resilience.RetryOptions{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay.Std(),
	}, func(ctx context.Context) error {
		return breaker.Do(ctx, func(ctx context.Context) error {
			return elements.Navigate(ctx, cli.Navigate)
		})
	})
	if err != nil {
		return fmt.Errorf("smoke navigation failed: %w", err)
	}

	log.Infof("smoke navigation to %s succeeded", cli.Navigate)
	return nil
}

// printStatus dumps the final health and cache state as JSON on shutdown.
func printStatus(monitor *health.Monitor, queryCache *cache.QueryCache) {
	status := monitor.GetStatus()
	metrics := monitor.GetMetrics()
	stats := queryCache.Stats()

	out := map[string]any{
		"status": status.Status,
		"health": map[string]any{
			"availability":        metrics.Availability,
			"error_rate":          metrics.ErrorRate,
			"mean_probe_duration": metrics.MeanProbeDuration.String(),
			"window":              metrics.Window,
		},
		"cache": map[string]any{
			"size":     stats.Size,
			"dynamic":  stats.DynamicCount,
			"static":   stats.StaticCount,
			"hits":     stats.Hits,
			"misses":   stats.Misses,
			"hit_rate": stats.HitRate,
		},
	}
	if status.Snapshot != nil {
		out["critical_issues"] = status.Snapshot.CriticalIssues
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Printf("status: %v\n", out)
		return
	}
	fmt.Println(string(encoded))
}
