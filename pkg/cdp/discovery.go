package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/entrhq/pilot/pkg/errs"
)

// Discover polls the browser's discovery endpoint until a target with a
// usable websocket endpoint appears or maxAttempts is exhausted. Attempts are
// spaced by a fixed delay. Page targets are preferred over other target
// types; within a type the first listed target wins.
//
// Connect-phase retry beyond the fixed poll loop is the caller's
// responsibility (wrap in resilience.Retry if needed).
func Discover(ctx context.Context, client *http.Client, url string, maxAttempts int, delay time.Duration) (*Target, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		target, err := fetchTargets(ctx, client, url)
		if err == nil && target != nil {
			return target, nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, errs.Wrap(errs.KindDiscoveryExhausted, "discovery canceled", ctx.Err(), map[string]any{
				"url":      url,
				"attempts": attempt,
			})
		}
	}

	return nil, errs.Wrap(errs.KindDiscoveryExhausted, "no debuggable target found", lastErr, map[string]any{
		"url":      url,
		"attempts": maxAttempts,
	})
}

// fetchTargets performs one discovery request and picks a usable target.
// Returns (nil, nil) when the endpoint answered but listed no usable target.
func fetchTargets(ctx context.Context, client *http.Client, url string) (*Target, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building discovery request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	var targets []Target
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("decoding target list: %w", err)
	}

	// Prefer page targets; fall back to anything with a debugger endpoint.
	var fallback *Target
	for i := range targets {
		t := &targets[i]
		if t.WebSocketDebuggerURL == "" {
			continue
		}
		if t.Type == "page" {
			return t, nil
		}
		if fallback == nil {
			fallback = t
		}
	}
	return fallback, nil
}
