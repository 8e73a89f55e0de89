// Package dom provides the convenience wrappers that translate a
// human-readable call (click, type, getAttribute) into one cache lookup
// followed by parameterized remote invocations over the protocol session.
//
// Callers wanting resilience wrap these operations in resilience.Retry
// and/or a circuit breaker; the wrappers themselves never retry.
package dom

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/entrhq/pilot/pkg/cache"
	"github.com/entrhq/pilot/pkg/errs"
	"github.com/entrhq/pilot/pkg/logging"
)

// Commander is the slice of the protocol session the DOM layer consumes.
// *cdp.Session satisfies it.
type Commander interface {
	Send(ctx context.Context, method string, params any) (json.RawMessage, error)
	Tag() string
}

// Elements resolves selectors to node identifiers and performs element
// operations against one session.
type Elements struct {
	session Commander
	cache   *cache.QueryCache
	log     *logging.Logger
}

// NewElements creates the DOM operation layer for one session.
func NewElements(session Commander, queryCache *cache.QueryCache, log *logging.Logger) *Elements {
	if log == nil {
		log = logging.Discard("dom")
	}
	return &Elements{session: session, cache: queryCache, log: log}
}

type nodeIDResult struct {
	NodeID int `json:"nodeId"`
}

type documentResult struct {
	Root struct {
		NodeID int `json:"nodeId"`
	} `json:"root"`
}

type resolveNodeResult struct {
	Object struct {
		ObjectID string `json:"objectId"`
	} `json:"object"`
}

type attributesResult struct {
	Attributes []string `json:"attributes"`
}

// Resolve returns the node identifier for a selector, consulting the cache
// first. A cache hit saves the remote lookup but does not guarantee the
// identifier is still valid server-side; operations that then fail against a
// cached identifier invalidate it so the next call re-resolves.
func (e *Elements) Resolve(ctx context.Context, selector string) (int, error) {
	if err := validateSelector(selector); err != nil {
		return 0, err
	}

	if nodeID, outcome := e.cache.Get(e.session, selector); outcome == cache.Hit {
		return nodeID, nil
	}

	nodeID, err := e.lookup(ctx, selector)
	if err != nil {
		return 0, err
	}

	if err := e.cache.Set(e.session, selector, nodeID); err != nil {
		// Caching is an optimization; a rejected insert must not fail the
		// resolution itself.
		e.log.Warnf("caching %s failed: %v", selector, err)
	}
	return nodeID, nil
}

// lookup performs the remote resolution: document root, then querySelector.
func (e *Elements) lookup(ctx context.Context, selector string) (int, error) {
	raw, err := e.session.Send(ctx, "DOM.getDocument", map[string]any{"depth": 0})
	if err != nil {
		return 0, fmt.Errorf("getting document root: %w", err)
	}
	var doc documentResult
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, errs.Session("malformed document response", err, nil)
	}

	raw, err = e.session.Send(ctx, "DOM.querySelector", map[string]any{
		"nodeId":   doc.Root.NodeID,
		"selector": selector,
	})
	if err != nil {
		return 0, fmt.Errorf("querying selector: %w", err)
	}
	var node nodeIDResult
	if err := json.Unmarshal(raw, &node); err != nil {
		return 0, errs.Session("malformed query response", err, nil)
	}

	// The resolved identifier contract: an opaque positive integer. Zero
	// means no element matched.
	if node.NodeID <= 0 {
		return 0, errs.Session("no element matches selector", nil, map[string]any{
			"selector": selector,
		})
	}
	return node.NodeID, nil
}

// Click resolves the selector and clicks the element via a remote function
// call on the resolved node.
func (e *Elements) Click(ctx context.Context, selector string) error {
	nodeID, err := e.Resolve(ctx, selector)
	if err != nil {
		return err
	}

	raw, err := e.session.Send(ctx, "DOM.resolveNode", map[string]any{"nodeId": nodeID})
	if err != nil {
		e.cache.Invalidate(e.session, selector)
		return fmt.Errorf("resolving node for click: %w", err)
	}
	var resolved resolveNodeResult
	if err := json.Unmarshal(raw, &resolved); err != nil {
		return errs.Session("malformed resolveNode response", err, nil)
	}

	_, err = e.session.Send(ctx, "Runtime.callFunctionOn", map[string]any{
		"objectId":            resolved.Object.ObjectID,
		"functionDeclaration": "function() { this.click(); }",
	})
	if err != nil {
		e.cache.Invalidate(e.session, selector)
		return fmt.Errorf("clicking %s: %w", selector, err)
	}
	return nil
}

// Type focuses the element and inserts text as keyboard input.
func (e *Elements) Type(ctx context.Context, selector, text string) error {
	nodeID, err := e.Resolve(ctx, selector)
	if err != nil {
		return err
	}

	if _, err := e.session.Send(ctx, "DOM.focus", map[string]any{"nodeId": nodeID}); err != nil {
		e.cache.Invalidate(e.session, selector)
		return fmt.Errorf("focusing %s: %w", selector, err)
	}

	if _, err := e.session.Send(ctx, "Input.insertText", map[string]any{"text": text}); err != nil {
		e.cache.Invalidate(e.session, selector)
		return fmt.Errorf("typing into %s: %w", selector, err)
	}
	return nil
}

// GetAttribute returns the value of one attribute of the resolved element,
// or "" when the attribute is absent.
func (e *Elements) GetAttribute(ctx context.Context, selector, name string) (string, error) {
	nodeID, err := e.Resolve(ctx, selector)
	if err != nil {
		return "", err
	}

	raw, err := e.session.Send(ctx, "DOM.getAttributes", map[string]any{"nodeId": nodeID})
	if err != nil {
		e.cache.Invalidate(e.session, selector)
		return "", fmt.Errorf("getting attributes of %s: %w", selector, err)
	}
	var attrs attributesResult
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return "", errs.Session("malformed attributes response", err, nil)
	}

	// Attributes arrive as a flat [name, value, ...] list.
	for i := 0; i+1 < len(attrs.Attributes); i += 2 {
		if attrs.Attributes[i] == name {
			return attrs.Attributes[i+1], nil
		}
	}
	return "", nil
}

// Navigate loads a new page. Navigation invalidates every node identifier
// the session had resolved, so the session's cache entries are dropped.
func (e *Elements) Navigate(ctx context.Context, url string) error {
	if url == "" {
		return errs.Validation("url is empty", nil)
	}

	if _, err := e.session.Send(ctx, "Page.navigate", map[string]any{"url": url}); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}

	e.cache.InvalidateSession(e.session)
	return nil
}
