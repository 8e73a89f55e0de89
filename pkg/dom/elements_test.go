package dom

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pilot/pkg/cache"
	"github.com/entrhq/pilot/pkg/errs"
)

// fakeCommander scripts responses per method and records calls.
type fakeCommander struct {
	tag       string
	responses map[string]string
	failures  map[string]error
	calls     []string
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{
		tag: "fake-1",
		responses: map[string]string{
			"DOM.getDocument":        `{"root":{"nodeId":1}}`,
			"DOM.querySelector":      `{"nodeId":42}`,
			"DOM.resolveNode":        `{"object":{"objectId":"obj-42"}}`,
			"Runtime.callFunctionOn": `{}`,
			"DOM.focus":              `{}`,
			"Input.insertText":       `{}`,
			"DOM.getAttributes":      `{"attributes":["href","/about","class","nav-link"]}`,
			"Page.navigate":          `{"frameId":"F1"}`,
		},
		failures: map[string]error{},
	}
}

func (f *fakeCommander) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	f.calls = append(f.calls, method)
	if err, ok := f.failures[method]; ok {
		return nil, err
	}
	return json.RawMessage(f.responses[method]), nil
}

func (f *fakeCommander) Tag() string { return f.tag }

func (f *fakeCommander) countCalls(method string) int {
	n := 0
	for _, m := range f.calls {
		if m == method {
			n++
		}
	}
	return n
}

func newElements(f *fakeCommander) (*Elements, *cache.QueryCache) {
	c := cache.New(cache.Options{}, nil)
	return NewElements(f, c, nil), c
}

func TestResolveLooksUpAndCaches(t *testing.T) {
	f := newFakeCommander()
	e, _ := newElements(f)

	nodeID, err := e.Resolve(context.Background(), "#main")
	require.NoError(t, err)
	assert.Equal(t, 42, nodeID)

	// Second resolve is served from cache; no further remote lookups.
	nodeID, err = e.Resolve(context.Background(), "#main")
	require.NoError(t, err)
	assert.Equal(t, 42, nodeID)
	assert.Equal(t, 1, f.countCalls("DOM.querySelector"))
}

func TestResolveRejectsEmptySelector(t *testing.T) {
	f := newFakeCommander()
	e, _ := newElements(f)

	_, err := e.Resolve(context.Background(), "")
	assert.True(t, errs.IsKind(err, errs.KindValidation))
	assert.Empty(t, f.calls, "invalid input must not reach the wire")
}

func TestResolveRejectsUnsafeSelector(t *testing.T) {
	f := newFakeCommander()
	e, _ := newElements(f)

	for _, selector := range []string{
		`a[href="javascript:alert(1)"]`,
		`<script>alert(1)</script>`,
	} {
		_, err := e.Resolve(context.Background(), selector)
		assert.True(t, errs.IsKind(err, errs.KindSecurity), "selector %q", selector)
	}
	assert.Empty(t, f.calls)
}

func TestResolveNoMatchIsNotCached(t *testing.T) {
	f := newFakeCommander()
	f.responses["DOM.querySelector"] = `{"nodeId":0}`
	e, c := newElements(f)

	_, err := e.Resolve(context.Background(), "#missing")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindSession))
	assert.Equal(t, 0, c.Stats().Size, "a missing element must never reach the cache")
}

func TestClick(t *testing.T) {
	f := newFakeCommander()
	e, _ := newElements(f)

	require.NoError(t, e.Click(context.Background(), "#submit"))
	assert.Equal(t, 1, f.countCalls("Runtime.callFunctionOn"))
}

func TestClickFailureInvalidatesCachedSelector(t *testing.T) {
	f := newFakeCommander()
	e, c := newElements(f)

	// Prime the cache.
	_, err := e.Resolve(context.Background(), "#submit")
	require.NoError(t, err)
	require.Equal(t, 1, c.Stats().Size)

	f.failures["DOM.resolveNode"] = errs.Session("node not found", nil, nil)
	err = e.Click(context.Background(), "#submit")
	require.Error(t, err)

	assert.Equal(t, 0, c.Stats().Size, "stale identifier must be invalidated on failure")
}

func TestType(t *testing.T) {
	f := newFakeCommander()
	e, _ := newElements(f)

	require.NoError(t, e.Type(context.Background(), "input.search", "hello"))
	assert.Equal(t, 1, f.countCalls("DOM.focus"))
	assert.Equal(t, 1, f.countCalls("Input.insertText"))
}

func TestTypeInsertFailureInvalidatesCachedSelector(t *testing.T) {
	f := newFakeCommander()
	e, c := newElements(f)

	_, err := e.Resolve(context.Background(), "input.search")
	require.NoError(t, err)
	require.Equal(t, 1, c.Stats().Size)

	f.failures["Input.insertText"] = errs.Session("node detached", nil, nil)
	err = e.Type(context.Background(), "input.search", "hello")
	require.Error(t, err)

	assert.Equal(t, 0, c.Stats().Size, "stale identifier must be invalidated on failure")
}

func TestGetAttribute(t *testing.T) {
	f := newFakeCommander()
	e, _ := newElements(f)

	value, err := e.GetAttribute(context.Background(), "a.nav-link", "href")
	require.NoError(t, err)
	assert.Equal(t, "/about", value)

	// Absent attribute returns empty without error.
	value, err = e.GetAttribute(context.Background(), "a.nav-link", "target")
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestNavigateInvalidatesSessionCache(t *testing.T) {
	f := newFakeCommander()
	e, c := newElements(f)

	_, err := e.Resolve(context.Background(), "#header")
	require.NoError(t, err)
	require.Equal(t, 1, c.Stats().Size)

	require.NoError(t, e.Navigate(context.Background(), "https://example.com"))
	assert.Equal(t, 0, c.Stats().Size)
}

func TestNavigateRejectsEmptyURL(t *testing.T) {
	f := newFakeCommander()
	e, _ := newElements(f)

	err := e.Navigate(context.Background(), "")
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestResolveSurfacesTransportErrors(t *testing.T) {
	f := newFakeCommander()
	f.failures["DOM.getDocument"] = errs.Session("session closed", nil, nil)
	e, _ := newElements(f)

	_, err := e.Resolve(context.Background(), "#main")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindSession))
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}
