// Package pipeline provides the orchestration engine for multi-step pipelines.
//
// A pipeline is a tree of stages rooted at one Sequential stage. Leaves are
// Steps, each backed by a Worker that performs one unit of work (typically a
// model call) and produces exactly one named output. A single key-value
// Context is threaded through the tree:
//   - Sequential stages run children one after another and merge each output
//     before the next child starts
//   - Parallel stages run children concurrently against a frozen snapshot and
//     merge outputs in declaration order after all children finish
//
// Pipelines are validated when they are built, so a structurally invalid
// pipeline can never be launched.
package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ArtifactRef points at an output persisted by an ArtifactSink.
type ArtifactRef struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
	Size int64  `json:"size"`
}

// String returns the artifact URI.
func (a ArtifactRef) String() string {
	return a.URI
}

// Context is the append-only key-value data threaded through one run.
//
// Keys keep their insertion order. A key, once written, is never rewritten.
// Context is not safe for concurrent mutation; the engine only mutates it
// from one goroutine at a time.
type Context struct {
	keys   []string
	values map[string]any
}

// NewContext creates a context holding the initial values.
// Initial keys are inserted in sorted order so runs are reproducible.
func NewContext(initial map[string]any) *Context {
	c := &Context{
		keys:   make([]string, 0, len(initial)),
		values: make(map[string]any, len(initial)),
	}
	keys := make([]string, 0, len(initial))
	for k := range initial {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.keys = append(c.keys, k)
		c.values[k] = initial[k]
	}
	return c
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Text returns the value under key rendered as text.
func (c *Context) Text(key string) string {
	v, ok := c.values[key]
	if !ok {
		return ""
	}
	return TextOf(v)
}

// Has reports whether key is present.
func (c *Context) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Set appends a new key. Writing an existing key fails with ErrKeyExists.
func (c *Context) Set(key string, value any) error {
	if _, exists := c.values[key]; exists {
		return fmt.Errorf("%w: %q", ErrKeyExists, key)
	}
	c.keys = append(c.keys, key)
	c.values[key] = value
	return nil
}

// Keys returns the keys in insertion order.
func (c *Context) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Len returns the number of keys.
func (c *Context) Len() int {
	return len(c.keys)
}

// Snapshot returns an independent copy of the context.
// Values themselves are shared; workers must treat them as read-only.
func (c *Context) Snapshot() *Context {
	s := &Context{
		keys:   make([]string, len(c.keys)),
		values: make(map[string]any, len(c.values)),
	}
	copy(s.keys, c.keys)
	for k, v := range c.values {
		s.values[k] = v
	}
	return s
}

// View returns a read-only view restricted to keys.
func (c *Context) View(keys ...string) (View, error) {
	view := make(View, len(keys))
	for _, k := range keys {
		v, ok := c.values[k]
		if !ok {
			return nil, &MissingInputError{Key: k}
		}
		view[k] = v
	}
	return view, nil
}

// Map returns a plain map copy of the context.
func (c *Context) Map() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the context as a JSON object in insertion order.
func (c *Context) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(c.values[k])
		if err != nil {
			return nil, fmt.Errorf("failed to encode context key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// View is the read-only slice of the context handed to a worker.
type View map[string]any

// Text returns the value under key rendered as text, or "" when absent.
func (v View) Text(key string) string {
	val, ok := v[key]
	if !ok {
		return ""
	}
	return TextOf(val)
}

// Artifact returns the ArtifactRef stored under key.
func (v View) Artifact(key string) (ArtifactRef, bool) {
	switch ref := v[key].(type) {
	case ArtifactRef:
		return ref, true
	case *ArtifactRef:
		if ref != nil {
			return *ref, true
		}
	}
	return ArtifactRef{}, false
}

// With returns a copy of the view with key set to value.
func (v View) With(key string, value any) View {
	out := make(View, len(v)+1)
	for k, val := range v {
		out[k] = val
	}
	out[key] = value
	return out
}

// TextOf renders a context value as text.
func TextOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	case []string:
		return strings.Join(t, "\n")
	default:
		return fmt.Sprint(t)
	}
}
