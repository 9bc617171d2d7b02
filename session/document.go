package session

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Document is an in-memory session: a tree of string-keyed containers.
// It records whether it changed since it was loaded so the HTTP layer only
// writes back modified sessions.
type Document struct {
	mu    sync.RWMutex
	id    string
	data  map[string]any
	dirty bool
}

// NewDocument returns an empty session with the given id.
func NewDocument(id string) *Document {
	return &Document{id: id, data: map[string]any{}}
}

// LoadDocument restores a session from its JSON snapshot.
func LoadDocument(id string, raw []byte) (*Document, error) {
	d := NewDocument(id)
	if len(raw) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(raw, &d.data); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	if d.data == nil {
		d.data = map[string]any{}
	}
	return d, nil
}

// ID returns the session id.
func (d *Document) ID() string { return d.id }

// Dirty reports whether the document changed since it was created or loaded.
func (d *Document) Dirty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dirty
}

// MarshalJSON encodes the session contents.
func (d *Document) MarshalJSON() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return json.Marshal(d.data)
}

// Read returns a copy of the value at key.
func (d *Document) Read(key string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	path := splitPath(key)
	if len(path) == 0 {
		return nil, false
	}

	var cur any = d.data
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cloneValue(cur), true
}

// Write stores value at key, creating intermediate containers. A scalar in
// the way of the path is replaced by a container.
func (d *Document) Write(key string, value any) error {
	path := splitPath(key)
	if len(path) == 0 {
		return fmt.Errorf("session: empty key")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	m := d.data
	for _, seg := range path[:len(path)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[seg] = next
		}
		m = next
	}
	m[path[len(path)-1]] = cloneValue(value)
	d.dirty = true
	return nil
}

// Delete removes the value at key. Missing keys are ignored.
func (d *Document) Delete(key string) error {
	path := splitPath(key)
	if len(path) == 0 {
		return fmt.Errorf("session: empty key")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	m := d.data
	for _, seg := range path[:len(path)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			return nil
		}
		m = next
	}
	leaf := path[len(path)-1]
	if _, ok := m[leaf]; ok {
		delete(m, leaf)
		d.dirty = true
	}
	return nil
}

// Destroy empties the session.
func (d *Document) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data = map[string]any{}
	d.dirty = true
}

// Renew returns a dirty copy of the session under a new id. The receiver is
// left untouched so the caller can destroy it by its old id.
func (d *Document) Renew(id string) *Document {
	d.mu.RLock()
	defer d.mu.RUnlock()
	data, _ := cloneValue(d.data).(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	return &Document{id: id, data: data, dirty: true}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

var _ Session = (*Document)(nil)
