package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultNamespace is the session key all identity engine state lives under.
const DefaultNamespace = "SOCIAL_LOGIN::STORAGE"

// Storage exposes a Session as the flat key-value store the identity engine
// expects. Every key is placed under a fixed namespace.
type Storage struct {
	session   Session
	namespace string
}

// NewStorage wraps s using DefaultNamespace.
func NewStorage(s Session) *Storage {
	return NewNamespacedStorage(s, DefaultNamespace)
}

// NewNamespacedStorage wraps s under a custom namespace.
func NewNamespacedStorage(s Session, namespace string) *Storage {
	return &Storage{session: s, namespace: namespace}
}

func (s *Storage) key(k string) string {
	return s.namespace + "." + k
}

// Get returns the value stored under key.
func (s *Storage) Get(key string) (any, bool) {
	return s.session.Read(s.key(key))
}

// GetString returns the value under key when it is a string.
func (s *Storage) GetString(key string) string {
	v, ok := s.Get(key)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// Set stores value under key.
func (s *Storage) Set(key string, value any) error {
	return s.session.Write(s.key(key), value)
}

// Delete removes key.
func (s *Storage) Delete(key string) error {
	return s.session.Delete(s.key(key))
}

// DeleteMatch removes every stored entry whose flattened key contains substr.
// Each entry is deleted on its own; failures are collected and returned
// together after all matches were attempted.
func (s *Storage) DeleteMatch(substr string) error {
	raw, ok := s.session.Read(s.namespace)
	if !ok {
		return nil
	}
	tree, ok := raw.(map[string]any)
	if !ok {
		return nil
	}

	flat := Flatten(tree)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		if strings.Contains(k, substr) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		if err := s.session.Delete(s.key(k)); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

// Clear removes the whole namespace.
func (s *Storage) Clear() error {
	return s.session.Delete(s.namespace)
}
