// Package session holds the host session document, the namespaced key-value
// storage the identity engine keeps its state in, and session stores that
// persist documents between requests.
package session

import "strings"

// Session is the host session contract. Keys are dotted paths: "a.b.c"
// addresses key c inside container b inside container a.
type Session interface {
	Read(key string) (any, bool)
	Write(key string, value any) error
	Delete(key string) error
}

func splitPath(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, ".")
}
