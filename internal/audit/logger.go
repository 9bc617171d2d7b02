// Package audit records changes to social account links as JSON events on
// a dedicated logger.
package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Actions.
const (
	ActionAssociate = "associate"
	ActionUnlink    = "unlink"
)

// Event represents an audit log event.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"` // web or cli
	Action      string    `json:"action"`
	OwnerType   string    `json:"owner_type"`
	OwnerID     string    `json:"owner_id"`
	Provider    string    `json:"provider,omitempty"`
	ProviderUID string    `json:"provider_uid,omitempty"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
}

var (
	mu          sync.RWMutex
	auditLogger = zerolog.New(os.Stdout)
)

// SetOutput redirects audit events, e.g. to a file or io.Discard.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	auditLogger = zerolog.New(w)
}

// Log records an audit event. err, when set, marks the event failed.
func Log(event Event, err error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Success = err == nil
	if err != nil {
		event.Error = err.Error()
	}

	entry, marshalErr := json.Marshal(event)

	mu.RLock()
	defer mu.RUnlock()
	if marshalErr != nil {
		log.Error().Err(marshalErr).Msg("Failed to marshal audit event to JSON")
		auditLogger.Log().
			Str("source", event.Source).
			Str("action", event.Action).
			Str("owner_id", event.OwnerID).
			Str("provider", event.Provider).
			Bool("success", event.Success).
			Msg("audit (fallback)")
		return
	}
	auditLogger.Log().RawJSON("audit_event", entry).Msg("")
}
