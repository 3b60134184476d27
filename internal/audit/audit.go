// Package audit persists security-relevant events to the audit_logs
// collection.
//
// All backend writes go through Write(); access rules on audit_logs prevent
// any client-side mutation. Recorder adapts the event bus to Write so every
// emitted event leaves a row.
package audit

import (
	"log"
	"strings"

	"github.com/pocketbase/pocketbase/core"

	"github.com/portside-io/portside/backend/internal/events"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

var validStatuses = map[string]bool{
	StatusSuccess: true,
	StatusFailed:  true,
}

// Entry holds all fields for a single audit record.
type Entry struct {
	// UserID is the PocketBase record ID of the actor ("unknown" for
	// unauthenticated failures).
	UserID string
	// Username is the actor's login name for display purposes.
	Username string
	// Action is the event type identifier, e.g. "SSH_CONNECT_SUCCESS".
	Action string
	// Status must be StatusSuccess or StatusFailed.
	Status string
	// IP is the client's source address. Empty for operations without an
	// HTTP context (workers, startup).
	IP string
	// Detail holds optional structured context (connection id, error text).
	Detail map[string]any
}

// Write persists one audit record.
// Errors are logged and swallowed — an audit failure must never break the
// calling operation.
func Write(app core.App, entry Entry) {
	if !validStatuses[entry.Status] {
		log.Printf("[audit] invalid status %q for action %q, skipping", entry.Status, entry.Action)
		return
	}

	col, err := app.FindCollectionByNameOrId("audit_logs")
	if err != nil {
		log.Printf("[audit] collection not found: %v", err)
		return
	}

	rec := core.NewRecord(col)
	rec.Set("user_id", entry.UserID)
	rec.Set("username", entry.Username)
	rec.Set("action", entry.Action)
	rec.Set("status", entry.Status)
	rec.Set("ip", entry.IP)
	if entry.Detail != nil {
		rec.Set("detail", entry.Detail)
	}

	if err := app.Save(rec); err != nil {
		log.Printf("[audit] save failed: %v", err)
	}
}

// Recorder returns a bus handler that writes one audit row per event.
func Recorder(app core.App) events.Handler {
	return func(evt events.Event) {
		Write(app, FromEvent(evt))
	}
}

// FromEvent maps a bus event to an audit entry. Event types ending in
// FAILURE or ERROR record as failed; everything else as success.
func FromEvent(evt events.Event) Entry {
	userID := evt.UserID
	if userID == "" {
		userID = "unknown"
	}
	return Entry{
		UserID:   userID,
		Username: evt.Username,
		Action:   string(evt.Type),
		Status:   statusFor(evt.Type),
		IP:       evt.IP,
		Detail:   evt.Details,
	}
}

func statusFor(t events.Type) string {
	name := string(t)
	if strings.HasSuffix(name, "_FAILURE") || strings.HasSuffix(name, "ERROR") {
		return StatusFailed
	}
	return StatusSuccess
}
