// Package ws streams alert and sync run events to authenticated subscribers
// over WebSocket. Each subscriber only receives events for tenants its API
// key may read.
package ws

import (
	"encoding/json"
	"time"
)

// Event types published on the stream.
const (
	EventAlertRaised   = "alert.raised"
	EventAlertResolved = "alert.resolved"
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
)

// Event is one message sent to subscribers. IDs increase across the whole
// process, so a reconnecting client can resume from the last one it saw.
type Event struct {
	ID       uint64          `json:"id"`
	Type     string          `json:"type"`
	TenantID string          `json:"tenant_id"`
	Data     json.RawMessage `json:"data"`
	Time     time.Time       `json:"time"`
}

// TenantKey implements authz.TenantScoped.
func (e Event) TenantKey() string { return e.TenantID }

// SubscribeMsg is sent by the client to replay events after LastEventID.
type SubscribeMsg struct {
	Type        string `json:"type"`
	LastEventID uint64 `json:"last_event_id"`
}

// ResetMsg tells the client its resume point is gone and it should re-read
// current state over the REST API.
type ResetMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}
