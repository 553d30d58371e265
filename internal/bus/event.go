package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by namespace prefix ("history.", "wa.", ...).
const (
	// Writer notifications consumed by live recent-activity queries.
	KindHistoryWritten = "history.written"
	KindHistoryUpdated = "history.updated"
	// Push channel announcing a newly persisted chat-room subject.
	KindHistorySubject = "history.subject"

	// Classified protocol events consumed by ingestion.
	KindWAMessage        = "wa.message"
	KindWAGroupMessage   = "wa.group_message"
	KindWAReceipt        = "wa.receipt"
	KindWADeliveryFailed = "wa.delivery_failed"
	KindWARoomStatus     = "wa.room_status"
	KindWAHistoryBatch   = "wa.history_batch"
	KindWAContacts       = "wa.contacts"

	// Delivery results of outgoing messages.
	KindOutboxSent   = "outbox.sent"
	KindOutboxFailed = "outbox.failed"

	KindSessionStatusChanged = "session.status_changed"
	KindSessionQRGenerated   = "session.qr_generated"
	KindSessionAuthenticated = "session.authenticated"
	KindSessionAuthFailed    = "session.auth_failed"
	KindSessionLoggedOut     = "session.logged_out"
	KindSyncConnected        = "sync.connected"
	KindSyncDisconnected     = "sync.disconnected"
	KindSyncHistoryBatch     = "sync.history_batch"
)

// NewEvent returns an event of the given kind stamped with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
