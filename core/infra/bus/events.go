package bus

import "time"

// Lock lifecycle event types.
const (
	EventAcquired = "acquired"
	EventReleased = "released"
	EventExpired  = "expired"
)

// LockEvent describes a lock lifecycle transition. Events are notification
// only: consumers that want a contended asset must poll or retry on their own.
type LockEvent struct {
	Type          string    `json:"type"`
	AssetType     string    `json:"asset_type"`
	AssetName     string    `json:"asset_name"`
	OwnerID       string    `json:"owner_id"`
	ReservationID string    `json:"reservation_id"`
	At            time.Time `json:"at"`
}

// Publisher emits lock lifecycle events.
type Publisher interface {
	PublishLockEvent(ev LockEvent) error
	Close()
}

// Noop implements Publisher without a broker connection.
type Noop struct{}

func (Noop) PublishLockEvent(LockEvent) error { return nil }
func (Noop) Close()                           {}

// SubjectFor maps an event type to its NATS subject.
func SubjectFor(eventType string) string {
	return "locks." + eventType
}
