package bus

import "time"

// Event kinds published by the gateway. Kinds are dot-namespaced so
// subscribers can filter by prefix.
const (
	KindQR           = "session.qr"
	KindConnected    = "session.connected"
	KindDisconnected = "session.disconnected"
	KindStatusChange = "session.status_changed"
	KindMessage      = "chat.message"
)

// Event represents a domain event published on the bus. UserID identifies
// the owning tenant on every event so consumers can never attribute a
// payload to the wrong user.
type Event struct {
	Kind      string
	UserID    string
	Timestamp time.Time
	Payload   any
}
