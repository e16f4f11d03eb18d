package manager

import (
	"context"
	"time"

	"github.com/hireloop/wabridge/internal/ingest"
)

// Connector abstracts one user's underlying protocol connection. The
// production implementation wraps the whatsmeow client; tests script a fake.
// Connect is asynchronous: lifecycle and message events arrive through the
// EventSink handed to the factory.
type Connector interface {
	// HasCredentials reports whether persisted credential material exists,
	// i.e. whether Connect can restore a session without pairing.
	HasCredentials() bool

	// Connect opens the underlying connection. For an unpaired session it
	// also starts the pairing-artifact stream.
	Connect(ctx context.Context) error

	// Disconnect closes the connection without touching credentials.
	Disconnect()

	// Logout ends the connection and invalidates remote + local credentials.
	Logout(ctx context.Context) error

	// ResetCredentials deletes local credential material after the network
	// reported the session unlinked.
	ResetCredentials(ctx context.Context) error

	// SendText delivers a text message. Returns the network message id and
	// the send timestamp.
	SendText(ctx context.Context, jid, text string) (string, time.Time, error)

	// SendDocument delivers a file as a document payload.
	SendDocument(ctx context.Context, jid string, data []byte, fileName, mimeType, caption string) (string, time.Time, error)

	// AvatarURL fetches the remote conversation's avatar URL.
	AvatarURL(ctx context.Context, jid string) (string, error)

	// PhoneNumber returns the paired phone number, or "" before pairing.
	PhoneNumber() string
}

// EventSink receives normalized protocol events from a Connector.
type EventSink func(ingest.Event)

// ConnectorFactory builds the Connector for one user; events it produces go
// to sink.
type ConnectorFactory func(ctx context.Context, userID string, sink EventSink) (Connector, error)

// Scheduler schedules delayed work. Abstracted so reconnect policy is
// testable without real timers.
type Scheduler interface {
	// Schedule runs fn after d. The returned function cancels the pending
	// run; cancelling after fn started is a no-op.
	Schedule(d time.Duration, fn func()) (cancel func())
}

// TimerScheduler is the production Scheduler backed by time.AfterFunc.
type TimerScheduler struct{}

func (TimerScheduler) Schedule(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
