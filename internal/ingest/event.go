package ingest

import (
	"context"

	"github.com/hireloop/wabridge/internal/store"
)

// EventKind enumerates the protocol events an instance consumes.
type EventKind int

const (
	EventQR EventKind = iota
	EventConnected
	EventClosed
	EventMessage
	EventHistory
	EventReceipt
)

// CloseReason classifies a connection closure into the three recovery
// buckets.
type CloseReason int

const (
	// CloseTransient covers network drops and anything unclassified;
	// recovered by bounded automatic reconnection.
	CloseTransient CloseReason = iota
	// CloseLoggedOut means the user unlinked the device; the old
	// credentials are dead and a fresh pairing cycle starts.
	CloseLoggedOut
	// CloseConflict means the account went live elsewhere; no automatic
	// recovery.
	CloseConflict
)

// DownloadFunc fetches a message's media payload from the network.
type DownloadFunc func(ctx context.Context) ([]byte, error)

// LiveMessage is one normalized inbound message plus its optional media
// retrieval hook. SessionID on Msg is filled by the owning instance.
type LiveMessage struct {
	Msg      store.Message
	PushName string
	Download DownloadFunc
}

// HistoryPayload is one bulk backfill delivery: chats, contacts and messages
// arriving together, possibly repeatedly.
type HistoryPayload struct {
	Chats    []HistoryChat
	Contacts []store.Contact
	Messages []store.Message
}

// HistoryChat is a conversation entry from a backfill.
type HistoryChat struct {
	JID  string
	Name string
}

// Receipt is a delivery-status update for previously stored messages.
type Receipt struct {
	ChatJID string
	MsgIDs  []string
	Status  string
}

// Event is the tagged union pushed onto an instance's queue.
type Event struct {
	Kind       EventKind
	QR         string
	Phone      string
	Reason     CloseReason
	ReasonText string
	Message    *LiveMessage
	History    *HistoryPayload
	Receipt    *Receipt
}
