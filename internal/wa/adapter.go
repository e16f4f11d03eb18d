package wa

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hireloop/wabridge/internal/ingest"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter wraps one user's whatsmeow client. Credential material lives in a
// per-user sqlite container; lifecycle and message events are normalized and
// pushed to the sink.
type Adapter struct {
	userID    string
	client    *whatsmeow.Client
	container *sqlstore.Container
	sink      func(ingest.Event)
	logger    *zap.Logger

	mu       sync.Mutex
	qrCancel context.CancelFunc
}

// NewAdapter opens the user's credential store at dbPath and builds an
// unconnected client around it.
func NewAdapter(ctx context.Context, userID, dbPath string, sink func(ingest.Event), logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("HireLoop", [3]uint32{1, 0, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)
	// The instance runtime owns reconnection; the library's own retry loop
	// would race it and retry without bound.
	client.EnableAutoReconnect = false

	a := &Adapter{
		userID:    userID,
		client:    client,
		container: container,
		sink:      sink,
		logger:    logger.With(zap.String("user_id", userID)),
	}
	a.client.AddEventHandler(a.handleEvent)
	return a, nil
}

// HasCredentials reports whether a paired device identity is stored.
func (a *Adapter) HasCredentials() bool {
	return a.client.Store.ID != nil
}

// Connect opens the connection. Without stored credentials it also starts
// the pairing stream; QR codes arrive through the sink as they rotate.
func (a *Adapter) Connect(ctx context.Context) error {
	if !a.HasCredentials() {
		// GetQRChannel must be called before Connect. The pump outlives
		// this call, so it gets its own cancelable context.
		qrCtx, cancel := context.WithCancel(context.Background())
		ch, err := a.client.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("qr channel: %w", err)
		}
		a.mu.Lock()
		if a.qrCancel != nil {
			a.qrCancel()
		}
		a.qrCancel = cancel
		a.mu.Unlock()
		go a.pumpQR(ch)
	}

	a.logger.Info("connecting")
	if err := a.client.Connect(); err != nil {
		a.stopQR()
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (a *Adapter) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			a.sink(ingest.Event{Kind: ingest.EventQR, QR: item.Code})
		case "success":
			// The Connected event carries the rest.
			return
		case "timeout":
			a.logger.Warn("pairing timed out")
			a.sink(ingest.Event{
				Kind:       ingest.EventClosed,
				Reason:     ingest.CloseTransient,
				ReasonText: "pairing timeout",
			})
			return
		default:
			if item.Error != nil {
				a.sink(ingest.Event{
					Kind:       ingest.EventClosed,
					Reason:     ingest.CloseTransient,
					ReasonText: item.Error.Error(),
				})
				return
			}
		}
	}
}

func (a *Adapter) stopQR() {
	a.mu.Lock()
	if a.qrCancel != nil {
		a.qrCancel()
		a.qrCancel = nil
	}
	a.mu.Unlock()
}

func (a *Adapter) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		a.sink(ingest.Event{Kind: ingest.EventConnected, Phone: a.PhoneNumber()})

	case *events.Disconnected:
		a.sink(ingest.Event{
			Kind:       ingest.EventClosed,
			Reason:     ingest.CloseTransient,
			ReasonText: "connection closed",
		})

	case *events.ConnectFailure:
		a.sink(ingest.Event{
			Kind:       ingest.EventClosed,
			Reason:     ingest.CloseTransient,
			ReasonText: fmt.Sprintf("connect failure: %s", evt.Reason),
		})

	case *events.LoggedOut:
		a.logger.Warn("logged out by server", zap.String("reason", evt.Reason.String()))
		a.sink(ingest.Event{
			Kind:       ingest.EventClosed,
			Reason:     ingest.CloseLoggedOut,
			ReasonText: evt.Reason.String(),
		})

	case *events.StreamReplaced:
		a.logger.Warn("stream replaced by another connection")
		a.sink(ingest.Event{
			Kind:       ingest.EventClosed,
			Reason:     ingest.CloseConflict,
			ReasonText: "stream replaced",
		})

	case *events.Message:
		a.sink(ingest.Event{
			Kind:    ingest.EventMessage,
			Message: ParseLiveMessage(evt, a.client),
		})

	case *events.HistorySync:
		if h := ParseHistorySync(evt); h != nil {
			a.sink(ingest.Event{Kind: ingest.EventHistory, History: h})
		}

	case *events.Receipt:
		if r := parseReceipt(evt); r != nil {
			a.sink(ingest.Event{Kind: ingest.EventReceipt, Receipt: r})
		}
	}
}

// Disconnect closes the connection, keeping credentials intact.
func (a *Adapter) Disconnect() {
	a.stopQR()
	a.client.Disconnect()
}

// Logout invalidates remote and local credentials and disconnects.
func (a *Adapter) Logout(ctx context.Context) error {
	a.stopQR()
	return a.client.Logout(ctx)
}

// ResetCredentials wipes local credential material after the server already
// invalidated the session remotely.
func (a *Adapter) ResetCredentials(ctx context.Context) error {
	a.stopQR()
	a.client.Disconnect()
	if err := a.client.Store.Delete(ctx); err != nil {
		return fmt.Errorf("delete device store: %w", err)
	}
	return nil
}

// SendText delivers a plain text message.
func (a *Adapter) SendText(ctx context.Context, jid, text string) (string, time.Time, error) {
	to, err := types.ParseJID(jid)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parse jid: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("send message: %w", err)
	}
	return resp.ID, resp.Timestamp, nil
}

// SendDocument uploads data and delivers it as a document message.
func (a *Adapter) SendDocument(ctx context.Context, jid string, data []byte, fileName, mimeType, caption string) (string, time.Time, error) {
	to, err := types.ParseJID(jid)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parse jid: %w", err)
	}
	uploaded, err := a.client.Upload(ctx, data, whatsmeow.MediaDocument)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("upload media: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			FileName:      proto.String(fileName),
			Mimetype:      proto.String(mimeType),
			Caption:       proto.String(caption),
		},
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("send document: %w", err)
	}
	return resp.ID, resp.Timestamp, nil
}

// AvatarURL fetches the profile picture URL for a chat or contact.
func (a *Adapter) AvatarURL(ctx context.Context, jid string) (string, error) {
	target, err := types.ParseJID(jid)
	if err != nil {
		return "", fmt.Errorf("parse jid: %w", err)
	}
	info, err := a.client.GetProfilePictureInfo(ctx, target, &whatsmeow.GetProfilePictureParams{})
	if err != nil {
		return "", fmt.Errorf("profile picture: %w", err)
	}
	if info == nil {
		return "", nil
	}
	return info.URL, nil
}

// PhoneNumber returns the paired phone number, or "" before pairing.
func (a *Adapter) PhoneNumber() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.User
}
