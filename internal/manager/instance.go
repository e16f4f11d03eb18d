package manager

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hireloop/wabridge/internal/bus"
	"github.com/hireloop/wabridge/internal/errs"
	"github.com/hireloop/wabridge/internal/ingest"
	"github.com/hireloop/wabridge/internal/state"
	"github.com/hireloop/wabridge/internal/store"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// Instance is one user's runtime: connection handle, state machine, counters
// and a single event loop serializing that user's protocol events. Distinct
// users' instances run fully independently.
type Instance struct {
	userID  string
	mgr     *Manager
	machine *state.Machine
	logger  *zap.Logger

	queue      chan ingest.Event
	loopCtx    context.Context
	loopCancel context.CancelFunc
	done       chan struct{}

	// seenChats is owned by the event loop goroutine.
	seenChats map[string]struct{}

	bg sync.WaitGroup

	mu          sync.Mutex
	conn        Connector
	sessionID   string
	attempts    int
	qrCode      string
	qrImage     string
	phone       string
	inflight    chan struct{}
	inflightErr error
	retryCancel func()
	stopped     bool
}

// Initialize starts or continues a connection attempt. Concurrent callers
// while an attempt is in flight attach to that attempt and observe its
// outcome; a caller while already connected or already pairing is a no-op.
func (i *Instance) Initialize(ctx context.Context) error {
	i.mu.Lock()
	if i.stopped {
		i.mu.Unlock()
		return errs.ErrNoSession
	}
	if i.machine.Is(state.Connected) {
		i.mu.Unlock()
		return nil
	}
	if wait := i.inflight; wait != nil {
		i.mu.Unlock()
		select {
		case <-wait:
			i.mu.Lock()
			err := i.inflightErr
			i.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if i.machine.Is(state.Connecting, state.AwaitingPairing) {
		// An earlier attempt already opened the connection and is waiting
		// for the network (or the user's scan).
		i.mu.Unlock()
		return nil
	}

	wait := make(chan struct{})
	i.inflight = wait
	if i.retryCancel != nil {
		i.retryCancel()
		i.retryCancel = nil
	}
	i.mu.Unlock()

	err := i.connect(ctx)

	i.mu.Lock()
	i.inflightErr = err
	i.inflight = nil
	close(wait)
	i.mu.Unlock()

	if err != nil {
		i.scheduleReconnect(err.Error())
	}
	return err
}

func (i *Instance) connect(ctx context.Context) error {
	if err := i.machine.Transition(state.Connecting); err != nil {
		return err
	}

	if err := i.ensureSession(); err != nil {
		_ = i.machine.Transition(state.Disconnected)
		return err
	}

	i.mu.Lock()
	conn := i.conn
	i.mu.Unlock()
	if conn == nil {
		c, err := i.mgr.factory(ctx, i.userID, i.enqueue)
		if err != nil {
			_ = i.machine.Transition(state.Disconnected)
			return fmt.Errorf("create connector: %w", err)
		}
		i.mu.Lock()
		i.conn = c
		i.mu.Unlock()
		conn = c
	}

	if err := conn.Connect(ctx); err != nil {
		_ = i.machine.Transition(state.Disconnected)
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// ensureSession loads or creates this pairing lifetime's session row.
func (i *Instance) ensureSession() error {
	i.mu.Lock()
	have := i.sessionID != ""
	i.mu.Unlock()
	if have {
		return nil
	}

	sess, err := i.mgr.db.LatestSession(i.userID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil || !sess.IsActive {
		sess = &store.Session{ID: uuid.NewString(), UserID: i.userID}
		if err := i.mgr.db.CreateSession(sess); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
	}
	i.mu.Lock()
	i.sessionID = sess.ID
	i.phone = sess.PhoneNumber
	i.mu.Unlock()
	return nil
}

// enqueue delivers one protocol event to the instance loop. It blocks when
// the queue is full so events are never silently lost while the instance is
// alive; instance shutdown releases any blocked producer.
func (i *Instance) enqueue(evt ingest.Event) {
	select {
	case i.queue <- evt:
	case <-i.loopCtx.Done():
	}
}

func (i *Instance) run() {
	defer close(i.done)
	for {
		select {
		case evt := <-i.queue:
			i.handle(evt)
		case <-i.loopCtx.Done():
			return
		}
	}
}

func (i *Instance) handle(evt ingest.Event) {
	switch evt.Kind {
	case ingest.EventQR:
		i.handleQR(evt.QR)
	case ingest.EventConnected:
		i.handleConnected(evt.Phone)
	case ingest.EventClosed:
		i.handleClosed(evt.Reason, evt.ReasonText)
	case ingest.EventMessage:
		i.handleMessage(evt.Message)
	case ingest.EventHistory:
		i.handleHistory(evt.History)
	case ingest.EventReceipt:
		i.handleReceipt(evt.Receipt)
	}
}

func (i *Instance) handleQR(code string) {
	img := ""
	if png, err := qrcode.Encode(code, qrcode.Medium, 256); err == nil {
		img = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	} else {
		i.logger.Warn("qr render failed", zap.Error(err))
	}

	i.mu.Lock()
	i.qrCode = code
	i.qrImage = img
	sessionID := i.sessionID
	i.mu.Unlock()

	if err := i.machine.Transition(state.AwaitingPairing); err != nil {
		i.logger.Warn("unexpected pairing artifact", zap.String("state", string(i.machine.Current())))
		return
	}
	if err := i.mgr.db.SetSessionQR(sessionID, code); err != nil {
		i.logger.Error("persist qr failed", zap.Error(err))
	}
	i.mgr.bus.Publish(bus.Event{
		Kind:      bus.KindQR,
		UserID:    i.userID,
		Timestamp: time.Now(),
		Payload:   QR{Code: code, Image: img},
	})
}

func (i *Instance) handleConnected(phone string) {
	i.mu.Lock()
	restored := i.attempts > 0
	i.attempts = 0
	i.qrCode, i.qrImage = "", ""
	if phone != "" {
		i.phone = phone
	}
	sessionID := i.sessionID
	i.mu.Unlock()

	if err := i.machine.Transition(state.Connected); err != nil {
		i.logger.Warn("unexpected open event", zap.String("state", string(i.machine.Current())))
		return
	}
	if err := i.mgr.db.MarkSessionConnected(sessionID, i.userID, phone); err != nil {
		i.logger.Error("persist connect failed", zap.Error(err))
	}
	if restored {
		i.mgr.notifier.NotifyConnectionRestored(i.userID)
	}
	i.logger.Info("connected", zap.String("phone", phone))
	i.mgr.bus.Publish(bus.Event{
		Kind:      bus.KindConnected,
		UserID:    i.userID,
		Timestamp: time.Now(),
		Payload:   phone,
	})
}

func (i *Instance) handleClosed(reason ingest.CloseReason, reasonText string) {
	i.mu.Lock()
	sessionID := i.sessionID
	i.mu.Unlock()

	switch reason {
	case ingest.CloseLoggedOut:
		_ = i.machine.Transition(state.LoggedOut)
		i.mu.Lock()
		conn := i.conn
		i.attempts = 0
		i.qrCode, i.qrImage, i.phone = "", "", ""
		i.sessionID = ""
		i.mu.Unlock()

		if conn != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := conn.ResetCredentials(ctx); err != nil {
				i.logger.Warn("credential reset failed", zap.Error(err))
			}
			cancel()
		}
		if sessionID != "" {
			if err := i.mgr.db.DeactivateSession(sessionID); err != nil {
				i.logger.Error("deactivate session failed", zap.Error(err))
			}
		}
		i.mgr.notifier.NotifyReauthRequired(i.userID)
		i.publishDisconnected("logged_out")
		i.logger.Info("logged out by network, scheduling fresh pairing")

		// A fresh initialize produces a new pairing artifact without
		// manual intervention.
		i.mu.Lock()
		if !i.stopped {
			i.retryCancel = i.mgr.sched.Schedule(i.mgr.cfg.RetryDelay, func() {
				_ = i.Initialize(context.Background())
			})
		}
		i.mu.Unlock()

	case ingest.CloseConflict:
		_ = i.machine.Transition(state.Conflict)
		if sessionID != "" {
			if err := i.mgr.db.DeactivateSession(sessionID); err != nil {
				i.logger.Error("deactivate session failed", zap.Error(err))
			}
		}
		i.mgr.notifier.NotifyConnectionFailed(i.userID, 0, "account active on another device")
		i.publishDisconnected("conflict")
		i.logger.Warn("conflict close, waiting for operator re-initialize")

	default:
		_ = i.machine.Transition(state.Disconnected)
		if sessionID != "" {
			if err := i.mgr.db.MarkSessionDisconnected(sessionID); err != nil {
				i.logger.Error("persist disconnect failed", zap.Error(err))
			}
		}
		i.publishDisconnected(reasonText)
		i.scheduleReconnect(reasonText)
	}
}

// scheduleReconnect applies the bounded retry policy after a transient
// failure. A close that fires while an initialize is in flight does not
// start a second retry chain.
func (i *Instance) scheduleReconnect(reason string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.stopped || i.inflight != nil {
		return
	}
	if i.attempts >= i.mgr.cfg.MaxReconnectAttempts {
		return
	}
	i.attempts++
	if i.attempts < i.mgr.cfg.MaxReconnectAttempts {
		attempt := i.attempts
		i.retryCancel = i.mgr.sched.Schedule(i.mgr.cfg.RetryDelay, func() {
			i.logger.Info("reconnecting", zap.Int("attempt", attempt))
			_ = i.Initialize(context.Background())
		})
		return
	}
	// Budget exhausted: stop retrying and escalate exactly once.
	i.mgr.notifier.NotifyConnectionFailed(i.userID, i.attempts, reason)
	i.logger.Warn("reconnect attempts exhausted", zap.Int("attempts", i.attempts), zap.String("reason", reason))
}

func (i *Instance) handleMessage(lm *ingest.LiveMessage) {
	i.mu.Lock()
	sessionID := i.sessionID
	i.mu.Unlock()
	if sessionID == "" || lm == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := i.mgr.engine.IngestLive(ctx, sessionID, i.userID, lm); err != nil {
		// Contained: drop this occurrence, keep the instance alive.
		i.logger.Error("message ingest failed", zap.String("msg_id", lm.Msg.MsgID), zap.Error(err))
		return
	}
	i.maybeFetchAvatar(sessionID, lm.Msg.ChatJID)
}

func (i *Instance) handleHistory(h *ingest.HistoryPayload) {
	i.mu.Lock()
	sessionID := i.sessionID
	i.mu.Unlock()
	if sessionID == "" || h == nil {
		return
	}
	if err := i.mgr.engine.IngestHistory(i.loopCtx, sessionID, i.userID, h); err != nil {
		i.logger.Error("history merge failed", zap.Int("messages", len(h.Messages)), zap.Error(err))
		return
	}
	i.logger.Info("history merged",
		zap.Int("chats", len(h.Chats)),
		zap.Int("contacts", len(h.Contacts)),
		zap.Int("messages", len(h.Messages)))
}

func (i *Instance) handleReceipt(r *ingest.Receipt) {
	i.mu.Lock()
	sessionID := i.sessionID
	i.mu.Unlock()
	if sessionID == "" || r == nil {
		return
	}
	if err := i.mgr.engine.IngestReceipt(sessionID, r); err != nil {
		i.logger.Warn("receipt update failed", zap.Error(err))
	}
}

// maybeFetchAvatar kicks off a best-effort avatar fetch the first time a
// chat is touched in this process. Never retried synchronously, never fatal.
func (i *Instance) maybeFetchAvatar(sessionID, chatJID string) {
	if _, seen := i.seenChats[chatJID]; seen {
		return
	}
	i.seenChats[chatJID] = struct{}{}

	i.mu.Lock()
	conn := i.conn
	i.mu.Unlock()
	if conn == nil {
		return
	}

	i.bg.Add(1)
	go func() {
		defer i.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		url, err := conn.AvatarURL(ctx, chatJID)
		if err != nil || url == "" {
			if err != nil {
				i.logger.Debug("avatar fetch failed", zap.String("jid", chatJID), zap.Error(err))
			}
			return
		}
		if err := i.mgr.db.SetChatAvatar(sessionID, chatJID, url); err != nil {
			i.logger.Warn("avatar persist failed", zap.String("jid", chatJID), zap.Error(err))
		}
	}()
}

func (i *Instance) publishDisconnected(reason string) {
	i.mgr.bus.Publish(bus.Event{
		Kind:      bus.KindDisconnected,
		UserID:    i.userID,
		Timestamp: time.Now(),
		Payload:   reason,
	})
}

// Status reports current runtime state without touching the network.
func (i *Instance) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Status{
		Connected:    i.machine.Is(state.Connected),
		State:        i.machine.Current(),
		PairingCode:  i.qrCode,
		PairingImage: i.qrImage,
		PhoneNumber:  i.phone,
	}
}

// SendText delivers a text message. Requires a connected session; delivery
// failures come back as typed errors, never panics.
func (i *Instance) SendText(ctx context.Context, to, text string) (*SendResult, error) {
	if !i.machine.Is(state.Connected) {
		return nil, errs.ErrNotConnected
	}
	jid, err := ingest.NormalizeJID(to)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	conn := i.conn
	sessionID := i.sessionID
	i.mu.Unlock()

	msgID, ts, err := conn.SendText(ctx, jid, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrSendFailed, err)
	}

	if err := i.mgr.engine.RecordOutbound(sessionID, i.userID, &store.Message{
		ChatJID:   jid,
		MsgID:     msgID,
		Kind:      store.KindText,
		Body:      text,
		Status:    store.StatusSent,
		Timestamp: ts.UnixMilli(),
	}); err != nil {
		i.logger.Error("record outbound failed", zap.String("msg_id", msgID), zap.Error(err))
	}
	return &SendResult{MsgID: msgID, Timestamp: ts}, nil
}

// SendFile delivers a local file as a document payload.
func (i *Instance) SendFile(ctx context.Context, to, localPath, caption, mimeType string) (*SendResult, error) {
	if !i.machine.Is(state.Connected) {
		return nil, errs.ErrNotConnected
	}
	jid, err := ingest.NormalizeJID(to)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	fileName := filepath.Base(localPath)
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(localPath))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	i.mu.Lock()
	conn := i.conn
	sessionID := i.sessionID
	i.mu.Unlock()

	msgID, ts, err := conn.SendDocument(ctx, jid, data, fileName, mimeType, caption)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrSendFailed, err)
	}

	if err := i.mgr.engine.RecordOutbound(sessionID, i.userID, &store.Message{
		ChatJID:   jid,
		MsgID:     msgID,
		Kind:      store.KindDocument,
		Body:      caption,
		FileName:  fileName,
		MimeType:  mimeType,
		FileSize:  int64(len(data)),
		Status:    store.StatusSent,
		Timestamp: ts.UnixMilli(),
	}); err != nil {
		i.logger.Error("record outbound failed", zap.String("msg_id", msgID), zap.Error(err))
	}
	return &SendResult{MsgID: msgID, Timestamp: ts}, nil
}

// AvatarURL fetches a conversation's avatar. Best-effort: any failure maps
// to an empty URL, not an error.
func (i *Instance) AvatarURL(ctx context.Context, remoteID string) (string, error) {
	if !i.machine.Is(state.Connected) {
		return "", errs.ErrNotConnected
	}
	i.mu.Lock()
	conn := i.conn
	i.mu.Unlock()

	url, err := conn.AvatarURL(ctx, remoteID)
	if err != nil {
		i.logger.Debug("avatar fetch failed", zap.String("jid", remoteID), zap.Error(err))
		return "", nil
	}
	return url, nil
}

// stop tears the instance down. With logout the underlying credentials are
// invalidated and the session row deactivated; otherwise the connection just
// closes. Pending reconnects are cancelled either way.
func (i *Instance) stop(logout bool) {
	i.mu.Lock()
	if i.stopped {
		i.mu.Unlock()
		return
	}
	i.stopped = true
	if i.retryCancel != nil {
		i.retryCancel()
		i.retryCancel = nil
	}
	conn := i.conn
	sessionID := i.sessionID
	i.mu.Unlock()

	if conn != nil {
		if logout {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := conn.Logout(ctx); err != nil {
				i.logger.Warn("logout failed", zap.Error(err))
			}
			cancel()
		} else {
			conn.Disconnect()
		}
	}
	if logout && sessionID != "" {
		if err := i.mgr.db.DeactivateSession(sessionID); err != nil {
			i.logger.Error("deactivate session failed", zap.Error(err))
		}
	}

	i.loopCancel()
	<-i.done
	i.bg.Wait()
}
