// Package ingest turns normalized protocol events into persisted rows.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hireloop/wabridge/internal/bus"
	"github.com/hireloop/wabridge/internal/crm"
	"github.com/hireloop/wabridge/internal/media"
	"github.com/hireloop/wabridge/internal/sanitize"
	"github.com/hireloop/wabridge/internal/store"
	"go.uber.org/zap"
)

const previewLen = 100

// Engine ingests live messages and history backfills idempotently. All
// writes are scoped by the caller-supplied session id; the engine itself is
// tenant-agnostic and shared by every instance.
type Engine struct {
	db        *store.DB
	media     *media.Store
	directory crm.Directory
	bus       *bus.Bus
	logger    *zap.Logger
	chunkSize int

	downloads sync.WaitGroup
}

// NewEngine creates an ingestion engine. chunkSize bounds the number of
// history messages merged per transaction.
func NewEngine(db *store.DB, mediaStore *media.Store, directory crm.Directory, b *bus.Bus, chunkSize int, logger *zap.Logger) *Engine {
	if chunkSize <= 0 {
		chunkSize = 100
	}
	return &Engine{
		db:        db,
		media:     mediaStore,
		directory: directory,
		bus:       b,
		logger:    logger,
		chunkSize: chunkSize,
	}
}

// Close waits for outstanding media downloads to finish.
func (e *Engine) Close() {
	e.downloads.Wait()
}

// IngestLive persists one inbound message. Re-delivery of the same message
// id is a no-op, which also covers the echo of messages the send path
// already recorded. The message row is stored before any media arrives;
// media retrieval is kicked off asynchronously and back-fills media_ref.
func (e *Engine) IngestLive(ctx context.Context, sessionID, userID string, lm *LiveMessage) error {
	msg := lm.Msg
	msg.SessionID = sessionID
	msg.Body = sanitize.Text(msg.Body)

	phone := PhoneFromJID(msg.ChatJID)
	crmName := ""
	if phone != "" {
		if contact, err := e.directory.FindContactByPhone(ctx, phone); err != nil {
			e.logger.Warn("crm lookup failed", zap.String("user_id", userID), zap.Error(err))
		} else if contact != nil {
			crmName = contact.FullName
			msg.ContactID = contact.ID
		}
	}

	inserted, err := e.db.InsertMessage(&msg)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if !inserted {
		return nil
	}

	name, rank := ResolveName(crmName, "", "", "", sanitize.Text(lm.PushName), phone)
	if err := e.db.TouchChat(&store.Chat{
		SessionID:          sessionID,
		JID:                msg.ChatJID,
		Name:               name,
		NameRank:           rank,
		IsGroup:            IsGroupJID(msg.ChatJID),
		LastMessageAt:      msg.Timestamp,
		LastMessagePreview: preview(&msg),
		ContactID:          msg.ContactID,
	}, !msg.FromMe, true); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}

	if lm.Download != nil {
		e.downloads.Add(1)
		go e.fetchMedia(sessionID, userID, msg.ChatJID, msg.MsgID, msg.MimeType, lm.Download)
	}

	e.bus.Publish(bus.Event{
		Kind:      bus.KindMessage,
		UserID:    userID,
		Timestamp: time.Now(),
		Payload:   msg,
	})
	return nil
}

// RecordOutbound persists a message the send path just delivered. The chat's
// unread counter resets; the inbound echo of this message dedups against the
// stored row.
func (e *Engine) RecordOutbound(sessionID, userID string, msg *store.Message) error {
	msg.SessionID = sessionID
	msg.FromMe = true
	if msg.Status == "" {
		msg.Status = store.StatusSent
	}
	if _, err := e.db.InsertMessage(msg); err != nil {
		return fmt.Errorf("insert outbound message: %w", err)
	}
	if err := e.db.TouchChat(&store.Chat{
		SessionID:          sessionID,
		JID:                msg.ChatJID,
		Name:               PhoneFromJID(msg.ChatJID),
		NameRank:           store.RankPhoneNumber,
		IsGroup:            IsGroupJID(msg.ChatJID),
		LastMessageAt:      msg.Timestamp,
		LastMessagePreview: preview(msg),
	}, false, true); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	e.bus.Publish(bus.Event{
		Kind:      bus.KindMessage,
		UserID:    userID,
		Timestamp: time.Now(),
		Payload:   *msg,
	})
	return nil
}

// IngestHistory merges one backfill payload. Safe to run repeatedly and
// concurrently with live ingestion: messages dedup on their id when present
// and on (chat, timestamp) otherwise, chat updates are monotonic, and the
// merge commits in bounded chunks so it never holds the write lock for an
// unbounded period.
func (e *Engine) IngestHistory(ctx context.Context, sessionID, userID string, h *HistoryPayload) error {
	for _, hc := range h.Chats {
		name, rank := sanitize.Text(hc.Name), store.RankNotifyName
		if name == "" {
			continue
		}
		if err := e.db.UpdateChatName(sessionID, hc.JID, name, rank, IsGroupJID(hc.JID)); err != nil {
			e.logger.Warn("history chat update failed", zap.String("user_id", userID), zap.String("jid", hc.JID), zap.Error(err))
		}
	}

	if len(h.Contacts) > 0 {
		contacts := make([]store.Contact, 0, len(h.Contacts))
		for _, c := range h.Contacts {
			c.SessionID = sessionID
			contacts = append(contacts, c)
		}
		if err := e.db.BulkUpsertContacts(contacts); err != nil {
			return fmt.Errorf("upsert contacts: %w", err)
		}
		for _, c := range contacts {
			name, rank := ResolveName("", c.Name, c.PushName, c.BusinessName, "", PhoneFromJID(c.JID))
			if err := e.db.UpdateChatName(sessionID, c.JID, sanitize.Text(name), rank, IsGroupJID(c.JID)); err != nil {
				e.logger.Warn("contact chat update failed", zap.String("jid", c.JID), zap.Error(err))
			}
		}
	}

	for start := 0; start < len(h.Messages); start += e.chunkSize {
		end := min(start+e.chunkSize, len(h.Messages))
		if err := e.mergeChunk(sessionID, h.Messages[start:end]); err != nil {
			return fmt.Errorf("merge chunk: %w", err)
		}
		// Yield between chunks so a live burst is never starved.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func (e *Engine) mergeChunk(sessionID string, msgs []store.Message) error {
	touched := make(map[string]store.Message)

	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for i := range msgs {
		m := msgs[i]
		m.SessionID = sessionID
		m.Body = sanitize.Text(m.Body)
		if m.Status == "" {
			m.Status = store.StatusReceived
		}

		if m.MsgID == "" {
			// No stable id in the backfill: the dedup key degrades to
			// (chat, timestamp).
			var n int
			if err := tx.QueryRow(`
				SELECT COUNT(*) FROM messages WHERE session_id = ? AND chat_jid = ? AND timestamp = ?`,
				m.SessionID, m.ChatJID, m.Timestamp).Scan(&n); err != nil {
				return err
			}
			if n > 0 {
				continue
			}
			m.MsgID = fmt.Sprintf("hist:%d", m.Timestamp)
		}

		if _, err := tx.Exec(`
			INSERT INTO messages (session_id, chat_jid, msg_id, sender_jid, from_me, kind, body, media_ref, file_name, mime_type, file_size, status, contact_id, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id, chat_jid, msg_id) DO NOTHING`,
			m.SessionID, m.ChatJID, m.MsgID, m.SenderJID, m.FromMe, m.Kind, m.Body,
			m.MediaRef, m.FileName, m.MimeType, m.FileSize, m.Status, m.ContactID, m.Timestamp, now); err != nil {
			return err
		}

		if prev, ok := touched[m.ChatJID]; !ok || m.Timestamp > prev.Timestamp {
			touched[m.ChatJID] = m
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk: %w", err)
	}

	// Chat rollups run outside the transaction; TouchChat is monotonic so
	// interleaving with live ingestion cannot move a chat backwards.
	// History never counts unread.
	for jid, m := range touched {
		if err := e.db.TouchChat(&store.Chat{
			SessionID:          sessionID,
			JID:                jid,
			Name:               PhoneFromJID(jid),
			NameRank:           store.RankPhoneNumber,
			IsGroup:            IsGroupJID(jid),
			LastMessageAt:      m.Timestamp,
			LastMessagePreview: preview(&m),
		}, !m.FromMe, false); err != nil {
			return fmt.Errorf("touch chat %s: %w", jid, err)
		}
	}
	return nil
}

// IngestReceipt advances delivery status for previously stored messages.
func (e *Engine) IngestReceipt(sessionID string, r *Receipt) error {
	for _, id := range r.MsgIDs {
		if err := e.db.UpdateMessageStatus(sessionID, r.ChatJID, id, r.Status); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
	}
	return nil
}

// fetchMedia downloads one message's media and back-fills media_ref.
// Best-effort: failures are logged and the message stays without media.
func (e *Engine) fetchMedia(sessionID, userID, chatJID, msgID, mimeType string, download DownloadFunc) {
	defer e.downloads.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	data, err := download(ctx)
	if err != nil {
		e.logger.Warn("media download failed",
			zap.String("user_id", userID), zap.String("msg_id", msgID), zap.Error(err))
		return
	}
	ref, err := e.media.Save(data, mimeType)
	if err != nil {
		e.logger.Warn("media save failed",
			zap.String("user_id", userID), zap.String("msg_id", msgID), zap.Error(err))
		return
	}
	if err := e.db.SetMessageMedia(sessionID, chatJID, msgID, ref); err != nil {
		e.logger.Warn("media ref update failed",
			zap.String("user_id", userID), zap.String("msg_id", msgID), zap.Error(err))
	}
}

func preview(m *store.Message) string {
	body := m.Body
	if body == "" && m.Kind != store.KindText {
		body = "[" + m.Kind + "]"
	}
	if len(body) <= previewLen {
		return body
	}
	// Back up to a rune boundary so the preview stays valid UTF-8.
	cut := previewLen
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}
