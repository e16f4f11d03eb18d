package store

import "time"

// InsertMessage inserts a message if its dedup key is new. Returns whether a
// row was actually inserted; re-delivery of the same (session, chat, msg_id)
// is a no-op.
func (db *DB) InsertMessage(m *Message) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO messages (session_id, chat_jid, msg_id, sender_jid, from_me, kind, body, media_ref, file_name, mime_type, file_size, status, contact_id, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, chat_jid, msg_id) DO NOTHING`,
		m.SessionID, m.ChatJID, m.MsgID, m.SenderJID, m.FromMe, m.Kind, m.Body,
		m.MediaRef, m.FileName, m.MimeType, m.FileSize, m.Status, m.ContactID, m.Timestamp, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MessageExistsAt reports whether any message in the chat carries the given
// timestamp. Fallback dedup key for history entries without a stable id.
func (db *DB) MessageExistsAt(sessionID, chatJID string, timestamp int64) (bool, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages WHERE session_id = ? AND chat_jid = ? AND timestamp = ?`,
		sessionID, chatJID, timestamp).Scan(&n)
	return n > 0, err
}

// UpdateMessageStatus advances a message's delivery status.
func (db *DB) UpdateMessageStatus(sessionID, chatJID, msgID, status string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ? WHERE session_id = ? AND chat_jid = ? AND msg_id = ?`,
		status, sessionID, chatJID, msgID)
	return err
}

// SetMessageMedia back-fills the local media reference once an asynchronous
// download completes.
func (db *DB) SetMessageMedia(sessionID, chatJID, msgID, mediaRef string) error {
	_, err := db.Exec(`
		UPDATE messages SET media_ref = ? WHERE session_id = ? AND chat_jid = ? AND msg_id = ?`,
		mediaRef, sessionID, chatJID, msgID)
	return err
}

// GetMessage returns one message by its dedup key, or nil.
func (db *DB) GetMessage(sessionID, chatJID, msgID string) (*Message, error) {
	msgs, err := db.queryMessages(`
		SELECT id, session_id, chat_jid, msg_id, sender_jid, from_me, kind, body, media_ref, file_name, mime_type, file_size, status, contact_id, timestamp
		FROM messages WHERE session_id = ? AND chat_jid = ? AND msg_id = ?`, sessionID, chatJID, msgID)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

// ListMessages returns chat messages using keyset pagination by timestamp.
func (db *DB) ListMessages(sessionID, chatJID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	return db.queryMessages(`
		SELECT id, session_id, chat_jid, msg_id, sender_jid, from_me, kind, body, media_ref, file_name, mime_type, file_size, status, contact_id, timestamp
		FROM messages
		WHERE session_id = ? AND chat_jid = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, sessionID, chatJID, beforeTs, limit)
}

func (db *DB) queryMessages(query string, args ...any) ([]Message, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.ChatJID, &m.MsgID, &m.SenderJID, &m.FromMe, &m.Kind, &m.Body, &m.MediaRef, &m.FileName, &m.MimeType, &m.FileSize, &m.Status, &m.ContactID, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the number of messages within one session.
func (db *DB) MessageCount(sessionID string) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count)
	return count, err
}
