package store

import (
	"database/sql"
	"time"
)

// TouchChat creates or updates a chat from one message touch. Semantics:
//   - name/name_rank only improve (lower rank wins, empty names never win)
//   - last_message_at is monotonic, the preview follows the newest message
//   - unread_count changes only on counted (live) touches: a live outbound
//     resets it to 0, a live inbound increments it. History backfill never
//     touches the counter in either direction.
func (db *DB) TouchChat(c *Chat, inbound, countUnread bool) error {
	now := time.Now().UnixMilli()
	initialUnread := 0
	if inbound && countUnread {
		initialUnread = 1
	}
	_, err := db.Exec(`
		INSERT INTO chats (session_id, jid, name, name_rank, is_group, unread_count, last_message_at, last_message_preview, contact_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, jid) DO UPDATE SET
			name = CASE WHEN excluded.name != '' AND excluded.name_rank <= chats.name_rank THEN excluded.name ELSE chats.name END,
			name_rank = CASE WHEN excluded.name != '' AND excluded.name_rank <= chats.name_rank THEN excluded.name_rank ELSE chats.name_rank END,
			is_group = excluded.is_group,
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_message_preview ELSE chats.last_message_preview END,
			contact_id = CASE WHEN excluded.contact_id != '' THEN excluded.contact_id ELSE chats.contact_id END,
			unread_count = CASE
				WHEN ? = 0 THEN chats.unread_count
				WHEN ? = 0 THEN 0
				ELSE chats.unread_count + 1 END,
			updated_at = excluded.updated_at`,
		c.SessionID, c.JID, c.Name, c.NameRank, c.IsGroup, initialUnread,
		c.LastMessageAt, c.LastMessagePreview, c.ContactID, now,
		countUnread, inbound)
	return err
}

// UpdateChatName creates or renames a chat from a directory touch (contact
// list event, history chat entry). No message fields change.
func (db *DB) UpdateChatName(sessionID, jid, name string, rank int, isGroup bool) error {
	if name == "" {
		return nil
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (session_id, jid, name, name_rank, is_group, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, jid) DO UPDATE SET
			name = CASE WHEN excluded.name_rank <= chats.name_rank THEN excluded.name ELSE chats.name END,
			name_rank = CASE WHEN excluded.name_rank <= chats.name_rank THEN excluded.name_rank ELSE chats.name_rank END,
			updated_at = excluded.updated_at`,
		sessionID, jid, name, rank, isGroup, now)
	return err
}

// SetChatAvatar records a best-effort avatar URL.
func (db *DB) SetChatAvatar(sessionID, jid, url string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE chats SET avatar_url = ?, updated_at = ? WHERE session_id = ? AND jid = ?`,
		url, now, sessionID, jid)
	return err
}

// GetChat returns a single chat, or nil if it does not exist.
func (db *DB) GetChat(sessionID, jid string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT session_id, jid, name, name_rank, is_group, unread_count, last_message_at, last_message_preview, avatar_url, contact_id
		FROM chats WHERE session_id = ? AND jid = ?`, sessionID, jid).
		Scan(&c.SessionID, &c.JID, &c.Name, &c.NameRank, &c.IsGroup, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview, &c.AvatarURL, &c.ContactID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChats returns a session's chats sorted by last message descending.
// Empty names fall back to the raw JID user part.
func (db *DB) ListChats(sessionID string, limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT session_id, jid, COALESCE(NULLIF(name, ''), jid) AS display_name, name_rank, is_group, unread_count, last_message_at, last_message_preview, avatar_url, contact_id
		FROM chats
		WHERE session_id = ?
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.SessionID, &c.JID, &c.Name, &c.NameRank, &c.IsGroup, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview, &c.AvatarURL, &c.ContactID); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// ChatCount returns the number of chats within one session.
func (db *DB) ChatCount(sessionID string) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chats WHERE session_id = ?`, sessionID).Scan(&count)
	return count, err
}
