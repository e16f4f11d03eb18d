package store

import (
	"database/sql"
	"time"
)

// CreateSession inserts a new session row.
func (db *DB) CreateSession(s *Session) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sessions (id, user_id, phone_number, qr_code, is_active, last_connected_at, last_disconnected_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.PhoneNumber, s.QRCode, s.IsActive, s.LastConnectedAt, s.LastDisconnectedAt, now, now)
	return err
}

// ActiveSession returns the user's active session, or nil if none.
func (db *DB) ActiveSession(userID string) (*Session, error) {
	return db.scanSession(db.QueryRow(`
		SELECT id, user_id, phone_number, qr_code, is_active, last_connected_at, last_disconnected_at
		FROM sessions WHERE user_id = ? AND is_active = 1`, userID))
}

// LatestSession returns the user's most recently updated session regardless
// of active flag, or nil if the user never paired.
func (db *DB) LatestSession(userID string) (*Session, error) {
	return db.scanSession(db.QueryRow(`
		SELECT id, user_id, phone_number, qr_code, is_active, last_connected_at, last_disconnected_at
		FROM sessions WHERE user_id = ? ORDER BY updated_at DESC LIMIT 1`, userID))
}

func (db *DB) scanSession(row *sql.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.UserID, &s.PhoneNumber, &s.QRCode, &s.IsActive, &s.LastConnectedAt, &s.LastDisconnectedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SetSessionQR records a freshly emitted pairing artifact.
func (db *DB) SetSessionQR(id, qr string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE sessions SET qr_code = ?, updated_at = ? WHERE id = ?`, qr, now, id)
	return err
}

// MarkSessionConnected activates the session, clears the pairing artifact and
// records the now-known phone number. Any previously active session for the
// same user is deactivated first so the active-per-user invariant holds.
func (db *DB) MarkSessionConnected(id, userID, phone string) error {
	now := time.Now().UnixMilli()
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`UPDATE sessions SET is_active = 0, updated_at = ? WHERE user_id = ? AND is_active = 1 AND id != ?`, now, userID, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE sessions SET is_active = 1, qr_code = '', phone_number = ?, last_connected_at = ?, updated_at = ?
		WHERE id = ?`, phone, now, now, id); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkSessionDisconnected records a disconnect timestamp.
func (db *DB) MarkSessionDisconnected(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE sessions SET last_disconnected_at = ?, updated_at = ? WHERE id = ?`, now, now, id)
	return err
}

// DeactivateSession marks a session inactive and clears its pairing artifact.
// Used on logout and on conflict disconnects.
func (db *DB) DeactivateSession(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE sessions SET is_active = 0, qr_code = '', last_disconnected_at = ?, updated_at = ? WHERE id = ?`, now, now, id)
	return err
}
