package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertContact inserts or updates a single network contact. Non-empty
// fields win; empty incoming fields never erase known names.
func (db *DB) UpsertContact(c *Contact) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(upsertContactSQL, c.SessionID, c.JID, c.Name, c.PushName, c.BusinessName, now)
	return err
}

// BulkUpsertContacts updates many contacts in one transaction, as delivered
// by a history backfill or a full contact list event.
func (db *DB) BulkUpsertContacts(contacts []Contact) error {
	if len(contacts) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if _, err := tx.Exec(upsertContactSQL, c.SessionID, c.JID, c.Name, c.PushName, c.BusinessName, now); err != nil {
			return fmt.Errorf("upsert contact %q: %w", c.JID, err)
		}
	}
	return tx.Commit()
}

const upsertContactSQL = `
	INSERT INTO contacts (session_id, jid, name, push_name, business_name, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id, jid) DO UPDATE SET
		name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
		push_name = CASE WHEN excluded.push_name != '' THEN excluded.push_name ELSE contacts.push_name END,
		business_name = CASE WHEN excluded.business_name != '' THEN excluded.business_name ELSE contacts.business_name END,
		updated_at = excluded.updated_at`

// GetContact returns a contact by JID, or nil.
func (db *DB) GetContact(sessionID, jid string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`
		SELECT session_id, jid, name, push_name, business_name
		FROM contacts WHERE session_id = ? AND jid = ?`, sessionID, jid).
		Scan(&c.SessionID, &c.JID, &c.Name, &c.PushName, &c.BusinessName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
