package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestSessionLifecycle(t *testing.T) {
	db := testDB(t)

	s := &Session{ID: "s1", UserID: "u1"}
	if err := db.CreateSession(s); err != nil {
		t.Fatal(err)
	}

	if err := db.SetSessionQR("s1", "qr-payload"); err != nil {
		t.Fatal(err)
	}
	got, err := db.LatestSession("u1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.QRCode != "qr-payload" {
		t.Fatalf("LatestSession = %+v, want QR set", got)
	}
	if got.IsActive {
		t.Error("session should not be active before connect")
	}

	if err := db.MarkSessionConnected("s1", "u1", "972501234567"); err != nil {
		t.Fatal(err)
	}
	got, err = db.ActiveSession("u1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !got.IsActive {
		t.Fatal("expected active session after connect")
	}
	if got.PhoneNumber != "972501234567" {
		t.Errorf("phone = %q", got.PhoneNumber)
	}
	if got.QRCode != "" {
		t.Error("QR artifact should be cleared on connect")
	}

	if err := db.DeactivateSession("s1"); err != nil {
		t.Fatal(err)
	}
	got, err = db.ActiveSession("u1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("ActiveSession after deactivate = %+v, want nil", got)
	}
}

// TestOneActiveSessionPerUser verifies connecting a second session for the
// same user deactivates the first instead of violating the partial unique
// index.
func TestOneActiveSessionPerUser(t *testing.T) {
	db := testDB(t)

	if err := db.CreateSession(&Session{ID: "s1", UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkSessionConnected("s1", "u1", "111"); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateSession(&Session{ID: "s2", UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkSessionConnected("s2", "u1", "111"); err != nil {
		t.Fatalf("second connect failed: %v", err)
	}

	got, err := db.ActiveSession("u1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "s2" {
		t.Errorf("active session = %+v, want s2", got)
	}
}

func TestInsertMessageDedup(t *testing.T) {
	db := testDB(t)

	m := &Message{SessionID: "s1", ChatJID: "123@s.whatsapp.net", MsgID: "m1", Kind: KindText, Body: "hello", Timestamp: 1000}
	inserted, err := db.InsertMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Error("first insert should report inserted")
	}

	inserted, err = db.InsertMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("re-delivery of same msg_id must not insert a second row")
	}

	count, err := db.MessageCount("s1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("message count = %d, want 1", count)
	}
}

func TestMessagesScopedBySession(t *testing.T) {
	db := testDB(t)

	// Same chat JID and msg_id under two sessions must stay two rows.
	for _, sid := range []string{"s1", "s2"} {
		if _, err := db.InsertMessage(&Message{SessionID: sid, ChatJID: "123@s.whatsapp.net", MsgID: "m1", Kind: KindText, Timestamp: 1000}); err != nil {
			t.Fatal(err)
		}
	}
	for _, sid := range []string{"s1", "s2"} {
		count, err := db.MessageCount(sid)
		if err != nil {
			t.Fatal(err)
		}
		if count != 1 {
			t.Errorf("session %s count = %d, want 1", sid, count)
		}
	}
}

func TestTouchChatUnreadSemantics(t *testing.T) {
	db := testDB(t)
	chat := &Chat{SessionID: "s1", JID: "123@s.whatsapp.net", Name: "972501234567", NameRank: RankPhoneNumber, LastMessageAt: 1000, LastMessagePreview: "one"}

	// Two counted inbound touches.
	if err := db.TouchChat(chat, true, true); err != nil {
		t.Fatal(err)
	}
	chat.LastMessageAt = 2000
	chat.LastMessagePreview = "two"
	if err := db.TouchChat(chat, true, true); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetChat("s1", chat.JID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", got.UnreadCount)
	}
	if got.LastMessagePreview != "two" {
		t.Errorf("preview = %q, want two", got.LastMessagePreview)
	}

	// History touch (not counted) leaves unread alone.
	chat.LastMessageAt = 500
	chat.LastMessagePreview = "old"
	if err := db.TouchChat(chat, true, false); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetChat("s1", chat.JID)
	if got.UnreadCount != 2 {
		t.Errorf("unread after history touch = %d, want 2", got.UnreadCount)
	}
	if got.LastMessageAt != 2000 || got.LastMessagePreview != "two" {
		t.Errorf("older history touch must not move last message back: at=%d preview=%q", got.LastMessageAt, got.LastMessagePreview)
	}

	// Outbound from a history touch (not counted) also leaves unread alone.
	chat.LastMessageAt = 2500
	chat.LastMessagePreview = "old reply"
	if err := db.TouchChat(chat, false, false); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetChat("s1", chat.JID)
	if got.UnreadCount != 2 {
		t.Errorf("unread after uncounted outbound = %d, want 2", got.UnreadCount)
	}

	// A live outbound resets unread.
	chat.LastMessageAt = 3000
	chat.LastMessagePreview = "reply"
	if err := db.TouchChat(chat, false, true); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetChat("s1", chat.JID)
	if got.UnreadCount != 0 {
		t.Errorf("unread after live outbound = %d, want 0", got.UnreadCount)
	}
}

func TestChatNameNeverDowngrades(t *testing.T) {
	db := testDB(t)

	if err := db.UpdateChatName("s1", "123@s.whatsapp.net", "972501234567", RankPhoneNumber, false); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateChatName("s1", "123@s.whatsapp.net", "Dana Levy", RankContactName, false); err != nil {
		t.Fatal(err)
	}
	// A later phone-number touch must not clobber the resolved name.
	if err := db.UpdateChatName("s1", "123@s.whatsapp.net", "972501234567", RankPhoneNumber, false); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetChat("s1", "123@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Dana Levy" {
		t.Errorf("name = %q, want Dana Levy", got.Name)
	}
	if got.NameRank != RankContactName {
		t.Errorf("rank = %d, want %d", got.NameRank, RankContactName)
	}
}

func TestSetMessageMedia(t *testing.T) {
	db := testDB(t)

	m := &Message{SessionID: "s1", ChatJID: "c@s.whatsapp.net", MsgID: "m1", Kind: KindImage, Timestamp: 1000}
	if _, err := db.InsertMessage(m); err != nil {
		t.Fatal(err)
	}
	if err := db.SetMessageMedia("s1", "c@s.whatsapp.net", "m1", "media/123.jpg"); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetMessage("s1", "c@s.whatsapp.net", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.MediaRef != "media/123.jpg" {
		t.Errorf("media_ref = %q", got.MediaRef)
	}
}

func TestContactUpsertKeepsKnownNames(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertContact(&Contact{SessionID: "s1", JID: "1@s.whatsapp.net", Name: "Full Name", PushName: "push"}); err != nil {
		t.Fatal(err)
	}
	// Empty fields on a later event must not erase what we know.
	if err := db.UpsertContact(&Contact{SessionID: "s1", JID: "1@s.whatsapp.net", PushName: "newer push"}); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetContact("s1", "1@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Full Name" {
		t.Errorf("name = %q, want Full Name", got.Name)
	}
	if got.PushName != "newer push" {
		t.Errorf("push_name = %q, want newer push", got.PushName)
	}
}
