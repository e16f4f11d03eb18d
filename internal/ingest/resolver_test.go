package ingest

import (
	"errors"
	"testing"

	"github.com/hireloop/wabridge/internal/errs"
	"github.com/hireloop/wabridge/internal/store"
)

func TestIsGroupJID(t *testing.T) {
	if !IsGroupJID("12036302account19@g.us") {
		t.Error("group address not detected")
	}
	if IsGroupJID("972501234567@s.whatsapp.net") {
		t.Error("direct address detected as group")
	}
}

func TestPhoneFromJID(t *testing.T) {
	tests := []struct {
		jid  string
		want string
	}{
		{"972501234567@s.whatsapp.net", "972501234567"},
		{"972501234567:2@s.whatsapp.net", "972501234567"},
		{"12036302account19@g.us", ""},
		{"abc@lid", ""},
	}
	for _, tt := range tests {
		if got := PhoneFromJID(tt.jid); got != tt.want {
			t.Errorf("PhoneFromJID(%q) = %q, want %q", tt.jid, got, tt.want)
		}
	}
}

func TestNormalizeJID(t *testing.T) {
	got, err := NormalizeJID("+972 50-123-4567")
	if err != nil {
		t.Fatal(err)
	}
	if got != "972501234567@s.whatsapp.net" {
		t.Errorf("NormalizeJID = %q", got)
	}

	// Full addresses pass through.
	got, err = NormalizeJID("x@g.us")
	if err != nil || got != "x@g.us" {
		t.Errorf("NormalizeJID(full) = %q, %v", got, err)
	}

	if _, err := NormalizeJID("not a number"); !errors.Is(err, errs.ErrInvalidRecipient) {
		t.Errorf("expected ErrInvalidRecipient, got %v", err)
	}
}

func TestResolveNamePriority(t *testing.T) {
	tests := []struct {
		name     string
		args     [6]string
		want     string
		wantRank int
	}{
		{"crm wins", [6]string{"CRM Name", "Contact", "Notify", "Biz", "Push", "123"}, "CRM Name", store.RankCRMContact},
		{"contact next", [6]string{"", "Contact", "Notify", "Biz", "Push", "123"}, "Contact", store.RankContactName},
		{"notify next", [6]string{"", "", "Notify", "Biz", "Push", "123"}, "Notify", store.RankNotifyName},
		{"business next", [6]string{"", "", "", "Biz", "Push", "123"}, "Biz", store.RankBusinessName},
		{"push next", [6]string{"", "", "", "", "Push", "123"}, "Push", store.RankPushName},
		{"phone last", [6]string{"", "", "", "", "", "123"}, "123", store.RankPhoneNumber},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rank := ResolveName(tt.args[0], tt.args[1], tt.args[2], tt.args[3], tt.args[4], tt.args[5])
			if got != tt.want || rank != tt.wantRank {
				t.Errorf("ResolveName = %q/%d, want %q/%d", got, rank, tt.want, tt.wantRank)
			}
		})
	}
}
