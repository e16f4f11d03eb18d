package wa

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hireloop/wabridge/internal/ingest"
	"go.uber.org/zap"
)

func TestNewAdapterOwnsNoRetryLoop(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "session.db")
	a, err := NewAdapter(context.Background(), "u1", dbPath, func(ingest.Event) {}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	// Reconnection is scheduled by the instance runtime exclusively; the
	// library's built-in loop must stay off or the two race each other.
	if a.client.EnableAutoReconnect {
		t.Error("EnableAutoReconnect = true, reconnect policy must stay with the caller")
	}
	if a.HasCredentials() {
		t.Error("fresh credential store should have no device identity")
	}
	if a.PhoneNumber() != "" {
		t.Errorf("phone = %q, want empty before pairing", a.PhoneNumber())
	}
}
