package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hireloop/wabridge/internal/bus"
)

func TestEventsStream(t *testing.T) {
	h := newAPIHarness(t)

	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/users/u1/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// The subscription is registered inside the handler, so keep publishing
	// until a frame comes back. Later duplicates are never read.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				h.bus.Publish(bus.Event{
					Kind:      bus.KindQR,
					UserID:    "u1",
					Timestamp: time.Now(),
					Payload:   map[string]string{"code": "QR1"},
				})
			}
		}
	}()

	var eventLine, dataLine string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = line
		case strings.HasPrefix(line, "data: "):
			dataLine = line
		}
		if eventLine != "" && dataLine != "" {
			break
		}
	}
	if eventLine == "" || dataLine == "" {
		t.Fatalf("no frame received: %v", scanner.Err())
	}
	if eventLine != "event: "+bus.KindQR {
		t.Errorf("event line = %q", eventLine)
	}
	if !strings.Contains(dataLine, `"u1"`) || !strings.Contains(dataLine, "QR1") {
		t.Errorf("data line = %q", dataLine)
	}
}

func TestEventsStreamFiltersOtherUsers(t *testing.T) {
	h := newAPIHarness(t)

	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/users/u1/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				h.bus.Publish(bus.Event{Kind: bus.KindConnected, UserID: "u2", Timestamp: time.Now()})
				h.bus.Publish(bus.Event{Kind: bus.KindConnected, UserID: "u1", Timestamp: time.Now()})
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			if strings.Contains(line, `"u2"`) {
				t.Fatalf("leaked other user's event: %q", line)
			}
			if strings.Contains(line, `"u1"`) {
				return
			}
		}
	}
	t.Fatalf("stream ended without a frame: %v", scanner.Err())
}
