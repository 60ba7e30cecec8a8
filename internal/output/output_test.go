package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/marcus/till/internal/connectivity"
	"github.com/marcus/till/internal/queue"
)

func TestFormatTimeAgo(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"just now", now.Add(-10 * time.Second), "just now"},
		{"one minute", now.Add(-90 * time.Second), "1m ago"},
		{"minutes", now.Add(-5 * time.Minute), "5m ago"},
		{"one hour", now.Add(-time.Hour - time.Minute), "1h ago"},
		{"days", now.Add(-49 * time.Hour), "2d ago"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatTimeAgo(tt.t); got != tt.want {
				t.Errorf("FormatTimeAgo = %q, want %q", got, tt.want)
			}
		})
	}

	old := now.Add(-30 * 24 * time.Hour)
	if got := FormatTimeAgo(old); got != old.Format("2006-01-02") {
		t.Errorf("old date = %q", got)
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("ShortID = %q", got)
	}
	if got := ShortID("abc"); got != "abc" {
		t.Errorf("short input = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("no-op truncate = %q", got)
	}
	got := Truncate("hello world", 8)
	if len([]rune(got)) > 8 || !strings.HasSuffix(got, "…") {
		t.Errorf("Truncate = %q", got)
	}
}

func TestQueueItemLine(t *testing.T) {
	it := &queue.Item{
		ID:         "aaaabbbb-cccc-dddd-eeee-ffff00001111",
		Operation:  "update",
		Collection: "products",
		EntityID:   "sku-42",
		Payload:    json.RawMessage(`{}`),
		Status:     queue.StatusPending,
		Attempts:   3,
		CreatedAt:  time.Now().Add(-2 * time.Minute),
		LastError:  "HTTP 503",
	}
	line := QueueItemLine(it)
	for _, want := range []string{"aaaabbbb", "update products/sku-42", "pending", "x3", "HTTP 503", "2m ago"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestConnectivityBadge(t *testing.T) {
	tests := []struct {
		name string
		st   connectivity.Status
		want string
	}{
		{"online", connectivity.Status{State: connectivity.StateOnline, Online: true}, "online"},
		{"degraded", connectivity.Status{State: connectivity.StateOnline, Online: true, Degraded: true}, "degraded"},
		{"offline", connectivity.Status{State: connectivity.StateOffline}, "offline"},
		{"unknown", connectivity.Status{State: connectivity.StateUnknown}, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConnectivityBadge(tt.st); !strings.Contains(got, tt.want) {
				t.Errorf("badge = %q, want substring %q", got, tt.want)
			}
		})
	}
}
