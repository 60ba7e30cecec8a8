package status

import (
	"testing"
	"time"
)

func TestDefaultPriority(t *testing.T) {
	tests := []struct {
		typ  Type
		want Priority
	}{
		{TypeError, PriorityHigh},
		{TypeSyncing, PriorityNormal},
		{TypeOffline, PriorityNormal},
		{TypeSuccess, PriorityLow},
		{TypeNone, PriorityLow},
	}
	for _, tt := range tests {
		if got := DefaultPriority(tt.typ); got != tt.want {
			t.Errorf("DefaultPriority(%s) = %d, want %d", tt.typ, got, tt.want)
		}
	}
}

func TestShouldReplace(t *testing.T) {
	tests := []struct {
		name     string
		current  Notification
		incoming Notification
		force    bool
		want     bool
	}{
		{"anything replaces none", New(TypeNone, ""), New(TypeSuccess, "ok"), false, true},
		{"equal priority replaces", New(TypeSyncing, "a"), New(TypeOffline, "b"), false, true},
		{"higher replaces lower", New(TypeSuccess, "ok"), New(TypeError, "bad"), false, true},
		{"success does not erase error", New(TypeError, "bad"), New(TypeSuccess, "ok"), false, false},
		{"syncing does not erase error", New(TypeError, "bad"), New(TypeSyncing, "..."), false, false},
		{"force wins regardless", New(TypeError, "bad"), New(TypeNone, ""), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldReplace(tt.current, tt.incoming, tt.force); got != tt.want {
				t.Errorf("shouldReplace = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBusSetAndCurrent(t *testing.T) {
	b := NewBus()
	if cur := b.Current(); cur.Type != TypeNone {
		t.Fatalf("fresh bus current = %+v", cur)
	}

	if !b.Set(New(TypeError, "offline payment rejected"), false) {
		t.Fatal("Set on empty bus returned false")
	}
	// A quick success must not visually erase the unresolved error
	if b.Set(New(TypeSuccess, "synced"), false) {
		t.Error("success replaced an error without force")
	}
	if cur := b.Current(); cur.Type != TypeError {
		t.Errorf("current = %+v", cur)
	}

	// Operator acknowledged: forced clear resets
	b.Clear()
	if cur := b.Current(); cur.Type != TypeNone {
		t.Errorf("after Clear current = %+v", cur)
	}
	if !b.Set(New(TypeSuccess, "synced"), false) {
		t.Error("success rejected after clear")
	}
}

func TestSetStampsTimestamp(t *testing.T) {
	b := NewBus()
	before := time.Now()
	b.Set(Notification{Type: TypeSyncing, Message: "m", Priority: PriorityNormal}, false)
	if ts := b.Current().Timestamp; ts.Before(before) {
		t.Errorf("timestamp %v not stamped", ts)
	}
}

func TestSubscribeReceivesAccepted(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()

	b.Set(New(TypeError, "bad"), false)
	select {
	case n := <-ch:
		if n.Type != TypeError {
			t.Errorf("got %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification delivered")
	}

	// Rejected set produces no delivery
	b.Set(New(TypeSuccess, "ok"), false)
	select {
	case n := <-ch:
		t.Errorf("rejected notification delivered: %+v", n)
	default:
	}
}

func TestSubscribeSlowConsumerDoesNotBlock(t *testing.T) {
	b := NewBus()
	b.Subscribe() // never read

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Set(New(TypeError, "e"), true)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Set blocked on a slow subscriber")
	}
}
