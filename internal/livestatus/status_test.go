package livestatus

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func boolPtr(b bool) *bool           { return &b }
func intPtr(i int) *int              { return &i }
func int64Ptr(i int64) *int64        { return &i }
func timePtr(t time.Time) *time.Time { return &t }

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestGet_UnknownDeviceIsOffline(t *testing.T) {
	c := New()

	s := c.Get("never-seen")
	if s.Online || s.RelayState != nil || !s.LastSeen.IsZero() {
		t.Errorf("Get() = %+v, want zero offline status", s)
	}
	if _, ok := c.Lookup("never-seen"); ok {
		t.Error("Lookup() ok = true for unknown device")
	}
}

func TestUpsert_MergesFields(t *testing.T) {
	c := New()

	c.Replace("dev-1", Status{
		RelayState: boolPtr(false),
		WiFiRSSI:   intPtr(-70),
		Uptime:     int64Ptr(100),
		FreeHeap:   int64Ptr(30000),
		Online:     true,
		LastSeen:   t0,
	})

	later := t0.Add(5 * time.Second)
	got := c.Upsert("dev-1", Patch{RelayState: boolPtr(true), LastUpdated: timePtr(later)})

	if got.RelayState == nil || !*got.RelayState {
		t.Error("RelayState not updated")
	}
	if got.WiFiRSSI == nil || *got.WiFiRSSI != -70 {
		t.Error("WiFiRSSI should be preserved")
	}
	if !got.Online || !got.LastSeen.Equal(t0) {
		t.Error("Online/LastSeen should be preserved")
	}
	if !got.LastUpdated.Equal(later) {
		t.Errorf("LastUpdated = %v, want %v", got.LastUpdated, later)
	}
	if !reflect.DeepEqual(c.Get("dev-1"), got) {
		t.Error("Get() does not match Upsert() result")
	}
}

func TestUpsert_CreatesEntry(t *testing.T) {
	c := New()

	got := c.Upsert("dev-new", Patch{Online: boolPtr(true), LastSeen: timePtr(t0)})
	if !got.Online || got.RelayState != nil {
		t.Errorf("Upsert() = %+v", got)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestReplace_DropsPreviousFields(t *testing.T) {
	c := New()
	c.Replace("dev-1", Status{RelayState: boolPtr(true), FreeHeap: int64Ptr(1)})
	c.Replace("dev-1", Status{Online: true, LastSeen: t0})

	if got := c.Get("dev-1"); got.RelayState != nil || got.FreeHeap != nil {
		t.Errorf("Replace() kept old fields: %+v", got)
	}
}

func TestMarkStaleIfUnseen(t *testing.T) {
	threshold := 30 * time.Second
	now := t0.Add(time.Minute)

	c := New()
	c.Replace("fresh", Status{Online: true, LastSeen: now.Add(-10 * time.Second)})
	c.Replace("boundary", Status{Online: true, LastSeen: now.Add(-threshold)})
	c.Replace("stale-b", Status{Online: true, LastSeen: now.Add(-31 * time.Second), RelayState: boolPtr(true)})
	c.Replace("stale-a", Status{Online: true, LastSeen: now.Add(-time.Hour)})
	c.Replace("already-off", Status{Online: false, LastSeen: now.Add(-time.Hour)})

	got := c.MarkStaleIfUnseen(now, threshold)
	want := []string{"stale-a", "stale-b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("MarkStaleIfUnseen() = %v, want %v", got, want)
	}

	if !c.Get("fresh").Online || !c.Get("boundary").Online {
		t.Error("devices within threshold should stay online")
	}
	stale := c.Get("stale-b")
	if stale.Online {
		t.Error("stale-b should be offline")
	}
	if stale.RelayState == nil || !*stale.RelayState {
		t.Error("sweep must not clear other fields")
	}

	if again := c.MarkStaleIfUnseen(now, threshold); len(again) != 0 {
		t.Errorf("second sweep flipped %v, want none", again)
	}
}

func TestOnChange(t *testing.T) {
	c := New()

	var mu sync.Mutex
	var seen []string
	c.SetOnChange(func(id string, s Status) {
		// Re-entrant read must not deadlock.
		_ = c.Get(id)
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
	})

	c.Upsert("a", Patch{Online: boolPtr(true), LastSeen: timePtr(t0)})
	c.Replace("b", Status{Online: true, LastSeen: t0})
	c.MarkStaleIfUnseen(t0.Add(time.Hour), time.Second)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a", "b", "a", "b"}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("observed %v, want %v", seen, want)
	}
}

func TestRun_SweepsUntilCancelled(t *testing.T) {
	var clock atomic.Int64
	clock.Store(t0.UnixNano())

	c := New(WithClock(func() time.Time { return time.Unix(0, clock.Load()).UTC() }))
	c.Replace("dev-1", Status{Online: true, LastSeen: t0})

	flipped := make(chan string, 1)
	c.SetOnChange(func(id string, s Status) {
		if !s.Online {
			flipped <- id
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 5*time.Millisecond, 30*time.Second)
		close(done)
	}()

	clock.Store(t0.Add(31 * time.Second).UnixNano())

	select {
	case id := <-flipped:
		if id != "dev-1" {
			t.Errorf("flipped %q, want dev-1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweep never marked device offline")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				now := t0.Add(time.Duration(j) * time.Second)
				c.Upsert("dev", Patch{Online: boolPtr(true), LastSeen: &now, WiFiRSSI: intPtr(-i)})
				_ = c.Get("dev")
				c.MarkStaleIfUnseen(now, time.Minute)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}
