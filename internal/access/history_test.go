package access

import (
	"context"
	"testing"
	"time"
)

func TestRecordAndListSamples(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	on, rssi, uptime := true, -58, int64(3600)
	for i := 0; i < 5; i++ {
		err := s.RecordSample(ctx, Sample{
			DeviceID:   "dev-1",
			RelayState: &on,
			WiFiRSSI:   &rssi,
			Uptime:     &uptime,
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("RecordSample(%d) error = %v", i, err)
		}
	}
	if err := s.RecordSample(ctx, Sample{DeviceID: "dev-2", RecordedAt: base}); err != nil {
		t.Fatalf("RecordSample(dev-2) error = %v", err)
	}

	all, err := s.ListSamples(ctx, "dev-1", SampleQuery{})
	if err != nil {
		t.Fatalf("ListSamples() error = %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("len = %d, want 5", len(all))
	}
	if !all[0].RecordedAt.Equal(base.Add(4 * time.Minute)) {
		t.Errorf("first = %v, want newest", all[0].RecordedAt)
	}
	first := all[0]
	if first.RelayState == nil || !*first.RelayState || *first.WiFiRSSI != -58 || *first.Uptime != 3600 {
		t.Errorf("fields = %+v", first)
	}
	if first.FreeHeap != nil {
		t.Errorf("FreeHeap = %v, want nil", *first.FreeHeap)
	}

	window, err := s.ListSamples(ctx, "dev-1", SampleQuery{
		Since: base.Add(time.Minute),
		Until: base.Add(3 * time.Minute),
		Limit: 2,
	})
	if err != nil {
		t.Fatalf("ListSamples(window) error = %v", err)
	}
	if len(window) != 2 || !window[0].RecordedAt.Equal(base.Add(3*time.Minute)) || !window[1].RecordedAt.Equal(base.Add(2*time.Minute)) {
		t.Errorf("window = %+v", window)
	}

	none, err := s.ListSamples(ctx, "dev-unknown", SampleQuery{})
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("unknown device = (%v, %v), want empty", none, err)
	}
}

func TestRecordSample_StampsZeroTime(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	if err := s.RecordSample(ctx, Sample{DeviceID: "dev-1"}); err != nil {
		t.Fatalf("RecordSample() error = %v", err)
	}
	got, err := s.ListSamples(ctx, "dev-1", SampleQuery{})
	if err != nil || len(got) != 1 {
		t.Fatalf("ListSamples() = (%v, %v)", got, err)
	}
	if got[0].RecordedAt.IsZero() || got[0].RelayState != nil {
		t.Errorf("sample = %+v", got[0])
	}
}
