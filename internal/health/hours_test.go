package health

import (
	"testing"
	"time"
)

func TestMarketHoursWindow(t *testing.T) {
	hours, err := NewMarketHours("America/New_York", "09:30", "16:00")
	if err != nil {
		t.Fatalf("NewMarketHours: %v", err)
	}
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"monday open", time.Date(2026, 2, 2, 9, 30, 0, 0, ny), true},
		{"monday midday", time.Date(2026, 2, 2, 12, 0, 0, 0, ny), true},
		{"monday last minute", time.Date(2026, 2, 2, 15, 59, 0, 0, ny), true},
		{"monday at close", time.Date(2026, 2, 2, 16, 0, 0, 0, ny), false},
		{"monday pre-open", time.Date(2026, 2, 2, 9, 29, 0, 0, ny), false},
		{"saturday midday", time.Date(2026, 2, 7, 12, 0, 0, 0, ny), false},
		{"sunday midday", time.Date(2026, 2, 8, 12, 0, 0, 0, ny), false},
	}
	for _, c := range cases {
		if got := hours.Contains(c.t); got != c.want {
			t.Errorf("%s: Contains = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestMarketHoursConvertsTimezone(t *testing.T) {
	hours, err := NewMarketHours("America/New_York", "09:30", "16:00")
	if err != nil {
		t.Fatalf("NewMarketHours: %v", err)
	}

	// 15:00 UTC on a February Monday is 10:00 in New York.
	if !hours.Contains(time.Date(2026, 2, 2, 15, 0, 0, 0, time.UTC)) {
		t.Error("UTC instant inside the NY session reported closed")
	}
	// 02:00 UTC Tuesday is 21:00 Monday in New York.
	if hours.Contains(time.Date(2026, 2, 3, 2, 0, 0, 0, time.UTC)) {
		t.Error("UTC instant after the NY close reported open")
	}
}

func TestMarketHoursRejectsBadInput(t *testing.T) {
	if _, err := NewMarketHours("Neverland/Nowhere", "09:30", "16:00"); err == nil {
		t.Error("invalid timezone accepted")
	}
	if _, err := NewMarketHours("UTC", "25:00", "16:00"); err == nil {
		t.Error("invalid open clock accepted")
	}
	if _, err := NewMarketHours("UTC", "16:00", "09:30"); err == nil {
		t.Error("close before open accepted")
	}
}

func TestTrackerMarkAndSnapshot(t *testing.T) {
	tr := NewTracker()
	tr.Mark("bars:1min", time.UnixMilli(1000))
	tr.Mark("bars:1min", time.UnixMilli(2000))
	tr.Mark("events:Trade", time.UnixMilli(1500))

	if got := tr.LastWriteMs("bars:1min"); got != 2000 {
		t.Errorf("LastWriteMs = %d, want 2000", got)
	}
	if got := tr.Count("bars:1min"); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
	if got := tr.LastWriteMs("unknown"); got != 0 {
		t.Errorf("LastWriteMs for unknown key = %d, want 0", got)
	}

	snap := tr.Snapshot()
	if len(snap.LastWriteMs) != 2 || snap.Counts["events:Trade"] != 1 {
		t.Errorf("snapshot: %+v", snap)
	}

	// The snapshot is a copy; mutating it must not touch the tracker.
	snap.Counts["bars:1min"] = 99
	if got := tr.Count("bars:1min"); got != 2 {
		t.Errorf("snapshot mutation leaked into tracker: %d", got)
	}
}
