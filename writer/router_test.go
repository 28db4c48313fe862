package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"legendflow/internal/health"
	"legendflow/models"
)

func newTestRouter(t *testing.T) (*Router, *health.Tracker, string) {
	t.Helper()
	dir := t.TempDir()
	tracker := health.NewTracker()
	r := NewRouter(dir, "legend", Policy{MaxBytes: 1 << 20}, nil, tracker)
	r.now = func() time.Time { return time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC) }
	return r, tracker, dir
}

func TestWriteRawLayout(t *testing.T) {
	r, tracker, dir := newTestRouter(t)

	if err := r.WriteRaw("SPY", 1, "feed", `{"raw":true}`); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	path := filepath.Join(dir, "SPY", "20260202", "legend-ch1-feed.jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("raw file missing: %v", err)
	}
	if string(data) != `{"raw":true}`+"\n" {
		t.Errorf("raw content: %q", data)
	}
	if tracker.LastWriteMs("raw:ch1:feed") == 0 {
		t.Error("tracker not marked for raw stream")
	}
}

func TestWriteBarLayoutAndHeader(t *testing.T) {
	r, tracker, dir := newTestRouter(t)

	bar := models.Bar{
		Symbol:        "SPY",
		Timeframe:     models.TF1Min,
		WindowStartMs: 0,
		Open:          10, High: 12, Low: 10, Close: 12,
		Volume: 2,
	}
	if err := r.WriteBar(bar); err != nil {
		t.Fatalf("WriteBar: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "SPY", "1min.csv"))
	if err != nil {
		t.Fatalf("bar file missing: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines", len(lines))
	}
	if lines[0] != "t,open,high,low,close,volume,symbol" {
		t.Errorf("bar header: %q", lines[0])
	}
	if lines[1] != "0,10,12,10,12,2,SPY" {
		t.Errorf("bar row: %q", lines[1])
	}
	if tracker.LastWriteMs("bars:1min") == 0 {
		t.Error("tracker not marked for bar stream")
	}
}

func TestWriteEventPerType(t *testing.T) {
	r, _, dir := newTestRouter(t)

	events := []models.Event{
		{Type: models.EventCandle, Symbol: "SPY", EventTimeMs: 1000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10, Count: 3, Sequence: 7},
		{Type: models.EventTrade, Symbol: "SPY", EventTimeMs: 2000, Price: 1.4, DayVolume: 500},
		{Type: models.EventQuote, Symbol: "SPY", EventTimeMs: 3000, BidPrice: 1.3, BidSize: 5, AskPrice: 1.5, AskSize: 4, BidTimeMs: 2990, AskTimeMs: 2995},
	}
	for _, ev := range events {
		if err := r.WriteEvent(ev); err != nil {
			t.Fatalf("WriteEvent %s: %v", ev.Type, err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, name := range []string{"Candle.csv", "Trade.csv", "Quote.csv"} {
		if _, err := os.Stat(filepath.Join(dir, "SPY", name)); err != nil {
			t.Errorf("event file missing: %v", err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "SPY", "Trade.csv"))
	if err != nil {
		t.Fatalf("read trade file: %v", err)
	}
	want := "t,symbol,price,dayVolume\n2000,SPY,1.4,500\n"
	if string(data) != want {
		t.Errorf("trade file: %q want %q", data, want)
	}
}

func TestWriteEventUnknownType(t *testing.T) {
	r, _, _ := newTestRouter(t)
	defer r.Close()

	if err := r.WriteEvent(models.Event{Type: "Mystery", Symbol: "SPY"}); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestConcurrentRawAndBarWrites(t *testing.T) {
	r, _, dir := newTestRouter(t)

	// Raw writes from the dispatch path race bar writes from the heartbeat
	// tick; fresh symbols force lazy writer creation on both sides.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			sym := fmt.Sprintf("RAW%d", i)
			if err := r.WriteRaw(sym, 3, "feed", `{"n":`+sym+`}`); err != nil {
				t.Errorf("WriteRaw %s: %v", sym, err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			sym := fmt.Sprintf("BAR%d", i)
			bar := models.Bar{Symbol: sym, Timeframe: models.TF1Min, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}
			if err := r.WriteBar(bar); err != nil {
				t.Errorf("WriteBar %s: %v", sym, err)
				return
			}
		}
	}()
	wg.Wait()

	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "RAW49", "20260202", "legend-ch3-feed.jsonl")); err != nil {
		t.Errorf("raw file missing after concurrent writes: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "BAR49", "1min.csv")); err != nil {
		t.Errorf("bar file missing after concurrent writes: %v", err)
	}
}

func TestWritersReused(t *testing.T) {
	r, _, dir := newTestRouter(t)

	for i := 0; i < 3; i++ {
		bar := models.Bar{Symbol: "SPY", Timeframe: models.TF1Min, WindowStartMs: int64(i) * 60000, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}
		if err := r.WriteBar(bar); err != nil {
			t.Fatalf("WriteBar %d: %v", i, err)
		}
	}
	if len(r.writers) != 1 {
		t.Errorf("expected one writer for one path, got %d", len(r.writers))
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "SPY", "1min.csv"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// One header, three rows.
	if got := strings.Count(string(data), "\n"); got != 4 {
		t.Errorf("expected 4 lines, got %d", got)
	}
}
