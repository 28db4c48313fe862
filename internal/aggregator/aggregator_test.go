package aggregator

import (
	"testing"

	"legendflow/models"
)

func TestOneMinuteScenario(t *testing.T) {
	a := New([]models.Timeframe{models.TF1Min})

	a.AddTrade("SPY", 10, 1, 0)
	a.AddTrade("SPY", 12, 1, 30000)
	a.AddTrade("SPY", 11, 1, 61000)

	bars := a.DrainClosed(61000)
	if len(bars) != 1 {
		t.Fatalf("expected exactly one closed bar, got %d", len(bars))
	}
	bar := bars[0]
	if bar.WindowStartMs != 0 {
		t.Errorf("window start: got %d, want 0", bar.WindowStartMs)
	}
	if bar.Open != 10 || bar.High != 12 || bar.Low != 10 || bar.Close != 12 {
		t.Errorf("ohlc: got %+v", bar)
	}
	if bar.Volume != 2 {
		t.Errorf("volume: got %v, want 2", bar.Volume)
	}

	// The window-61000 bar must remain open.
	rest := a.DrainAll()
	if len(rest) != 1 || rest[0].WindowStartMs != 60000 {
		t.Fatalf("expected one open bar at window 60000, got %+v", rest)
	}
	if rest[0].Open != 11 || rest[0].Close != 11 || rest[0].Volume != 1 {
		t.Errorf("open bar fields: %+v", rest[0])
	}
}

func TestOutOfOrderTradeDropped(t *testing.T) {
	a := New([]models.Timeframe{models.TF1Min})

	a.AddTrade("SPY", 11, 1, 61000)
	a.AddTrade("SPY", 99, 1, 30000) // earlier window, must not mutate

	bars := a.DrainAll()
	if len(bars) != 1 {
		t.Fatalf("expected one bar, got %d", len(bars))
	}
	bar := bars[0]
	if bar.High != 11 || bar.Low != 11 || bar.Volume != 1 {
		t.Errorf("late trade mutated the open bar: %+v", bar)
	}
	if a.DroppedLate() != 1 {
		t.Errorf("dropped late count: got %d, want 1", a.DroppedLate())
	}
}

func TestBarMonotonicity(t *testing.T) {
	a := New([]models.Timeframe{models.TF1Min})

	times := []int64{5000, 15000, 65000, 70000, 125000, 200000, 250000}
	prices := []float64{10, 11, 9, 12, 10.5, 13, 8}
	for i := range times {
		a.AddTrade("SPY", prices[i], 1, times[i])
	}

	bars := append(a.DrainClosed(300000), a.DrainAll()...)
	var prev int64 = -1
	for _, bar := range bars {
		if bar.WindowStartMs <= prev {
			t.Fatalf("window starts not strictly increasing: %d after %d", bar.WindowStartMs, prev)
		}
		if prev >= 0 && bar.WindowStartMs-prev < models.TF1Min.PeriodMs() {
			t.Fatalf("gap smaller than period between %d and %d", prev, bar.WindowStartMs)
		}
		prev = bar.WindowStartMs

		hi := bar.Open
		if bar.Close > hi {
			hi = bar.Close
		}
		lo := bar.Open
		if bar.Close < lo {
			lo = bar.Close
		}
		if bar.High < hi || bar.Low > lo {
			t.Fatalf("ohlc invariant violated: %+v", bar)
		}
	}
}

func TestMultipleTimeframes(t *testing.T) {
	a := New([]models.Timeframe{models.TF1Min, models.TF5Min})

	a.AddTrade("SPY", 10, 1, 0)
	a.AddTrade("SPY", 12, 1, 61000)

	bars := a.DrainClosed(61000)
	// The 1min window 0 closed; the 5min window 0 is still open because
	// its end (300000) has not elapsed.
	if len(bars) != 1 {
		t.Fatalf("expected one closed bar, got %+v", bars)
	}
	if bars[0].Timeframe != models.TF1Min {
		t.Fatalf("expected the 1min bar to close, got %s", bars[0].Timeframe)
	}

	rest := a.DrainAll()
	if len(rest) != 2 {
		t.Fatalf("expected two open bars, got %+v", rest)
	}
}

func TestQuotesUseMidAndNoVolume(t *testing.T) {
	a := New([]models.Timeframe{models.TF1Min})

	a.AddQuote("SPY", 10, 12, 1000)
	a.AddQuote("SPY", 11, 13, 2000)

	bars := a.DrainAll()
	if len(bars) != 1 {
		t.Fatalf("expected one bar, got %d", len(bars))
	}
	bar := bars[0]
	if bar.Open != 11 || bar.Close != 12 {
		t.Errorf("mid prices: %+v", bar)
	}
	if bar.Volume != 0 {
		t.Errorf("quote-only bar must not fabricate volume: %v", bar.Volume)
	}
}

func TestQuoteOneSided(t *testing.T) {
	a := New([]models.Timeframe{models.TF1Min})

	a.AddQuote("SPY", 10, 0, 1000)
	bars := a.DrainAll()
	if len(bars) != 1 || bars[0].Close != 10 {
		t.Fatalf("one-sided quote must use the present side: %+v", bars)
	}

	a.AddQuote("SPY", 0, 0, 2000)
	if got := a.DrainAll(); len(got) != 0 {
		t.Fatalf("zero quote must be skipped, got %+v", got)
	}
}

func TestCandleMerge(t *testing.T) {
	a := New([]models.Timeframe{models.TF5Min})

	a.AddCandle("SPY", models.Event{
		Type: models.EventCandle, Symbol: "SPY", EventTimeMs: 0,
		Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100,
	})
	a.AddCandle("SPY", models.Event{
		Type: models.EventCandle, Symbol: "SPY", EventTimeMs: 60000,
		Open: 10.5, High: 13, Low: 10, Close: 12, Volume: 50,
	})

	bars := a.DrainAll()
	if len(bars) != 1 {
		t.Fatalf("expected one 5min bar, got %d", len(bars))
	}
	bar := bars[0]
	if bar.Open != 10 || bar.High != 13 || bar.Low != 9 || bar.Close != 12 {
		t.Errorf("candle merge ohlc: %+v", bar)
	}
	if bar.Volume != 150 {
		t.Errorf("candle merge volume: got %v, want 150", bar.Volume)
	}
}

func TestLateCandleSkipped(t *testing.T) {
	a := New([]models.Timeframe{models.TF1Min})

	a.AddCandle("SPY", models.Event{
		Type: models.EventCandle, Symbol: "SPY", EventTimeMs: 120000,
		Open: 10, High: 10, Low: 10, Close: 10, Volume: 1,
	})
	a.AddCandle("SPY", models.Event{
		Type: models.EventCandle, Symbol: "SPY", EventTimeMs: 60000,
		Open: 99, High: 99, Low: 99, Close: 99, Volume: 1,
	})

	bars := a.DrainAll()
	if len(bars) != 1 || bars[0].Close != 10 {
		t.Fatalf("late candle must not rewrite the open bar: %+v", bars)
	}
}

func TestSymbolsIndependent(t *testing.T) {
	a := New([]models.Timeframe{models.TF1Min})

	a.AddTrade("SPY", 10, 1, 0)
	a.AddTrade("QQQ", 20, 1, 0)
	a.AddTrade("SPY", 11, 1, 61000)

	bars := a.DrainClosed(61000)
	if len(bars) != 2 {
		t.Fatalf("expected closed bars for both symbols, got %+v", bars)
	}
	// Drain output is sorted by symbol.
	if bars[0].Symbol != "QQQ" || bars[1].Symbol != "SPY" {
		t.Fatalf("unexpected symbols: %+v", bars)
	}
	if bars[0].Close != 20 || bars[1].Close != 10 {
		t.Fatalf("per-symbol state leaked: %+v", bars)
	}
}
