package aggregator

import (
	"sort"

	"legendflow/models"
)

// Aggregator maintains the currently open OHLCV bar per (symbol, timeframe)
// and collects implicitly closed bars until they are drained. It is owned
// by the pipeline's dispatch worker and must not be shared across
// goroutines.
type Aggregator struct {
	timeframes []models.Timeframe
	open       map[string]map[models.Timeframe]*models.Bar
	pending    []models.Bar

	droppedLate int64
}

func New(timeframes []models.Timeframe) *Aggregator {
	if len(timeframes) == 0 {
		timeframes = models.AllTimeframes
	}
	return &Aggregator{
		timeframes: timeframes,
		open:       make(map[string]map[models.Timeframe]*models.Bar),
	}
}

// Timeframes returns the configured granularities.
func (a *Aggregator) Timeframes() []models.Timeframe {
	return a.timeframes
}

// DroppedLate reports how many out-of-order events were skipped.
func (a *Aggregator) DroppedLate() int64 {
	return a.droppedLate
}

// AddTrade applies one trade to every timeframe. deltaVolume is the
// volume this trade contributes to the window.
func (a *Aggregator) AddTrade(symbol string, price, deltaVolume float64, eventTimeMs int64) {
	for _, tf := range a.timeframes {
		a.applyPrice(symbol, tf, price, deltaVolume, eventTimeMs)
	}
}

// AddQuote applies one quote using the mid price as the trade-equivalent
// price. Quotes never contribute volume.
func (a *Aggregator) AddQuote(symbol string, bidPrice, askPrice float64, eventTimeMs int64) {
	price := mid(bidPrice, askPrice)
	if price <= 0 {
		return
	}
	for _, tf := range a.timeframes {
		a.applyPrice(symbol, tf, price, 0, eventTimeMs)
	}
}

// AddCandle merges an upstream pre-aggregated candle into every timeframe.
// Candles whose window predates the open bar are skipped; they were already
// aggregated upstream and carry no information the open bar lacks.
func (a *Aggregator) AddCandle(symbol string, ev models.Event) {
	for _, tf := range a.timeframes {
		period := tf.PeriodMs()
		ws := models.WindowStart(ev.EventTimeMs, period)
		bar := a.openBar(symbol, tf)

		switch {
		case bar == nil:
			a.setOpen(symbol, tf, &models.Bar{
				Symbol:        symbol,
				Timeframe:     tf,
				WindowStartMs: ws,
				Open:          ev.Open,
				High:          ev.High,
				Low:           ev.Low,
				Close:         ev.Close,
				Volume:        ev.Volume,
			})
		case ws == bar.WindowStartMs:
			if ev.High > bar.High {
				bar.High = ev.High
			}
			if ev.Low < bar.Low {
				bar.Low = ev.Low
			}
			bar.Close = ev.Close
			bar.Volume += ev.Volume
		case ws > bar.WindowStartMs:
			a.pending = append(a.pending, *bar)
			a.setOpen(symbol, tf, &models.Bar{
				Symbol:        symbol,
				Timeframe:     tf,
				WindowStartMs: ws,
				Open:          ev.Open,
				High:          ev.High,
				Low:           ev.Low,
				Close:         ev.Close,
				Volume:        ev.Volume,
			})
		default:
			a.droppedLate++
		}
	}
}

func (a *Aggregator) applyPrice(symbol string, tf models.Timeframe, price, deltaVolume float64, eventTimeMs int64) {
	period := tf.PeriodMs()
	ws := models.WindowStart(eventTimeMs, period)
	bar := a.openBar(symbol, tf)

	switch {
	case bar == nil:
		a.setOpen(symbol, tf, &models.Bar{
			Symbol:        symbol,
			Timeframe:     tf,
			WindowStartMs: ws,
			Open:          price,
			High:          price,
			Low:           price,
			Close:         price,
			Volume:        deltaVolume,
		})
	case ws == bar.WindowStartMs:
		if price > bar.High {
			bar.High = price
		}
		if price < bar.Low {
			bar.Low = price
		}
		bar.Close = price
		bar.Volume += deltaVolume
	case ws > bar.WindowStartMs:
		a.pending = append(a.pending, *bar)
		a.setOpen(symbol, tf, &models.Bar{
			Symbol:        symbol,
			Timeframe:     tf,
			WindowStartMs: ws,
			Open:          price,
			High:          price,
			Low:           price,
			Close:         price,
			Volume:        deltaVolume,
		})
	default:
		// Late arrival for an already-advanced window. Bars are monotonic.
		a.droppedLate++
	}
}

// DrainClosed removes and returns every bar whose window has fully elapsed
// at nowMs, together with bars already closed implicitly by later events.
func (a *Aggregator) DrainClosed(nowMs int64) []models.Bar {
	out := a.pending
	a.pending = nil

	for symbol, byTF := range a.open {
		for tf, bar := range byTF {
			if bar.WindowStartMs+tf.PeriodMs() <= nowMs {
				out = append(out, *bar)
				delete(byTF, tf)
			}
		}
		if len(byTF) == 0 {
			delete(a.open, symbol)
		}
	}

	sortBars(out)
	return out
}

// DrainAll unconditionally closes and returns every open bar. Used at
// shutdown so the last partial bar is not lost.
func (a *Aggregator) DrainAll() []models.Bar {
	out := a.pending
	a.pending = nil

	for symbol, byTF := range a.open {
		for _, bar := range byTF {
			out = append(out, *bar)
		}
		delete(a.open, symbol)
	}

	sortBars(out)
	return out
}

func (a *Aggregator) openBar(symbol string, tf models.Timeframe) *models.Bar {
	byTF := a.open[symbol]
	if byTF == nil {
		return nil
	}
	return byTF[tf]
}

func (a *Aggregator) setOpen(symbol string, tf models.Timeframe, bar *models.Bar) {
	byTF := a.open[symbol]
	if byTF == nil {
		byTF = make(map[models.Timeframe]*models.Bar)
		a.open[symbol] = byTF
	}
	byTF[tf] = bar
}

func mid(bid, ask float64) float64 {
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case bid > 0:
		return bid
	default:
		return ask
	}
}

func sortBars(bars []models.Bar) {
	sort.Slice(bars, func(i, j int) bool {
		if bars[i].Symbol != bars[j].Symbol {
			return bars[i].Symbol < bars[j].Symbol
		}
		if bars[i].Timeframe != bars[j].Timeframe {
			return bars[i].Timeframe.PeriodMs() < bars[j].Timeframe.PeriodMs()
		}
		return bars[i].WindowStartMs < bars[j].WindowStartMs
	})
}
