package normalizer

import (
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"legendflow/logger"
	"legendflow/models"
)

// Alias lists per canonical field. The upstream emits both snake_case and
// camelCase depending on which web bundle produced the record.
var (
	aliasSymbol   = []string{"symbol", "event_symbol", "eventSymbol", "key"}
	aliasTime     = []string{"time", "event_time", "eventTime", "timestamp", "t"}
	aliasType     = []string{"eventType", "event_type"}
	aliasFlags    = []string{"event_flags", "eventFlags", "flags"}
	aliasOpen     = []string{"open", "open_price", "openPrice"}
	aliasHigh     = []string{"high", "high_price", "highPrice"}
	aliasLow      = []string{"low", "low_price", "lowPrice"}
	aliasClose    = []string{"close", "close_price", "closePrice"}
	aliasVolume   = []string{"volume", "total_volume", "totalVolume"}
	aliasVWAP     = []string{"vwap", "vw"}
	aliasCount    = []string{"count", "trade_count", "tradeCount"}
	aliasSequence = []string{"sequence", "seq"}
	aliasIV       = []string{"implied_volatility", "impliedVolatility", "imp_volatility", "impVolatility"}
	aliasOI       = []string{"open_interest", "openInterest"}
	aliasPrice    = []string{"price", "last_price", "lastPrice"}
	aliasDayVol   = []string{"day_volume", "dayVolume"}
	aliasBidPx    = []string{"bid_price", "bidPrice", "bid"}
	aliasBidSz    = []string{"bid_size", "bidSize"}
	aliasAskPx    = []string{"ask_price", "askPrice", "ask"}
	aliasAskSz    = []string{"ask_size", "askSize"}
	aliasBidTime  = []string{"bid_time", "bidTime"}
	aliasAskTime  = []string{"ask_time", "askTime"}
)

// Normalizer converts raw marketdata records into canonical events. Invalid
// records are dropped and counted, never raised.
type Normalizer struct {
	log            *logger.Log
	droppedInvalid int64
}

func New() *Normalizer {
	return &Normalizer{log: logger.GetLogger()}
}

// DroppedInvalid reports how many invalid records were discarded so far.
func (n *Normalizer) DroppedInvalid() int64 {
	return atomic.LoadInt64(&n.droppedInvalid)
}

// Normalize converts the raw records of one channel message into canonical
// events, preserving input order. Records whose type cannot be determined,
// candles with a missing or non-finite OHLCV field and trades without a
// usable price are skipped.
func (n *Normalizer) Normalize(channel int, records []map[string]any) []models.Event {
	events := make([]models.Event, 0, len(records))
	for _, rec := range records {
		evType, ok := recordType(channel, rec)
		if !ok {
			atomic.AddInt64(&n.droppedInvalid, 1)
			continue
		}
		ev, ok := n.normalizeOne(evType, rec)
		if !ok {
			atomic.AddInt64(&n.droppedInvalid, 1)
			continue
		}
		events = append(events, ev)
	}
	return events
}

// recordType resolves the event type from the channel number, letting an
// explicit eventType field on the record override it.
func recordType(channel int, rec map[string]any) (models.EventType, bool) {
	if s, ok := getString(rec, aliasType...); ok {
		switch strings.ToLower(strings.ReplaceAll(s, "_", "")) {
		case "candle":
			return models.EventCandle, true
		case "trade":
			return models.EventTrade, true
		case "tradeeth":
			return models.EventTradeETH, true
		case "quote":
			return models.EventQuote, true
		}
	}
	return models.ChannelEventType(channel)
}

func (n *Normalizer) normalizeOne(evType models.EventType, rec map[string]any) (models.Event, bool) {
	ev := models.Event{Type: evType}
	ev.Symbol, _ = getString(rec, aliasSymbol...)
	ev.EventTimeMs, _ = getInt(rec, aliasTime...)

	switch evType {
	case models.EventCandle:
		if flags, ok := getInt(rec, aliasFlags...); ok && flags == models.EventFlagsInvalid {
			return models.Event{}, false
		}
		var ok [5]bool
		ev.Open, ok[0] = getFloat(rec, aliasOpen...)
		ev.High, ok[1] = getFloat(rec, aliasHigh...)
		ev.Low, ok[2] = getFloat(rec, aliasLow...)
		ev.Close, ok[3] = getFloat(rec, aliasClose...)
		ev.Volume, ok[4] = getFloat(rec, aliasVolume...)
		for _, present := range ok {
			if !present {
				return models.Event{}, false
			}
		}
		if !finite(ev.Open, ev.High, ev.Low, ev.Close, ev.Volume) {
			return models.Event{}, false
		}
		ev.VWAP, _ = getFloat(rec, aliasVWAP...)
		ev.Count, _ = getInt(rec, aliasCount...)
		ev.Sequence, _ = getInt(rec, aliasSequence...)
		ev.ImpliedVolatility, _ = getFloat(rec, aliasIV...)
		ev.OpenInterest, _ = getFloat(rec, aliasOI...)

	case models.EventTrade, models.EventTradeETH:
		price, ok := getFloat(rec, aliasPrice...)
		if !ok || !finite(price) {
			return models.Event{}, false
		}
		ev.Price = price
		ev.DayVolume, _ = getFloat(rec, aliasDayVol...)

	case models.EventQuote:
		ev.BidPrice, _ = getFloat(rec, aliasBidPx...)
		ev.BidSize, _ = getFloat(rec, aliasBidSz...)
		ev.AskPrice, _ = getFloat(rec, aliasAskPx...)
		ev.AskSize, _ = getFloat(rec, aliasAskSz...)
		ev.BidTimeMs, _ = getInt(rec, aliasBidTime...)
		ev.AskTimeMs, _ = getInt(rec, aliasAskTime...)
	}

	return ev, true
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func getFloat(rec map[string]any, aliases ...string) (float64, bool) {
	for _, key := range aliases {
		v, present := rec[key]
		if !present {
			continue
		}
		switch x := v.(type) {
		case float64:
			return x, true
		case int:
			return float64(x), true
		case int64:
			return float64(x), true
		case string:
			if f, err := strconv.ParseFloat(x, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func getInt(rec map[string]any, aliases ...string) (int64, bool) {
	if f, ok := getFloat(rec, aliases...); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int64(f), true
	}
	return 0, false
}

func getString(rec map[string]any, aliases ...string) (string, bool) {
	for _, key := range aliases {
		if s, ok := rec[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
