package models

// EventType is the canonical market event kind.
type EventType string

const (
	EventCandle   EventType = "candle"
	EventTrade    EventType = "trade"
	EventTradeETH EventType = "trade_eth"
	EventQuote    EventType = "quote"
)

// Stream channel numbers used by the upstream feed.
const (
	ChannelCandle   = 1
	ChannelTrade    = 3
	ChannelTradeETH = 5
	ChannelQuote    = 7
)

// EventFlagsInvalid marks a candle record the upstream flags as invalid
// data; such records never enter the pipeline.
const EventFlagsInvalid = -1

// Event is one normalized market event. Type selects which variant fields
// are populated: candles carry OHLCV, trades carry Price/DayVolume, quotes
// carry the bid/ask fields.
type Event struct {
	Type        EventType `json:"type"`
	Symbol      string    `json:"symbol"`
	EventTimeMs int64     `json:"event_time_ms"`

	// Candle fields
	Open              float64 `json:"open,omitempty"`
	High              float64 `json:"high,omitempty"`
	Low               float64 `json:"low,omitempty"`
	Close             float64 `json:"close,omitempty"`
	Volume            float64 `json:"volume,omitempty"`
	VWAP              float64 `json:"vwap,omitempty"`
	Count             int64   `json:"count,omitempty"`
	Sequence          int64   `json:"sequence,omitempty"`
	ImpliedVolatility float64 `json:"implied_volatility,omitempty"`
	OpenInterest      float64 `json:"open_interest,omitempty"`

	// Trade fields
	Price     float64 `json:"price,omitempty"`
	DayVolume float64 `json:"day_volume,omitempty"`

	// Quote fields
	BidPrice  float64 `json:"bid_price,omitempty"`
	BidSize   float64 `json:"bid_size,omitempty"`
	AskPrice  float64 `json:"ask_price,omitempty"`
	AskSize   float64 `json:"ask_size,omitempty"`
	BidTimeMs int64   `json:"bid_time_ms,omitempty"`
	AskTimeMs int64   `json:"ask_time_ms,omitempty"`
}

// ChannelEventType maps an upstream channel number to its event type.
// The boolean is false for unknown channels.
func ChannelEventType(channel int) (EventType, bool) {
	switch channel {
	case ChannelCandle:
		return EventCandle, true
	case ChannelTrade:
		return EventTrade, true
	case ChannelTradeETH:
		return EventTradeETH, true
	case ChannelQuote:
		return EventQuote, true
	default:
		return "", false
	}
}
