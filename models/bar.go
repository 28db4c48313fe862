package models

import "fmt"

// Timeframe is an aggregation granularity for OHLCV bars.
type Timeframe string

const (
	TF1Sec  Timeframe = "1s"
	TF1Min  Timeframe = "1min"
	TF5Min  Timeframe = "5min"
	TF15Min Timeframe = "15min"
	TF1Hour Timeframe = "1h"
	TF1Day  Timeframe = "1d"
)

// AllTimeframes lists every supported granularity in ascending period order.
var AllTimeframes = []Timeframe{TF1Sec, TF1Min, TF5Min, TF15Min, TF1Hour, TF1Day}

// PeriodMs returns the window length of the timeframe in milliseconds.
func (tf Timeframe) PeriodMs() int64 {
	switch tf {
	case TF1Sec:
		return 1_000
	case TF1Min:
		return 60_000
	case TF5Min:
		return 300_000
	case TF15Min:
		return 900_000
	case TF1Hour:
		return 3_600_000
	case TF1Day:
		return 86_400_000
	default:
		return 0
	}
}

// Segment returns the file-path segment used for this timeframe's outputs.
func (tf Timeframe) Segment() string {
	if tf == TF1Sec {
		return "1sec"
	}
	return string(tf)
}

// ParseTimeframe resolves a configuration token into a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	switch s {
	case "1s", "1sec":
		return TF1Sec, nil
	case "1m", "1min":
		return TF1Min, nil
	case "5m", "5min":
		return TF5Min, nil
	case "15m", "15min":
		return TF15Min, nil
	case "1h":
		return TF1Hour, nil
	case "1d":
		return TF1Day, nil
	default:
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
}

// Bar is one OHLCV aggregate for a fixed window. While open it is owned and
// mutated by the aggregator; once emitted it is immutable.
type Bar struct {
	Symbol        string    `json:"symbol"`
	Timeframe     Timeframe `json:"timeframe"`
	WindowStartMs int64     `json:"window_start_ms"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	Volume        float64   `json:"volume"`
}

// WindowStart floors an event time onto its aggregation window.
func WindowStart(eventTimeMs, periodMs int64) int64 {
	return eventTimeMs / periodMs * periodMs
}
