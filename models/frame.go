package models

// Transport identifies how a raw frame reached the collector.
type Transport string

const (
	TransportHTTP      Transport = "http"
	TransportWebSocket Transport = "websocket"
)

// RawFrame is one transport frame as delivered by the frame source. It is
// immutable after creation; ParsedJSON is nil when the body was not valid
// JSON.
type RawFrame struct {
	Transport   Transport
	SourceURL   string
	TimestampMs int64
	RawText     string
	ParsedJSON  any
}

// MessageKind is the classification of a raw frame.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindIgnore
	KindMarketData
	KindOptions
	KindNews
)

func (k MessageKind) String() string {
	switch k {
	case KindIgnore:
		return "ignore"
	case KindMarketData:
		return "marketdata"
	case KindOptions:
		return "options"
	case KindNews:
		return "news"
	default:
		return "unknown"
	}
}

// ClassifiedMessage is the classifier's verdict for one frame. Channel is
// only meaningful for marketdata frames; Payload is the deepest envelope
// payload when one was found.
type ClassifiedMessage struct {
	Kind    MessageKind
	Channel int
	Payload map[string]any
}
