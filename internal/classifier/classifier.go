package classifier

import (
	"strings"

	"legendflow/models"
)

// Tokens that mark transport control chatter we never persist.
var ignoreTokens = []string{
	"KEEPALIVE", "HEARTBEAT", "PING", "PONG",
	"SUBSCRIBED", "SUBSCRIPTION", "ACK", "CONNECT",
}

// maxEnvelopeDepth bounds the payload walk; the upstream protocol nests
// retries a couple of levels deep at most.
const maxEnvelopeDepth = 8

// Classifier tags raw frames by stream kind. It is a pure function over the
// frame's source URL and parsed payload; the struct only carries the
// endpoint pattern.
type Classifier struct {
	streamerPattern string
}

func New(streamerPattern string) *Classifier {
	return &Classifier{streamerPattern: streamerPattern}
}

// Classify inspects one raw frame and returns its classification. Frames
// from other endpoints or without parsed JSON are Unknown; nothing is ever
// discarded here.
func (c *Classifier) Classify(frame *models.RawFrame) models.ClassifiedMessage {
	if c.streamerPattern != "" && !strings.Contains(frame.SourceURL, c.streamerPattern) {
		return models.ClassifiedMessage{Kind: models.KindUnknown}
	}

	root, ok := frame.ParsedJSON.(map[string]any)
	if !ok {
		return models.ClassifiedMessage{Kind: models.KindUnknown}
	}

	tokens, deepest, channel, hasChannel := walkEnvelopes(root)

	// Channel 0 is the reserved control channel.
	if hasChannel && channel == 0 {
		return models.ClassifiedMessage{Kind: models.KindIgnore, Payload: deepest}
	}

	// Innermost tokens win, and control/options/news outrank the generic
	// marketdata wrapper.
	if matchAny(tokens, ignoreTokens...) {
		return models.ClassifiedMessage{Kind: models.KindIgnore, Payload: deepest}
	}
	if matchAny(tokens, "OPTION") {
		return models.ClassifiedMessage{Kind: models.KindOptions, Payload: deepest}
	}
	if matchAny(tokens, "NEWS") {
		return models.ClassifiedMessage{Kind: models.KindNews, Payload: deepest}
	}
	if matchAny(tokens, "MARKETDATA") {
		return models.ClassifiedMessage{Kind: models.KindMarketData, Channel: channel, Payload: deepest}
	}

	return models.ClassifiedMessage{Kind: models.KindUnknown, Channel: channel, Payload: deepest}
}

// walkEnvelopes descends through nested payload wrappers collecting every
// type token seen, ordered innermost first, along with the deepest payload
// object and the deepest channel field encountered.
func walkEnvelopes(root map[string]any) (tokens []string, deepest map[string]any, channel int, hasChannel bool) {
	cur := root
	for depth := 0; cur != nil && depth < maxEnvelopeDepth; depth++ {
		deepest = cur

		if t, ok := cur["type"].(string); ok && t != "" {
			// Prepend so the innermost token ends up first.
			tokens = append([]string{strings.ToUpper(t)}, tokens...)
		}
		if ch, ok := numberField(cur, "channel"); ok {
			channel = ch
			hasChannel = true
		}

		next, _ := cur["payload"].(map[string]any)
		cur = next
	}
	return tokens, deepest, channel, hasChannel
}

func matchAny(tokens []string, substrs ...string) bool {
	for _, tok := range tokens {
		for _, sub := range substrs {
			if strings.Contains(tok, sub) {
				return true
			}
		}
	}
	return false
}

func numberField(obj map[string]any, key string) (int, bool) {
	switch v := obj[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}
