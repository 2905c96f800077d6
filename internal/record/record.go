// Package record carries frame-level events out of the protocol core.
//
// The core reports every frame it sends or receives to a Sink. A Sink never
// returns errors to the core; recording is best effort and a missing or failing
// recorder cannot affect an exchange.
package record

import (
	"time"

	"github.com/danmuck/minitel/internal/protocol/frame"
	"github.com/rs/zerolog"
)

type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// Event describes one frame observed on the wire.
type Event struct {
	Direction Direction
	Command   string
	Nonce     uint32
	Payload   []byte
	Raw       []byte
	Timestamp time.Time
}

// NewEvent builds an event for f as it appeared on the wire in raw.
func NewEvent(dir Direction, f frame.Frame, raw []byte) Event {
	return Event{
		Direction: dir,
		Command:   f.Command().String(),
		Nonce:     f.Nonce(),
		Payload:   f.Payload(),
		Raw:       append([]byte(nil), raw...),
		Timestamp: time.Now(),
	}
}

type Sink interface {
	Record(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Record(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}

// LogSink writes every event to logger at debug level.
func LogSink(logger zerolog.Logger) Sink {
	return SinkFunc(func(e Event) {
		logger.Debug().
			Str("direction", string(e.Direction)).
			Str("command", e.Command).
			Uint32("nonce", e.Nonce).
			Int("payload_len", len(e.Payload)).
			Msg("frame")
	})
}
