package protocol

import (
	"fmt"
	"math"
)

// Sequencer tracks the client side of the nonce exchange: the client emits at
// N, expects the peer at N+1, then moves to N+2.
type Sequencer struct {
	counter uint32
}

func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Next returns the nonce for the next outbound frame without advancing.
func (s *Sequencer) Next() uint32 {
	return s.counter
}

// Advance accepts the peer's reply nonce. It must be exactly one past the
// current counter; on success the counter jumps past it.
func (s *Sequencer) Advance(peer uint32) error {
	if s.counter >= math.MaxUint32-1 {
		return ErrNonceExhausted
	}
	want := s.counter + 1
	if peer != want {
		return fmt.Errorf("%w: expected %d, got %d", ErrNonceMismatch, want, peer)
	}
	s.counter = peer + 1
	return nil
}

// ServerSequence is the server's view of one connection's nonces. Client
// requests arrive on even values starting at 0, replies leave on odd values
// starting at 1, and both move by 2 per completed exchange.
type ServerSequence struct {
	expected uint32
	reply    uint32
}

func NewServerSequence() ServerSequence {
	return ServerSequence{expected: 0, reply: 1}
}

// Check validates an inbound request nonce without advancing.
func (s *ServerSequence) Check(clientNonce uint32) error {
	if clientNonce != s.expected {
		return fmt.Errorf("%w: expected %d, got %d", ErrNonceMismatch, s.expected, clientNonce)
	}
	if s.reply >= math.MaxUint32-1 {
		return ErrNonceExhausted
	}
	return nil
}

// Reply returns the nonce the next response must carry.
func (s *ServerSequence) Reply() uint32 { return s.reply }

// Expected returns the nonce the next request must carry.
func (s *ServerSequence) Expected() uint32 { return s.expected }

// Commit closes one exchange.
func (s *ServerSequence) Commit() {
	s.expected += 2
	s.reply += 2
}
