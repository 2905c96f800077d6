// Package protocol owns the MiniTel-Lite exchange rules shared by client and server.
//
// Ownership boundary:
// - nonce sequencing (client Sequencer, server ServerSequence)
// - command state machine (HELLO -> DUMP* -> TERMINATE)
// - failure taxonomy (malformed, sequence, transport, capacity)
//
// Wire encoding lives in protocol/frame; reliability settings in protocol/session.
package protocol
