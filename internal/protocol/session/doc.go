// Package session owns MiniTel-Lite connection reliability settings.
//
// Ownership boundary:
// - connect/read/write timeouts
// - server idle window and reaper cadence
// - client connect retry backoff
package session
