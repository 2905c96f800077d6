// Package server hosts the MiniTel-Lite listener.
//
// Ownership boundary:
// - accept loop and one handler goroutine per connection
// - connection registry and idle reaper
// - secret lookup for DUMP_OK replies
//
// Exchange rules come from internal/protocol; the server only drives them.
package server
