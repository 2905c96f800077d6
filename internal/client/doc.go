// Package client drives a MiniTel-Lite session from the client side: bounded
// connect retries, one blocking round trip per command, and the
// HELLO, DUMP, DUMP, TERMINATE mission.
package client
