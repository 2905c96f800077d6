package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
)

// DefaultSecret is returned by DUMP_OK when no provider is configured.
const DefaultSecret = "FLAG{MINITEL_MASTER_2025}"

var ErrSecretUnavailable = errors.New("server: secret unavailable")

// SecretProvider supplies the DUMP_OK payload.
type SecretProvider interface {
	Secret(ctx context.Context) ([]byte, error)
}

// StaticSecret serves a fixed value.
type StaticSecret []byte

func (s StaticSecret) Secret(context.Context) ([]byte, error) {
	if len(s) == 0 {
		return nil, ErrSecretUnavailable
	}
	return append([]byte(nil), s...), nil
}

// FileSecret reads the secret from Path on every request, trimming trailing
// whitespace.
type FileSecret struct {
	Path string
}

func (f FileSecret) Secret(context.Context) ([]byte, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSecretUnavailable, err)
	}
	raw = bytes.TrimRight(raw, " \t\r\n")
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrSecretUnavailable, f.Path)
	}
	return raw, nil
}

// SecretFunc adapts a function to SecretProvider.
type SecretFunc func(ctx context.Context) ([]byte, error)

func (f SecretFunc) Secret(ctx context.Context) ([]byte, error) { return f(ctx) }
