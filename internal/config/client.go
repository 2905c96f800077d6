package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/minitel/internal/client"
)

const DefaultRecordDir = "recordings"

type clientFile struct {
	Address            string  `toml:"address"`
	MaxConnectAttempts int     `toml:"max_connect_attempts"`
	ConnectTimeout     string  `toml:"connect_timeout"`
	ReadTimeout        string  `toml:"read_timeout"`
	WriteTimeout       string  `toml:"write_timeout"`
	BackoffInitial     string  `toml:"backoff_initial"`
	BackoffMax         string  `toml:"backoff_max"`
	BackoffMultiplier  float64 `toml:"backoff_multiplier"`
	BackoffJitter      bool    `toml:"backoff_jitter"`
	Record             bool    `toml:"record"`
	RecordDir          string  `toml:"record_dir"`
}

// Client is the client driver configuration plus recording options.
type Client struct {
	Client    client.Config
	Record    bool
	RecordDir string
}

func DefaultClient() Client {
	return Client{
		Client:    client.DefaultConfig(),
		RecordDir: DefaultRecordDir,
	}
}

// LoadClient applies the keys present in the TOML file at path on top of
// DefaultClient.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Client{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("address") {
		if addr := strings.TrimSpace(raw.Address); addr != "" {
			cfg.Client.Address = addr
		}
	}
	if meta.IsDefined("max_connect_attempts") {
		if raw.MaxConnectAttempts <= 0 {
			return Client{}, fmt.Errorf("max_connect_attempts must be positive, got %d", raw.MaxConnectAttempts)
		}
		cfg.Client.MaxConnectAttempts = raw.MaxConnectAttempts
	}

	sess := &cfg.Client.Session
	err = applyDurations(meta, []durationKey{
		{"connect_timeout", raw.ConnectTimeout, &sess.ConnectTimeout},
		{"read_timeout", raw.ReadTimeout, &sess.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &sess.WriteTimeout},
		{"backoff_initial", raw.BackoffInitial, &sess.Backoff.InitialDelay},
		{"backoff_max", raw.BackoffMax, &sess.Backoff.MaxDelay},
	})
	if err != nil {
		return Client{}, err
	}
	if meta.IsDefined("backoff_multiplier") {
		sess.Backoff.Multiplier = raw.BackoffMultiplier
	}
	if meta.IsDefined("backoff_jitter") {
		sess.Backoff.Jitter = raw.BackoffJitter
	}
	if err := sess.Validate(); err != nil {
		return Client{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("record") {
		cfg.Record = raw.Record
	}
	if meta.IsDefined("record_dir") {
		if dir := strings.TrimSpace(raw.RecordDir); dir != "" {
			cfg.RecordDir = dir
		}
	}
	return cfg, nil
}
