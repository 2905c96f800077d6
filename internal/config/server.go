package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/minitel/internal/record"
	"github.com/danmuck/minitel/internal/server"
	"github.com/rs/zerolog/log"
)

type serverFile struct {
	ListenAddr       string   `toml:"listen_addr"`
	AdminListenAddr  string   `toml:"admin_listen_addr"`
	AdminCORSOrigins []string `toml:"admin_cors_origins"`
	AdminToken       string   `toml:"admin_token"`
	Secret           string   `toml:"secret"`
	SecretFile       string   `toml:"secret_file"`
	IdleTimeout      string   `toml:"idle_timeout"`
	ReapInterval     string   `toml:"reap_interval"`
	ReadTimeout      string   `toml:"read_timeout"`
	WriteTimeout     string   `toml:"write_timeout"`
	LogFrames        bool     `toml:"log_frames"`
}

// LoadServer applies the keys present in the TOML file at path on top of
// server.DefaultServiceConfig.
func LoadServer(path string) (server.ServiceConfig, error) {
	cfg := server.DefaultServiceConfig()

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return server.ServiceConfig{}, fmt.Errorf("load server config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		if addr := strings.TrimSpace(raw.ListenAddr); addr != "" {
			cfg.ListenAddr = addr
		}
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_cors_origins") {
		cfg.AdminCORSOrigins = normalizeList(raw.AdminCORSOrigins)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}

	if meta.IsDefined("secret") && meta.IsDefined("secret_file") {
		return server.ServiceConfig{}, fmt.Errorf("load server config: secret and secret_file are exclusive")
	}
	if meta.IsDefined("secret") {
		cfg.Secret = server.StaticSecret(raw.Secret)
	}
	if meta.IsDefined("secret_file") {
		cfg.Secret = server.FileSecret{Path: strings.TrimSpace(raw.SecretFile)}
	}

	err = applyDurations(meta, []durationKey{
		{"idle_timeout", raw.IdleTimeout, &cfg.Session.IdleTimeout},
		{"reap_interval", raw.ReapInterval, &cfg.Session.ReapInterval},
		{"read_timeout", raw.ReadTimeout, &cfg.Session.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Session.WriteTimeout},
	})
	if err != nil {
		return server.ServiceConfig{}, err
	}
	if err := cfg.Session.Validate(); err != nil {
		return server.ServiceConfig{}, fmt.Errorf("load server config: %w", err)
	}

	if raw.LogFrames {
		cfg.Sink = record.LogSink(log.Logger)
	}
	return cfg, nil
}

type durationKey struct {
	key string
	raw string
	dst *time.Duration
}

func applyDurations(meta toml.MetaData, keys []durationKey) error {
	for _, d := range keys {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
