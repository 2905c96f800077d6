package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/minitel/internal/protocol/session"
	"github.com/danmuck/minitel/internal/server"
	"github.com/danmuck/minitel/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadServerTemplate(t *testing.T) {
	testlog.Start(t)
	tmpl, err := Template(KindServer)
	require.NoError(t, err)
	cfg, err := LoadServer(writeConfig(t, tmpl))
	require.NoError(t, err)

	require.Equal(t, "localhost:8080", cfg.ListenAddr)
	require.Equal(t, "127.0.0.1:9080", cfg.AdminListenAddr)
	require.Equal(t, []string{"http://localhost:3000"}, cfg.AdminCORSOrigins)
	require.Empty(t, cfg.AdminToken)
	require.Equal(t, 2*time.Second, cfg.Session.IdleTimeout)
	require.Equal(t, 500*time.Millisecond, cfg.Session.ReapInterval)
	require.Equal(t, 10*time.Second, cfg.Session.ReadTimeout)
	require.Equal(t, 5*time.Second, cfg.Session.WriteTimeout)
	require.Nil(t, cfg.Sink)

	secret, err := cfg.Secret.Secret(context.Background())
	require.NoError(t, err)
	require.Equal(t, server.DefaultSecret, string(secret))
}

func TestLoadServerKeepsDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadServer(writeConfig(t, `idle_timeout = "750ms"`))
	require.NoError(t, err)

	def := server.DefaultServiceConfig()
	require.Equal(t, def.ListenAddr, cfg.ListenAddr)
	require.Empty(t, cfg.AdminListenAddr)
	require.Equal(t, 750*time.Millisecond, cfg.Session.IdleTimeout)
	require.Equal(t, session.DefaultConfig().ReapInterval, cfg.Session.ReapInterval)
}

func TestLoadServerSecretFile(t *testing.T) {
	testlog.Start(t)
	secretPath := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(secretPath, []byte("FLAG{FROM_FILE}\n"), 0o600))

	cfg, err := LoadServer(writeConfig(t, `secret_file = "`+secretPath+`"`))
	require.NoError(t, err)
	got, err := cfg.Secret.Secret(context.Background())
	require.NoError(t, err)
	require.Equal(t, "FLAG{FROM_FILE}", string(got))
}

func TestLoadServerAdminTokenAndFrameLog(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadServer(writeConfig(t, "admin_token = \" t0k \"\nlog_frames = true\n"))
	require.NoError(t, err)
	require.Equal(t, "t0k", cfg.AdminToken)
	require.NotNil(t, cfg.Sink)
}

func TestLoadServerErrors(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"bad duration":       `idle_timeout = "soon"`,
		"non-positive idle":  `idle_timeout = "0s"`,
		"exclusive secrets":  "secret = \"a\"\nsecret_file = \"b\"",
		"malformed toml":     `listen_addr = `,
		"negative reap scan": `reap_interval = "-1s"`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadServer(writeConfig(t, content))
			require.Error(t, err)
		})
	}

	_, err := LoadServer(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestLoadClientTemplate(t *testing.T) {
	testlog.Start(t)
	tmpl, err := Template(KindClient)
	require.NoError(t, err)
	cfg, err := LoadClient(writeConfig(t, tmpl))
	require.NoError(t, err)

	require.Equal(t, "localhost:8080", cfg.Client.Address)
	require.Equal(t, 3, cfg.Client.MaxConnectAttempts)
	require.Equal(t, 10*time.Second, cfg.Client.Session.ConnectTimeout)
	require.Equal(t, 2*time.Second, cfg.Client.Session.Backoff.InitialDelay)
	require.Equal(t, 2.0, cfg.Client.Session.Backoff.Multiplier)
	require.Equal(t, 30*time.Second, cfg.Client.Session.Backoff.MaxDelay)
	require.False(t, cfg.Client.Session.Backoff.Jitter)
	require.False(t, cfg.Record)
	require.Equal(t, DefaultRecordDir, cfg.RecordDir)
}

func TestLoadClientOverrides(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadClient(writeConfig(t, `
address = "10.0.0.5:9000"
max_connect_attempts = 5
backoff_initial = "100ms"
record = true
record_dir = "/tmp/minitel"
`))
	require.NoError(t, err)
	require.Equal(t, "10.0.0.5:9000", cfg.Client.Address)
	require.Equal(t, 5, cfg.Client.MaxConnectAttempts)
	require.Equal(t, 100*time.Millisecond, cfg.Client.Session.Backoff.InitialDelay)
	require.Equal(t, 2.0, cfg.Client.Session.Backoff.Multiplier)
	require.True(t, cfg.Record)
	require.Equal(t, "/tmp/minitel", cfg.RecordDir)
}

func TestLoadClientErrors(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"zero attempts":       `max_connect_attempts = 0`,
		"bad duration":        `read_timeout = "later"`,
		"negative multiplier": `backoff_multiplier = -1.0`,
		"negative delay":      `backoff_initial = "-2s"`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadClient(writeConfig(t, content))
			require.Error(t, err)
		})
	}
}

func TestExampleFilesMatchTemplates(t *testing.T) {
	testlog.Start(t)
	for kind, path := range map[string]string{
		KindServer: filepath.Join("..", "..", "cmd", "minitel-server", "ex.config.toml"),
		KindClient: filepath.Join("..", "..", "cmd", "minitel-client", "ex.config.toml"),
	} {
		want, err := Template(kind)
		require.NoError(t, err)
		got, err := os.ReadFile(path)
		require.NoError(t, err, kind)
		require.Equal(t, want, string(got), kind)
		require.NoError(t, Validate(path, kind))
	}
}

func TestWriteTemplate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, WriteTemplate(path, KindServer, false))
	require.Error(t, WriteTemplate(path, KindServer, false), "refuses to overwrite")
	require.NoError(t, WriteTemplate(path, KindClient, true))
	require.NoError(t, Validate(path, KindClient))

	_, err := Template("gateway")
	require.Error(t, err)
	require.Error(t, Validate(path, "gateway"))
}
