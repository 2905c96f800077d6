package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindServer = "server"
	KindClient = "client"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		return serverTemplate, nil
	case KindClient:
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads the file at path as kind and discards the result.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		_, err := LoadServer(path)
		return err
	case KindClient:
		_, err := LoadClient(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const serverTemplate = `# minitel-server example configuration
listen_addr = "localhost:8080"
admin_listen_addr = "127.0.0.1:9080"
admin_cors_origins = ["http://localhost:3000"]
admin_token = ""

secret = "FLAG{MINITEL_MASTER_2025}"
# secret_file = "/run/secrets/minitel"

idle_timeout = "2s"
reap_interval = "500ms"
read_timeout = "10s"
write_timeout = "5s"

log_frames = false
`

const clientTemplate = `# minitel-client example configuration
address = "localhost:8080"
max_connect_attempts = 3

connect_timeout = "10s"
read_timeout = "10s"
write_timeout = "5s"

# retry waits backoff_initial * backoff_multiplier^(attempt-1)
backoff_initial = "2s"
backoff_multiplier = 2.0
backoff_max = "30s"
backoff_jitter = false

record = false
record_dir = "recordings"
`
