package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/minitel/internal/config"
)

func main() {
	kind := flag.String("kind", config.KindServer, "config kind: server|client")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		if err := config.Validate(path, *kind); err != nil {
			fail(err)
		}
		fmt.Printf("validated %s config at %s\n", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		fail(err)
	}
	fmt.Printf("wrote %s config template to %s\n", *kind, target)
}

func defaultPath(kind string) string {
	switch kind {
	case config.KindServer:
		return "cmd/minitel-server/config.toml"
	case config.KindClient:
		return "cmd/minitel-client/config.toml"
	default:
		fail(fmt.Errorf("unknown kind: %s", kind))
		return ""
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
	os.Exit(1)
}
