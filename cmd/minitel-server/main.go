package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/minitel/internal/config"
	"github.com/danmuck/minitel/internal/logging"
	"github.com/danmuck/minitel/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	listen := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	logging.ConfigureRuntime("minitel-server")

	cfg := server.DefaultServiceConfig()
	if *configPath != "" {
		loaded, err := config.LoadServer(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "minitel-server: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}

	svc := server.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "minitel-server: %v\n", err)
		os.Exit(1)
	}
}
