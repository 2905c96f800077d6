package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/minitel/internal/client"
	"github.com/danmuck/minitel/internal/config"
	"github.com/danmuck/minitel/internal/logging"
	"github.com/danmuck/minitel/internal/record"
	"github.com/rs/zerolog/log"
)

const usage = `usage:
  minitel-client [-config path] [-addr host:port] [-record] [-record-dir dir] mission
  minitel-client replay <session.json>`

// Exit codes distinguish the three mission outcomes.
const (
	exitOK = iota
	exitUsage
	exitConnect
	exitRejected
	exitNoSecret
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("minitel-client", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a TOML config file")
	addr := fs.String("addr", "", "server address host:port (overrides config)")
	recordOn := fs.Bool("record", false, "record the session to a JSON file")
	recordDir := fs.String("record-dir", "", "directory for session recordings")
	fs.Usage = func() { fmt.Fprintln(fs.Output(), usage) }
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	logging.ConfigureRuntime("minitel-client")

	cfg := config.DefaultClient()
	if *configPath != "" {
		loaded, err := config.LoadClient(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "minitel-client: %v\n", err)
			return exitUsage
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Client.Address = *addr
	}
	if *recordOn {
		cfg.Record = true
	}
	if *recordDir != "" {
		cfg.RecordDir = *recordDir
	}

	switch fs.Arg(0) {
	case "", "mission":
		return runMission(cfg)
	case "replay":
		if fs.NArg() != 2 {
			fs.Usage()
			return exitUsage
		}
		return runReplay(fs.Arg(1))
	default:
		fs.Usage()
		return exitUsage
	}
}

func runMission(cfg config.Client) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rec *record.SessionRecorder
	if cfg.Record {
		rec = record.NewSessionRecorder()
		rec.Start()
		cfg.Client.Sink = rec
	}

	c, err := client.New(cfg.Client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "minitel-client: %v\n", err)
		return exitUsage
	}
	secret, err := c.RunMission(ctx)
	if rec != nil {
		if path, saveErr := rec.Save(cfg.RecordDir); saveErr != nil {
			log.Warn().Err(saveErr).Msg("session not saved")
		} else {
			fmt.Printf("session recorded: %s\n", path)
		}
	}

	switch {
	case err == nil:
		fmt.Printf("secret: %s\n", secret)
		return exitOK
	case errors.Is(err, client.ErrConnectFailed):
		fmt.Fprintf(os.Stderr, "minitel-client: could not connect: %v\n", err)
		return exitConnect
	case errors.Is(err, client.ErrNoSecret):
		fmt.Fprintf(os.Stderr, "minitel-client: %v\n", err)
		return exitNoSecret
	default:
		fmt.Fprintf(os.Stderr, "minitel-client: %v\n", err)
		return exitRejected
	}
}
