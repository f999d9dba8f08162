package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/me/classq/internal/logging"
	"github.com/me/classq/internal/runner"
)

func main() {
	var cfg runner.Config

	flag.StringVar(&cfg.ServerURL, "server", "http://localhost:8320", "Coordinator URL")
	flag.StringVar(&cfg.Name, "name", "", "Runner name (default: hostname)")
	command := flag.String("command", "", "Command template run per method; {class} and {method} are substituted")
	flag.DurationVar(&cfg.ClassTimeout, "class-timeout", 0, "Local execution deadline per class (0 = none)")
	flag.DurationVar(&cfg.Heartbeat, "heartbeat", 10*time.Second, "Heartbeat interval")
	flag.DurationVar(&cfg.PollTimeout, "poll-timeout", 60*time.Second, "HTTP timeout for work requests; must exceed the server's hold time")

	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "text", "Log format (text, json)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	if *debug {
		*logLevel = "debug"
	}
	logger := logging.NewLogger(logging.ParseLevel(*logLevel), *logFormat)

	cfg.Command = strings.Fields(*command)
	if len(cfg.Command) == 0 {
		fmt.Fprintln(os.Stderr, "--command is required")
		os.Exit(1)
	}

	if cfg.Name == "" {
		h, err := os.Hostname()
		if err != nil {
			cfg.Name = "runner"
		} else {
			cfg.Name = h
		}
	}
	cfg.Hostname, _ = os.Hostname()

	r, err := runner.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "runner: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := r.Run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "runner: %v\n", err)
		os.Exit(1)
	}
}
