// Command simflow runs the eSIM commerce platform: webhook ingestion,
// the provider fulfillment cascade, and the inquiry fabric behind one
// HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/voyasim/simflow"
	"github.com/voyasim/simflow/core"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		envFile     = flag.String("env-file", "", "load environment from this file before reading config")
		showVersion = flag.Bool("version", false, "print the version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("simflow", simflow.Version)
		return 0
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "simflow: loading %s: %v\n", *envFile, err)
			return 2
		}
	} else {
		// Best effort; a missing .env is not an error.
		_ = godotenv.Load()
	}

	cfg := core.DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "simflow: configuration: %v\n", err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "simflow: configuration: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	platform, err := simflow.New(ctx, cfg)
	if err != nil {
		if errors.Is(err, core.ErrInvalidConfiguration) || errors.Is(err, core.ErrMissingConfiguration) {
			fmt.Fprintf(os.Stderr, "simflow: configuration: %v\n", err)
			return 2
		}
		fmt.Fprintf(os.Stderr, "simflow: startup: %v\n", err)
		return 1
	}

	if err := platform.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "simflow: %v\n", err)
		return 1
	}
	return 0
}
