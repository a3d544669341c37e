package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"standupbot/internal/app"
)

func main() {
	var (
		cfgPath string
		envFile string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.StringVar(&envFile, "env", "", "optional .env file (default ./.env)")
	flag.Parse()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	a, err := app.NewApp(ctx, cfgPath, envFiles...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		stop(a, app.StopFatalError)
		os.Exit(1)
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		} else {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}
	stop(a, reason)
	if reason == app.StopFatalError && a.Err() != nil {
		fmt.Fprintln(os.Stderr, "fatal:", a.Err())
		os.Exit(1)
	}
}

func stop(a *app.App, reason app.StopReason) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
}
