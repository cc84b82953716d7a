// Package main runs the tabwatch monitor: it connects to a browser's
// DevTools endpoint, tracks tab liveness and network activity, and reports
// crashes until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tabwatch/internal/config"
	"tabwatch/internal/logger"
	"tabwatch/pkg/api"
	"tabwatch/pkg/model"
)

const version = "1.0.0"

type cliOptions struct {
	configFile  string
	devtoolsURL string
	browserPID  int
	showVersion bool
}

func main() {
	opts := parseFlags()
	if opts.showVersion {
		fmt.Printf("tabwatch v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "shutting down...")
		cancel()
	}()

	if err := run(ctx, opts); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "tabwatch: %v\n", err)
		os.Exit(1)
	}
	cancel()
}

func parseFlags() *cliOptions {
	opts := &cliOptions{}

	flag.StringVar(&opts.configFile, "config", "", "path to configuration file (YAML)")
	flag.StringVar(&opts.devtoolsURL, "devtools", "", "DevTools endpoint URL (overrides config)")
	flag.IntVar(&opts.browserPID, "pid", 0, "browser process ID to watch (overrides config)")
	flag.BoolVar(&opts.showVersion, "version", false, "show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "tabwatch - browser tab liveness and network activity monitor\n\n")
		fmt.Fprintf(os.Stderr, "Usage: tabwatch [options]\n\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tabwatch -devtools http://127.0.0.1:9222\n")
		fmt.Fprintf(os.Stderr, "  tabwatch -config tabwatch.yaml -pid 52341\n")
	}

	flag.Parse()
	return opts
}

func run(ctx context.Context, opts *cliOptions) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if opts.devtoolsURL != "" {
		cfg.DevTools.URL = opts.devtoolsURL
	}
	if opts.browserPID > 0 {
		cfg.DevTools.BrowserPID = opts.browserPID
	}

	log := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Writers: cfg.Log.Writer,
		File:    cfg.Log.File,
	})

	svc := api.NewService(cfg, log)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	events, unsub := svc.Subscribe()
	defer unsub()

	log.Info("tabwatch running", "devtools", cfg.DevTools.URL, "pid", cfg.DevTools.BrowserPID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if browserGone := reportEvent(log, evt); browserGone {
				return nil
			}
		}
	}
}

// reportEvent logs one browser event. It returns true when the browser
// process is gone and the run should end.
func reportEvent(log logger.Logger, evt model.Event) bool {
	switch p := evt.Payload.(type) {
	case model.BrowserConnected:
		log.Info("browser connected", "devtools", p.DevToolsURL)
	case model.TabCreated:
		log.Info("tab created", "target", string(p.Target), "url", p.URL)
	case model.BrowserError:
		log.Warn("browser error", "kind", string(p.Kind), "message", p.Message)
		if p.Kind == model.BrowserProcessCrashed {
			return true
		}
	case model.BrowserStopped:
		log.Info("browser monitoring stopped")
	}
	return false
}
