// Command testflow is the interactive element picker CLI.
//
// Usage:
//
//	testflow -url https://example.com                    # pick on a page, stdout sink
//	testflow -config testflow.yaml                       # pick with full config
//	testflow -url https://example.com -element-at 120,80 # one-shot probe, no session
//
// In interactive mode the browser window captures the pointer: hovering
// previews elements, a click locks one and emits its selection, Escape
// releases the lock and a second Escape ends the session.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/xASHx26/testflow-sub001/browser"
	"github.com/xASHx26/testflow-sub001/flowsafe"
	"github.com/xASHx26/testflow-sub001/picker"
)

func main() {
	configPath := flag.String("config", "", "path to testflow.yaml config file")
	pageURL := flag.String("url", "", "pick on a single URL (stdout sink)")
	remote := flag.String("remote", "", "connect to a running Chrome (ws:// or http:// debugger URL)")
	elementAt := flag.String("element-at", "", "probe the element at \"x,y\" and exit")
	outPath := flag.String("out", "", "append selection events to this JSONL file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *pageURL, *remote, *elementAt, *outPath); err != nil {
		logger.Error("testflow: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, pageURL, remote, elementAt, outPath string) error {
	cfg := defaultConfig()
	if configPath != "" {
		loaded, err := picker.LoadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if pageURL != "" {
		cfg.Picker.URL = pageURL
	}
	if remote != "" {
		cfg.Browser.Remote = remote
	}
	if cfg.Picker.URL == "" {
		fmt.Fprintln(os.Stderr, "usage: testflow -url <url> | -config <file> [-element-at x,y] [-out <file>]")
		os.Exit(1)
	}

	stealth, err := browser.ParseStealthMode(cfg.Browser.Stealth)
	if err != nil {
		return err
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Stealth:          stealth,
		NavTimeout:       cfg.Browser.NavTimeout,
		Logger:           logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("browser start: %w", err)
	}
	defer mgr.Close()

	page, err := browser.OpenPage(ctx, mgr, cfg.Picker.URL)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if elementAt != "" {
		return runProbe(ctx, page, elementAt)
	}
	return runInteractive(ctx, logger, cfg, page, outPath)
}

// runProbe extracts the element at the given coordinates and prints its
// descriptor. No session is started and no events are emitted.
func runProbe(ctx context.Context, page *browser.Page, at string) error {
	x, y, err := parsePoint(at)
	if err != nil {
		return err
	}

	eng := picker.New(page, picker.Options{})
	d, err := eng.ElementAt(ctx, x, y)
	if err != nil {
		return fmt.Errorf("element at (%g, %g): %w", x, y, err)
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	os.Stdout.Write(data)
	os.Stdout.Write([]byte("\n"))
	return nil
}

func runInteractive(ctx context.Context, logger *slog.Logger, cfg *picker.Config, page *browser.Page, outPath string) error {
	var out *os.File
	if outPath != "" {
		f, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open out file: %w", err)
		}
		out = f
		defer f.Close()
	}

	eng := picker.New(page, picker.Options{
		Sink:        buildSinks(cfg, out, logger),
		Highlighter: page,
		Logger:      logger,
		SessionID:   cfg.Picker.SessionID,
	})

	if err := eng.Enable(ctx); err != nil {
		return err
	}
	defer eng.Disable(context.Background())

	if err := page.SetCapturing(ctx, true); err != nil {
		return err
	}

	logger.Info("testflow: picking", "url", page.URL(), "session", eng.SessionID())

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-page.Events():
			var err error
			switch ev.Kind {
			case browser.InputPointerMove:
				err = eng.PointerMove(ctx, ev.X, ev.Y)
			case browser.InputClick:
				err = eng.Click(ctx, ev.X, ev.Y)
			case browser.InputKey:
				if ev.Key == "Escape" {
					err = eng.CancelKey(ctx)
				}
			}
			// The engine disables on a second Escape or a page
			// navigation; either way the session is over and the page
			// gets its input back.
			if errors.Is(err, picker.ErrNotEnabled) || eng.State() == picker.StateDisabled {
				if cerr := page.SetCapturing(ctx, false); cerr != nil {
					logger.Debug("testflow: capture off", "error", cerr)
				}
				logger.Info("testflow: session ended", "session", eng.SessionID())
				return nil
			}
			if err != nil {
				logger.Warn("testflow: input", "kind", ev.Kind, "error", err)
			}
		}
	}
}

// buildSinks assembles the sink fan-out from config. An -out file adds a
// JSONL sink alongside whatever the config names.
func buildSinks(cfg *picker.Config, out *os.File, logger *slog.Logger) picker.Sink {
	var sinks []picker.Sink
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, picker.NewStdoutSink(nil))
		case "webhook":
			if err := flowsafe.ValidateURL(sc.URL); err != nil {
				logger.Warn("testflow: webhook sink rejected", "url", sc.URL, "error", err)
				continue
			}
			sinks = append(sinks, picker.NewWebhookSink(sc.URL, logger))
		default:
			logger.Warn("testflow: unknown sink type", "type", sc.Type)
		}
	}
	if out != nil {
		sinks = append(sinks, picker.NewStdoutSink(out))
	}
	if len(sinks) == 0 {
		sinks = append(sinks, picker.NewStdoutSink(nil))
	}
	return picker.NewRouterSink(logger, sinks...)
}

func parsePoint(s string) (x, y float64, err error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("element-at: want \"x,y\", got %q", s)
	}
	x, err = strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("element-at: bad x %q", xs)
	}
	y, err = strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("element-at: bad y %q", ys)
	}
	return x, y, nil
}

func defaultConfig() *picker.Config {
	return &picker.Config{
		Browser: picker.BrowserConfig{
			Stealth:          "headless",
			NavTimeout:       30 * time.Second,
			ResourceBlocking: []string{"images", "fonts", "media"},
		},
	}
}
