// Command testflow-replay re-resolves recorded selections.
//
// Usage:
//
//	testflow-replay -in selections.jsonl -url https://example.com
//	testflow-replay -in selections.jsonl -html snapshot.html
//	testflow-replay -in selections.jsonl -url ... -store replay.db
//
// The input is the JSONL stream a picking session wrote (testflow -out,
// or a webhook receiver's log). Each selection's locators are tried in
// rank order against the target document; results stream to stdout as
// JSONL and, with -store, into a SQLite run log.
//
// Exits non-zero when any selection fails to resolve.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xASHx26/testflow-sub001/browser"
	"github.com/xASHx26/testflow-sub001/dom"
	"github.com/xASHx26/testflow-sub001/dom/htmldoc"
	"github.com/xASHx26/testflow-sub001/idgen"
	"github.com/xASHx26/testflow-sub001/picker/event"
	"github.com/xASHx26/testflow-sub001/replay"
)

func main() {
	inPath := flag.String("in", "", "selections JSONL file (required)")
	pageURL := flag.String("url", "", "resolve against a live page")
	htmlPath := flag.String("html", "", "resolve against a static HTML snapshot")
	remote := flag.String("remote", "", "connect to a running Chrome (debugger URL)")
	storePath := flag.String("store", "", "log the run into this SQLite database")
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

	if err := run(ctx, logger, *inPath, *pageURL, *htmlPath, *remote, *storePath); err != nil {
		logger.Error("testflow-replay: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, inPath, pageURL, htmlPath, remote, storePath string) error {
	if inPath == "" || (pageURL == "" && htmlPath == "") {
		fmt.Fprintln(os.Stderr, "usage: testflow-replay -in <file> (-url <url> | -html <file>) [-store <db>]")
		os.Exit(1)
	}

	selections, err := readSelections(inPath)
	if err != nil {
		return err
	}
	if len(selections) == 0 {
		return fmt.Errorf("%s: no selections", inPath)
	}

	doc, cleanup, err := openDocument(ctx, logger, pageURL, htmlPath, remote)
	if err != nil {
		return err
	}
	defer cleanup()

	var st *replay.Store
	runID := idgen.Prefixed("run_", idgen.Timestamped(idgen.NanoID(6)))()
	if storePath != "" {
		st, err = replay.OpenStore(storePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		if err := st.BeginRun(ctx, runID, doc.URL(), inPath, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("begin run: %w", err)
		}
	}

	logger.Info("testflow-replay: resolving",
		"selections", len(selections), "target", doc.URL(), "run", runID)

	enc := json.NewEncoder(os.Stdout)
	matched := 0
	for _, sel := range selections {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r := replay.Resolve(ctx, doc, sel)
		if r.Matched {
			matched++
		}
		if err := enc.Encode(r); err != nil {
			return err
		}
		if st != nil {
			if err := replay.LogResult(ctx, st, runID, r); err != nil {
				logger.Warn("testflow-replay: store write", "event", r.EventID, "error", err)
			}
		}
	}

	logger.Info("testflow-replay: done",
		"run", runID, "total", len(selections), "matched", matched)

	if matched < len(selections) {
		return fmt.Errorf("%d of %d selections unresolved", len(selections)-matched, len(selections))
	}
	return nil
}

// readSelections parses the JSONL event stream, keeping selection
// events and skipping previews. Bare Selection objects (no envelope)
// are accepted too.
func readSelections(path string) ([]event.Selection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []event.Selection
	dec := json.NewDecoder(f)
	for {
		var env struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := dec.Decode(&env); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		switch env.Type {
		case "selection":
			var sel event.Selection
			if err := json.Unmarshal(env.Data, &sel); err != nil {
				return nil, fmt.Errorf("%s: selection: %w", path, err)
			}
			out = append(out, sel)
		case "preview":
			// Previews carry no locators; nothing to replay.
		case "":
			// Not an envelope — maybe a bare Selection line.
			var sel event.Selection
			if err := json.Unmarshal(env.Data, &sel); err == nil && sel.EventID != "" {
				out = append(out, sel)
			}
		}
	}
}

// openDocument returns the resolution target: a parsed snapshot for
// -html, a live tab for -url.
func openDocument(ctx context.Context, logger *slog.Logger, pageURL, htmlPath, remote string) (dom.Document, func(), error) {
	if htmlPath != "" {
		f, err := os.Open(htmlPath)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		doc, err := htmldoc.Parse(f, htmldoc.WithURL("file://"+htmlPath))
		if err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", htmlPath, err)
		}
		return doc, func() {}, nil
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        remote,
		Stealth:          browser.ModeHeadless,
		ResourceBlocking: []string{"images", "fonts", "media"},
		Logger:           logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("browser start: %w", err)
	}
	page, err := browser.OpenPage(ctx, mgr, pageURL)
	if err != nil {
		mgr.Close()
		return nil, nil, fmt.Errorf("open page: %w", err)
	}
	cleanup := func() {
		page.Close()
		mgr.Close()
	}
	return page, cleanup, nil
}
