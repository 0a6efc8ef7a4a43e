// Command testflowd exposes element picking and selection replay as a
// service: an HTTP JSON API with an SSE event stream, plus the same
// operations as MCP tools for agent callers.
//
// Usage:
//
//	testflowd -config testflow.yaml
//	testflowd -addr :8097 -db db/testflowd.db
//
// One picking session is active at a time. POST /picker/enable opens
// the target page and starts the session; previews and selections
// stream on GET /events; POST /replay/resolve re-resolves a recorded
// selection against the open page or a supplied HTML snapshot.
// Mutating routes require basic auth when auth_hash is configured.
package main

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/xASHx26/testflow-sub001/browser"
	"github.com/xASHx26/testflow-sub001/connectivity"
	"github.com/xASHx26/testflow-sub001/dbopen"
	"github.com/xASHx26/testflow-sub001/descriptor"
	"github.com/xASHx26/testflow-sub001/dom/htmldoc"
	"github.com/xASHx26/testflow-sub001/flowsafe"
	"github.com/xASHx26/testflow-sub001/idgen"
	"github.com/xASHx26/testflow-sub001/observability"
	"github.com/xASHx26/testflow-sub001/picker"
	"github.com/xASHx26/testflow-sub001/picker/event"
	"github.com/xASHx26/testflow-sub001/replay"
	"github.com/xASHx26/testflow-sub001/shield"
	"github.com/xASHx26/testflow-sub001/watch"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	dbPath := flag.String("db", "db/testflowd.db", "SQLite database for routes, events and metrics")
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
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *addr, *dbPath); err != nil {
		logger.Error("testflowd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, addr, dbPath string) error {
	cfg := &picker.Config{}
	if configPath != "" {
		loaded, err := picker.LoadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg.Browser.Stealth = "headless"
		cfg.Browser.NavTimeout = 30 * time.Second
		cfg.Server.Addr = ":8097"
		cfg.Server.MCPAddr = ":8098"
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	for _, init := range []func(*sql.DB) error{observability.Init, shield.Init, connectivity.Init} {
		if err := init(db); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	metrics := observability.NewMetricsManager(db, 256, 5*time.Second)
	defer metrics.Close()
	events := observability.NewEventLogger(db)
	auditLog := observability.NewAuditLogger(db, 128)
	defer auditLog.Close()

	hb := observability.NewHeartbeatWriter(db, "testflowd", 30*time.Second)
	hb.Start(ctx)
	defer hb.Stop()

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

	svc := &pickerService{
		mgr:     mgr,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		events:  events,
		audit:   auditLog,
		hub:     newSSEHub(),
	}
	defer svc.shutdown()

	// Connectivity router: the picker and replay operations double as
	// local services, so in-process callers and the route table reach
	// them without going through HTTP.
	rt := connectivity.New(connectivity.WithLogger(logger))
	rt.RegisterTransport("http", connectivity.HTTPFactory())
	rt.RegisterTransport("mcp", connectivity.MCPFactory())
	rt.RegisterLocal("testflow.picker", svc.handlePickerCall)
	rt.RegisterLocal("testflow.replay", svc.handleReplayCall)
	go rt.Watch(ctx, db, 15*time.Second)
	defer rt.Close()

	// MCP server on its own listener.
	mcpSrv := mcp.NewServer(&mcp.Implementation{
		Name:    "testflow",
		Version: "1.0.0",
	}, nil)
	registerMCPTools(mcpSrv, svc)
	mcpHTTP := &http.Server{
		Addr: cfg.Server.MCPAddr,
		Handler: mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return mcpSrv
		}, nil),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("testflowd: mcp listening", "addr", cfg.Server.MCPAddr)
		if err := mcpHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("testflowd: mcp server", "error", err)
		}
	}()

	// Tail the event store: one summary line whenever something wrote.
	tail := watch.New(db, watch.Options{Interval: 30 * time.Second, Logger: logger})
	go tail.OnChange(ctx, func() error {
		var businessEvents, auditEntries int64
		db.QueryRowContext(ctx, `SELECT COUNT(*) FROM business_event_logs`).Scan(&businessEvents)
		db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&auditEntries)
		logger.Info("testflowd: store activity",
			"business_events", businessEvents,
			"audit_entries", auditEntries,
			"version", tail.Version())
		return nil
	})

	r := chi.NewRouter()
	stack, mm := shield.DefaultStack(db)
	for _, mw := range stack {
		r.Use(mw)
	}
	mm.StartReloader(ctx.Done())

	if cfg.Server.AuthHash == "" {
		logger.Warn("testflowd: auth_hash not set, mutating routes are unauthenticated")
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})
	r.Get("/events", svc.handleSSE)
	r.Get("/picker/state", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, svc.sessionInfo())
	})
	r.Get("/picker/element", func(w http.ResponseWriter, r *http.Request) {
		x, errX := strconv.ParseFloat(r.URL.Query().Get("x"), 64)
		y, errY := strconv.ParseFloat(r.URL.Query().Get("y"), 64)
		if errX != nil || errY != nil {
			writeError(w, 400, errors.New("x and y query parameters are required"))
			return
		}
		d, err := svc.elementAt(r.Context(), x, y)
		if err != nil {
			writeError(w, 409, err)
			return
		}
		writeJSON(w, 200, d)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireAuth(cfg.Server.AuthUser, cfg.Server.AuthHash))

		r.Post("/picker/enable", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				URL       string `json:"url"`
				SessionID string `json:"session_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			info, err := svc.enable(r.Context(), req.URL, req.SessionID)
			if err != nil {
				writeError(w, 422, err)
				return
			}
			writeJSON(w, 200, info)
		})

		r.Post("/picker/disable", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, 200, svc.disable(r.Context()))
		})

		r.Post("/replay/resolve", func(w http.ResponseWriter, r *http.Request) {
			var req replayRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			res, err := svc.resolve(r.Context(), req)
			if err != nil {
				writeError(w, 422, err)
				return
			}
			writeJSON(w, 200, res)
		})

		// Route table admin: where remote testflow.* services live.
		admin := connectivity.NewAdmin(db)
		r.Route("/api/admin/routes", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				rows, err := admin.ListRoutes(r.Context())
				if err != nil {
					writeError(w, 500, err)
					return
				}
				writeJSON(w, 200, rows)
			})
			r.Put("/", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					Service  string          `json:"service"`
					Strategy string          `json:"strategy"`
					Endpoint string          `json:"endpoint"`
					Config   json.RawMessage `json:"config"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					writeError(w, 400, err)
					return
				}
				if err := flowsafe.ValidateIdentifier(req.Service); err != nil {
					writeError(w, 400, err)
					return
				}
				if req.Endpoint != "" {
					if err := flowsafe.ValidateURL(req.Endpoint); err != nil {
						writeError(w, 400, err)
						return
					}
				}
				if err := admin.UpsertRoute(r.Context(), req.Service, req.Strategy, req.Endpoint, req.Config); err != nil {
					writeError(w, 422, err)
					return
				}
				writeJSON(w, 200, map[string]string{"status": "ok"})
			})
			r.Delete("/{service}", func(w http.ResponseWriter, r *http.Request) {
				if err := admin.DeleteRoute(r.Context(), chi.URLParam(r, "service")); err != nil {
					writeError(w, 422, err)
					return
				}
				writeJSON(w, 200, map[string]string{"status": "ok"})
			})
		})

		r.Post("/api/admin/maintenance", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Active  bool   `json:"active"`
				Message string `json:"message"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			if err := setMaintenance(r.Context(), db, req.Active, req.Message); err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]bool{"active": req.Active})
		})
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // SSE connections stay open
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("testflowd: listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("testflowd: server", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("testflowd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("testflowd: shutdown", "error", err)
	}
	if err := mcpHTTP.Shutdown(shutdownCtx); err != nil {
		logger.Error("testflowd: mcp shutdown", "error", err)
	}
	return nil
}

// --- picking service ---

// pickerService owns the single active picking session: the open page,
// its engine, and the input pump feeding captured events into it.
type pickerService struct {
	mgr     *browser.Manager
	cfg     *picker.Config
	logger  *slog.Logger
	metrics *observability.MetricsManager
	events  *observability.EventLogger
	audit   *observability.AuditLogger
	hub     *sseHub

	mu       sync.Mutex
	page     *browser.Page
	eng      *picker.Engine
	pageURL  string
	pumpStop context.CancelFunc
}

// sessionInfo is the state payload shared by the HTTP, MCP and local
// transports.
type sessionInfo struct {
	State     string                 `json:"state"`
	SessionID string                 `json:"session_id,omitempty"`
	URL       string                 `json:"url,omitempty"`
	Locked    *descriptor.Descriptor `json:"locked,omitempty"`
}

type replayRequest struct {
	Selection event.Selection `json:"selection"`
	// HTML resolves against a snapshot instead of the open page.
	HTML string `json:"html,omitempty"`
}

func (s *pickerService) enable(ctx context.Context, pageURL, sessionID string) (sessionInfo, error) {
	if pageURL == "" {
		return sessionInfo{}, errors.New("url is required")
	}
	if sessionID != "" {
		if err := flowsafe.ValidateIdentifier(sessionID); err != nil {
			return sessionInfo{}, err
		}
	} else {
		sessionID = idgen.Prefixed("sess_", idgen.UUIDv7())()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotent when the session is already on the requested page.
	if s.eng != nil && s.pageURL == pageURL && s.eng.State() != picker.StateDisabled {
		return s.sessionInfoLocked(), nil
	}
	s.teardownLocked(ctx)

	// Target URLs are operator input, not forwarded data: private
	// addresses stay reachable because local dev servers are the
	// common picking target.
	start := time.Now()
	page, err := browser.OpenPage(ctx, s.mgr, pageURL)
	if err != nil {
		return sessionInfo{}, fmt.Errorf("open page: %w", err)
	}

	eng := picker.New(page, picker.Options{
		Sink:        s.buildSink(),
		Highlighter: page,
		Logger:      s.logger,
		SessionID:   sessionID,
	})
	if err := eng.Enable(ctx); err != nil {
		page.Close()
		return sessionInfo{}, err
	}
	if err := page.SetCapturing(ctx, true); err != nil {
		eng.Disable(ctx)
		page.Close()
		return sessionInfo{}, err
	}

	s.page = page
	s.eng = eng
	s.pageURL = pageURL

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.pumpStop = cancel
	go s.pump(pumpCtx, page, eng)

	s.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   "session",
		ServiceName: "testflowd",
		EntityType:  "picker_session",
		EntityID:    eng.SessionID(),
		Action:      "enable",
		Success:     true,
	})
	s.audit.LogAsync(s.audit.NewAuditEntry("picker", "session_start",
		map[string]string{"url": pageURL}, nil, nil, time.Since(start)))

	s.logger.Info("testflowd: picker enabled", "url", pageURL, "session", eng.SessionID())
	return s.sessionInfoLocked(), nil
}

func (s *pickerService) disable(ctx context.Context) sessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.eng == nil {
		return sessionInfo{State: string(picker.StateDisabled)}
	}
	sess := s.eng.SessionID()
	if s.pumpStop != nil {
		s.pumpStop()
		s.pumpStop = nil
	}
	s.eng.Disable(ctx)
	if s.page != nil {
		s.page.SetCapturing(ctx, false)
	}

	s.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   "session",
		ServiceName: "testflowd",
		EntityType:  "picker_session",
		EntityID:    sess,
		Action:      "disable",
		Success:     true,
	})
	s.audit.LogAsync(s.audit.NewAuditEntry("picker", "session_stop", nil, nil, nil, 0))

	// The page stays open so element probes keep answering.
	s.logger.Info("testflowd: picker disabled", "session", sess)
	return s.sessionInfoLocked()
}

func (s *pickerService) elementAt(ctx context.Context, x, y float64) (descriptor.Descriptor, error) {
	s.mu.Lock()
	eng := s.eng
	s.mu.Unlock()
	if eng == nil {
		return descriptor.Descriptor{}, errors.New("no page open, enable the picker first")
	}
	return eng.ElementAt(ctx, x, y)
}

func (s *pickerService) resolve(ctx context.Context, req replayRequest) (replay.Result, error) {
	if req.Selection.EventID == "" {
		return replay.Result{}, errors.New("selection is required")
	}
	start := time.Now()

	var res replay.Result
	if req.HTML != "" {
		doc, err := htmldoc.ParseString(req.HTML)
		if err != nil {
			return replay.Result{}, fmt.Errorf("parse html: %w", err)
		}
		res = replay.Resolve(ctx, doc, req.Selection)
	} else {
		s.mu.Lock()
		page := s.page
		s.mu.Unlock()
		if page == nil {
			return replay.Result{}, errors.New("no page open and no html supplied")
		}
		res = replay.Resolve(ctx, page, req.Selection)
	}

	dur := time.Since(start)
	s.metrics.RecordSimple(observability.MetricResolveDurationMs,
		float64(dur.Milliseconds()), "milliseconds")
	s.audit.LogAsync(s.audit.NewAuditEntry("replay", "replay_run",
		map[string]string{"event_id": req.Selection.EventID}, res.Matched, nil, dur))
	return res, nil
}

func (s *pickerService) sessionInfo() sessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionInfoLocked()
}

func (s *pickerService) sessionInfoLocked() sessionInfo {
	if s.eng == nil {
		return sessionInfo{State: string(picker.StateDisabled)}
	}
	info := sessionInfo{
		State:     string(s.eng.State()),
		SessionID: s.eng.SessionID(),
		URL:       s.pageURL,
	}
	if d, ok := s.eng.Locked(); ok {
		info.Locked = &d
	}
	return info
}

// pump feeds captured page input into the engine until the session is
// torn down or the engine goes Disabled (Escape from Hovering, or a
// navigation reset).
func (s *pickerService) pump(ctx context.Context, page *browser.Page, eng *picker.Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-page.Events():
			if !ok {
				return
			}
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
			if errors.Is(err, picker.ErrNotEnabled) || eng.State() == picker.StateDisabled {
				page.SetCapturing(ctx, false)
				s.logger.Info("testflowd: session ended", "session", eng.SessionID())
				return
			}
			if err != nil {
				s.logger.Warn("testflowd: input dispatch", "kind", ev.Kind, "error", err)
			}
		}
	}
}

// buildSink returns the session sink: the SSE hub plus telemetry, and
// any webhook sinks from configuration.
func (s *pickerService) buildSink() picker.Sink {
	sinks := []picker.Sink{picker.NewCallbackSink(s.onPreview, s.onSelection)}
	for _, sc := range s.cfg.Sinks {
		if sc.Type != "webhook" {
			continue
		}
		if err := flowsafe.ValidateURL(sc.URL); err != nil {
			s.logger.Warn("testflowd: webhook sink rejected", "url", sc.URL, "error", err)
			continue
		}
		sinks = append(sinks, picker.NewWebhookSink(sc.URL, s.logger))
	}
	return picker.NewRouterSink(s.logger, sinks...)
}

func (s *pickerService) onPreview(ctx context.Context, p event.Preview) error {
	s.hub.publish(envelope("preview", p))
	return nil
}

func (s *pickerService) onSelection(ctx context.Context, sel event.Selection) error {
	s.hub.publish(envelope("selection", sel))
	s.metrics.RecordSimple(observability.MetricSelectionCount, 1, "count")
	s.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   "selection",
		ServiceName: "testflowd",
		EntityType:  "element",
		EntityID:    sel.EventID,
		Action:      "selected",
		Success:     true,
	})
	return nil
}

// teardownLocked closes the current page and engine. Caller holds mu.
func (s *pickerService) teardownLocked(ctx context.Context) {
	if s.pumpStop != nil {
		s.pumpStop()
		s.pumpStop = nil
	}
	if s.eng != nil {
		s.eng.Disable(ctx)
		s.eng = nil
	}
	if s.page != nil {
		s.page.Close()
		s.page = nil
	}
	s.pageURL = ""
}

func (s *pickerService) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked(context.Background())
}

// --- connectivity local handlers ---

// handlePickerCall serves "testflow.picker" on the connectivity router.
func (s *pickerService) handlePickerCall(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		Op        string  `json:"op"`
		URL       string  `json:"url,omitempty"`
		SessionID string  `json:"session_id,omitempty"`
		X         float64 `json:"x,omitempty"`
		Y         float64 `json:"y,omitempty"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	switch req.Op {
	case "enable":
		info, err := s.enable(ctx, req.URL, req.SessionID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(info)
	case "disable":
		return json.Marshal(s.disable(ctx))
	case "state":
		return json.Marshal(s.sessionInfo())
	case "element_at":
		d, err := s.elementAt(ctx, req.X, req.Y)
		if err != nil {
			return nil, err
		}
		return json.Marshal(d)
	default:
		return nil, fmt.Errorf("unknown op %q", req.Op)
	}
}

// handleReplayCall serves "testflow.replay" on the connectivity router.
func (s *pickerService) handleReplayCall(ctx context.Context, payload []byte) ([]byte, error) {
	var req replayRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	res, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

// --- SSE ---

// sseHub fans published event envelopes out to connected subscribers.
// Slow subscribers shed: publish never blocks.
type sseHub struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func newSSEHub() *sseHub {
	return &sseHub{subs: make(map[chan []byte]struct{})}
}

func (h *sseHub) subscribe() chan []byte {
	ch := make(chan []byte, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *sseHub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

func (h *sseHub) publish(b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- b:
		default:
		}
	}
}

func envelope(kind string, data any) []byte {
	b, err := json.Marshal(struct {
		Type string `json:"type"`
		Data any    `json:"data"`
	}{kind, data})
	if err != nil {
		return nil
	}
	return b
}

func (s *pickerService) handleSSE(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	fl.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case b := <-ch:
			if b == nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", b)
			fl.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			fl.Flush()
		}
	}
}

// --- helpers ---

// requireAuth enforces basic auth against the configured bcrypt hash.
// An empty hash disables enforcement.
func requireAuth(user, hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hash == "" {
				next.ServeHTTP(w, r)
				return
			}
			u, p, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="testflowd"`)
				writeJSON(w, 401, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setMaintenance(ctx context.Context, db *sql.DB, active bool, message string) error {
	a := 0
	if active {
		a = 1
	}
	if message != "" {
		_, err := db.ExecContext(ctx,
			`UPDATE maintenance SET active = ?, message = ? WHERE id = 1`, a, message)
		return err
	}
	_, err := db.ExecContext(ctx, `UPDATE maintenance SET active = ? WHERE id = 1`, a)
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
