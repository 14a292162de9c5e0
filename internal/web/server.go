package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"labstream/internal/config"
	"labstream/internal/logger"
	"labstream/internal/session"
	"labstream/internal/state"
	"labstream/internal/station"
)

//go:embed templates/*.html
var templateFS embed.FS

// keepAliveInterval spaces comment frames on idle event streams.
const keepAliveInterval = 15 * time.Second

// SessionSource exposes the live controller state. *session.Controller
// satisfies it.
type SessionSource interface {
	Snapshot() session.Snapshot
}

// StationSource exposes the station overview and run tables.
// *station.Monitor satisfies it.
type StationSource interface {
	Snapshot() station.Snapshot
}

// DashboardServer exposes a web UI for the live experiment.
type DashboardServer struct {
	addr       string
	cfg        *config.Config
	store      *state.Store
	source     SessionSource
	station    StationSource
	hub        *Hub
	tmpl       *template.Template
	snapshotMu sync.RWMutex
	snapshot   state.Snapshot

	mu     sync.Mutex
	server *http.Server
	stop   chan struct{}
}

// Options configure the dashboard server.
type Options struct {
	Addr   string
	Cfg    *config.Config
	Store  *state.Store
	Source SessionSource
	// Station is optional; without it the station panels are hidden.
	Station StationSource
	Hub     *Hub
}

// New creates a dashboard server.
func New(opts Options) (*DashboardServer, error) {
	tmpl, err := loadTemplates()
	if err != nil {
		return nil, err
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewHub()
	}
	return &DashboardServer{
		addr:   opts.Addr,
		cfg:    opts.Cfg,
		store:  opts.Store,
		source:  opts.Source,
		station: opts.Station,
		hub:     hub,
		tmpl:    tmpl,
		stop:    make(chan struct{}),
	}, nil
}

// Handler returns the dashboard routes. Everything except the event stream
// is gzip-compressed on demand.
func (s *DashboardServer) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/", s.handleIndex)
	api.HandleFunc("/api/session", s.handleSession)
	api.HandleFunc("/api/status", s.handleStatus)
	api.HandleFunc("/api/logs", s.handleLogs)
	api.HandleFunc("/api/station", s.handleStation)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.Handle("/", gzhttp.GzipHandler(api))
	return mux
}

// Start runs HTTP server. Blocks until server stops.
// When ready is not nil it will receive the actual listen address once the port is bound.
func (s *DashboardServer) Start(ready chan<- string) error {
	if s.addr == "" {
		s.addr = ":8080"
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	actualAddr := ln.Addr().String()
	s.addr = actualAddr

	server := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	if s.store != nil {
		go s.refreshLoop()
	}
	if ready != nil {
		ready <- actualAddr
	}
	logger.Info("[dashboard] serving at http://%s", actualAddr)
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server and the refresh loop.
func (s *DashboardServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *DashboardServer) refreshLoop() {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		if snap, err := s.store.Load(); err == nil {
			s.snapshotMu.Lock()
			s.snapshot = snap
			s.snapshotMu.Unlock()
		}
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

func (s *DashboardServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	ctx := map[string]interface{}{
		"GeneratedAt": time.Now().Format(time.RFC3339),
		"Session":     s.sessionSnapshot(),
		"Status":      s.currentSnapshot(),
	}
	if s.station != nil {
		ctx["Station"] = s.station.Snapshot()
	}
	if s.cfg != nil {
		ctx["TaskName"] = s.cfg.TaskName
		ctx["StreamType"] = s.cfg.Stream.Type
		ctx["StatusFile"] = s.cfg.StatusFile
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "layout.html", ctx); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *DashboardServer) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sessionSnapshot())
}

func (s *DashboardServer) handleStation(w http.ResponseWriter, r *http.Request) {
	if s.station == nil {
		http.Error(w, "station not configured", http.StatusNotFound)
		return
	}
	writeJSON(w, s.station.Snapshot())
}

func (s *DashboardServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "status store not configured", http.StatusNotFound)
		return
	}
	snap, err := s.store.Load()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, snap)
}

// handleEvents streams view updates as server-sent events. A new client
// first receives every current view.
func (s *DashboardServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	sub, cancel := s.hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := s.writeViews(w); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.stop:
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case ev := <-sub.Events:
			if err := writeEvent(w, ev); err != nil {
				return
			}
		case <-sub.Resync:
			sub.Drain()
			if err := writeEvent(w, Event{Type: "reset"}); err != nil {
				return
			}
			if err := s.writeViews(w); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

// writeViews sends every current view as a view event.
func (s *DashboardServer) writeViews(w http.ResponseWriter) error {
	for _, view := range s.sessionSnapshot().Views {
		view := view
		if err := writeEvent(w, Event{Type: "view", ID: view.ID, View: &view}); err != nil {
			return err
		}
	}
	return nil
}

func writeEvent(w http.ResponseWriter, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

func (s *DashboardServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	lines := 100
	if parsed, err := strconv.Atoi(r.URL.Query().Get("lines")); err == nil && parsed > 0 {
		lines = parsed
	}
	offset := 0
	if parsed, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && parsed >= 0 {
		offset = parsed
	}

	content, err := readLogFile(logger.GetLogFilePath(), offset, lines)
	if err != nil {
		writeJSON(w, map[string]interface{}{
			"error":  fmt.Sprintf("read log failed: %v", err),
			"lines":  []string{},
			"total":  0,
			"offset": offset,
		})
		return
	}
	writeJSON(w, map[string]interface{}{
		"lines":  content.Lines,
		"total":  content.TotalLines,
		"offset": offset,
		"count":  len(content.Lines),
	})
}

func (s *DashboardServer) sessionSnapshot() session.Snapshot {
	if s.source == nil {
		return session.Snapshot{Status: state.StatusUnbound}
	}
	return s.source.Snapshot()
}

func (s *DashboardServer) currentSnapshot() state.Snapshot {
	s.snapshotMu.RLock()
	snap := s.snapshot
	s.snapshotMu.RUnlock()
	if snap.UpdatedAt.IsZero() && s.store != nil {
		if loaded, err := s.store.Load(); err == nil {
			return loaded
		}
	}
	return snap
}

func loadTemplates() (*template.Template, error) {
	return template.New("dashboard").Funcs(template.FuncMap{
		"lastValue": lastValue,
	}).ParseFS(templateFS, "templates/*.html")
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type logContent struct {
	Lines      []string
	TotalLines int
}

func readLogFile(path string, offset, count int) (*logContent, error) {
	if path == "" {
		return &logContent{Lines: []string{}}, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return &logContent{Lines: []string{}}, nil
		}
		return nil, err
	}

	allLines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(allLines) == 1 && allLines[0] == "" {
		allLines = []string{}
	}
	total := len(allLines)

	start := offset
	if start > total {
		start = total
	}
	end := start + count
	if end > total {
		end = total
	}
	lines := []string{}
	if start < end {
		lines = allLines[start:end]
	}
	return &logContent{Lines: lines, TotalLines: total}, nil
}
