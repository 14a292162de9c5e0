package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"labstream/internal/config"
	"labstream/internal/label"
	"labstream/internal/logger"
	"labstream/internal/registry"
	"labstream/internal/render"
	"labstream/internal/session"
	"labstream/internal/state"
	"labstream/internal/station"
	"labstream/internal/stream"
	"labstream/internal/termview"
	"labstream/internal/web"
)

// pipeline is everything one watch or replay run wires together.
type pipeline struct {
	cfg        *config.Config
	store      *state.Store
	hub        *web.Hub
	labels     *label.Client
	controller *session.Controller
	station    *station.Monitor
	dashboard  *web.DashboardServer
}

func buildPipeline(cfg *config.Config, withDashboard bool) (*pipeline, error) {
	p := &pipeline{cfg: cfg, store: state.NewStore(cfg.StatusFilePath())}

	var sink render.Sink
	if withDashboard {
		p.hub = web.NewHub()
		sink = p.hub
	}
	dispatch := buildDispatch(cfg, sink)

	var labels registry.LabelRequester
	if cfg.LabelsEnabled() {
		p.labels = label.New(label.Options{
			URL:     cfg.Label.URL,
			QPS:     cfg.Label.QPS,
			Burst:   cfg.Label.Burst,
			Timeout: cfg.LabelTimeout(),
		})
		labels = p.labels
	}

	p.controller = session.NewController(session.Options{
		Dispatch: dispatch,
		Labels:   labels,
		Status:   p.store,
	})

	if withDashboard {
		opts := web.Options{
			Addr:   cfg.Dashboard.Addr,
			Cfg:    cfg,
			Store:  p.store,
			Source: p.controller,
			Hub:    p.hub,
		}
		if cfg.Station.URL != "" {
			p.station = station.NewMonitor(station.New(cfg.Station.URL, nil), cfg.StationRefresh())
			opts.Station = p.station
		}
		server, err := web.New(opts)
		if err != nil {
			return nil, fmt.Errorf("initialize dashboard: %w", err)
		}
		p.dashboard = server
	}
	return p, nil
}

// buildDispatch extends the built-in renderer table with the config lists.
func buildDispatch(cfg *config.Config, sink render.Sink) *render.Dispatch {
	dispatch := render.NewDispatch(sink)
	for _, name := range cfg.Render.Progress {
		dispatch.Register(name, render.KindProgress)
	}
	for _, name := range cfg.Render.TextLog {
		dispatch.Register(name, render.KindTextLog)
	}
	return dispatch
}

// buildSource opens the transport selected by stream.type.
func buildSource(cfg *config.Config) (stream.Source, error) {
	switch cfg.Stream.Type {
	case config.StreamRedis:
		return stream.NewRedis(cfg.RedisOptions()), nil
	case config.StreamFile:
		return stream.OpenFile(cfg.ResolvePath(cfg.Stream.File.Path), cfg.ReplayInterval())
	case config.StreamPoll:
		return stream.NewPoll(cfg.Stream.URL, stream.PollOptions{
			Headers:  cfg.Stream.Headers,
			Interval: cfg.PollInterval(),
		}), nil
	default:
		return stream.NewSSE(cfg.Stream.URL, stream.SSEOptions{Headers: cfg.Stream.Headers}), nil
	}
}

// startDashboard serves the dashboard and, when configured, keeps the
// station panels fresh until ctx is done.
func (p *pipeline) startDashboard(ctx context.Context) {
	if p.dashboard == nil {
		return
	}
	if p.station != nil {
		go p.station.Run(ctx)
	}
	addr := p.cfg.Dashboard.Addr
	go func() {
		logger.Console("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n📺 Dashboard ready\n   🔊 Listen : %s\n   🌐 Visit : %s\n   ⌨️ Hint  : press Ctrl+C to stop\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━", addr, formatDashboardURL(addr))
		if err := p.dashboard.Start(nil); err != nil {
			if strings.Contains(err.Error(), "address already in use") {
				logger.Error("dashboard failed: port %s already in use, change dashboard.addr or pass --dashboard-addr", addr)
			} else {
				logger.Warn("dashboard stopped: %v", err)
			}
		}
	}()
}

func (p *pipeline) close() {
	if p.dashboard != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.dashboard.Shutdown(ctx); err != nil {
			logger.Warn("dashboard shutdown: %v", err)
		}
	}
	if p.labels != nil {
		p.labels.Close()
	}
	p.controller.Flush()
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Console("\n📡 Signal %v received, shutting down...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func runWatch(args []string) int {
	fs := newFlagSet("watch")
	var (
		configPath    string
		dashboardAddr string
		taskName      string
		noDashboard   bool
		width         int
	)
	fs.StringVarP(&configPath, "config", "c", "", "Configuration file path (YAML)")
	fs.StringVar(&dashboardAddr, "dashboard-addr", "", "Dashboard listen address (overrides dashboard.addr)")
	fs.StringVar(&taskName, "task-name", "", "Task name used for log file names (overrides taskName)")
	fs.BoolVar(&noDashboard, "no-dashboard", false, "Do not start the dashboard")
	fs.IntVar(&width, "width", termview.DefaultWidth, "Width of the final terminal summary")

	if err := parseFlags(fs, args); err != nil {
		return errorToExitCode(err)
	}
	if configPath == "" {
		log.Println("The --config flag is required")
		fs.Usage()
		return 2
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return errorToExitCode(err)
	}
	if taskName != "" {
		cfg.TaskName = taskName
	}
	if dashboardAddr != "" {
		cfg.Dashboard.Addr = dashboardAddr
	}
	withDashboard := !noDashboard && cfg.Dashboard.Addr != ""

	if err := cfg.EnsureStateDir(); err != nil {
		log.Printf("Failed to create state directory: %v", err)
		return 1
	}
	if err := initLogger(cfg, "watch"); err != nil {
		log.Printf("Failed to initialize logging: %v", err)
		return 1
	}
	defer logger.Close()

	logger.Console("🚀 labstream watch starting")
	logger.Console("✅ Config loaded:\n%s", cfg.PrettySummary())
	logger.Console("📂 Log file: %s", logger.GetLogFilePath())

	p, err := buildPipeline(cfg, withDashboard)
	if err != nil {
		logger.Error("❌ %v", err)
		return 1
	}
	defer p.close()
	if err := p.store.SetStatus(state.StatusUnbound, "", "waiting for the first message"); err != nil {
		logger.Warn("failed to write status: %v", err)
	}

	src, err := buildSource(cfg)
	if err != nil {
		logger.Error("❌ Failed to open stream: %v", err)
		return 1
	}
	defer src.Close()

	ctx, stop := signalContext()
	defer stop()
	p.startDashboard(ctx)

	runErr := p.controller.Run(ctx, src)
	code := 0
	switch {
	case runErr == nil, errors.Is(runErr, context.Canceled):
	case errors.Is(runErr, session.ErrStreamClosed):
		code = 1
		if p.dashboard != nil {
			logger.Console("⏸️ Stream ended; dashboard keeps the last views until Ctrl+C")
			<-ctx.Done()
		}
	default:
		logger.Error("❌ Watch failed: %v", runErr)
		code = 1
	}

	fmt.Println(termview.New(termview.DefaultTheme, width).Render(p.controller.Snapshot()))
	return code
}

func runReplay(args []string) int {
	fs := newFlagSet("replay")
	var (
		configPath    string
		dashboardAddr string
		interval      time.Duration
		width         int
	)
	fs.StringVarP(&configPath, "config", "c", "", "Configuration file path (YAML), optional")
	fs.StringVar(&dashboardAddr, "dashboard-addr", "", "Serve the dashboard while replaying")
	fs.DurationVar(&interval, "interval", 0, "Pause between messages (overrides stream.file.intervalMs)")
	fs.IntVar(&width, "width", termview.DefaultWidth, "Width of the terminal summary")

	if err := parseFlags(fs, args); err != nil {
		return errorToExitCode(err)
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return errorToExitCode(err)
		}
		cfg = loaded
	}
	path := cfg.ResolvePath(cfg.Stream.File.Path)
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if path == "" {
		log.Println("A recording path is required: replay <file> or stream.file.path")
		return 2
	}
	if !fs.Changed("interval") {
		interval = cfg.ReplayInterval()
	}
	if dashboardAddr != "" {
		cfg.Dashboard.Addr = dashboardAddr
	}

	if err := cfg.EnsureStateDir(); err != nil {
		log.Printf("Failed to create state directory: %v", err)
		return 1
	}
	if err := initLogger(cfg, "replay"); err != nil {
		log.Printf("Failed to initialize logging: %v", err)
		return 1
	}
	defer logger.Close()

	p, err := buildPipeline(cfg, dashboardAddr != "")
	if err != nil {
		logger.Error("❌ %v", err)
		return 1
	}
	defer p.close()

	src, err := stream.OpenFile(path, interval)
	if err != nil {
		logger.Error("❌ Failed to open recording: %v", err)
		return 1
	}
	defer src.Close()

	ctx, stop := signalContext()
	defer stop()
	p.startDashboard(ctx)

	logger.Console("▶️ Replaying %s", path)
	runErr := p.controller.Run(ctx, src)
	code := 0
	switch {
	case errors.Is(runErr, context.Canceled):
	case errors.Is(runErr, session.ErrStreamClosed):
		if !isCleanEOF(runErr) {
			logger.Error("❌ Replay stopped: %v", runErr)
			code = 1
		}
	case runErr != nil:
		logger.Error("❌ Replay failed: %v", runErr)
		code = 1
	}

	snap := p.controller.Snapshot()
	fmt.Println(termview.New(termview.DefaultTheme, width).Render(snap))
	logger.Console("✅ Replay finished: %d accepted, %d rejected, %d switches",
		snap.Stats.Accepted, snap.Stats.Rejected, snap.Stats.Switches)
	return code
}

// isCleanEOF reports whether the stream simply ran out of messages.
func isCleanEOF(err error) bool {
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		return false
	}
	for _, cause := range joined.Unwrap() {
		if cause == stream.ErrClosed {
			return true
		}
	}
	return false
}
