package cli

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"labstream/internal/config"
	"labstream/internal/logger"
	"labstream/internal/state"
)

// Version is reported by the version subcommand.
const Version = "0.3.0"

// Execute dispatches CLI subcommands.
func Execute(args []string) int {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("[labstream] ")

	// Keep running after the controlling terminal goes away, and let writes
	// to a closed stdout fail with EPIPE instead of killing the process.
	signal.Ignore(syscall.SIGHUP)
	signal.Ignore(syscall.SIGPIPE)

	if len(args) == 0 {
		printUsage()
		return 1
	}

	switch args[0] {
	case "watch":
		return runWatch(args[1:])
	case "replay":
		return runReplay(args[1:])
	case "publish":
		return runPublish(args[1:])
	case "status":
		return runStatus(args[1:])
	case "validate":
		return runValidate(args[1:])

	case "help", "-h", "--help":
		printUsage()
		return 0
	case "version", "--version", "-v":
		fmt.Printf("labstream %s\n", Version)
		return 0
	default:
		log.Printf("Unknown subcommand: %s", args[0])
		printUsage()
		return 1
	}
}

// errUsage marks argument errors that map to exit code 2.
var errUsage = errors.New("usage error")

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	fs.SortFlags = false
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage of %s:\n", name)
		fs.PrintDefaults()
	}
	return fs
}

func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return pflag.ErrHelp
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

func loadConfigFromArgs(cmd string, args []string) (*config.Config, error) {
	fs := newFlagSet(cmd)
	var configPath string
	fs.StringVarP(&configPath, "config", "c", "", "Configuration file path (YAML)")

	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	if configPath == "" {
		fs.Usage()
		return nil, fmt.Errorf("%w: the --config flag is required", errUsage)
	}
	return config.Load(configPath)
}

func errorToExitCode(err error) int {
	var verr *config.ValidationError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, pflag.ErrHelp):
		return 0
	case errors.Is(err, errUsage), errors.As(err, &verr):
		log.Printf("%v", err)
		return 2
	default:
		log.Printf("Command execution failed: %v", err)
		return 1
	}
}

func runValidate(args []string) int {
	cfg, err := loadConfigFromArgs("validate", args)
	if err != nil {
		return errorToExitCode(err)
	}
	if err := cfg.EnsureStateDir(); err != nil {
		log.Printf("Failed to create state directory: %v", err)
		return 1
	}
	log.Printf("✅ Config is valid:\n%s", cfg.PrettySummary())
	return 0
}

func runStatus(args []string) int {
	cfg, err := loadConfigFromArgs("status", args)
	if err != nil {
		return errorToExitCode(err)
	}
	store := state.NewStore(cfg.StatusFilePath())
	snap, err := store.Load()
	if err != nil {
		log.Printf("Failed to read status file: %v", err)
		return 1
	}
	log.Printf("📊 status=%s experiment=%s updatedAt=%s",
		snap.Status, defaultString(snap.Experiment, "-"), snap.UpdatedAt.Format(time.RFC3339))
	if len(snap.Metrics) > 0 {
		log.Println("metrics:")
		names := make([]string, 0, len(snap.Metrics))
		for k := range snap.Metrics {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			log.Printf("  📈 %s=%.0f", k, snap.Metrics[k])
		}
	}
	if len(snap.Events) > 0 {
		log.Println("events:")
		for _, ev := range snap.Events {
			log.Printf("  🗒️ [%s] %s - %s", ev.Timestamp.Format(time.RFC3339), ev.Type, ev.Message)
		}
	}
	return 0
}

func formatDashboardURL(addr string) string {
	if addr == "" {
		return ""
	}
	clean := addr
	if strings.HasPrefix(clean, "http://") || strings.HasPrefix(clean, "https://") {
		return clean
	}
	if strings.HasPrefix(clean, ":") {
		port := strings.TrimPrefix(clean, ":")
		return fmt.Sprintf("http://127.0.0.1:%s (or http://<server-ip>:%s)", port, port)
	}
	host, port, err := net.SplitHostPort(clean)
	if err != nil {
		return "http://" + clean
	}
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		return fmt.Sprintf("http://<server-ip>:%s (listening on %s:%s)", port, host, port)
	default:
		return fmt.Sprintf("http://%s:%s", host, port)
	}
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func printUsage() {
	binary := filepath.Base(os.Args[0])
	fmt.Printf(`labstream - live experiment telemetry watcher

Usage:
  %[1]s <command> [options]

Available commands:
  watch      Follow the configured stream and serve the dashboard
  replay     Replay a recorded JSON-lines file and print the final views
  publish    Publish a recording to the configured Redis channel
  status     Show the last persisted status
  validate   Check a config file and create the state directory
  help       Show this help
  version    Show version info

Examples:
  %[1]s watch --config examples/labstream.yaml --dashboard-addr :8080
  %[1]s replay recordings/run-42.jsonl.gz --interval 50ms
  %[1]s publish --config examples/labstream.yaml recordings/run-42.jsonl
`, binary)
}

// initLogger configures project logging.
// mode is the command name, e.g. watch/replay.
func initLogger(cfg *config.Config, mode string) error {
	logDir := cfg.LogDir()
	logFilePrefix := buildLogFilePrefix(cfg, mode)

	// Console mirroring is pointless when stdout is redirected (nohup,
	// systemd, Docker); records still go to the file.
	consoleEnabled := cfg.ConsoleEnabled()
	if consoleEnabled {
		if fileInfo, err := os.Stdout.Stat(); err == nil && (fileInfo.Mode()&os.ModeCharDevice) == 0 {
			consoleEnabled = false
			log.Printf("Detected non-TTY stdout, disabling console output (logs will continue to file)")
		}
	}

	if err := logger.Init(logDir, cfg.LogLevel(), logFilePrefix, consoleEnabled); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.SetOutput(logger.Writer())
	return nil
}

// buildLogFilePrefix returns {taskName}_{mode}, with characters that are
// awkward in file names replaced.
func buildLogFilePrefix(cfg *config.Config, mode string) string {
	name := cfg.TaskName
	if name == "" {
		name = "labstream"
	}
	name = strings.NewReplacer(":", "_", "/", "_", " ", "_").Replace(name)
	return fmt.Sprintf("%s_%s", name, mode)
}
