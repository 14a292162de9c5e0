package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger writes every record to a file and the important ones to stdout.
type Logger struct {
	mu             sync.Mutex
	fileLogger     *log.Logger
	consoleLog     *log.Logger
	consoleEnabled bool
	level          Level
	logFile        *os.File
	logFilePath    string
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init sets up the process-wide logger writing to <logDir>/<prefix>.log.
// Only the first call has an effect.
func Init(logDir string, level Level, logFilePrefix string, consoleEnabled bool) error {
	var initErr error
	once.Do(func() {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			initErr = fmt.Errorf("create log dir: %w", err)
			return
		}
		if logFilePrefix == "" {
			logFilePrefix = "labstream"
		}
		logFilePath := filepath.Join(logDir, logFilePrefix+".log")

		logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			initErr = fmt.Errorf("open log file: %w", err)
			return
		}

		defaultLogger = &Logger{
			fileLogger:     log.New(logFile, "", 0),
			consoleLog:     log.New(os.Stdout, "", 0),
			consoleEnabled: consoleEnabled,
			level:          level,
			logFile:        logFile,
			logFilePath:    logFilePath,
		}
	})
	return initErr
}

// Close flushes and closes the log file.
func Close() error {
	if defaultLogger != nil && defaultLogger.logFile != nil {
		return defaultLogger.logFile.Close()
	}
	return nil
}

// GetLogFilePath returns the active log file, or "" before Init.
func GetLogFilePath() string {
	if defaultLogger != nil {
		return defaultLogger.logFilePath
	}
	return ""
}

func formatMessage(level Level, format string, args ...interface{}) string {
	timestamp := time.Now().Format("2006/01/02 15:04:05")
	return fmt.Sprintf("%s [%s] %s", timestamp, level, fmt.Sprintf(format, args...))
}

func logToFile(level Level, format string, args ...interface{}) {
	if defaultLogger == nil {
		// Not initialised (tests, early CLI errors): keep WARN+ visible.
		if level >= WARN {
			fmt.Fprintln(os.Stderr, formatMessage(level, format, args...))
		}
		return
	}
	if level < defaultLogger.level {
		return
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.fileLogger.Println(formatMessage(level, format, args...))
}

func logToConsole(format string, args ...interface{}) {
	if defaultLogger == nil {
		fmt.Printf(format+"\n", args...)
		return
	}
	if !defaultLogger.consoleEnabled {
		return
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	timestamp := time.Now().Format("2006/01/02 15:04:05")
	defaultLogger.consoleLog.Printf("%s [labstream] %s", timestamp, fmt.Sprintf(format, args...))
}

func logToBoth(level Level, format string, args ...interface{}) {
	logToFile(level, format, args...)
	if defaultLogger != nil {
		logToConsole(format, args...)
	}
}

// Debug logs to the file only.
func Debug(format string, args ...interface{}) {
	logToFile(DEBUG, format, args...)
}

// Info logs to the file only.
func Info(format string, args ...interface{}) {
	logToFile(INFO, format, args...)
}

// Warn logs to the file and the console.
func Warn(format string, args ...interface{}) {
	logToBoth(WARN, format, args...)
}

// Error logs to the file and the console.
func Error(format string, args ...interface{}) {
	logToBoth(ERROR, format, args...)
}

// Console prints progress information and mirrors it to the file.
func Console(format string, args ...interface{}) {
	logToConsole(format, args...)
	logToFile(INFO, format, args...)
}

// Writer returns the file sink, for redirecting the standard log package.
func Writer() io.Writer {
	if defaultLogger != nil {
		return defaultLogger.logFile
	}
	return os.Stdout
}
