package bridge

import (
	"os"
	goruntime "runtime"

	"github.com/normanking/talkingavatar/internal/logging"
)

// LogBridge exposes the log history and accepts log lines from the browser
type LogBridge struct {
	logger *logging.Logger
}

// NewLogBridge creates a new log bridge
func NewLogBridge(logger *logging.Logger) *LogBridge {
	return &LogBridge{logger: logger}
}

// Log records a message sent by the browser
func (b *LogBridge) Log(level, component, message string, data map[string]any) {
	if component == "" {
		component = "browser"
	}
	switch logging.LogLevel(level) {
	case logging.LevelDebug:
		b.logger.Debug(component, message, data)
	case logging.LevelWarn:
		b.logger.Warn(component, message, data)
	case logging.LevelError:
		b.logger.Error(component, message, nil, data)
	default:
		b.logger.Info(component, message, data)
	}
}

// History returns recent log entries
func (b *LogBridge) History(limit int) []logging.LogEntry {
	return b.logger.GetHistory(limit)
}

// Path returns the current log file path
func (b *LogBridge) Path() string {
	return b.logger.GetLogPath()
}

// SystemInfo returns system information for troubleshooting
func (b *LogBridge) SystemInfo() map[string]any {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	host, _ := os.Hostname()
	return map[string]any{
		"os":           goruntime.GOOS,
		"arch":         goruntime.GOARCH,
		"goVersion":    goruntime.Version(),
		"numCPU":       goruntime.NumCPU(),
		"numGoroutine": goruntime.NumGoroutine(),
		"memAllocMB":   m.Alloc / 1024 / 1024,
		"memSysMB":     m.Sys / 1024 / 1024,
		"numGC":        m.NumGC,
		"hostname":     host,
		"logPath":      b.logger.GetLogPath(),
	}
}
