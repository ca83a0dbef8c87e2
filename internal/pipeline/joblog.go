package pipeline

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nlsukhde/ipod-format/internal/models"
)

// JobLog collects one track's log entries and mirrors them to zerolog.
type JobLog struct {
	mu      sync.Mutex
	entries []models.LogEntry
	logger  zerolog.Logger
}

func NewJobLog(logger zerolog.Logger) *JobLog {
	return &JobLog{
		entries: make([]models.LogEntry, 0, 8),
		logger:  logger,
	}
}

// Log adds an entry. level is one of info, warn, error, debug.
func (l *JobLog) Log(level, stage, message, details string) {
	l.mu.Lock()
	l.entries = append(l.entries, models.LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Stage:     stage,
		Message:   message,
		Details:   details,
	})
	l.mu.Unlock()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	ev := l.logger.WithLevel(lvl)
	if stage != "" {
		ev = ev.Str("stage", stage)
	}
	if details != "" {
		ev = ev.Str("details", details)
	}
	ev.Msg(message)
}

func (l *JobLog) Info(stage, message string) {
	l.Log("info", stage, message, "")
}

func (l *JobLog) Debug(stage, message, details string) {
	l.Log("debug", stage, message, details)
}

func (l *JobLog) Warn(stage, message, details string) {
	l.Log("warn", stage, message, details)
}

func (l *JobLog) Error(stage, message, details string) {
	l.Log("error", stage, message, details)
}

// Entries returns a copy of the entries so far.
func (l *JobLog) Entries() []models.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
