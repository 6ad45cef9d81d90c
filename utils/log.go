package utils

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

const (
	StatusStarted   = "STARTED"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusSkipped   = "SKIPPED"
)

// LogEntry is one JSON record of a pipeline log file.
type LogEntry struct {
	Timestamp time.Time `json:"time"`
	Level     string    `json:"level"`
	Tool      string    `json:"msg"`
	Program   string    `json:"PROGRAM"`
	Sample    string    `json:"SAMPLE"`
	Status    string    `json:"STATUS"`
	Cmd       string    `json:"CMD"`
	Run       string    `json:"RUN"`
}

// NewLogger returns a logger writing JSON records to logPath (appending) and
// human readable records to console. The returned close func closes the log file.
func NewLogger(logPath string, console io.Writer, runID string) (*slog.Logger, func() error, error) {
	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	handlers := []slog.Handler{
		slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}
	if console != nil {
		handlers = append(handlers, slog.NewTextHandler(console, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	logger := slog.New(slogmulti.Fanout(handlers...)).With("RUN", runID)
	return logger, logFile.Close, nil
}

// ParseLogFile reads the JSON records of a pipeline log. Lines that are not
// JSON records are skipped. A missing file yields no entries.
func ParseLogFile(logFilePath string) []LogEntry {
	var entries []LogEntry
	file, err := os.Open(logFilePath)
	if err != nil {
		return entries
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// StageHasCompleted reports whether the most recent record for program and
// sample says COMPLETED.
func StageHasCompleted(entries []LogEntry, program string, sample string) bool {
	completed := false
	for _, e := range entries {
		if e.Program != program || e.Sample != sample {
			continue
		}
		switch e.Status {
		case StatusCompleted, StatusSkipped:
			completed = true
		case StatusStarted, StatusFailed:
			completed = false
		}
	}
	return completed
}

// TruncateLog empties the log file at path, if there is one.
func TruncateLog(logPath string) error {
	err := os.Truncate(logPath, 0)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
