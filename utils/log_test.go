package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLog(t *testing.T) {
	logContent := `{"time":"2025-06-18T21:11:02.572267197+02:00","level":"INFO","msg":"MATSHA","PROGRAM":"INITIALISE","SAMPLE":"ALL","STATUS":"STARTED","CMD":"ALL","RUN":"r1"}
{"time":"2025-06-18T21:11:03.397122518+02:00","level":"INFO","msg":"MATSHA","PROGRAM":"ALIGN","SAMPLE":"Sample1","STATUS":"STARTED","RUN":"r1"}
{"time":"2025-06-18T21:11:04.124962114+02:00","level":"INFO","msg":"MATSHA","PROGRAM":"ALIGN","SAMPLE":"Sample2","STATUS":"STARTED","RUN":"r1"}
{"time":"2025-06-18T21:20:17.308876904+02:00","level":"INFO","msg":"MATSHA","PROGRAM":"ALIGN","SAMPLE":"Sample2","STATUS":"COMPLETED","RUN":"r1"}
not a json line
{"time":"2025-06-18T21:23:58.626151562+02:00","level":"INFO","msg":"MATSHA","PROGRAM":"ALIGN","SAMPLE":"Sample3","STATUS":"COMPLETED","RUN":"r1"}
{"time":"2025-06-18T21:23:59.23049438+02:00","level":"INFO","msg":"MATSHA","PROGRAM":"ALIGN","SAMPLE":"Sample3","STATUS":"STARTED","RUN":"r2"}`

	logFilePath := filepath.Join(t.TempDir(), "test.log")
	require.NoError(t, os.WriteFile(logFilePath, []byte(logContent), 0644))

	logEntries := ParseLogFile(logFilePath)
	require.Len(t, logEntries, 6)
	assert.Equal(t, "MATSHA", logEntries[0].Tool)
	assert.Equal(t, "ALL", logEntries[0].Cmd)
	assert.Equal(t, "ALIGN", logEntries[1].Program)
	assert.Equal(t, 2025, logEntries[1].Timestamp.Year())

	assert.True(t, StageHasCompleted(logEntries, "ALIGN", "Sample2"))
	assert.False(t, StageHasCompleted(logEntries, "ALIGN", "Sample1"))
	// restarted in a later run
	assert.False(t, StageHasCompleted(logEntries, "ALIGN", "Sample3"))
	assert.False(t, StageHasCompleted(logEntries, "GWAS", "ALL"))
}

func TestParseLogMissingFile(t *testing.T) {
	assert.Empty(t, ParseLogFile(filepath.Join(t.TempDir(), "nope.log")))
}

func TestNewLoggerRoundTrip(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "matsha.log")
	var console bytes.Buffer

	logger, closeLog, err := NewLogger(logPath, &console, "run-1")
	require.NoError(t, err)
	logger.Info("MATSHA", "PROGRAM", "GWAS", "SAMPLE", "ALL", "STATUS", StatusCompleted)
	require.NoError(t, closeLog())

	entries := ParseLogFile(logPath)
	require.Len(t, entries, 1)
	assert.Equal(t, "run-1", entries[0].Run)
	assert.True(t, StageHasCompleted(entries, "GWAS", "ALL"))
	assert.Contains(t, console.String(), "PROGRAM=GWAS")

	require.NoError(t, TruncateLog(logPath))
	assert.Empty(t, ParseLogFile(logPath))
	require.NoError(t, TruncateLog(filepath.Join(t.TempDir(), "absent.log")))
}
