package pipeline

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/gmaffy/matsha/utils"
)

// stager wraps pipeline steps with resume-log bookkeeping. A step is skipped
// when its last record is COMPLETED, all its outputs exist and none of its
// inputs is newer than its oldest output. Steps declaring no outputs always
// run.
type stager struct {
	logger  *slog.Logger
	entries []utils.LogEntry
	force   bool
}

func (s *stager) run(ctx context.Context, program, sample string, inputs, outputs []string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.force && utils.StageHasCompleted(s.entries, program, sample) && upToDate(inputs, outputs) {
		s.logger.Info(program, "PROGRAM", program, "SAMPLE", sample, "STATUS", utils.StatusSkipped)
		return nil
	}

	s.logger.Info(program, "PROGRAM", program, "SAMPLE", sample, "STATUS", utils.StatusStarted)
	if err := fn(ctx); err != nil {
		s.logger.Error(program, "PROGRAM", program, "SAMPLE", sample, "STATUS", utils.StatusFailed, "error", err)
		return err
	}
	s.logger.Info(program, "PROGRAM", program, "SAMPLE", sample, "STATUS", utils.StatusCompleted)
	return nil
}

func upToDate(inputs, outputs []string) bool {
	if len(outputs) == 0 {
		return false
	}
	var oldest time.Time
	for i, p := range outputs {
		fi, err := os.Stat(p)
		if err != nil {
			return false
		}
		if i == 0 || fi.ModTime().Before(oldest) {
			oldest = fi.ModTime()
		}
	}
	for _, p := range inputs {
		fi, err := os.Stat(p)
		if err != nil || fi.ModTime().After(oldest) {
			return false
		}
	}
	return true
}
