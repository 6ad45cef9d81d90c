package alignment

import (
	"context"
	"fmt"

	"github.com/gmaffy/matsha/utils"
)

// AlignmentStats writes samtools flagstat output for bam to out.
func AlignmentStats(ctx context.Context, runner utils.Runner, tools utils.Tools, bam, out string) error {
	cmdStr := fmt.Sprintf(`%s flagstat %s > %s`, tools.Samtools, utils.ShellQuote(bam), utils.ShellQuote(out))

	fmt.Println(cmdStr)
	if err := runner.Run(ctx, cmdStr); err != nil {
		return fmt.Errorf("running samtools flagstat: %w", err)
	}
	return nil
}
