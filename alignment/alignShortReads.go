package alignment

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/gmaffy/matsha/manifest"
	"github.com/gmaffy/matsha/utils"
)

// Paths are the per-sample artifacts of the alignment stage. Stage suffixes
// are appended to the read file name in a fixed order.
type Paths struct {
	Sorted       string
	GroupAdded   string
	Index        string
	DedupMetrics string
	Flagstat     string
	Coverage     string
}

func PathsFor(tempDir string, s manifest.Sample) Paths {
	base := filepath.Join(tempDir, s.BaseName())
	groupAdded := base + ".sorted.groupAdded.bam"
	return Paths{
		Sorted:       base + ".sorted.bam",
		GroupAdded:   groupAdded,
		Index:        groupAdded + ".bai",
		DedupMetrics: base + ".dedup.metrics",
		Flagstat:     base + ".flagstat",
		Coverage:     base + ".coverage",
	}
}

// All lists every path, for cleanup.
func (p Paths) All() []string {
	return []string{p.Sorted, p.GroupAdded, p.Index, p.DedupMetrics, p.Flagstat, p.Coverage}
}

type Options struct {
	Threads        int
	Platform       string
	MarkDuplicates bool
}

// AlignShortReadsMem aligns one sample with bwa mem, sorts, adds read groups,
// optionally marks duplicates and indexes the result.
func AlignShortReadsMem(ctx context.Context, runner utils.Runner, tools utils.Tools, referencePath string, s manifest.Sample, p Paths, opts Options) error {
	threads := opts.Threads
	if threads < 1 {
		threads = 1
	}
	platform := opts.Platform
	if platform == "" {
		platform = "ILLUMINA"
	}

	reads := utils.ShellQuote(s.Read1)
	if s.Paired() {
		reads += " " + utils.ShellQuote(s.Read2)
	}
	q := utils.ShellQuote
	id := q(s.ID)

	cmdStr := fmt.Sprintf(`%s mem -t %d -M %s %s | %s sort -@ %d -o %s -`,
		tools.Bwa, threads, q(referencePath), reads, tools.Samtools, threads, q(p.Sorted))
	fmt.Println(cmdStr)
	if err := runner.Run(ctx, cmdStr); err != nil {
		return fmt.Errorf("aligning %s: %w", s.ID, err)
	}

	fmt.Printf("Adding read groups for %s ....\n", s.ID)
	rgCmdStr := fmt.Sprintf(`%s AddOrReplaceReadGroups -I %s -O %s --RGID %s --RGLB %s --RGPL %s --RGPU %s --RGSM %s`,
		tools.GatkCmd(), q(p.Sorted), q(p.GroupAdded), id, id, q(platform), id, id)
	fmt.Println(rgCmdStr)
	if err := runner.Run(ctx, rgCmdStr); err != nil {
		return fmt.Errorf("adding read groups for %s: %w", s.ID, err)
	}

	if opts.MarkDuplicates {
		fmt.Printf("Marking duplicates for %s ....\n", s.ID)
		tmp := p.GroupAdded + ".dedup.tmp"
		mDupCmdStr := fmt.Sprintf(`%s MarkDuplicates -I %s -O %s -M %s && mv %s %s`,
			tools.GatkCmd(), q(p.GroupAdded), q(tmp), q(p.DedupMetrics), q(tmp), q(p.GroupAdded))
		fmt.Println(mDupCmdStr)
		if err := runner.Run(ctx, mDupCmdStr); err != nil {
			return fmt.Errorf("marking duplicates for %s: %w", s.ID, err)
		}
	}

	return IndexBam(ctx, runner, tools, p.GroupAdded)
}

func IndexBam(ctx context.Context, runner utils.Runner, tools utils.Tools, bam string) error {
	indexCmdStr := fmt.Sprintf(`%s index %s`, tools.Samtools, utils.ShellQuote(bam))
	fmt.Println(indexCmdStr)
	if err := runner.Run(ctx, indexCmdStr); err != nil {
		return fmt.Errorf("indexing %s: %w", bam, err)
	}
	return nil
}
