// Package pipeline runs the matsha stages in order: reference preparation,
// per-sample alignment, cohort aggregation, joint calling and association.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/brentp/xopen"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gmaffy/matsha/alignment"
	"github.com/gmaffy/matsha/annotation"
	"github.com/gmaffy/matsha/cohort"
	"github.com/gmaffy/matsha/gwas"
	"github.com/gmaffy/matsha/manifest"
	"github.com/gmaffy/matsha/reference"
	"github.com/gmaffy/matsha/utils"
	"github.com/gmaffy/matsha/variants"
)

const (
	LogName        = "matsha.log"
	CohortDir      = "all"
	BamList        = "bam.all.list"
	CallingBamList = "bam.subsampled.list"
	GVCFList       = "gvcf.all.list"
	StatsFile      = "subsampling.stats"
	CombinedGVCF   = "combined.g.vcf"
	CombinedVCF    = "combined.vcf"
	FilteredVCF    = "combined.filtered.vcf"

	// resume log sample name for cohort-wide steps
	cohortSample = "all"
)

type Options struct {
	Input   string
	Genome  string
	GenBank string
	Output  string
	Temp    string

	KeepTemp bool
	Force    bool
	Paired   bool
	Threads  int
	// Jobs caps concurrent per-sample work; 0 means NumCPU / Threads.
	Jobs int

	Caller         string
	Ploidy         int
	Alpha          float64
	SubsampleDepth float64
	Seed           uint64
	MinAC          int
	Platform       string
	MarkDuplicates bool
	HardFilter     bool

	Tools   utils.Tools
	Runner  utils.Runner
	Console io.Writer
}

// Result lists what a successful run produced.
type Result struct {
	RunID        string
	Samples      []manifest.Sample
	BamList      string
	StatsFile    string
	CombinedGVCF string
	CallSet      string
	GWAS         gwas.Summary
}

// validated holds everything parsed up front so that no stage starts on bad
// input.
type validated struct {
	samples []manifest.Sample
	contigs []reference.Contig
	genes   *annotation.GeneIndex
}

func (o *Options) setDefaults() {
	if o.Temp == "" && o.Output != "" {
		o.Temp = filepath.Join(o.Output, "tmp")
	}
	if o.Threads < 1 {
		o.Threads = 1
	}
	if o.Jobs < 1 {
		o.Jobs = runtime.NumCPU() / o.Threads
		if o.Jobs < 1 {
			o.Jobs = 1
		}
	}
	if o.Caller == "" {
		o.Caller = variants.CallerGatk
	}
	if o.Ploidy < 1 {
		o.Ploidy = 1
	}
	if o.Alpha == 0 {
		o.Alpha = 0.05
	}
	if o.MinAC < 1 {
		o.MinAC = 1
	}
	if o.Runner == nil {
		o.Runner = utils.BashRunner{}
	}
	if o.Console == nil {
		o.Console = os.Stderr
	}
}

func (o *Options) validate() (validated, error) {
	var v validated
	switch {
	case o.Input == "":
		return v, errors.New("--input is required")
	case o.Genome == "":
		return v, errors.New("--genome is required")
	case o.Output == "":
		return v, errors.New("--output is required")
	case !variants.ValidCaller(o.Caller):
		return v, fmt.Errorf("unknown caller %q, expected %s or %s", o.Caller, variants.CallerGatk, variants.CallerBcftools)
	case o.Alpha <= 0 || o.Alpha >= 1:
		return v, fmt.Errorf("alpha must be between 0 and 1, got %g", o.Alpha)
	case o.SubsampleDepth < 0:
		return v, fmt.Errorf("subsample depth must not be negative, got %g", o.SubsampleDepth)
	}
	for _, f := range []string{o.Input, o.Genome, o.GenBank} {
		if f != "" && !xopen.Exists(f) {
			return v, fmt.Errorf("%s does not exist", f)
		}
	}

	samples, err := manifest.Read(o.Input, o.Paired)
	if err != nil {
		return v, err
	}
	if err := manifest.Validate(samples); err != nil {
		return v, err
	}
	v.samples = samples

	if v.contigs, err = reference.Contigs(o.Genome); err != nil {
		return v, err
	}
	if o.GenBank != "" {
		if v.genes, err = annotation.LoadGeneIndex(o.GenBank); err != nil {
			return v, err
		}
	}
	return v, nil
}

// Run executes the whole pipeline. Temp files are removed only after every
// declared output exists and KeepTemp is off; a failed run leaves them in place.
func Run(ctx context.Context, opts Options) (Result, error) {
	opts.setDefaults()
	v, err := opts.validate()
	if err != nil {
		return Result{}, err
	}

	cohortDir := filepath.Join(opts.Output, CohortDir)
	for _, dir := range []string{opts.Output, opts.Temp, cohortDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return Result{}, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	// ------------------------------------------- Resume log ----------------------------------------------------- //
	logPath := filepath.Join(opts.Output, LogName)
	if opts.Force {
		if err := utils.TruncateLog(logPath); err != nil {
			return Result{}, err
		}
	}
	res := Result{RunID: uuid.NewString(), Samples: v.samples}
	logger, closeLog, err := utils.NewLogger(logPath, opts.Console, res.RunID)
	if err != nil {
		return Result{}, err
	}
	defer closeLog()
	st := &stager{logger: logger, entries: utils.ParseLogFile(logPath), force: opts.Force}
	logger.Info("matsha", "samples", len(v.samples), "caller", opts.Caller, "threads", opts.Threads, "jobs", opts.Jobs,
		"contigs", len(v.contigs), "genome_bp", reference.TotalLength(v.contigs), "genes", len(v.genes.Genes()))

	// ------------------------------------------- Reference ------------------------------------------------------ //
	refDir := filepath.Join(opts.Temp, "reference")
	if opts.Force {
		os.RemoveAll(refDir)
	}
	refPath := filepath.Join(refDir, filepath.Base(opts.Genome))
	err = st.run(ctx, "reference", cohortSample, []string{opts.Genome}, []string{refPath, refPath + ".bwt", refPath + ".fai"}, func(ctx context.Context) error {
		_, err := reference.Prepare(ctx, opts.Runner, opts.Tools, opts.Genome, refDir, opts.Caller == variants.CallerGatk)
		return err
	})
	if err != nil {
		return res, err
	}

	// ------------------------------------------- Per-sample ----------------------------------------------------- //
	paths := make([]alignment.Paths, len(v.samples))
	for i, s := range v.samples {
		paths[i] = alignment.PathsFor(opts.Temp, s)
	}
	if err := runSamples(ctx, st, opts, refPath, v.samples, paths); err != nil {
		return res, err
	}

	// ------------------------------------------- Cohort --------------------------------------------------------- //
	res.BamList = filepath.Join(opts.Temp, BamList)
	res.StatsFile = filepath.Join(opts.Temp, StatsFile)
	callingList := filepath.Join(opts.Temp, CallingBamList)
	callingBams, err := runCohort(ctx, st, opts, v.samples, paths, res.BamList, callingList, res.StatsFile)
	if err != nil {
		return res, err
	}

	// ------------------------------------------- Calling -------------------------------------------------------- //
	res.CombinedGVCF = filepath.Join(cohortDir, CombinedGVCF)
	var intermediates []string
	res.CallSet, intermediates, err = runCalling(ctx, st, opts, refPath, paths, callingBams, callingList, cohortDir)
	if err != nil {
		return res, err
	}

	// ------------------------------------------- GWAS ----------------------------------------------------------- //
	err = st.run(ctx, "gwas", cohortSample, nil, nil, func(ctx context.Context) error {
		summary, err := gwas.Run(gwas.Options{
			VCF:         res.CallSet,
			Samples:     v.samples,
			Genes:       v.genes,
			ContigOrder: reference.Order(v.contigs),
			OutDir:      cohortDir,
			Alpha:       opts.Alpha,
			MinAC:       opts.MinAC,
		})
		res.GWAS = summary
		return err
	})
	if err != nil {
		return res, err
	}

	// ------------------------------------------- Outputs -------------------------------------------------------- //
	declared := []string{res.BamList, res.StatsFile, res.CombinedGVCF, res.CallSet}
	for _, p := range paths {
		declared = append(declared, p.GroupAdded, p.Coverage)
	}
	declared = append(declared, res.GWAS.Files...)
	for _, f := range declared {
		if !xopen.Exists(f) {
			return res, fmt.Errorf("expected output %s was not produced", f)
		}
	}

	if !opts.KeepTemp {
		cleanup(opts, paths, refDir, append(intermediates, callingList))
	}
	logger.Info("matsha", "STATUS", utils.StatusCompleted, "variants", len(res.GWAS.Variants), "genes", len(res.GWAS.Genes))
	return res, nil
}

func runSamples(ctx context.Context, st *stager, opts Options, refPath string, samples []manifest.Sample, paths []alignment.Paths) error {
	alignOpts := alignment.Options{Threads: opts.Threads, Platform: opts.Platform, MarkDuplicates: opts.MarkDuplicates}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Jobs)
	for i, s := range samples {
		s, p := s, paths[i]
		g.Go(func() error {
			reads := []string{s.Read1}
			if s.Paired() {
				reads = append(reads, s.Read2)
			}
			err := st.run(gctx, "align", s.ID, reads, []string{p.GroupAdded, p.Index}, func(ctx context.Context) error {
				return alignment.AlignShortReadsMem(ctx, opts.Runner, opts.Tools, refPath, s, p, alignOpts)
			})
			if err != nil {
				return err
			}
			err = st.run(gctx, "flagstat", s.ID, []string{p.GroupAdded}, []string{p.Flagstat}, func(ctx context.Context) error {
				return alignment.AlignmentStats(ctx, opts.Runner, opts.Tools, p.GroupAdded, p.Flagstat)
			})
			if err != nil {
				return err
			}
			return st.run(gctx, "coverage", s.ID, []string{p.GroupAdded}, []string{p.Coverage}, func(ctx context.Context) error {
				cov, err := alignment.ComputeCoverage(p.GroupAdded)
				if err != nil {
					return fmt.Errorf("coverage of %s: %w", s.ID, err)
				}
				return alignment.WriteCoverage(p.Coverage, cov)
			})
		})
	}
	return g.Wait()
}

// runCohort writes the BAM list, subsamples the cohort and returns the BAMs
// variant calling should read.
func runCohort(ctx context.Context, st *stager, opts Options, samples []manifest.Sample, paths []alignment.Paths, bamList, callingList, statsFile string) ([]string, error) {
	bams := make([]string, len(paths))
	inputs := make([]cohort.Input, len(paths))
	var sources []string
	for i, p := range paths {
		bams[i] = p.GroupAdded
		cov, err := alignment.ReadCoverage(p.Coverage)
		if err != nil {
			return nil, fmt.Errorf("reading coverage of %s: %w", samples[i].ID, err)
		}
		inputs[i] = cohort.Input{Sample: samples[i].ID, Bam: p.GroupAdded, MeanDepth: cov.Total.MeanDepth}
		sources = append(sources, p.GroupAdded, p.Coverage)
	}
	if err := cohort.WriteBamList(bamList, bams); err != nil {
		return nil, err
	}

	err := st.run(ctx, "subsample", cohortSample, sources, []string{statsFile, callingList}, func(ctx context.Context) error {
		records, err := cohort.Subsample(ctx, opts.Runner, opts.Tools, inputs, opts.SubsampleDepth, opts.Seed)
		if err != nil {
			return err
		}
		if err := cohort.WriteSubsamplingStats(statsFile, records); err != nil {
			return err
		}
		return cohort.WriteBamList(callingList, cohort.Outputs(records))
	})
	if err != nil {
		return nil, err
	}

	callingBams, err := cohort.ReadBamList(callingList)
	if err != nil {
		return nil, err
	}
	if len(callingBams) != len(paths) {
		return nil, fmt.Errorf("%s lists %d BAMs for %d samples", callingList, len(callingBams), len(paths))
	}
	return callingBams, nil
}

// runCalling produces the combined call set and returns the VCF the
// association stage should read, plus intermediates to clean up.
func runCalling(ctx context.Context, st *stager, opts Options, refPath string, paths []alignment.Paths, callingBams []string, callingList, cohortDir string) (string, []string, error) {
	combined := filepath.Join(cohortDir, CombinedGVCF)
	callSet := combined
	var intermediates []string

	if opts.Caller == variants.CallerBcftools {
		err := st.run(ctx, "bcftools", cohortSample, callingBams, []string{combined}, func(ctx context.Context) error {
			return variants.BcftoolsCall(ctx, opts.Runner, opts.Tools, refPath, callingList, combined, opts.Ploidy, opts.Threads)
		})
		if err != nil {
			return "", nil, err
		}
	} else {
		gvcfs := make([]string, len(paths))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Jobs)
		for i, p := range paths {
			// GVCFs are named after the aligned BAM whichever copy is called
			bam, gvcf := callingBams[i], variants.GVCFPath(opts.Temp, p.GroupAdded)
			gvcfs[i] = gvcf
			sample := filepath.Base(p.GroupAdded)
			g.Go(func() error {
				return st.run(gctx, "HaplotypeCaller", sample, []string{bam}, []string{gvcf}, func(ctx context.Context) error {
					return variants.HaplotypeCaller(ctx, opts.Runner, opts.Tools, refPath, bam, gvcf, opts.Ploidy)
				})
			})
		}
		if err := g.Wait(); err != nil {
			return "", nil, err
		}
		intermediates = append(intermediates, gvcfs...)

		gvcfList := filepath.Join(opts.Temp, GVCFList)
		intermediates = append(intermediates, gvcfList)
		if err := variants.WriteGVCFList(gvcfList, gvcfs); err != nil {
			return "", nil, err
		}
		err := st.run(ctx, "CombineGVCFs", cohortSample, gvcfs, []string{combined}, func(ctx context.Context) error {
			return variants.CombineGVCFs(ctx, opts.Runner, opts.Tools, refPath, gvcfList, combined)
		})
		if err != nil {
			return "", nil, err
		}

		callSet = filepath.Join(cohortDir, CombinedVCF)
		err = st.run(ctx, "GenotypeGVCFs", cohortSample, []string{combined}, []string{callSet}, func(ctx context.Context) error {
			return variants.GenotypeGVCFs(ctx, opts.Runner, opts.Tools, refPath, combined, callSet)
		})
		if err != nil {
			return "", nil, err
		}
	}

	if !opts.HardFilter {
		return callSet, intermediates, nil
	}
	filtered := filepath.Join(cohortDir, FilteredVCF)
	err := st.run(ctx, "HardFilter", cohortSample, []string{callSet}, []string{filtered}, func(ctx context.Context) error {
		files, err := variants.HardFilter(ctx, opts.Runner, opts.Tools, opts.Caller, refPath, callSet, filtered)
		intermediates = append(intermediates, files...)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	return filtered, intermediates, nil
}

func cleanup(opts Options, paths []alignment.Paths, refDir string, intermediates []string) {
	fmt.Printf("Removing temporary files from %s ...\n", opts.Temp)
	var files []string
	for _, p := range paths {
		sub := cohort.SubsampledPath(p.GroupAdded)
		files = append(files, p.All()...)
		files = append(files, sub, sub+".bai")
	}
	files = append(files, intermediates...)
	files = append(files,
		filepath.Join(opts.Temp, BamList),
		filepath.Join(opts.Temp, StatsFile),
	)
	variants.RemoveAll(files)
	if err := os.RemoveAll(refDir); err != nil {
		fmt.Printf("could not remove %s: %v\n", refDir, err)
	}
	// only succeeds when nothing else lives in the temp dir
	os.Remove(opts.Temp)
}
