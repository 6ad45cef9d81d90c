/*
Copyright © 2025 Godwin Mafireyi <mafireyi@gmail.com>
*/
package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gmaffy/matsha/pipeline"
	"github.com/gmaffy/matsha/utils"
	"github.com/gmaffy/matsha/variants"
)

// rootCmd runs the whole pipeline when called without a subcommand
var rootCmd = &cobra.Command{
	Use:   "matsha",
	Short: "Bacterial GWAS from raw reads",
	Long: `Runs a bacterial GWAS from paired-end or single-end reads:

1.	Read alignment: bwa mem, samtools sort, gatk AddOrReplaceReadGroups (optional MarkDuplicates)
2.	Per-sample flagstat and coverage
3.	Cohort BAM list and subsampling to a common depth
4.	Joint variant calling: gatk HaplotypeCaller/CombineGVCFs/GenotypeGVCFs or bcftools
5.	Optional hard filtering
6.	Variant and gene level association tables
`,
	Run: func(cmd *cobra.Command, args []string) {
		opts, err := pipelineOptions(cmd)
		if err != nil {
			log.Fatalf("%v", err)
		}

		fmt.Printf("Checking dependencies ...\n\n")
		deps := []string{opts.Tools.Bwa, opts.Tools.Samtools, opts.Tools.Gatk}
		if opts.Caller == variants.CallerBcftools {
			deps = append(deps, opts.Tools.Bcftools)
		}
		if err := utils.CheckDeps(deps...); err != nil {
			log.Fatalf("Dependency check failed: %v", err)
		}
		fmt.Printf("Dependencies OK\n\n----------------------------------------------------------\n\n")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := pipeline.Run(ctx, opts)
		if err != nil {
			stop()
			log.Fatalf("matsha failed: %v", err)
		}
		fmt.Printf("\nDone. %d samples, %d variants and %d genes tested (run %s)\n",
			len(res.Samples), len(res.GWAS.Variants), len(res.GWAS.Genes), res.RunID)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to a key: value config file")

	rootCmd.Flags().StringP("input", "i", "", "sample manifest (tsv with sample, read1, read2, phenotype)")
	rootCmd.Flags().StringP("genome", "g", "", "reference genome fasta")
	rootCmd.Flags().StringP("genbank", "a", "", "GenBank annotation of the reference (optional)")
	rootCmd.Flags().StringP("output", "o", "", "output directory")
	rootCmd.Flags().String("temp", "", "temp directory (default <output>/tmp)")
	rootCmd.Flags().Bool("keep-temp", false, "keep intermediate files")
	rootCmd.Flags().Bool("force", false, "rerun every stage, ignoring the resume log")
	rootCmd.Flags().Bool("paired", false, "reads are paired-end")
	rootCmd.Flags().IntP("threads", "t", 1, "threads per tool invocation")
	rootCmd.Flags().String("caller", variants.CallerGatk, "variant caller: gatk or bcftools")
	rootCmd.Flags().Int("ploidy", 1, "sample ploidy")
	rootCmd.Flags().Float64("alpha", 0.05, "significance level after Bonferroni correction")
	rootCmd.Flags().Float64("subsample-depth", 0, "target mean depth (0 = lowest sample depth)")
	rootCmd.Flags().Uint64("seed", 1, "seed for subsampling")
	rootCmd.Flags().Int("min-ac", 1, "minimum carriers for a variant to be tested")
	rootCmd.Flags().String("platform", "ILLUMINA", "read group platform")
	rootCmd.Flags().Bool("mark-duplicates", false, "run gatk MarkDuplicates")
	rootCmd.Flags().Bool("hard-filter", false, "hard filter the call set before testing")
}

// pipelineOptions collects flags, then fills in config file values for every
// flag the user did not set explicitly.
func pipelineOptions(cmd *cobra.Command) (pipeline.Options, error) {
	flags := cmd.Flags()
	var opts pipeline.Options
	var err error

	strs := []struct {
		name string
		dst  *string
	}{
		{"input", &opts.Input},
		{"genome", &opts.Genome},
		{"genbank", &opts.GenBank},
		{"output", &opts.Output},
		{"temp", &opts.Temp},
		{"caller", &opts.Caller},
		{"platform", &opts.Platform},
	}
	for _, s := range strs {
		if *s.dst, err = flags.GetString(s.name); err != nil {
			return opts, fmt.Errorf("error getting %s flag: %w", s.name, err)
		}
	}
	bools := []struct {
		name string
		dst  *bool
	}{
		{"keep-temp", &opts.KeepTemp},
		{"force", &opts.Force},
		{"paired", &opts.Paired},
		{"mark-duplicates", &opts.MarkDuplicates},
		{"hard-filter", &opts.HardFilter},
	}
	for _, b := range bools {
		if *b.dst, err = flags.GetBool(b.name); err != nil {
			return opts, fmt.Errorf("error getting %s flag: %w", b.name, err)
		}
	}
	if opts.Threads, err = flags.GetInt("threads"); err != nil {
		return opts, fmt.Errorf("error getting threads flag: %w", err)
	}
	if opts.Ploidy, err = flags.GetInt("ploidy"); err != nil {
		return opts, fmt.Errorf("error getting ploidy flag: %w", err)
	}
	if opts.MinAC, err = flags.GetInt("min-ac"); err != nil {
		return opts, fmt.Errorf("error getting min-ac flag: %w", err)
	}
	if opts.Alpha, err = flags.GetFloat64("alpha"); err != nil {
		return opts, fmt.Errorf("error getting alpha flag: %w", err)
	}
	if opts.SubsampleDepth, err = flags.GetFloat64("subsample-depth"); err != nil {
		return opts, fmt.Errorf("error getting subsample-depth flag: %w", err)
	}
	if opts.Seed, err = flags.GetUint64("seed"); err != nil {
		return opts, fmt.Errorf("error getting seed flag: %w", err)
	}

	if opts.Tools, err = utils.LoadTools(); err != nil {
		return opts, err
	}

	configFile, err := flags.GetString("config")
	if err != nil {
		return opts, fmt.Errorf("error getting config flag: %w", err)
	}
	if configFile == "" {
		return opts, nil
	}
	fmt.Printf("Reading config file %s ...\n", configFile)
	cfg, err := utils.ReadConfig(configFile)
	if err != nil {
		return opts, fmt.Errorf("error reading config file: %w", err)
	}
	applyConfig(cfg, flags.Changed, &opts)
	return opts, nil
}

// applyConfig copies config values into opts unless the matching flag was
// given on the command line.
func applyConfig(cfg utils.Config, changed func(string) bool, opts *pipeline.Options) {
	use := func(key, flag string) bool {
		return cfg.Has(key) && !changed(flag)
	}
	if use("caller", "caller") {
		opts.Caller = cfg.Caller
	}
	if use("ploidy", "ploidy") {
		opts.Ploidy = cfg.Ploidy
	}
	if use("alpha", "alpha") {
		opts.Alpha = cfg.Alpha
	}
	if use("subsample_depth", "subsample-depth") {
		opts.SubsampleDepth = cfg.SubsampleDepth
	}
	if use("seed", "seed") {
		opts.Seed = cfg.Seed
	}
	if use("min_ac", "min-ac") {
		opts.MinAC = cfg.MinAC
	}
	if use("platform", "platform") {
		opts.Platform = cfg.Platform
	}
	if use("mark_duplicates", "mark-duplicates") {
		opts.MarkDuplicates = cfg.MarkDuplicates
	}
	if use("hard_filter", "hard-filter") {
		opts.HardFilter = cfg.HardFilter
	}
	// no flag for java options; the environment wins over the file
	if cfg.Has("java_options") && os.Getenv("MATSHA_JAVA_OPTIONS") == "" {
		opts.Tools.JavaOptions = cfg.JavaOptions
	}
}
