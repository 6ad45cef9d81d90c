/*
Copyright © 2025 Godwin Mafireyi <mafireyi@gmail.com>
*/
package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gmaffy/matsha/alignment"
	"github.com/gmaffy/matsha/manifest"
	"github.com/gmaffy/matsha/reference"
	"github.com/gmaffy/matsha/utils"
)

var alignSrMemCmd = &cobra.Command{
	Use:   "alignSrMem",
	Short: "Short read alignment",
	Long: `Aligns the short reads of one sample to the reference with bwa mem, then
sorts, adds read groups, indexes and writes flagstat and coverage next to the BAM.`,
	Run: func(cmd *cobra.Command, args []string) {
		referencePath, rErr := cmd.Flags().GetString("reference")
		if rErr != nil {
			log.Fatalf("Error getting reference flag: %v", rErr)
		}
		forwardPath, fErr := cmd.Flags().GetString("forward")
		if fErr != nil {
			log.Fatalf("Error getting forward reads flag: %v", fErr)
		}
		reversePath, revErr := cmd.Flags().GetString("reverse")
		if revErr != nil {
			log.Fatalf("Error getting reverse read flag: %v", revErr)
		}
		sampleName, sErr := cmd.Flags().GetString("sample")
		if sErr != nil {
			log.Fatalf("Error getting sample name flag: %v", sErr)
		}
		outDir, oErr := cmd.Flags().GetString("output_dir")
		if oErr != nil {
			log.Fatalf("Error getting output dir flag: %v", oErr)
		}
		threads, tErr := cmd.Flags().GetInt("threads")
		if tErr != nil {
			log.Fatalf("Error getting threads flag: %v", tErr)
		}
		markDup, mErr := cmd.Flags().GetBool("mark-duplicates")
		if mErr != nil {
			log.Fatalf("Error getting mark-duplicates flag: %v", mErr)
		}
		platform, pErr := cmd.Flags().GetString("platform")
		if pErr != nil {
			log.Fatalf("Error getting platform flag: %v", pErr)
		}

		for _, f := range []string{referencePath, forwardPath, reversePath} {
			if f == "" {
				continue
			}
			if _, err := os.Stat(f); err != nil {
				log.Fatalf("%s is not a valid path: %v", f, err)
			}
		}
		if referencePath == "" || forwardPath == "" || outDir == "" {
			log.Fatalf("--reference, --forward and --output_dir are required")
		}
		if sampleName == "" {
			sampleName = manifest.Sample{Read1: forwardPath}.BaseName()
		}
		sample := manifest.Sample{ID: sampleName, Read1: forwardPath, Read2: reversePath}

		tools, err := utils.LoadTools()
		if err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Printf("Checking dependencies ...\n\n")
		if err := utils.CheckDeps(tools.Bwa, tools.Samtools, tools.Gatk); err != nil {
			log.Fatalf("Dependency check failed: %v", err)
		}
		fmt.Printf("Dependencies OK\n\n----------------------------------------------------------\n\n")

		ctx := context.Background()
		runner := utils.BashRunner{}
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			log.Fatalf("Error creating output dir: %v", err)
		}
		refPath, err := reference.Prepare(ctx, runner, tools, referencePath, filepath.Join(outDir, "reference"), false)
		if err != nil {
			log.Fatalf("%v", err)
		}

		paths := alignment.PathsFor(outDir, sample)
		opts := alignment.Options{Threads: threads, Platform: platform, MarkDuplicates: markDup}
		if err := alignment.AlignShortReadsMem(ctx, runner, tools, refPath, sample, paths, opts); err != nil {
			log.Fatalf("Alignment failed: %v", err)
		}
		if err := alignment.AlignmentStats(ctx, runner, tools, paths.GroupAdded, paths.Flagstat); err != nil {
			log.Fatalf("flagstat failed: %v", err)
		}
		cov, err := alignment.ComputeCoverage(paths.GroupAdded)
		if err != nil {
			log.Fatalf("Coverage failed: %v", err)
		}
		if err := alignment.WriteCoverage(paths.Coverage, cov); err != nil {
			log.Fatalf("Writing coverage failed: %v", err)
		}
		fmt.Printf("%s created\n", paths.GroupAdded)
	},
}

func init() {
	rootCmd.AddCommand(alignSrMemCmd)

	alignSrMemCmd.Flags().StringP("reference", "r", "", "reference genome fasta")
	alignSrMemCmd.Flags().String("forward", "", "forward (or single-end) reads")
	alignSrMemCmd.Flags().String("reverse", "", "reverse reads (optional)")
	alignSrMemCmd.Flags().StringP("sample", "s", "", "sample name (default: forward read file name)")
	alignSrMemCmd.Flags().StringP("output_dir", "o", "", "output directory")
	alignSrMemCmd.Flags().IntP("threads", "t", 1, "threads")
	alignSrMemCmd.Flags().Bool("mark-duplicates", false, "run gatk MarkDuplicates")
	alignSrMemCmd.Flags().String("platform", "ILLUMINA", "read group platform")
}
