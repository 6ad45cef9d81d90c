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
	"golang.org/x/sync/errgroup"

	"github.com/gmaffy/matsha/cohort"
	"github.com/gmaffy/matsha/reference"
	"github.com/gmaffy/matsha/utils"
	"github.com/gmaffy/matsha/variants"
)

// variantCallingCmd represents the variantCalling command
var variantCallingCmd = &cobra.Command{
	Use:   "variantCalling",
	Short: "Creates a multi-sample VCF file from bam files",
	Long: `Runs one of:

1. gatk HaplotypeCaller per bam, CombineGVCFs, GenotypeGVCFs
2. bcftools mpileup | bcftools call on all bams at once

and optionally hard filters the call set.`,
	Run: func(cmd *cobra.Command, args []string) {
		bams, bamsErr := cmd.Flags().GetStringSlice("bam")
		if bamsErr != nil {
			log.Fatalf("Error getting bam flag: %v", bamsErr)
		}
		bamList, blErr := cmd.Flags().GetString("bam-list")
		if blErr != nil {
			log.Fatalf("Error getting bam-list flag: %v", blErr)
		}
		refFile, refErr := cmd.Flags().GetString("reference")
		if refErr != nil {
			log.Fatalf("Error getting reference flag: %v", refErr)
		}
		outDir, outErr := cmd.Flags().GetString("out")
		if outErr != nil {
			log.Fatalf("Error getting output directory flag: %v", outErr)
		}
		caller, cErr := cmd.Flags().GetString("caller")
		if cErr != nil {
			log.Fatalf("Error getting caller flag: %v", cErr)
		}
		ploidy, pErr := cmd.Flags().GetInt("ploidy")
		if pErr != nil {
			log.Fatalf("Error getting ploidy flag: %v", pErr)
		}
		threads, tErr := cmd.Flags().GetInt("threads")
		if tErr != nil {
			log.Fatalf("Error getting threads flag: %v", tErr)
		}
		jobs, jErr := cmd.Flags().GetInt("jobs")
		if jErr != nil {
			log.Fatalf("Error getting jobs flag: %v", jErr)
		}
		hardFilter, hErr := cmd.Flags().GetBool("hard-filter")
		if hErr != nil {
			log.Fatalf("Error getting hard-filter flag: %v", hErr)
		}

		if !variants.ValidCaller(caller) {
			log.Fatalf("unknown caller %q", caller)
		}
		if _, err := os.Stat(refFile); err != nil {
			log.Fatalf("Reference file: %s does not exist", refFile)
		}
		if bamList != "" {
			listed, err := cohort.ReadBamList(bamList)
			if err != nil {
				log.Fatalf("%v", err)
			}
			bams = append(bams, listed...)
		}
		if len(bams) == 0 {
			log.Fatalf("You must provide at least one bam file")
		}
		for _, b := range bams {
			if _, err := os.Stat(b); err != nil {
				log.Fatalf("Bam file: %s is not a valid file path: %v", b, err)
			}
		}
		if outDir == "" {
			outDir = "."
		}
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			log.Fatalf("Error creating output dir: %v", err)
		}

		tools, err := utils.LoadTools()
		if err != nil {
			log.Fatalf("%v", err)
		}
		ctx := context.Background()
		runner := utils.BashRunner{}
		refPath, err := reference.Prepare(ctx, runner, tools, refFile, filepath.Join(outDir, "reference"), caller == variants.CallerGatk || hardFilter)
		if err != nil {
			log.Fatalf("%v", err)
		}

		callSet, err := callVariants(ctx, runner, tools, caller, refPath, bams, outDir, ploidy, threads, jobs)
		if err != nil {
			log.Fatalf("Variant calling failed: %v", err)
		}
		if hardFilter {
			filtered := filepath.Join(outDir, "filtered.vcf")
			files, err := variants.HardFilter(ctx, runner, tools, caller, refPath, callSet, filtered)
			if err != nil {
				log.Fatalf("Hard filtering failed: %v", err)
			}
			variants.RemoveAll(files)
			callSet = filtered
		}
		fmt.Printf("%s created\n", callSet)
	},
}

func callVariants(ctx context.Context, runner utils.Runner, tools utils.Tools, caller, refPath string, bams []string, outDir string, ploidy, threads, jobs int) (string, error) {
	combined := filepath.Join(outDir, "combined.g.vcf")
	if caller == variants.CallerBcftools {
		bamList := filepath.Join(outDir, "bam.list")
		if err := cohort.WriteBamList(bamList, bams); err != nil {
			return "", err
		}
		return combined, variants.BcftoolsCall(ctx, runner, tools, refPath, bamList, combined, ploidy, threads)
	}

	gvcfs := make([]string, len(bams))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, jobs))
	for i, bam := range bams {
		gvcfs[i] = variants.GVCFPath(outDir, bam)
		gvcf := gvcfs[i]
		g.Go(func() error {
			return variants.HaplotypeCaller(gctx, runner, tools, refPath, bam, gvcf, ploidy)
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	gvcfList := filepath.Join(outDir, "gvcf.list")
	if err := variants.WriteGVCFList(gvcfList, gvcfs); err != nil {
		return "", err
	}
	if err := variants.CombineGVCFs(ctx, runner, tools, refPath, gvcfList, combined); err != nil {
		return "", err
	}
	callSet := filepath.Join(outDir, "combined.vcf")
	return callSet, variants.GenotypeGVCFs(ctx, runner, tools, refPath, combined, callSet)
}

func init() {
	rootCmd.AddCommand(variantCallingCmd)

	variantCallingCmd.Flags().StringP("reference", "r", "", "reference genome fasta")
	variantCallingCmd.Flags().StringSliceP("bam", "b", []string{}, "bam file (repeatable)")
	variantCallingCmd.Flags().String("bam-list", "", "file with one bam path per line")
	variantCallingCmd.Flags().StringP("out", "o", "", "output directory")
	variantCallingCmd.Flags().String("caller", variants.CallerGatk, "variant caller: gatk or bcftools")
	variantCallingCmd.Flags().Int("ploidy", 1, "sample ploidy")
	variantCallingCmd.Flags().IntP("threads", "t", 1, "bcftools threads")
	variantCallingCmd.Flags().IntP("jobs", "j", 4, "parallel HaplotypeCaller jobs")
	variantCallingCmd.Flags().Bool("hard-filter", false, "hard filter the call set")
}
