/*
Copyright © 2025 Godwin Mafireyi <mafireyi@gmail.com>
*/
package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/gmaffy/matsha/annotation"
	"github.com/gmaffy/matsha/gwas"
	"github.com/gmaffy/matsha/manifest"
	"github.com/gmaffy/matsha/reference"
	"github.com/gmaffy/matsha/utils"
)

var gwasCmd = &cobra.Command{
	Use:   "gwas",
	Short: "Association tests on an existing call set",
	Long: `Tests every variant of a multi-sample VCF (and every gene, when a GenBank
annotation is given) against the phenotypes of a sample manifest and writes
the variant and gene level tables.`,
	Run: func(cmd *cobra.Command, args []string) {
		input, iErr := cmd.Flags().GetString("input")
		if iErr != nil {
			log.Fatalf("Error getting input flag: %v", iErr)
		}
		vcf, vErr := cmd.Flags().GetString("vcf")
		if vErr != nil {
			log.Fatalf("Error getting vcf flag: %v", vErr)
		}
		genbank, aErr := cmd.Flags().GetString("genbank")
		if aErr != nil {
			log.Fatalf("Error getting genbank flag: %v", aErr)
		}
		genome, gErr := cmd.Flags().GetString("genome")
		if gErr != nil {
			log.Fatalf("Error getting genome flag: %v", gErr)
		}
		outDir, oErr := cmd.Flags().GetString("output")
		if oErr != nil {
			log.Fatalf("Error getting output flag: %v", oErr)
		}
		alpha, alErr := cmd.Flags().GetFloat64("alpha")
		if alErr != nil {
			log.Fatalf("Error getting alpha flag: %v", alErr)
		}
		minAC, mErr := cmd.Flags().GetInt("min-ac")
		if mErr != nil {
			log.Fatalf("Error getting min-ac flag: %v", mErr)
		}

		configFile, cfErr := cmd.Flags().GetString("config")
		if cfErr != nil {
			log.Fatalf("Error getting config flag: %v", cfErr)
		}
		if configFile != "" {
			cfg, err := utils.ReadConfig(configFile)
			if err != nil {
				log.Fatalf("Error reading config file: %v", err)
			}
			if cfg.Has("alpha") && !cmd.Flags().Changed("alpha") {
				alpha = cfg.Alpha
			}
			if cfg.Has("min_ac") && !cmd.Flags().Changed("min-ac") {
				minAC = cfg.MinAC
			}
		}

		if input == "" || vcf == "" || outDir == "" {
			log.Fatalf("--input, --vcf and --output are required")
		}
		for _, f := range []string{input, vcf, genbank, genome} {
			if f == "" {
				continue
			}
			if _, err := os.Stat(f); err != nil {
				log.Fatalf("%s is not a valid path: %v", f, err)
			}
		}

		samples, err := manifest.ReadPhenotypes(input)
		if err != nil {
			log.Fatalf("Error reading manifest: %v", err)
		}

		opts := gwas.Options{VCF: vcf, Samples: samples, OutDir: outDir, Alpha: alpha, MinAC: minAC}
		if genbank != "" {
			if opts.Genes, err = annotation.LoadGeneIndex(genbank); err != nil {
				log.Fatalf("Error reading annotation: %v", err)
			}
			fmt.Printf("%d genes indexed from %s\n", len(opts.Genes.Genes()), genbank)
		}
		if genome != "" {
			contigs, err := reference.Contigs(genome)
			if err != nil {
				log.Fatalf("Error reading reference: %v", err)
			}
			opts.ContigOrder = reference.Order(contigs)
		}

		summary, err := gwas.Run(opts)
		if err != nil {
			log.Fatalf("GWAS failed: %v", err)
		}
		for _, f := range summary.Files {
			fmt.Printf("%s created\n", f)
		}
	},
}

func init() {
	rootCmd.AddCommand(gwasCmd)

	gwasCmd.Flags().StringP("input", "i", "", "sample manifest (tsv with sample and phenotype columns)")
	gwasCmd.Flags().StringP("vcf", "v", "", "multi-sample VCF")
	gwasCmd.Flags().StringP("genbank", "a", "", "GenBank annotation (optional)")
	gwasCmd.Flags().StringP("genome", "g", "", "reference fasta, used to order contigs (optional)")
	gwasCmd.Flags().StringP("output", "o", "", "output directory")
	gwasCmd.Flags().Float64("alpha", 0.05, "significance level after Bonferroni correction")
	gwasCmd.Flags().Int("min-ac", 1, "minimum carriers for a variant to be tested")
}
