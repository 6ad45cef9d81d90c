/*
Copyright © 2025 Godwin Mafireyi <mafireyi@gmail.com>
*/
package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/gmaffy/matsha/utils"
	"github.com/gmaffy/matsha/variants"
)

// hardFilterCmd represents the hardFilter command
var hardFilterCmd = &cobra.Command{
	Use:   "hardFilter",
	Short: "Hard filters a multi-sample VCF",
	Long: `gatk: splits SNPs and INDELs, applies the filter expressions to each and
merges the passing records. bcftools: drops records with QUAL<30.`,
	Run: func(cmd *cobra.Command, args []string) {
		variant, vErr := cmd.Flags().GetString("variant")
		if vErr != nil {
			log.Fatalf("Error getting variant flag: %v", vErr)
		}
		refFile, rErr := cmd.Flags().GetString("reference")
		if rErr != nil {
			log.Fatalf("Error getting reference flag: %v", rErr)
		}
		out, oErr := cmd.Flags().GetString("out")
		if oErr != nil {
			log.Fatalf("Error getting out flag: %v", oErr)
		}
		caller, cErr := cmd.Flags().GetString("caller")
		if cErr != nil {
			log.Fatalf("Error getting caller flag: %v", cErr)
		}
		keep, kErr := cmd.Flags().GetBool("keep-temp")
		if kErr != nil {
			log.Fatalf("Error getting keep-temp flag: %v", kErr)
		}

		if !variants.ValidCaller(caller) {
			log.Fatalf("unknown caller %q", caller)
		}
		if _, err := os.Stat(variant); err != nil {
			log.Fatalf("Variant file %s is not a valid file: %v", variant, err)
		}
		if caller == variants.CallerGatk {
			if _, err := os.Stat(refFile); err != nil {
				log.Fatalf("Reference file %s is not a valid file: %v", refFile, err)
			}
		}
		if out == "" {
			log.Fatalf("--out is required")
		}

		tools, err := utils.LoadTools()
		if err != nil {
			log.Fatalf("%v", err)
		}
		files, err := variants.HardFilter(context.Background(), utils.BashRunner{}, tools, caller, refFile, variant, out)
		if err != nil {
			log.Fatalf("Hard filtering failed: %v", err)
		}
		if !keep {
			variants.RemoveAll(files)
		}
		fmt.Printf("%s created\n", out)
	},
}

func init() {
	rootCmd.AddCommand(hardFilterCmd)

	hardFilterCmd.Flags().StringP("variant", "V", "", "multi-sample VCF file")
	hardFilterCmd.Flags().StringP("reference", "r", "", "reference fasta (gatk only)")
	hardFilterCmd.Flags().StringP("out", "o", "", "filtered VCF")
	hardFilterCmd.Flags().String("caller", variants.CallerGatk, "which filter set to apply: gatk or bcftools")
	hardFilterCmd.Flags().Bool("keep-temp", false, "keep the per-type intermediate VCFs")
}
