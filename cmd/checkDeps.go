/*
Copyright © 2025 Godwin Mafireyi <mafireyi@gmail.com>
*/
package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/gmaffy/matsha/utils"
)

var checkDepsCmd = &cobra.Command{
	Use:   "checkDeps",
	Short: "Reports which external tools are on PATH",
	Run: func(cmd *cobra.Command, args []string) {
		tools, err := utils.LoadTools()
		if err != nil {
			log.Fatalf("%v", err)
		}

		missing := 0
		for _, t := range []struct{ name, bin string }{
			{"bwa", tools.Bwa},
			{"samtools", tools.Samtools},
			{"gatk", tools.Gatk},
			{"bcftools", tools.Bcftools},
		} {
			if err := utils.CheckDeps(t.bin); err != nil {
				fmt.Printf("%-10s MISSING (%s)\n", t.name, t.bin)
				missing++
				continue
			}
			fmt.Printf("%-10s OK (%s)\n", t.name, t.bin)
		}
		if missing > 0 {
			log.Fatalf("%d tools missing; bcftools is only needed with --caller bcftools", missing)
		}
	},
}

func init() {
	rootCmd.AddCommand(checkDepsCmd)
}
