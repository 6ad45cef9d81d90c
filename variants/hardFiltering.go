package variants

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gmaffy/matsha/utils"
)

var snpFilters = [][2]string{
	{"QD < 2.0", "QD2"},
	{"QUAL < 30.0", "QUAL30"},
	{"SOR > 3.0", "SOR3"},
	{"FS > 60.0", "FS60"},
	{"MQ < 40.0", "MQ40"},
	{"MQRankSum < -12.5", "MQRankSum-12.5"},
	{"ReadPosRankSum < -8.0", "ReadPosRankSum-8"},
}

var indelFilters = [][2]string{
	{"QD < 2.0", "QD2"},
	{"QUAL < 30.0", "QUAL30"},
	{"FS > 200.0", "FS200"},
	{"ReadPosRankSum < -20.0", "ReadPosRankSum-20"},
}

// bcftools has no per-type thresholds here; calls below QUAL 30 are dropped.
const bcftoolsFilter = "QUAL<30"

// typedPath turns x.vcf into x.<suffix>.vcf.
func typedPath(vcf string, suffix string) string {
	return strings.TrimSuffix(vcf, ".vcf") + "." + suffix + ".vcf"
}

func SelectVariantType(ctx context.Context, runner utils.Runner, tools utils.Tools, refFile, vcf, varType, out string) error {
	cmdStr := fmt.Sprintf("%s SelectVariants -R %s -V %s --select-type-to-include %s -O %s",
		tools.GatkCmd(), utils.ShellQuote(refFile), utils.ShellQuote(vcf), varType, utils.ShellQuote(out))
	fmt.Println(cmdStr)
	if err := runner.Run(ctx, cmdStr); err != nil {
		return fmt.Errorf("selecting %s variants: %w", varType, err)
	}
	return nil
}

// FilterVariants marks records failing any of filters, then keeps only the
// records that pass.
func FilterVariants(ctx context.Context, runner utils.Runner, tools utils.Tools, refFile, vcf, out string, filters [][2]string) error {
	marked := typedPath(out, "columns")
	var b strings.Builder
	for _, f := range filters {
		fmt.Fprintf(&b, " -filter %s --filter-name %s", utils.ShellQuote(f[0]), utils.ShellQuote(f[1]))
	}

	cmdStr := fmt.Sprintf("%s VariantFiltration -R %s -V %s%s -O %s",
		tools.GatkCmd(), utils.ShellQuote(refFile), utils.ShellQuote(vcf), b.String(), utils.ShellQuote(marked))
	fmt.Println(cmdStr)
	if err := runner.Run(ctx, cmdStr); err != nil {
		return fmt.Errorf("VariantFiltration on %s: %w", vcf, err)
	}

	sCmdStr := fmt.Sprintf("%s SelectVariants -R %s --exclude-filtered -V %s -O %s",
		tools.GatkCmd(), utils.ShellQuote(refFile), utils.ShellQuote(marked), utils.ShellQuote(out))
	fmt.Println(sCmdStr)
	if err := runner.Run(ctx, sCmdStr); err != nil {
		return fmt.Errorf("excluding filtered records of %s: %w", vcf, err)
	}
	return nil
}

// HardFilter splits vcf into SNPs and INDELs, filters each with its own
// thresholds and merges the survivors into out. It returns the intermediate
// files it created.
func HardFilter(ctx context.Context, runner utils.Runner, tools utils.Tools, caller, refFile, vcf, out string) ([]string, error) {
	if caller == CallerBcftools {
		cmdStr := fmt.Sprintf("%s filter -e %s -Ov -o %s %s",
			tools.Bcftools, utils.ShellQuote(bcftoolsFilter), utils.ShellQuote(out), utils.ShellQuote(vcf))
		fmt.Println(cmdStr)
		if err := runner.Run(ctx, cmdStr); err != nil {
			return nil, fmt.Errorf("bcftools filter: %w", err)
		}
		return nil, nil
	}

	snpVCF := typedPath(vcf, "SNP")
	indelVCF := typedPath(vcf, "INDEL")
	snpFiltered := typedPath(snpVCF, "hard_filtered")
	indelFiltered := typedPath(indelVCF, "hard_filtered")
	intermediates := []string{
		snpVCF, indelVCF,
		snpFiltered, indelFiltered,
		typedPath(snpFiltered, "columns"), typedPath(indelFiltered, "columns"),
	}

	if err := SelectVariantType(ctx, runner, tools, refFile, vcf, "SNP", snpVCF); err != nil {
		return intermediates, err
	}
	if err := SelectVariantType(ctx, runner, tools, refFile, vcf, "INDEL", indelVCF); err != nil {
		return intermediates, err
	}
	if err := FilterVariants(ctx, runner, tools, refFile, snpVCF, snpFiltered, snpFilters); err != nil {
		return intermediates, err
	}
	if err := FilterVariants(ctx, runner, tools, refFile, indelVCF, indelFiltered, indelFilters); err != nil {
		return intermediates, err
	}

	mergeCmdStr := fmt.Sprintf("%s MergeVcfs -I %s -I %s -O %s",
		tools.GatkCmd(), utils.ShellQuote(snpFiltered), utils.ShellQuote(indelFiltered), utils.ShellQuote(out))
	fmt.Println(mergeCmdStr)
	if err := runner.Run(ctx, mergeCmdStr); err != nil {
		return intermediates, fmt.Errorf("MergeVcfs: %w", err)
	}
	return intermediates, nil
}

// RemoveAll deletes files, ignoring ones that are already gone.
func RemoveAll(files []string) {
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			fmt.Printf("could not remove %s: %v\n", f, err)
		}
		os.Remove(f + ".idx")
	}
}
