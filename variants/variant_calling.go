package variants

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gmaffy/matsha/utils"
)

const (
	CallerGatk     = "gatk"
	CallerBcftools = "bcftools"
)

// ValidCaller reports whether name is a supported variant caller.
func ValidCaller(name string) bool {
	return name == CallerGatk || name == CallerBcftools
}

// GVCFPath is where the per-sample GVCF for bam goes inside tempDir.
func GVCFPath(tempDir string, bam string) string {
	base := filepath.Base(bam)
	base = strings.TrimSuffix(base, ".bam")
	base = strings.TrimSuffix(base, ".sorted.groupAdded")
	return filepath.Join(tempDir, base+".g.vcf")
}

// ---------------------------------------------- GATK route ------------------------------------------------------- //

func HaplotypeCaller(ctx context.Context, runner utils.Runner, tools utils.Tools, refFile, bam, gvcf string, ploidy int) error {
	if ploidy < 1 {
		ploidy = 1
	}
	cmdStr := fmt.Sprintf("%s HaplotypeCaller -R %s -I %s -O %s -ERC GVCF -ploidy %d",
		tools.GatkCmd(), utils.ShellQuote(refFile), utils.ShellQuote(bam), utils.ShellQuote(gvcf), ploidy)
	fmt.Println(cmdStr)
	if err := runner.Run(ctx, cmdStr); err != nil {
		return fmt.Errorf("HaplotypeCaller on %s: %w", filepath.Base(bam), err)
	}
	return nil
}

// WriteGVCFList writes the per-sample GVCF paths, one per line, for CombineGVCFs.
func WriteGVCFList(path string, gvcfs []string) error {
	if err := os.WriteFile(path, []byte(strings.Join(gvcfs, "\n")+"\n"), 0644); err != nil {
		return fmt.Errorf("writing GVCF list: %w", err)
	}
	return nil
}

func CombineGVCFs(ctx context.Context, runner utils.Runner, tools utils.Tools, refFile, gvcfList, out string) error {
	cmdStr := fmt.Sprintf("%s CombineGVCFs -R %s -V %s -O %s",
		tools.GatkCmd(), utils.ShellQuote(refFile), utils.ShellQuote(gvcfList), utils.ShellQuote(out))
	fmt.Println(cmdStr)
	if err := runner.Run(ctx, cmdStr); err != nil {
		return fmt.Errorf("CombineGVCFs: %w", err)
	}
	return nil
}

func GenotypeGVCFs(ctx context.Context, runner utils.Runner, tools utils.Tools, refFile, gvcf, out string) error {
	cmdStr := fmt.Sprintf("%s GenotypeGVCFs -R %s -V %s -O %s",
		tools.GatkCmd(), utils.ShellQuote(refFile), utils.ShellQuote(gvcf), utils.ShellQuote(out))
	fmt.Println(cmdStr)
	if err := runner.Run(ctx, cmdStr); err != nil {
		return fmt.Errorf("GenotypeGVCFs: %w", err)
	}
	return nil
}

// -------------------------------------------- bcftools route ----------------------------------------------------- //

// BcftoolsCall pileups every BAM of bamList jointly and writes a gVCF with
// reference blocks to out.
func BcftoolsCall(ctx context.Context, runner utils.Runner, tools utils.Tools, refFile, bamList, out string, ploidy, threads int) error {
	if ploidy < 1 {
		ploidy = 1
	}
	if threads < 1 {
		threads = 1
	}
	cmdStr := fmt.Sprintf("%s mpileup --threads %d -f %s -b %s -a AD,DP -Ou | %s call --threads %d -m -g 0 --ploidy %d -Ov -o %s",
		tools.Bcftools, threads, utils.ShellQuote(refFile), utils.ShellQuote(bamList),
		tools.Bcftools, threads, ploidy, utils.ShellQuote(out))
	fmt.Println(cmdStr)
	if err := runner.Run(ctx, cmdStr); err != nil {
		return fmt.Errorf("bcftools calling: %w", err)
	}
	return nil
}
