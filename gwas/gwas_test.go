package gwas

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/combin"

	"github.com/gmaffy/matsha/annotation"
	"github.com/gmaffy/matsha/manifest"
)

func TestFisherExact(t *testing.T) {
	// perfect separation of a 10/10 cohort
	want := 2 / float64(combin.Binomial(20, 10))
	assert.InEpsilon(t, want, FisherExact(10, 0, 0, 10), 1e-9)
	assert.InEpsilon(t, want, FisherExact(0, 10, 10, 0), 1e-9)

	// classic tea tasting table
	assert.InDelta(t, 0.4857, FisherExact(3, 1, 1, 3), 1e-4)

	assert.InDelta(t, 1.0, FisherExact(2, 2, 2, 2), 1e-9)
	assert.Equal(t, 1.0, FisherExact(0, 0, 3, 3))
}

func TestOddsRatio(t *testing.T) {
	assert.InDelta(t, 441.0, OddsRatio(10, 0, 0, 10), 1e-9)
	assert.InDelta(t, 1.0, OddsRatio(2, 2, 2, 2), 1e-9)
}

func TestLinearRegression(t *testing.T) {
	x := []float64{0, 0, 0, 1, 1, 1}
	y := []float64{1.0, 1.1, 0.9, 3.0, 3.1, 2.9}
	beta, p := LinearRegression(x, y)
	assert.InDelta(t, 2.0, beta, 1e-9)
	assert.Less(t, p, 1e-4)

	beta, p = LinearRegression([]float64{0, 1, 0, 1}, []float64{1, 1, 2, 2})
	assert.InDelta(t, 0.0, beta, 1e-9)
	assert.InDelta(t, 1.0, p, 1e-9)

	_, p = LinearRegression([]float64{0, 1}, []float64{1, 2})
	assert.Equal(t, 1.0, p)
}

func TestBonferroni(t *testing.T) {
	assert.InDeltaSlice(t, []float64{0.03, 1, 0.6}, Bonferroni([]float64{0.01, 0.5, 0.2}), 1e-12)
	assert.Empty(t, Bonferroni(nil))
}

// cohort of 20: S01-S10 are cases. Variant 1768 and 2542 separate cases
// from controls, 4000 is noise and 100 is carried by everyone.
func writeCohort(t *testing.T, dir string) (string, []manifest.Sample) {
	t.Helper()
	var samples []manifest.Sample
	var names []string
	for i := 1; i <= 20; i++ {
		id := fmt.Sprintf("S%02d", i)
		pheno := 0.0
		if i <= 10 {
			pheno = 1
		}
		samples = append(samples, manifest.Sample{ID: id, Phenotype: pheno})
		names = append(names, id)
	}

	var b strings.Builder
	b.WriteString("##fileformat=VCFv4.2\n")
	// extra VCF sample not in the manifest
	b.WriteString("#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT\t" + strings.Join(names, "\t") + "\tEXTRA\n")
	row := func(contig string, pos int, gt func(i int) string) {
		fmt.Fprintf(&b, "%s\t%d\t.\tA\tG\t100\tPASS\t.\tGT", contig, pos)
		for i := 1; i <= 20; i++ {
			b.WriteString("\t" + gt(i))
		}
		b.WriteString("\t1\n")
	}
	cases := func(i int) string {
		if i <= 10 {
			return "1"
		}
		return "0"
	}
	row("plasmid1", 50, func(i int) string {
		if i%2 == 0 {
			return "1"
		}
		return "0"
	})
	row("NZ_CP035288.1", 2542, cases)
	row("NZ_CP035288.1", 1768, cases)
	row("NZ_CP035288.1", 100, func(int) string { return "1" })
	row("NZ_CP035288.1", 4000, func(i int) string {
		if i%3 == 0 {
			return "1"
		}
		return "0"
	})

	path := filepath.Join(dir, "combined.vcf")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path, samples
}

func testIndex(t *testing.T) *annotation.GeneIndex {
	t.Helper()
	idx, err := annotation.NewGeneIndex([]annotation.Gene{
		{Contig: "NZ_CP035288.1", LocusTag: "EQW00_RS00005", Start: 1, End: 1359, Strand: '+'},
		{Contig: "NZ_CP035288.1", LocusTag: "EQW00_RS00010", Start: 1517, End: 2651, Strand: '+'},
		{Contig: "NZ_CP035288.1", LocusTag: "EQW00_RS00020", Start: 3900, End: 4200, Strand: '-'},
	})
	require.NoError(t, err)
	return idx
}

func readColumn(t *testing.T, path string, col int) []string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	var out []string
	for _, line := range lines[1:] {
		out = append(out, strings.Split(line, "\t")[col])
	}
	return out
}

func TestRunWithAnnotation(t *testing.T) {
	dir := t.TempDir()
	vcf, samples := writeCohort(t, dir)
	outDir := filepath.Join(dir, "all")

	summary, err := Run(Options{
		VCF:         vcf,
		Samples:     samples,
		Genes:       testIndex(t),
		ContigOrder: map[string]int{"NZ_CP035288.1": 0, "plasmid1": 1},
		OutDir:      outDir,
		Alpha:       0.05,
	})
	require.NoError(t, err)
	assert.True(t, summary.Binary)

	// position 100 has no non-carrier and is not tested
	require.Len(t, summary.Variants, 4)
	assert.Equal(t, "NZ_CP035288.1:1768|EQW00_RS00010", summary.Variants[0].Key())
	assert.Equal(t, "NZ_CP035288.1:2542|EQW00_RS00010", summary.Variants[1].Key())
	assert.Equal(t, "NZ_CP035288.1:4000|EQW00_RS00020", summary.Variants[2].Key())
	assert.Equal(t, "plasmid1:50|", summary.Variants[3].Key())
	assert.InDelta(t, 4*2/float64(combin.Binomial(20, 10)), summary.Variants[0].PAdjusted, 1e-12)

	assert.Equal(t,
		[]string{"NZ_CP035288.1:1768|EQW00_RS00010", "NZ_CP035288.1:2542|EQW00_RS00010"},
		readColumn(t, filepath.Join(outDir, SignificantVariantTable), 1))
	assert.Len(t, readColumn(t, filepath.Join(outDir, VariantTable), 1), 4)

	require.Len(t, summary.Genes, 2)
	assert.Equal(t, 2, summary.Genes[0].NVariants)
	assert.Equal(t, []string{"EQW00_RS00010", "EQW00_RS00020"}, readColumn(t, filepath.Join(outDir, GeneTable), 1))
	assert.Equal(t, []string{"EQW00_RS00010"}, readColumn(t, filepath.Join(outDir, SignificantGeneTable), 1))

	raw, err := os.ReadFile(filepath.Join(outDir, GeneTable))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), strings.Join(geneHeader, "\t")+"\n"))
	assert.FileExists(t, filepath.Join(outDir, ManhattanPlot))
	assert.Len(t, summary.Files, 5)
}

func TestRunWithoutAnnotation(t *testing.T) {
	dir := t.TempDir()
	vcf, samples := writeCohort(t, dir)
	outDir := filepath.Join(dir, "all")

	summary, err := Run(Options{VCF: vcf, Samples: samples, OutDir: outDir})
	require.NoError(t, err)
	assert.Empty(t, summary.Genes)

	// contigs follow VCF order when none is given
	assert.Equal(t,
		[]string{"NZ_CP035288.1:1768|", "NZ_CP035288.1:2542|"},
		readColumn(t, filepath.Join(outDir, SignificantVariantTable), 1))
	assert.Equal(t, "plasmid1:50|", summary.Variants[0].Key())
	assert.NoFileExists(t, filepath.Join(outDir, GeneTable))
	assert.NoFileExists(t, filepath.Join(outDir, SignificantGeneTable))
}

func TestRunQuantitative(t *testing.T) {
	dir := t.TempDir()
	vcf, samples := writeCohort(t, dir)
	for i := range samples {
		samples[i].Phenotype = 2.5 + float64(i%3)*0.1
		if i < 10 {
			samples[i].Phenotype += 10
		}
	}

	summary, err := Run(Options{VCF: vcf, Samples: samples, OutDir: filepath.Join(dir, "all"), Alpha: 0.01})
	require.NoError(t, err)
	assert.False(t, summary.Binary)
	for _, v := range summary.Variants {
		if v.Pos == 1768 {
			assert.InDelta(t, 10.0, v.Effect, 0.1)
			assert.True(t, v.Significant)
		}
	}
}

func TestRunMissingSample(t *testing.T) {
	dir := t.TempDir()
	vcf, samples := writeCohort(t, dir)
	samples = append(samples, manifest.Sample{ID: "GHOST", Phenotype: 1})
	_, err := Run(Options{VCF: vcf, Samples: samples, OutDir: dir})
	assert.ErrorContains(t, err, "samples missing from VCF: GHOST")
}

func TestRunNoTestableVariants(t *testing.T) {
	dir := t.TempDir()
	vcf, samples := writeCohort(t, dir)
	outDir := filepath.Join(dir, "all")
	_, err := Run(Options{VCF: vcf, Samples: samples, OutDir: outDir, Genes: testIndex(t)})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(outDir, SignificantGeneTable))

	summary, err := Run(Options{VCF: vcf, Samples: samples, OutDir: outDir, Genes: testIndex(t), MinAC: 50})
	require.NoError(t, err)
	assert.Empty(t, summary.Variants)

	raw, err := os.ReadFile(filepath.Join(outDir, GeneTable))
	require.NoError(t, err)
	assert.Equal(t, strings.Join(geneHeader, "\t")+"\n", string(raw))
	assert.NoFileExists(t, filepath.Join(outDir, SignificantGeneTable), "no gene passed, earlier table removed")

	raw, err = os.ReadFile(filepath.Join(outDir, SignificantVariantTable))
	require.NoError(t, err)
	assert.Equal(t, strings.Join(variantHeader, "\t")+"\n", string(raw))
}

func TestMinusLog10(t *testing.T) {
	assert.InDelta(t, 2.0, MinusLog10(0.01), 1e-12)
	assert.False(t, math.IsInf(MinusLog10(0), 1))
}
