package gwas

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gmaffy/matsha/annotation"
	"github.com/gmaffy/matsha/manifest"
	"github.com/gmaffy/matsha/variants"
)

const (
	VariantTable            = "gwas_output.variant.tsv"
	SignificantVariantTable = "gwas_output_significant.variant.tsv"
	GeneTable               = "gwas_output.gene.tsv"
	SignificantGeneTable    = "gwas_output_significant.gene.tsv"
	ManhattanPlot           = "gwas_output.manhattan.html"
)

type Options struct {
	VCF     string
	Samples []manifest.Sample
	// Genes is nil when no annotation was supplied.
	Genes *annotation.GeneIndex
	// ContigOrder ranks contigs for sorting; contigs it lacks follow in VCF order.
	ContigOrder map[string]int
	OutDir      string
	Alpha       float64
	MinAC       int
}

// Result is one association test.
type Result struct {
	NTested     int
	NCarriers   int
	Effect      float64
	P           float64
	PAdjusted   float64
	Significant bool
}

type VariantResult struct {
	Contig string
	Pos    int
	Ref    string
	Alt    string
	Gene   string
	Result
}

// Key is contig:pos|gene.
func (v VariantResult) Key() string {
	return fmt.Sprintf("%s:%d|%s", v.Contig, v.Pos, v.Gene)
}

type GeneResult struct {
	Gene      annotation.Gene
	NVariants int
	Result
}

type Summary struct {
	Binary   bool
	Alpha    float64
	Variants []VariantResult
	Genes    []GeneResult
	Files    []string
}

type tested struct {
	site  variants.Site
	calls []variants.Call
}

// Run tests every variant of the VCF, and every annotated gene when an index
// is given, against the manifest phenotypes and writes the result tables.
func Run(opts Options) (Summary, error) {
	if opts.Alpha <= 0 {
		opts.Alpha = 0.05
	}
	if opts.MinAC < 1 {
		opts.MinAC = 1
	}
	fmt.Printf("Running association tests on %s ...\n", opts.VCF)

	vcfSamples, sites, err := variants.ReadSites(opts.VCF)
	if err != nil {
		return Summary{}, err
	}
	cols, err := sampleColumns(vcfSamples, opts.Samples)
	if err != nil {
		return Summary{}, err
	}

	pheno := make([]float64, len(opts.Samples))
	for i, s := range opts.Samples {
		pheno[i] = s.Phenotype
	}
	summary := Summary{Binary: manifest.IsBinary(opts.Samples), Alpha: opts.Alpha}
	order := contigRanks(opts.ContigOrder, sites)

	var kept []tested
	for _, site := range sites {
		calls := make([]variants.Call, len(cols))
		for i, c := range cols {
			calls[i] = site.Calls[c]
		}
		res, ok := associate(calls, pheno, summary.Binary, opts.MinAC)
		if !ok {
			continue
		}
		kept = append(kept, tested{site: site, calls: calls})
		summary.Variants = append(summary.Variants, VariantResult{
			Contig: site.Contig,
			Pos:    site.Pos,
			Ref:    site.Ref,
			Alt:    strings.Join(site.Alts, ","),
			Gene:   opts.Genes.Lookup(site.Contig, site.Pos),
			Result: res,
		})
	}
	sort.SliceStable(summary.Variants, func(i, j int) bool {
		a, b := summary.Variants[i], summary.Variants[j]
		if order[a.Contig] != order[b.Contig] {
			return order[a.Contig] < order[b.Contig]
		}
		return a.Pos < b.Pos
	})
	adjustVariants(summary.Variants, opts.Alpha)

	if opts.Genes != nil {
		summary.Genes = geneLevel(opts.Genes, kept, pheno, summary.Binary, opts.MinAC)
		sort.SliceStable(summary.Genes, func(i, j int) bool {
			a, b := summary.Genes[i].Gene, summary.Genes[j].Gene
			if order[a.Contig] != order[b.Contig] {
				return order[a.Contig] < order[b.Contig]
			}
			return a.Start < b.Start
		})
		adjustGenes(summary.Genes, opts.Alpha)
	}

	files, err := writeOutputs(opts.OutDir, summary, opts.Genes != nil)
	if err != nil {
		return summary, err
	}
	summary.Files = files

	nSig := 0
	for _, v := range summary.Variants {
		if v.Significant {
			nSig++
		}
	}
	fmt.Printf("%d variants tested, %d significant at alpha %g\n", len(summary.Variants), nSig, opts.Alpha)
	return summary, nil
}

// sampleColumns maps each manifest sample to its VCF column.
func sampleColumns(vcfSamples []string, samples []manifest.Sample) ([]int, error) {
	index := make(map[string]int, len(vcfSamples))
	for i, s := range vcfSamples {
		index[s] = i
	}
	cols := make([]int, len(samples))
	var missing []string
	for i, s := range samples {
		c, ok := index[s.ID]
		if !ok {
			missing = append(missing, s.ID)
			continue
		}
		cols[i] = c
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("samples missing from VCF: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func contigRanks(known map[string]int, sites []variants.Site) map[string]int {
	ranks := make(map[string]int)
	next := 0
	for name, r := range known {
		ranks[name] = r
		if r >= next {
			next = r + 1
		}
	}
	for _, s := range sites {
		if _, ok := ranks[s.Contig]; !ok {
			ranks[s.Contig] = next
			next++
		}
	}
	return ranks
}

// associate tests carrier state against phenotype over the non-missing
// samples. It reports false when the site is untestable.
func associate(calls []variants.Call, pheno []float64, binary bool, minAC int) (Result, bool) {
	var x, y []float64
	var a, b, c, d int
	carriers := 0
	for i, call := range calls {
		if call == variants.Missing {
			continue
		}
		carrier := call == variants.Carrier
		if carrier {
			carriers++
			x = append(x, 1)
		} else {
			x = append(x, 0)
		}
		y = append(y, pheno[i])

		if binary {
			isCase := pheno[i] == 1
			switch {
			case carrier && isCase:
				a++
			case carrier:
				b++
			case isCase:
				c++
			default:
				d++
			}
		}
	}
	n := len(x)
	if carriers < minAC || carriers == n {
		return Result{}, false
	}

	res := Result{NTested: n, NCarriers: carriers}
	if binary {
		res.Effect = OddsRatio(a, b, c, d)
		res.P = FisherExact(a, b, c, d)
	} else {
		res.Effect, res.P = LinearRegression(x, y)
	}
	return res, true
}

func geneLevel(idx *annotation.GeneIndex, kept []tested, pheno []float64, binary bool, minAC int) []GeneResult {
	type acc struct {
		gene      *annotation.Gene
		nVariants int
		calls     []variants.Call
	}
	byGene := make(map[*annotation.Gene]*acc)
	var ordered []*acc

	for _, t := range kept {
		for _, g := range idx.Overlapping(t.site.Contig, t.site.Pos) {
			ac, ok := byGene[g]
			if !ok {
				ac = &acc{gene: g, calls: make([]variants.Call, len(t.calls))}
				byGene[g] = ac
				ordered = append(ordered, ac)
			}
			ac.nVariants++
			for i, call := range t.calls {
				// carrier beats non-carrier beats missing
				if call > ac.calls[i] {
					ac.calls[i] = call
				}
			}
		}
	}

	var results []GeneResult
	for _, ac := range ordered {
		res, ok := associate(ac.calls, pheno, binary, minAC)
		if !ok {
			continue
		}
		results = append(results, GeneResult{Gene: *ac.gene, NVariants: ac.nVariants, Result: res})
	}
	return results
}

func adjustVariants(rows []VariantResult, alpha float64) {
	ps := make([]float64, len(rows))
	for i, r := range rows {
		ps[i] = r.P
	}
	for i, adj := range Bonferroni(ps) {
		rows[i].PAdjusted = adj
		rows[i].Significant = adj < alpha
	}
}

func adjustGenes(rows []GeneResult, alpha float64) {
	ps := make([]float64, len(rows))
	for i, r := range rows {
		ps[i] = r.P
	}
	for i, adj := range Bonferroni(ps) {
		rows[i].PAdjusted = adj
		rows[i].Significant = adj < alpha
	}
}

// MinusLog10 is -log10(p) with p floored at the smallest positive float.
func MinusLog10(p float64) float64 {
	if p <= 0 {
		p = math.SmallestNonzeroFloat64
	}
	return -math.Log10(p)
}

func outPath(dir, name string) string {
	return filepath.Join(dir, name)
}
