package gwas

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

var variantHeader = []string{"chrom", "variant", "pos", "ref", "alt", "gene", "n_tested", "n_carriers", "effect", "p_value", "p_adjusted", "significant"}

var geneHeader = []string{"chrom", "gene", "start", "end", "n_variants", "n_tested", "n_carriers", "effect", "p_value", "p_adjusted", "significant"}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func resultCells(r Result) []string {
	return []string{
		strconv.Itoa(r.NTested),
		strconv.Itoa(r.NCarriers),
		formatFloat(r.Effect),
		formatFloat(r.P),
		formatFloat(r.PAdjusted),
		strconv.FormatBool(r.Significant),
	}
}

func variantRecords(rows []VariantResult, onlySignificant bool) [][]string {
	records := [][]string{variantHeader}
	for _, v := range rows {
		if onlySignificant && !v.Significant {
			continue
		}
		rec := []string{v.Contig, v.Key(), strconv.Itoa(v.Pos), v.Ref, v.Alt, v.Gene}
		records = append(records, append(rec, resultCells(v.Result)...))
	}
	return records
}

func geneRecords(rows []GeneResult, onlySignificant bool) [][]string {
	records := [][]string{geneHeader}
	for _, g := range rows {
		if onlySignificant && !g.Significant {
			continue
		}
		rec := []string{g.Gene.Contig, g.Gene.LocusTag, strconv.Itoa(g.Gene.Start), strconv.Itoa(g.Gene.End), strconv.Itoa(g.NVariants)}
		records = append(records, append(rec, resultCells(g.Result)...))
	}
	return records
}

// writeTable writes records (header first) as a tab separated table. Rows
// go through a string-typed frame first so ragged records are rejected.
func writeTable(path string, records [][]string) error {
	if len(records) > 1 {
		df := dataframe.LoadRecords(records,
			dataframe.HasHeader(true),
			dataframe.DetectTypes(false),
			dataframe.DefaultType(series.String),
		)
		if df.Err != nil {
			return fmt.Errorf("building table %s: %w", path, df.Err)
		}
		records = df.Records()
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	writer.Comma = '\t'
	if err := writer.WriteAll(records); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return file.Close()
}

type table struct {
	name    string
	records [][]string
}

func writeOutputs(dir string, summary Summary, withGenes bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	tables := []table{
		{VariantTable, variantRecords(summary.Variants, false)},
		{SignificantVariantTable, variantRecords(summary.Variants, true)},
	}
	// tables of an earlier run that no longer apply are removed
	var stale []string
	if withGenes {
		tables = append(tables, table{GeneTable, geneRecords(summary.Genes, false)})
		if significant := geneRecords(summary.Genes, true); len(significant) > 1 {
			tables = append(tables, table{SignificantGeneTable, significant})
		} else {
			stale = append(stale, SignificantGeneTable)
		}
	} else {
		stale = append(stale, GeneTable, SignificantGeneTable)
	}
	for _, name := range stale {
		if err := os.Remove(outPath(dir, name)); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	var files []string
	for _, t := range tables {
		path := outPath(dir, t.name)
		if err := writeTable(path, t.records); err != nil {
			return files, err
		}
		files = append(files, path)
	}

	plot := outPath(dir, ManhattanPlot)
	if err := WriteManhattan(plot, summary.Variants, summary.Alpha); err != nil {
		return files, fmt.Errorf("writing Manhattan plot: %w", err)
	}
	return append(files, plot), nil
}
