package gwas

import (
	"fmt"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

func createManhattanChart(contig string, rows []VariantResult, threshold float64) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}),
		charts.WithTitleOpts(opts.Title{Title: contig}),
		charts.WithYAxisOpts(opts.YAxis{Name: "-log10(p)"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Position (bp)", Type: "value"}),
	)

	var normal, significant []opts.ScatterData
	for _, r := range rows {
		point := opts.ScatterData{
			Name:       r.Key(),
			Value:      []interface{}{r.Pos, MinusLog10(r.P)},
			SymbolSize: 6,
		}
		if r.Significant {
			significant = append(significant, point)
		} else {
			normal = append(normal, point)
		}
	}

	scatter.AddSeries("variants", normal).
		AddSeries("significant", significant,
			charts.WithMarkLineNameYAxisItemOpts(opts.MarkLineNameYAxisItem{Name: "Bonferroni", YAxis: threshold}),
		)
	return scatter
}

// WriteManhattan renders one -log10(p) chart per contig into an HTML page.
func WriteManhattan(outputHTML string, rows []VariantResult, alpha float64) error {
	fmt.Printf("Creating Manhattan plot ...\n")

	threshold := 0.0
	if len(rows) > 0 {
		threshold = MinusLog10(alpha / float64(len(rows)))
	}

	var contigs []string
	byContig := make(map[string][]VariantResult)
	for _, r := range rows {
		if _, ok := byContig[r.Contig]; !ok {
			contigs = append(contigs, r.Contig)
		}
		byContig[r.Contig] = append(byContig[r.Contig], r)
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	for _, contig := range contigs {
		page.AddCharts(createManhattanChart(contig, byContig[contig], threshold))
	}

	f, err := os.Create(outputHTML)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return err
	}
	return f.Close()
}
