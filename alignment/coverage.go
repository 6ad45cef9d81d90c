package alignment

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// AllContigs names the genome-wide row of a coverage file.
const AllContigs = "all"

var coverageHeader = []string{"contig", "length", "covered_bases", "mean_depth", "breadth"}

type ContigCoverage struct {
	Contig    string
	Length    int
	Covered   int
	MeanDepth float64
	Breadth   float64
}

type Coverage struct {
	Contigs []ContigCoverage
	Total   ContigCoverage
}

// skipFlags are reads that do not count towards depth.
const skipFlags = sam.Unmapped | sam.Secondary | sam.Supplementary | sam.Duplicate | sam.QCFail

// ComputeCoverage walks every record of a BAM file and summarises read depth
// per reference sequence. Only aligned bases (M, =, X) add depth.
func ComputeCoverage(bamPath string) (Coverage, error) {
	f, err := os.Open(bamPath)
	if err != nil {
		return Coverage{}, err
	}
	defer f.Close()

	br, err := bam.NewReader(f, 1)
	if err != nil {
		return Coverage{}, fmt.Errorf("reading %s: %w", bamPath, err)
	}
	defer br.Close()

	refs := br.Header().Refs()
	diffs := make([][]int32, len(refs))
	for i, ref := range refs {
		diffs[i] = make([]int32, ref.Len()+1)
	}

	for {
		rec, err := br.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Coverage{}, fmt.Errorf("reading %s: %w", bamPath, err)
		}
		if rec.Flags&skipFlags != 0 || rec.Ref == nil || rec.Ref.ID() < 0 {
			continue
		}
		diff := diffs[rec.Ref.ID()]
		limit := len(diff) - 1
		pos := rec.Pos
		for _, co := range rec.Cigar {
			n := co.Len()
			switch co.Type() {
			case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
				start, end := pos, pos+n
				if start < 0 {
					start = 0
				}
				if end > limit {
					end = limit
				}
				if start < end {
					diff[start]++
					diff[end]--
				}
			}
			if co.Type().Consumes().Reference > 0 {
				pos += n
			}
		}
	}

	var cov Coverage
	var totalLen, totalCovered int
	var totalDepth float64
	for i, ref := range refs {
		var depth int32
		var covered int
		var sum float64
		for _, d := range diffs[i][:ref.Len()] {
			depth += d
			if depth > 0 {
				covered++
				sum += float64(depth)
			}
		}
		cov.Contigs = append(cov.Contigs, summarise(ref.Name(), ref.Len(), covered, sum))
		totalLen += ref.Len()
		totalCovered += covered
		totalDepth += sum
	}
	cov.Total = summarise(AllContigs, totalLen, totalCovered, totalDepth)
	return cov, nil
}

func summarise(name string, length, covered int, depthSum float64) ContigCoverage {
	c := ContigCoverage{Contig: name, Length: length, Covered: covered}
	if length > 0 {
		c.MeanDepth = depthSum / float64(length)
		c.Breadth = float64(covered) / float64(length)
	}
	return c
}

func WriteCoverage(path string, cov Coverage) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create coverage file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	writer.Comma = '\t'

	if err := writer.Write(coverageHeader); err != nil {
		return err
	}
	rows := append(append([]ContigCoverage{}, cov.Contigs...), cov.Total)
	for _, c := range rows {
		record := []string{
			c.Contig,
			strconv.Itoa(c.Length),
			strconv.Itoa(c.Covered),
			strconv.FormatFloat(c.MeanDepth, 'f', 4, 64),
			strconv.FormatFloat(c.Breadth, 'f', 4, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

// ReadCoverage loads a file written by WriteCoverage.
func ReadCoverage(path string) (Coverage, error) {
	f, err := os.Open(path)
	if err != nil {
		return Coverage{}, err
	}
	defer f.Close()

	df := dataframe.ReadCSV(f,
		dataframe.WithDelimiter('\t'),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return Coverage{}, fmt.Errorf("coverage file %s: %w", path, df.Err)
	}

	var cov Coverage
	found := false
	for _, row := range df.Records()[1:] {
		if len(row) != len(coverageHeader) {
			return Coverage{}, fmt.Errorf("coverage file %s: malformed row %v", path, row)
		}
		length, err1 := strconv.Atoi(row[1])
		covered, err2 := strconv.Atoi(row[2])
		mean, err3 := strconv.ParseFloat(row[3], 64)
		breadth, err4 := strconv.ParseFloat(row[4], 64)
		if err := errors.Join(err1, err2, err3, err4); err != nil {
			return Coverage{}, fmt.Errorf("coverage file %s: %w", path, err)
		}
		c := ContigCoverage{Contig: row[0], Length: length, Covered: covered, MeanDepth: mean, Breadth: breadth}
		if c.Contig == AllContigs {
			cov.Total = c
			found = true
			continue
		}
		cov.Contigs = append(cov.Contigs, c)
	}
	if !found {
		return Coverage{}, fmt.Errorf("coverage file %s has no %q row", path, AllContigs)
	}
	return cov, nil
}
