// Package manifest reads the tab-separated sample sheet that drives a run.
//
// The sheet needs a header row. Columns are found by name:
//
//	sample	read1	read2	phenotype
//
// read2 is only required for paired-end runs. Relative read paths are
// resolved against the directory holding the sheet.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio/fastq"
	"github.com/biogo/biogo/seq/linear"
	"github.com/brentp/xopen"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

const (
	ColSample    = "sample"
	ColRead1     = "read1"
	ColRead2     = "read2"
	ColPhenotype = "phenotype"
)

type Sample struct {
	ID        string
	Read1     string
	Read2     string
	Phenotype float64
}

// BaseName is the name every per-sample artifact is derived from: the base
// name of the first read file without a trailing .gz.
func (s Sample) BaseName() string {
	return strings.TrimSuffix(filepath.Base(s.Read1), ".gz")
}

func (s Sample) Paired() bool {
	return s.Read2 != ""
}

// Read parses the manifest at path. With paired set every sample must name a
// second read file; otherwise read2 is ignored.
func Read(path string, paired bool) ([]Sample, error) {
	return read(path, true, paired)
}

// ReadPhenotypes parses a manifest that only needs the sample and phenotype
// columns. Read columns, when present, are ignored.
func ReadPhenotypes(path string) ([]Sample, error) {
	return read(path, false, false)
}

func read(path string, reads, paired bool) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	df := dataframe.ReadCSV(f,
		dataframe.WithDelimiter('\t'),
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("manifest %s is malformed: %w", path, df.Err)
	}

	names := make(map[string]bool)
	for _, n := range df.Names() {
		names[n] = true
	}
	required := []string{ColSample, ColPhenotype}
	if reads {
		required = append(required, ColRead1)
	}
	if paired {
		required = append(required, ColRead2)
	}
	for _, col := range required {
		if !names[col] {
			return nil, fmt.Errorf("manifest %s is missing column %q", path, col)
		}
	}

	baseDir := filepath.Dir(path)
	ids := df.Col(ColSample).Records()
	phenos := df.Col(ColPhenotype).Records()
	var read1, read2 []string
	if reads {
		read1 = df.Col(ColRead1).Records()
	}
	if paired {
		read2 = df.Col(ColRead2).Records()
	}

	seen := make(map[string]bool)
	samples := make([]Sample, 0, df.Nrow())
	for i := 0; i < df.Nrow(); i++ {
		row := i + 2 // header is line 1
		id := cell(ids[i])
		if id == "" {
			return nil, fmt.Errorf("manifest line %d: empty sample id", row)
		}
		if seen[id] {
			return nil, fmt.Errorf("manifest line %d: duplicate sample id %q", row, id)
		}
		seen[id] = true

		pheno, err := strconv.ParseFloat(cell(phenos[i]), 64)
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: sample %s has a non-numeric phenotype %q", row, id, phenos[i])
		}

		s := Sample{ID: id, Phenotype: pheno}
		if reads {
			r1 := cell(read1[i])
			if r1 == "" {
				return nil, fmt.Errorf("manifest line %d: sample %s has no read1", row, id)
			}
			s.Read1 = resolve(baseDir, r1)
		}
		if paired {
			r2 := cell(read2[i])
			if r2 == "" {
				return nil, fmt.Errorf("manifest line %d: sample %s has no read2 but --paired was given", row, id)
			}
			s.Read2 = resolve(baseDir, r2)
		}
		samples = append(samples, s)
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("manifest %s lists no samples", path)
	}
	if !reads {
		return samples, nil
	}

	base := make(map[string]string)
	for _, s := range samples {
		if other, ok := base[s.BaseName()]; ok {
			return nil, fmt.Errorf("samples %s and %s share the read file name %s", other, s.ID, s.BaseName())
		}
		base[s.BaseName()] = s.ID
	}
	return samples, nil
}

// cell normalises a gota string record; gota renders missing values as NaN.
func cell(v string) string {
	v = strings.TrimSpace(v)
	if v == "NaN" {
		return ""
	}
	return v
}

func resolve(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// Validate checks that every read file exists and starts with a FASTQ record.
func Validate(samples []Sample) error {
	for _, s := range samples {
		files := []string{s.Read1}
		if s.Paired() {
			files = append(files, s.Read2)
		}
		for _, f := range files {
			if err := checkFastq(f); err != nil {
				return fmt.Errorf("sample %s: %w", s.ID, err)
			}
		}
	}
	return nil
}

func checkFastq(path string) error {
	if !xopen.Exists(path) {
		return fmt.Errorf("read file %s does not exist", path)
	}
	rdr, err := xopen.Ropen(path)
	if err != nil {
		return fmt.Errorf("opening read file %s: %w", path, err)
	}
	defer rdr.Close()

	br := bufio.NewReader(rdr)
	first, err := firstByte(br)
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("read file %s has no reads", path)
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if first != '@' {
		return fmt.Errorf("read file %s is not valid FASTQ: record starts with %q", path, first)
	}

	r := fastq.NewReader(br, linear.NewQSeq("", nil, alphabet.DNA, alphabet.Sanger))
	if _, err := r.Read(); err != nil {
		return fmt.Errorf("read file %s is not valid FASTQ: %w", path, err)
	}
	return nil
}

// firstByte returns the first non-space byte of br and leaves it unread.
func firstByte(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// IsBinary reports whether every phenotype is 0 or 1.
func IsBinary(samples []Sample) bool {
	for _, s := range samples {
		if s.Phenotype != 0 && s.Phenotype != 1 {
			return false
		}
	}
	return true
}
