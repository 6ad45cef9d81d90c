package reference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"
	"github.com/brentp/xopen"

	"github.com/gmaffy/matsha/utils"
)

type Contig struct {
	Name   string
	Length int
}

// Contigs lists the sequences of a (optionally gzipped) FASTA file in file order.
func Contigs(refFile string) ([]Contig, error) {
	rdr, err := xopen.Ropen(refFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open FASTA file: %w", err)
	}
	defer rdr.Close()

	r := fasta.NewReader(rdr, linear.NewSeq("", nil, alphabet.DNA))
	sc := seqio.NewScanner(r)

	var contigs []Contig
	seen := make(map[string]bool)
	for sc.Next() {
		seq := sc.Seq().(*linear.Seq)
		if seen[seq.ID] {
			return nil, fmt.Errorf("reference %s has duplicate sequence %s", refFile, seq.ID)
		}
		seen[seq.ID] = true
		contigs = append(contigs, Contig{Name: seq.ID, Length: seq.Len()})
	}
	if err := sc.Error(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading reference %s: %w", refFile, err)
	}
	if len(contigs) == 0 {
		return nil, fmt.Errorf("reference %s has no sequences", refFile)
	}
	return contigs, nil
}

// Order maps contig name to its index in the reference.
func Order(contigs []Contig) map[string]int {
	m := make(map[string]int, len(contigs))
	for i, c := range contigs {
		m[c.Name] = i
	}
	return m
}

// TotalLength is the summed length of all contigs.
func TotalLength(contigs []Contig) int {
	n := 0
	for _, c := range contigs {
		n += c.Length
	}
	return n
}

// Prepare links the reference into workDir and builds the bwa, samtools and
// gatk indexes next to the link when they are missing. It returns the path
// of the linked reference, which is what every later stage should use. The
// sequence dictionary is only built when withDict is set.
func Prepare(ctx context.Context, runner utils.Runner, tools utils.Tools, refFile string, workDir string, withDict bool) (string, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", fmt.Errorf("creating reference directory: %w", err)
	}
	absRef, err := filepath.Abs(refFile)
	if err != nil {
		return "", err
	}

	linked := filepath.Join(workDir, filepath.Base(refFile))
	if _, err := os.Lstat(linked); errors.Is(err, os.ErrNotExist) {
		if err := os.Symlink(absRef, linked); err != nil {
			return "", fmt.Errorf("linking reference: %w", err)
		}
	}

	dict := strings.TrimSuffix(linked, filepath.Ext(linked)) + ".dict"
	steps := []struct {
		marker string
		cmd    string
	}{
		{linked + ".bwt", fmt.Sprintf(`%s index %s`, tools.Bwa, utils.ShellQuote(linked))},
		{linked + ".fai", fmt.Sprintf(`%s faidx %s`, tools.Samtools, utils.ShellQuote(linked))},
		{dict, fmt.Sprintf(`%s CreateSequenceDictionary -R %s -O %s`, tools.GatkCmd(), utils.ShellQuote(linked), utils.ShellQuote(dict))},
	}
	if !withDict {
		steps = steps[:2]
	}
	for _, step := range steps {
		if xopen.Exists(step.marker) {
			continue
		}
		fmt.Println(step.cmd)
		if err := runner.Run(ctx, step.cmd); err != nil {
			return "", fmt.Errorf("indexing reference: %w", err)
		}
	}
	return linked, nil
}
