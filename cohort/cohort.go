package cohort

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/biogo/hts/bam"
	"golang.org/x/exp/rand"

	"github.com/gmaffy/matsha/alignment"
	"github.com/gmaffy/matsha/utils"
)

// WriteBamList writes one BAM path per line, in the order given.
func WriteBamList(path string, bams []string) error {
	var b strings.Builder
	for _, bam := range bams {
		b.WriteString(bam)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing BAM list: %w", err)
	}
	return nil
}

func ReadBamList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var bams []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			bams = append(bams, line)
		}
	}
	return bams, scanner.Err()
}

type Input struct {
	Sample    string
	Bam       string
	MeanDepth float64
}

// SubsampleRecord describes one sample's subsampling. Output is the BAM
// variant calling should read: Bam itself when nothing was removed.
type SubsampleRecord struct {
	Sample      string
	Bam         string
	MeanDepth   float64
	TargetDepth float64
	Fraction    float64
	ReadsBefore int
	ReadsAfter  int
	Output      string
}

var statsHeader = []string{"sample", "bam", "mean_depth", "target_depth", "fraction", "reads_before", "reads_after", "output_bam"}

// SubsampledPath is where the downsampled copy of bam is written.
func SubsampledPath(bam string) string {
	return strings.TrimSuffix(bam, ".bam") + ".subsampled.bam"
}

// Outputs lists the BAMs to call variants from, in input order.
func Outputs(records []SubsampleRecord) []string {
	bams := make([]string, len(records))
	for i, r := range records {
		bams[i] = r.Output
	}
	return bams
}

// TargetDepth is requested when positive, else the lowest positive mean depth
// of the cohort. Zero means nothing can be downsampled.
func TargetDepth(inputs []Input, requested float64) float64 {
	if requested > 0 {
		return requested
	}
	target := math.Inf(1)
	for _, in := range inputs {
		if in.MeanDepth > 0 && in.MeanDepth < target {
			target = in.MeanDepth
		}
	}
	if math.IsInf(target, 1) {
		return 0
	}
	return target
}

// Fraction of reads to keep to bring mean down to target.
func Fraction(mean, target float64) float64 {
	if mean <= 0 || target <= 0 || target >= mean {
		return 1
	}
	return target / mean
}

// Subsample writes a downsampled, indexed copy of every BAM above the target
// depth next to it. Source BAMs are never modified, so a rerun starts from
// the same reads. Samples at or below the target keep their own BAM and lose
// any copy left by an earlier run.
func Subsample(ctx context.Context, runner utils.Runner, tools utils.Tools, inputs []Input, requested float64, seed uint64) ([]SubsampleRecord, error) {
	target := TargetDepth(inputs, requested)
	fmt.Printf("Subsampling to a mean depth of %.2f\n", target)

	records := make([]SubsampleRecord, 0, len(inputs))
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := SubsampleRecord{
			Sample:      in.Sample,
			Bam:         in.Bam,
			MeanDepth:   in.MeanDepth,
			TargetDepth: target,
			Fraction:    Fraction(in.MeanDepth, target),
			Output:      in.Bam,
		}
		out := SubsampledPath(in.Bam)

		if rec.Fraction < 1 {
			tmp := out + ".tmp"
			before, after, err := Downsample(in.Bam, tmp, rec.Fraction, seed+uint64(i))
			if err != nil {
				os.Remove(tmp)
				return nil, fmt.Errorf("subsampling %s: %w", in.Sample, err)
			}
			if err := os.Rename(tmp, out); err != nil {
				return nil, err
			}
			if err := alignment.IndexBam(ctx, runner, tools, out); err != nil {
				return nil, err
			}
			rec.ReadsBefore, rec.ReadsAfter, rec.Output = before, after, out
		} else {
			for _, stale := range []string{out, out + ".bai"} {
				if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
					return nil, err
				}
			}
			n, err := CountRecords(in.Bam)
			if err != nil {
				return nil, fmt.Errorf("counting reads of %s: %w", in.Sample, err)
			}
			rec.ReadsBefore, rec.ReadsAfter = n, n
		}
		records = append(records, rec)
	}
	return records, nil
}

// Downsample copies src to dst keeping each read name with probability
// fraction. Mates and secondary records share their name's fate.
func Downsample(src, dst string, fraction float64, seed uint64) (before, after int, err error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, 0, err
	}
	defer in.Close()
	br, err := bam.NewReader(in, 1)
	if err != nil {
		return 0, 0, err
	}
	defer br.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, 0, err
	}
	defer out.Close()
	bw, err := bam.NewWriter(out, br.Header(), 1)
	if err != nil {
		return 0, 0, err
	}

	rng := rand.New(rand.NewSource(seed))
	keep := make(map[string]bool)
	for {
		rec, err := br.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return before, after, err
		}
		before++

		k, seen := keep[rec.Name]
		if !seen {
			k = rng.Float64() < fraction
			keep[rec.Name] = k
		}
		if !k {
			continue
		}
		if err := bw.Write(rec); err != nil {
			return before, after, err
		}
		after++
	}
	if err := bw.Close(); err != nil {
		return before, after, err
	}
	return before, after, out.Close()
}

func CountRecords(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	br, err := bam.NewReader(f, 1)
	if err != nil {
		return 0, err
	}
	defer br.Close()

	n := 0
	for {
		_, err := br.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

func WriteSubsamplingStats(path string, records []SubsampleRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create subsampling stats: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	writer.Comma = '\t'
	if err := writer.Write(statsHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Sample, r.Bam,
			strconv.FormatFloat(r.MeanDepth, 'f', 4, 64),
			strconv.FormatFloat(r.TargetDepth, 'f', 4, 64),
			strconv.FormatFloat(r.Fraction, 'f', 6, 64),
			strconv.Itoa(r.ReadsBefore),
			strconv.Itoa(r.ReadsAfter),
			r.Output,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}
