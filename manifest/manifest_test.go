package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const record = "@r1/1\nACGTACGTAC\n+\nIIIIIIIIII\n"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestReadPaired(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "input.tsv"),
		"sample\tread1\tread2\tphenotype\n"+
			"Sample1\tSample1_novaseq_R1.fastq.gz\tSample1_novaseq_R2.fastq.gz\t1\n"+
			"\n"+
			"Sample2\t/abs/Sample2_R1.fastq\t/abs/Sample2_R2.fastq\t0\n")

	samples, err := Read(filepath.Join(dir, "input.tsv"), true)
	require.NoError(t, err)
	require.Len(t, samples, 2)

	assert.Equal(t, "Sample1", samples[0].ID)
	assert.Equal(t, filepath.Join(dir, "Sample1_novaseq_R1.fastq.gz"), samples[0].Read1)
	assert.Equal(t, filepath.Join(dir, "Sample1_novaseq_R2.fastq.gz"), samples[0].Read2)
	assert.Equal(t, "Sample1_novaseq_R1.fastq", samples[0].BaseName())
	assert.Equal(t, 1.0, samples[0].Phenotype)
	assert.Equal(t, "/abs/Sample2_R1.fastq", samples[1].Read1)
	assert.True(t, IsBinary(samples))
	assert.Equal(t, 0.0, samples[1].Phenotype)
}

func TestReadSingleEndIgnoresRead2(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "input.tsv"),
		"phenotype\tsample\tread1\n2.5\tS1\tS1.fastq\n0.1\tS2\tS2.fastq\n")

	samples, err := Read(filepath.Join(dir, "input.tsv"), false)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.False(t, samples[0].Paired())
	assert.False(t, IsBinary(samples))
}

func TestReadErrors(t *testing.T) {
	cases := map[string]struct {
		content string
		paired  bool
		msg     string
	}{
		"missing column": {
			content: "sample\tread1\nS1\tS1.fastq\n",
			msg:     `missing column "phenotype"`,
		},
		"paired without read2 column": {
			content: "sample\tread1\tphenotype\nS1\tS1.fastq\t1\n",
			paired:  true,
			msg:     `missing column "read2"`,
		},
		"duplicate ids": {
			content: "sample\tread1\tphenotype\nS1\ta.fastq\t1\nS1\tb.fastq\t0\n",
			msg:     "duplicate sample id",
		},
		"bad phenotype": {
			content: "sample\tread1\tphenotype\nS1\ta.fastq\tcase\n",
			msg:     "non-numeric phenotype",
		},
		"empty read2": {
			content: "sample\tread1\tread2\tphenotype\nS1\ta.fastq\t\t1\n",
			paired:  true,
			msg:     "has no read2",
		},
		"clashing file names": {
			content: "sample\tread1\tphenotype\nS1\tx/a.fastq\t1\nS2\ty/a.fastq.gz\t0\n",
			msg:     "share the read file name",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "input.tsv")
			writeFile(t, path, tc.content)
			_, err := Read(path, tc.paired)
			assert.ErrorContains(t, err, tc.msg)
		})
	}
}

func TestReadPhenotypes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "phenotypes.tsv"),
		"sample\tphenotype\nS1\t1\nS2\t0\n")

	samples, err := ReadPhenotypes(filepath.Join(dir, "phenotypes.tsv"))
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, Sample{ID: "S1", Phenotype: 1}, samples[0])
	assert.Equal(t, Sample{ID: "S2", Phenotype: 0}, samples[1])

	_, err = Read(filepath.Join(dir, "phenotypes.tsv"), false)
	assert.ErrorContains(t, err, `missing column "read1"`)

	writeFile(t, filepath.Join(dir, "full.tsv"),
		"sample\tread1\tphenotype\nS1\t\t1\nS2\tS2.fastq\t0.5\n")
	samples, err = ReadPhenotypes(filepath.Join(dir, "full.tsv"))
	require.NoError(t, err)
	assert.Empty(t, samples[0].Read1)
	assert.Empty(t, samples[1].Read1)
	assert.Equal(t, 0.5, samples[1].Phenotype)

	writeFile(t, filepath.Join(dir, "nophenotype.tsv"), "sample\tread1\nS1\ta.fastq\n")
	_, err = ReadPhenotypes(filepath.Join(dir, "nophenotype.tsv"))
	assert.ErrorContains(t, err, `missing column "phenotype"`)
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.tsv"), false)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.fastq")
	empty := filepath.Join(dir, "empty.fastq")
	junk := filepath.Join(dir, "junk.fastq")
	writeFile(t, good, record)
	writeFile(t, empty, "")
	writeFile(t, junk, ">not a fastq\nACGT\n")

	assert.NoError(t, Validate([]Sample{{ID: "S1", Read1: good, Read2: good}}))
	assert.ErrorContains(t, Validate([]Sample{{ID: "S1", Read1: filepath.Join(dir, "nope.fastq")}}), "does not exist")
	assert.ErrorContains(t, Validate([]Sample{{ID: "S1", Read1: empty}}), "no reads")
	assert.ErrorContains(t, Validate([]Sample{{ID: "S1", Read1: good, Read2: junk}}), "not valid FASTQ")
}
