package alignment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmaffy/matsha/internal/bamtest"
)

func TestComputeCoverage(t *testing.T) {
	bamPath := filepath.Join(t.TempDir(), "S1.fastq.sorted.groupAdded.bam")
	refs := []bamtest.Ref{{"chr1", 100}, {"chr2", 50}}
	reads := []bamtest.Read{
		{Name: "a", Ref: 0, Pos: 0, Len: 10},
		{Name: "b", Ref: 0, Pos: 5, Len: 10},
		// 4M 10D 4M: 8 aligned bases over 18 reference positions
		{Name: "c", Ref: 0, Pos: 50, Len: 8, Deletion: 10},
		// runs off the end of chr2
		{Name: "d", Ref: 1, Pos: 45, Len: 10},
		{Name: "dup", Ref: 0, Pos: 0, Len: 10, Flags: sam.Duplicate},
		{Name: "sec", Ref: 0, Pos: 0, Len: 10, Flags: sam.Secondary},
		{Name: "un", Ref: -1, Len: 10},
	}
	require.NoError(t, bamtest.Write(bamPath, refs, reads))

	cov, err := ComputeCoverage(bamPath)
	require.NoError(t, err)
	require.Len(t, cov.Contigs, 2)

	chr1 := cov.Contigs[0]
	assert.Equal(t, "chr1", chr1.Contig)
	assert.Equal(t, 100, chr1.Length)
	// a+b cover 0..14, c covers 50..53 and 64..67
	assert.Equal(t, 15+8, chr1.Covered)
	assert.InDelta(t, 28.0/100, chr1.MeanDepth, 1e-9)
	assert.InDelta(t, 0.23, chr1.Breadth, 1e-9)

	chr2 := cov.Contigs[1]
	assert.Equal(t, 5, chr2.Covered)
	assert.InDelta(t, 0.1, chr2.MeanDepth, 1e-9)

	assert.Equal(t, AllContigs, cov.Total.Contig)
	assert.Equal(t, 150, cov.Total.Length)
	assert.Equal(t, 28, cov.Total.Covered)
	assert.InDelta(t, 33.0/150, cov.Total.MeanDepth, 1e-9)
}

func TestCoverageFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "S1.fastq.coverage")
	cov := Coverage{
		Contigs: []ContigCoverage{{"NZ_CP035288.1", 1000, 900, 31.5, 0.9}},
		Total:   ContigCoverage{AllContigs, 1000, 900, 31.5, 0.9},
	}
	require.NoError(t, WriteCoverage(path, cov))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"contig\tlength\tcovered_bases\tmean_depth\tbreadth\n"+
			"NZ_CP035288.1\t1000\t900\t31.5000\t0.9000\n"+
			"all\t1000\t900\t31.5000\t0.9000\n",
		string(raw))

	back, err := ReadCoverage(path)
	require.NoError(t, err)
	assert.Equal(t, cov, back)
}

func TestReadCoverageWithoutTotal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.coverage")
	require.NoError(t, os.WriteFile(path, []byte("contig\tlength\tcovered_bases\tmean_depth\tbreadth\nchr1\t10\t5\t1.0\t0.5\n"), 0644))
	_, err := ReadCoverage(path)
	assert.ErrorContains(t, err, "no \"all\" row")
}
