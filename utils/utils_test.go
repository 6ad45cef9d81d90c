package utils

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matsha.conf")
	content := `# matsha settings
caller: bcftools
ploidy: 2
alpha: 0.01
subsample_depth: 30
seed: 7
mark_duplicates: true
unknown_key: whatever
no separator here
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "bcftools", cfg.Caller)
	assert.Equal(t, 2, cfg.Ploidy)
	assert.Equal(t, 0.01, cfg.Alpha)
	assert.Equal(t, 30.0, cfg.SubsampleDepth)
	assert.Equal(t, uint64(7), cfg.Seed)
	assert.True(t, cfg.MarkDuplicates)
	assert.True(t, cfg.Has("alpha"))
	assert.False(t, cfg.Has("hard_filter"))
}

func TestReadConfigBadValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matsha.conf")
	require.NoError(t, os.WriteFile(path, []byte("ploidy: two\n"), 0644))

	_, err := ReadConfig(path)
	assert.ErrorContains(t, err, "ploidy")
}

func TestLoadToolsFromEnv(t *testing.T) {
	t.Setenv("MATSHA_GATK", "/opt/gatk/gatk")
	t.Setenv("MATSHA_JAVA_OPTIONS", "-Xmx2G")

	tools, err := LoadTools()
	require.NoError(t, err)
	assert.Equal(t, "bwa", tools.Bwa)
	assert.Equal(t, "/opt/gatk/gatk", tools.Gatk)
	assert.Equal(t, `/opt/gatk/gatk --java-options "-Xmx2G"`, tools.GatkCmd())
}

func TestCheckDeps(t *testing.T) {
	assert.NoError(t, CheckDeps("bash"))
	assert.ErrorContains(t, CheckDeps("bash", "definitely-not-a-matsha-tool"), "definitely-not-a-matsha-tool")
}

func TestBashRunner(t *testing.T) {
	var out bytes.Buffer
	r := BashRunner{Stdout: &out, Stderr: &out}

	require.NoError(t, r.Run(context.Background(), "echo hello | tr a-z A-Z"))
	assert.Equal(t, "HELLO\n", out.String())

	// pipefail surfaces failures on the left of a pipe
	assert.Error(t, r.Run(context.Background(), "false | cat"))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, ShellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, ShellQuote("it's"))
}
