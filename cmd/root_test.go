package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmaffy/matsha/pipeline"
	"github.com/gmaffy/matsha/utils"
)

func TestApplyConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matsha.conf")
	require.NoError(t, os.WriteFile(path, []byte(`# run settings
caller: bcftools
ploidy: 2
alpha: 0.01
seed: 42
hard_filter: true
java_options: -Xmx8G
`), 0o644))
	cfg, err := utils.ReadConfig(path)
	require.NoError(t, err)

	t.Setenv("MATSHA_JAVA_OPTIONS", "")
	opts := pipeline.Options{Caller: "gatk", Ploidy: 1, Alpha: 0.05, Seed: 1, MinAC: 3}
	changed := func(flag string) bool { return flag == "ploidy" }
	applyConfig(cfg, changed, &opts)

	assert.Equal(t, "bcftools", opts.Caller)
	assert.Equal(t, 1, opts.Ploidy, "flag given on the command line wins")
	assert.Equal(t, 0.01, opts.Alpha)
	assert.Equal(t, uint64(42), opts.Seed)
	assert.Equal(t, 3, opts.MinAC, "keys absent from the file keep the flag value")
	assert.True(t, opts.HardFilter)
	assert.Equal(t, "-Xmx8G", opts.Tools.JavaOptions)
}

func TestApplyConfigJavaOptionsFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matsha.conf")
	require.NoError(t, os.WriteFile(path, []byte("java_options: -Xmx8G\n"), 0o644))
	cfg, err := utils.ReadConfig(path)
	require.NoError(t, err)

	t.Setenv("MATSHA_JAVA_OPTIONS", "-Xmx2G")
	opts := pipeline.Options{Tools: utils.Tools{JavaOptions: "-Xmx2G"}}
	applyConfig(cfg, func(string) bool { return false }, &opts)
	assert.Equal(t, "-Xmx2G", opts.Tools.JavaOptions)
}

func TestSubcommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"gwas", "checkDeps", "alignSrMem", "variantCalling", "hardFilter"} {
		assert.True(t, names[want], want)
	}
}
