package utils

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the pipeline settings that can be supplied through a
// "key: value" config file with --config.
type Config struct {
	Caller         string
	Ploidy         int
	Alpha          float64
	SubsampleDepth float64
	Seed           uint64
	MinAC          int
	Platform       string
	MarkDuplicates bool
	HardFilter     bool
	JavaOptions    string

	// set records which keys were present in the file
	set map[string]bool
}

// Has reports whether key was given in the config file.
func (c Config) Has(key string) bool {
	return c.set[key]
}

func ReadConfig(configPath string) (Config, error) {
	configFile, err := os.Open(configPath)
	if err != nil {
		return Config{}, err
	}
	defer configFile.Close()
	cfg := Config{set: make(map[string]bool)}

	scanner := bufio.NewScanner(configFile)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		var perr error
		switch key {
		case "caller":
			cfg.Caller = value
		case "ploidy":
			cfg.Ploidy, perr = strconv.Atoi(value)
		case "alpha":
			cfg.Alpha, perr = strconv.ParseFloat(value, 64)
		case "subsample_depth":
			cfg.SubsampleDepth, perr = strconv.ParseFloat(value, 64)
		case "seed":
			cfg.Seed, perr = strconv.ParseUint(value, 10, 64)
		case "min_ac":
			cfg.MinAC, perr = strconv.Atoi(value)
		case "platform":
			cfg.Platform = value
		case "mark_duplicates":
			cfg.MarkDuplicates, perr = strconv.ParseBool(value)
		case "hard_filter":
			cfg.HardFilter, perr = strconv.ParseBool(value)
		case "java_options":
			cfg.JavaOptions = value
		default:
			continue
		}
		if perr != nil {
			return cfg, fmt.Errorf("config %s line %d: invalid value for %s: %w", configPath, lineNum, key, perr)
		}
		cfg.set[key] = true
	}

	if err := scanner.Err(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Tools are the external executables the pipeline drives. Each can be
// overridden from the environment.
type Tools struct {
	Bwa         string `envconfig:"MATSHA_BWA" default:"bwa"`
	Samtools    string `envconfig:"MATSHA_SAMTOOLS" default:"samtools"`
	Gatk        string `envconfig:"MATSHA_GATK" default:"gatk"`
	Bcftools    string `envconfig:"MATSHA_BCFTOOLS" default:"bcftools"`
	JavaOptions string `envconfig:"MATSHA_JAVA_OPTIONS" default:"-Xmx4G"`
}

func LoadTools() (Tools, error) {
	var t Tools
	if err := envconfig.Process("", &t); err != nil {
		return Tools{}, fmt.Errorf("reading tool environment: %w", err)
	}
	return t, nil
}

// GatkCmd returns the gatk invocation prefix with java options.
func (t Tools) GatkCmd() string {
	if t.JavaOptions == "" {
		return t.Gatk
	}
	return fmt.Sprintf(`%s --java-options "%s"`, t.Gatk, t.JavaOptions)
}

// CheckDeps makes sure every named executable is on PATH.
func CheckDeps(names ...string) error {
	var missing []string
	for _, name := range names {
		// env overrides may carry arguments
		bin := strings.Fields(name)
		if len(bin) == 0 {
			continue
		}
		if _, err := exec.LookPath(bin[0]); err != nil {
			missing = append(missing, bin[0])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing executables on PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Runner executes a shell command line.
type Runner interface {
	Run(ctx context.Context, cmdStr string) error
}

// BashRunner runs command lines with bash, streaming their output.
type BashRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (b BashRunner) Run(ctx context.Context, cmdStr string) error {
	cmd := exec.CommandContext(ctx, "bash", "-o", "pipefail", "-c", cmdStr)
	cmd.Stdout = b.Stdout
	cmd.Stderr = b.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %q failed: %w", cmdStr, err)
	}
	return nil
}

// ShellQuote wraps s in single quotes for bash.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
