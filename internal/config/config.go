// Package config loads the pipeline's YAML configuration via spf13/viper,
// following the teacher's multi-file layout (one file per concern under
// configs/) and its ${VAR}/$VAR environment-variable interpolation idiom.
// Kept close to the teacher's internal/config: the env-var resolution,
// .env loading, and viper search-path plumbing are carried over almost
// unchanged; the Config struct itself is rebuilt around this pipeline's
// knobs (toolchain paths, batch parallelism, timing floors) in place of
// the teacher's ISA/Strategy/CFG fields, which targeted a different
// fuzzing strategy this pipeline does not implement.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the top-level configuration for one target library run.
type Config struct {
	Library     string          `mapstructure:"library"`
	LLMProvider string          `mapstructure:"llm_provider"`
	LogLevel    string          `mapstructure:"log_level"`
	LogDir      string          `mapstructure:"log_dir"`
	Toolchain   ToolchainConfig `mapstructure:"toolchain"`
	Pipeline    PipelineConfig  `mapstructure:"pipeline"`
	Predicate   PredicateConfig `mapstructure:"predicate"`
	Layout      LayoutConfig    `mapstructure:"layout"`
	LLM         LLMConfig       // populated separately from llm.yaml, see LoadConfig
}

// ToolchainConfig describes ToolchainDriver's fixed, per-library inputs
// (SPEC_FULL.md §7, 4.1).
type ToolchainConfig struct {
	CompilerPath    string `mapstructure:"compiler_path"`
	IncludePath     string `mapstructure:"include_path"`
	CoverageLibPath string `mapstructure:"coverage_lib_path"`
	BlocklistPath   string `mapstructure:"blocklist_path"`
	LibrarySoPath   string `mapstructure:"library_so_path"`
	InitFilePath    string `mapstructure:"init_file_path"`
}

// PipelineConfig holds the user-configured parallelism and timing floors
// (SPEC_FULL.md §6/§9: core, EXECUTION_TIMEOUT, MIN_FUZZ_TIME, RETRY_N).
type PipelineConfig struct {
	// Core is the BatchSupervisor's batch size (worker processes run
	// concurrently per batch).
	Core int `mapstructure:"core"`

	// ExecutionTimeoutSeconds is loaded from the config file (default 180).
	// The toolchain uses its own ExecutionTimeout constant and does not read
	// this field.
	ExecutionTimeoutSeconds int `mapstructure:"execution_timeout_seconds"`

	// MinFuzzTimeSeconds is loaded from the config file (default 60). The
	// toolchain uses its own MinFuzzTime constant and does not read this
	// field.
	MinFuzzTimeSeconds int `mapstructure:"min_fuzz_time_seconds"`

	// RetryN is loaded from the config file (default 5). llmclient uses its
	// own RetryN constant and does not read this field.
	RetryN int `mapstructure:"retry_n"`
}

// PredicateConfig selects and configures the Coverage stage's
// sanitize_by_fuzzer_coverage predicate (internal/oracle's registry).
type PredicateConfig struct {
	Type    string         `mapstructure:"type"`
	Options map[string]any `mapstructure:"options"`
}

// LayoutConfig pins the on-disk layout roots (SPEC_FULL.md §9).
type LayoutConfig struct {
	DataRoot   string `mapstructure:"data_root"`   // data/<lib>
	OutputRoot string `mapstructure:"output_root"` // output/<lib>
}

// LLMConfig holds the LLM backend's connection settings, mirroring the
// OPENAI_* environment variables SPEC_FULL.md §9 names.
type LLMConfig struct {
	Provider     string  `mapstructure:"provider"`
	ModelName    string  `mapstructure:"model_name"`
	InputPrice   float64 `mapstructure:"input_price"`
	OutputPrice  float64 `mapstructure:"output_price"`
	ContextLimit int     `mapstructure:"context_limit"`
	ProxyBase    string  `mapstructure:"proxy_base"`
	APIKey       string  `mapstructure:"api_key"`
}

// envVarPattern matches environment variable placeholders: ${VAR_NAME} or
// $VAR_NAME.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// resolveEnvVars replaces environment variable placeholders in a string
// with their values. Unset variables are left as-is in the string.
func resolveEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match
		if strings.HasPrefix(match, "${") && strings.HasSuffix(match, "}") {
			varName = match[2 : len(match)-1]
		} else if strings.HasPrefix(match, "$") {
			varName = match[1:]
		}
		if value, ok := os.LookupEnv(varName); ok {
			return value
		}
		return match
	})
}

// LoadEnvFromDotEnv loads environment variables from a .env file in dir,
// via godotenv — which already does not overwrite a variable the process
// environment already has set, matching the behavior this loader needs.
// A missing file is not an error.
func LoadEnvFromDotEnv(dir string) error {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("failed to load .env file: %w", err)
	}
	return nil
}

// LoadEnvFromDotEnvRecursive searches for a .env file in startDir and its
// parents (and, failing that, the working directory's ancestry), loading
// the first one found. It is a no-op if none exists.
func LoadEnvFromDotEnvRecursive(startDir string) error {
	dir := startDir
	for i := 0; i < 5; i++ {
		if _, err := os.Stat(filepath.Join(dir, ".env")); err == nil {
			return LoadEnvFromDotEnv(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	wd, _ := os.Getwd()
	for i := 0; i < 10; i++ {
		if _, err := os.Stat(filepath.Join(wd, ".env")); err == nil {
			return LoadEnvFromDotEnv(wd)
		}
		parent := filepath.Dir(wd)
		if parent == wd {
			break
		}
		wd = parent
	}
	return nil
}

// applyEnvResolution resolves environment variable placeholders across
// every string value viper loaded, in place.
func applyEnvResolution(v *viper.Viper) {
	settings := v.AllSettings()
	resolveInMap(settings)
	for key, value := range settings {
		v.Set(key, value)
	}
}

func resolveInMap(m map[string]interface{}) {
	for k, v := range m {
		switch val := v.(type) {
		case string:
			if resolved := resolveEnvVars(val); resolved != val {
				m[k] = resolved
			}
		case map[string]interface{}:
			resolveInMap(val)
		case []interface{}:
			resolveInSlice(val)
		}
	}
}

func resolveInSlice(s []interface{}) {
	for i, v := range s {
		switch val := v.(type) {
		case string:
			s[i] = resolveEnvVars(val)
		case map[string]interface{}:
			resolveInMap(val)
		}
	}
}

// configSearchPaths are the candidate directories viper searches, covering
// both a normal working-directory run and `go test` running from inside a
// nested package directory.
var configSearchPaths = []string{"configs", "../configs", "../../configs"}

// Load reads configFileName (without extension) from configs/ into result.
// For *Config, it expects a top-level 'config' object (falling back to
// unmarshaling the whole file for configs that omit the wrapper).
func Load(configFileName string, result interface{}) error {
	v := viper.New()
	v.SetConfigName(configFileName)
	v.SetConfigType("yaml")
	for _, p := range configSearchPaths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	applyEnvResolution(v)

	if cfg, ok := result.(*Config); ok {
		if v.IsSet("config") {
			if err := v.UnmarshalKey("config", cfg); err != nil {
				return fmt.Errorf("failed to unmarshal config data: %w", err)
			}
			return nil
		}
	}

	if err := v.Unmarshal(result); err != nil {
		return fmt.Errorf("failed to unmarshal config data: %w", err)
	}
	return nil
}

// LoadConfig loads the full application configuration: config.yaml (pinned
// to the 'config' top-level key) plus the matching provider entry from
// llm.yaml, and applies the pipeline's defaults for anything left unset.
func LoadConfig() (*Config, error) {
	var cfg Config

	if err := LoadEnvFromDotEnvRecursive("."); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	if err := Load("config", &cfg); err != nil {
		return nil, err
	}

	llmCfg, err := loadLLMConfig(cfg.LLMProvider)
	if err != nil {
		return nil, err
	}
	cfg.LLM = *llmCfg

	applyDefaults(&cfg)
	return &cfg, nil
}

// loadLLMConfig loads llm.yaml's `llms: [...]` array and returns the entry
// matching provider (or the first entry if provider is empty).
func loadLLMConfig(provider string) (*LLMConfig, error) {
	v := viper.New()
	v.SetConfigName("llm")
	v.SetConfigType("yaml")
	for _, p := range configSearchPaths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to load llm config: %w", err)
	}
	applyEnvResolution(v)

	var llms []LLMConfig
	if err := v.UnmarshalKey("llms", &llms); err != nil {
		return nil, fmt.Errorf("failed to unmarshal llm config: %w", err)
	}
	if len(llms) == 0 {
		return nil, fmt.Errorf("no llm providers configured in llm.yaml")
	}
	if provider == "" {
		return &llms[0], nil
	}
	for _, l := range llms {
		if l.Provider == provider {
			return &l, nil
		}
	}
	return nil, fmt.Errorf("llm provider %q not found in llm.yaml", provider)
}

func applyDefaults(cfg *Config) {
	if cfg.Pipeline.Core == 0 {
		cfg.Pipeline.Core = 4
	}
	if cfg.Pipeline.ExecutionTimeoutSeconds == 0 {
		cfg.Pipeline.ExecutionTimeoutSeconds = 180
	}
	if cfg.Pipeline.MinFuzzTimeSeconds == 0 {
		cfg.Pipeline.MinFuzzTimeSeconds = 60
	}
	if cfg.Pipeline.RetryN == 0 {
		cfg.Pipeline.RetryN = 5
	}
	if cfg.Predicate.Type == "" {
		cfg.Predicate.Type = "longest_api_path"
	}
	if cfg.Predicate.Options == nil {
		cfg.Predicate.Options = make(map[string]any)
	}
	if cfg.Layout.DataRoot == "" {
		cfg.Layout.DataRoot = filepath.Join("data", cfg.Library)
	}
	if cfg.Layout.OutputRoot == "" {
		cfg.Layout.OutputRoot = filepath.Join("output", cfg.Library)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}
