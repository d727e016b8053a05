// Package config resolves settings from the config file, environment
// and CLI flags, in that order of increasing precedence. Every resolved
// value carries its provenance so `codepal status` can show where a
// setting came from.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath   string
	CLIDBPath    string
	CLILanguage  string
	CLIThreshold string
	CLICloud     string // "on" / "off"
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath    ResolvedValue `json:"db_path"`
	Language  ResolvedValue `json:"language"`
	Threshold ResolvedValue `json:"threshold"`

	CloudEnabled ResolvedValue `json:"cloud_enabled"`
	CloudModel   ResolvedValue `json:"cloud_model"`
	CloudAPIKey  ResolvedValue `json:"cloud_api_key"`

	NanoModelPath     ResolvedValue `json:"nano_model_path"`
	NanoTokenizerPath ResolvedValue `json:"nano_tokenizer_path"`
	NanoLibraryPath   ResolvedValue `json:"nano_library_path"`
}

type fileConfig struct {
	DBPath    string `yaml:"db_path"`
	Language  string `yaml:"language"`
	Threshold string `yaml:"threshold"`
	Cloud     struct {
		Enabled string `yaml:"enabled"`
		Model   string `yaml:"model"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"cloud"`
	Nano struct {
		ModelPath     string `yaml:"model_path"`
		TokenizerPath string `yaml:"tokenizer_path"`
		LibraryPath   string `yaml:"library_path"`
	} `yaml:"nano"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".codepal", "config.yaml")
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{ConfigPath: path}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.Language, cfg.Language, SourceConfig, path)
		apply(&out.Threshold, cfg.Threshold, SourceConfig, path)
		apply(&out.CloudEnabled, cfg.Cloud.Enabled, SourceConfig, path)
		apply(&out.CloudModel, cfg.Cloud.Model, SourceConfig, path)
		apply(&out.CloudAPIKey, cfg.Cloud.APIKey, SourceConfig, path)
		apply(&out.NanoModelPath, cfg.Nano.ModelPath, SourceConfig, path)
		apply(&out.NanoTokenizerPath, cfg.Nano.TokenizerPath, SourceConfig, path)
		apply(&out.NanoLibraryPath, cfg.Nano.LibraryPath, SourceConfig, path)
	}

	applyEnv(&out.DBPath, "CODEPAL_DB")
	applyEnv(&out.Language, "CODEPAL_LANG")
	applyEnv(&out.Threshold, "CODEPAL_THRESHOLD")
	applyEnv(&out.CloudEnabled, "CODEPAL_CLOUD")
	applyEnv(&out.CloudModel, "CODEPAL_CLOUD_MODEL")
	applyEnv(&out.NanoModelPath, "CODEPAL_NANO_MODEL")
	applyEnv(&out.NanoTokenizerPath, "CODEPAL_NANO_TOKENIZER")
	applyEnv(&out.NanoLibraryPath, "CODEPAL_ONNX_LIB")

	// Standard Gemini key env vars win over the config file, GEMINI_API_KEY
	// over GOOGLE_API_KEY.
	applyEnv(&out.CloudAPIKey, "GOOGLE_API_KEY")
	applyEnv(&out.CloudAPIKey, "GEMINI_API_KEY")

	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.Language, opts.CLILanguage, SourceCLI, "--lang")
	apply(&out.Threshold, opts.CLIThreshold, SourceCLI, "--threshold")
	apply(&out.CloudEnabled, opts.CLICloud, SourceCLI, "--cloud")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}
	for _, v := range []*ResolvedValue{&out.NanoModelPath, &out.NanoTokenizerPath, &out.NanoLibraryPath} {
		if v.Value != "" {
			v.Value = expandUserPath(v.Value)
		}
	}

	return out, nil
}

// CloudOn interprets the cloud toggle. Unset means enabled when an API
// key exists; the cloud tier is otherwise pointless.
func (r ResolvedConfig) CloudOn() bool {
	switch strings.ToLower(strings.TrimSpace(r.CloudEnabled.Value)) {
	case "on", "true", "yes", "1":
		return true
	case "off", "false", "no", "0":
		return false
	}
	return strings.TrimSpace(r.CloudAPIKey.Value) != ""
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
