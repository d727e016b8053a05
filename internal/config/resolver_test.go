package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveConfig_Precedence_ConfigEnvCLI(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	yaml := `db_path: ~/.codepal/from-config.db
language: es
threshold: "0.7"
cloud:
  model: gemini-2.5-flash
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CODEPAL_DB", "~/from-env.db")
	t.Setenv("CODEPAL_LANG", "it")

	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath:  cfgPath,
		CLIDBPath:   "~/from-cli.db",
		CLILanguage: "zh",
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}

	if resolved.DBPath.Source != SourceCLI {
		t.Fatalf("expected DB path source cli, got %s", resolved.DBPath.Source)
	}
	if resolved.Language.Source != SourceCLI || resolved.Language.Value != "zh" {
		t.Fatalf("expected language from cli, got %+v", resolved.Language)
	}
	if resolved.Threshold.Source != SourceConfig || resolved.Threshold.Value != "0.7" {
		t.Fatalf("expected threshold from config, got %+v", resolved.Threshold)
	}
	if resolved.CloudModel.Value != "gemini-2.5-flash" {
		t.Fatalf("cloud model = %+v", resolved.CloudModel)
	}
}

func TestResolveConfig_GeminiKeyEnvOverridesConfig(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	yaml := `cloud:
  api_key: config-key
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("GEMINI_API_KEY", "env-key")

	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if resolved.CloudAPIKey.Value != "env-key" || resolved.CloudAPIKey.Source != SourceEnv {
		t.Fatalf("cloud api key = %+v", resolved.CloudAPIKey)
	}
	if resolved.CloudAPIKey.From != "GEMINI_API_KEY" {
		t.Fatalf("From = %q", resolved.CloudAPIKey.From)
	}
}

func TestResolveConfig_MissingFileIsFine(t *testing.T) {
	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: filepath.Join(t.TempDir(), "nonexistent.yaml"),
	})
	if err != nil {
		t.Fatalf("ResolveConfig on missing file: %v", err)
	}
	if resolved.DBPath.Value != "" {
		t.Fatalf("db path = %+v", resolved.DBPath)
	}
}

func TestResolveConfig_ExpandsUserPaths(t *testing.T) {
	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: filepath.Join(t.TempDir(), "nonexistent.yaml"),
		CLIDBPath:  "~/codes.db",
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	home, _ := os.UserHomeDir()
	if resolved.DBPath.Value != filepath.Join(home, "codes.db") {
		t.Fatalf("db path = %q", resolved.DBPath.Value)
	}
}

func TestCloudOn(t *testing.T) {
	tests := []struct {
		name    string
		enabled string
		apiKey  string
		want    bool
	}{
		{"explicit on without key", "on", "", true},
		{"explicit off with key", "off", "k", false},
		{"unset with key", "", "k", true},
		{"unset without key", "", "", false},
		{"false spelling", "false", "k", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ResolvedConfig{
				CloudEnabled: ResolvedValue{Value: tt.enabled},
				CloudAPIKey:  ResolvedValue{Value: tt.apiKey},
			}
			if got := r.CloudOn(); got != tt.want {
				t.Errorf("CloudOn() = %v, want %v", got, tt.want)
			}
		})
	}
}
