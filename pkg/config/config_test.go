// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalYAML = `
model:
  primary: deepseek
  providers:
    deepseek:
      type: rest
      base_url: "https://api.deepseek.com/v1"
      model: deepseek-chat
      api_keys: ["${TEST_DEEPSEEK_KEY}", "literal-key"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("TEST_DEEPSEEK_KEY", "sk-from-env")
	cfg, err := LoadConfig(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Pipeline.MaxFilesPerRun != 10 {
		t.Errorf("MaxFilesPerRun: got %d", cfg.Pipeline.MaxFilesPerRun)
	}
	if cfg.Pipeline.MaxRetries != 3 {
		t.Errorf("MaxRetries: got %d", cfg.Pipeline.MaxRetries)
	}
	if cfg.Pipeline.TokenCeiling != 6000 {
		t.Errorf("TokenCeiling: got %d", cfg.Pipeline.TokenCeiling)
	}
	if cfg.Pipeline.BackoffBase != 30*time.Second {
		t.Errorf("BackoffBase: got %v", cfg.Pipeline.BackoffBase)
	}
	if cfg.Pipeline.RunHistoryLimit != 100 || cfg.Pipeline.RedactMode != "redact" {
		t.Errorf("run history / redact defaults: got %d %q", cfg.Pipeline.RunHistoryLimit, cfg.Pipeline.RedactMode)
	}
	if fb := cfg.Sink.GitHub.Feedback; fb.MaxIterations != 3 || fb.Interval != time.Hour {
		t.Errorf("feedback defaults: got %d %s", fb.MaxIterations, fb.Interval)
	}
	if cfg.Quota.Window != time.Minute || cfg.Quota.RequestsPerWindow != 15 {
		t.Errorf("Quota: got %v / %d", cfg.Quota.Window, cfg.Quota.RequestsPerWindow)
	}
	if cfg.Ledger.Backend != "file" || cfg.Ledger.Path != "refactoring_reports/pipeline_state.json" {
		t.Errorf("Ledger: got %+v", cfg.Ledger)
	}
	if len(cfg.Scan.ExcludeDirs) != 6 {
		t.Errorf("ExcludeDirs: got %v", cfg.Scan.ExcludeDirs)
	}
	keys := cfg.Model.Providers["deepseek"].APIKeys
	if len(keys) != 2 || keys[0] != "sk-from-env" || keys[1] != "literal-key" {
		t.Errorf("APIKeys: got %v", keys)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	body := minimalYAML + `
pipeline:
  max_files_per_run: 2
  backoff_base: 1s
quota:
  requests_per_window: 60
log:
  level: debug
`
	cfg, err := LoadConfig(writeConfig(t, body))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Pipeline.MaxFilesPerRun != 2 {
		t.Errorf("MaxFilesPerRun: got %d", cfg.Pipeline.MaxFilesPerRun)
	}
	if cfg.Pipeline.BackoffBase != time.Second {
		t.Errorf("BackoffBase: got %v", cfg.Pipeline.BackoffBase)
	}
	if cfg.Quota.RequestsPerWindow != 60 {
		t.Errorf("RequestsPerWindow: got %d", cfg.Quota.RequestsPerWindow)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level: got %q", cfg.Log.Level)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown primary": `
model:
  primary: missing
  providers:
    deepseek: {type: rest, model: deepseek-chat}
`,
		"bad scan mode": minimalYAML + `
scan:
  mode: everything
`,
		"postgres without dsn": minimalYAML + `
ledger:
  backend: postgres
`,
		"zero batch": minimalYAML + `
pipeline:
  max_files_per_run: 0
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}
