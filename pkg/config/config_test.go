package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8080" {
		t.Errorf("listen = %s", cfg.Listen)
	}
	if cfg.Generation.CreditCost != 1 {
		t.Errorf("credit cost = %d", cfg.Generation.CreditCost)
	}
	if cfg.Generation.WatermarkBytes != 2000 {
		t.Errorf("watermark = %d", cfg.Generation.WatermarkBytes)
	}
}

func TestLoad(t *testing.T) {
	data := `
listen: ":9090"
db_path: /tmp/scribe-test.db
upstream:
  url: https://llm.internal
  api_key: sk-abc
  model: gpt-4
  timeout: 30s
generation:
  credit_cost: 2
  history_depth: 3
log:
  retention_days: 14
`
	path := filepath.Join(t.TempDir(), "scribe.yaml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("listen = %s", cfg.Listen)
	}
	if cfg.Upstream.Timeout != 30*time.Second {
		t.Errorf("timeout = %v", cfg.Upstream.Timeout)
	}
	if cfg.Generation.CreditCost != 2 || cfg.Generation.HistoryDepth != 3 {
		t.Errorf("generation = %+v", cfg.Generation)
	}
	if cfg.Log.RetentionDays != 14 {
		t.Errorf("retention = %d", cfg.Log.RetentionDays)
	}
	// Unset fields keep defaults.
	if cfg.Generation.WatermarkBytes != 2000 {
		t.Errorf("watermark = %d, want default", cfg.Generation.WatermarkBytes)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("SCRIBE_TEST_KEY", "sk-from-env")
	data := "upstream:\n  api_key: ${SCRIBE_TEST_KEY}\n"
	path := filepath.Join(t.TempDir(), "scribe.yaml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Upstream.APIKey != "sk-from-env" {
		t.Errorf("api_key = %s", cfg.Upstream.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/scribe.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
