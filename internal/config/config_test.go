package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != "photopick.db" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Selection.MaxAuto != 5 || cfg.Selection.DuplicateThreshold != 0.95 {
		t.Errorf("selection = %+v", cfg.Selection)
	}
	if cfg.AI.Timeout != 30*time.Second || cfg.AI.Concurrency != 3 {
		t.Errorf("ai = %+v", cfg.AI)
	}
	if cfg.Sweep.Interval != 10*time.Minute {
		t.Errorf("sweep interval = %v", cfg.Sweep.Interval)
	}
	if cfg.AI.BatchPause != time.Second || cfg.PipelineBatchPause() != time.Second {
		t.Errorf("batch pause = %v", cfg.AI.BatchPause)
	}
	if cfg.AI.PreviewWidth != 1024 {
		t.Errorf("preview width = %d", cfg.AI.PreviewWidth)
	}
	if cfg.AIActive() {
		t.Error("AI must be inactive without an api key")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Parallel()

	v := NewViper()
	v.Set("database.driver", "POSTGRES")
	v.Set("database.dsn", "postgres://localhost/photopick")
	v.Set("ai.gemini_api_key", "key")
	v.Set("ai.plan_tiers", "P100, P200")
	v.Set("sweep.interval", "0s")
	v.Set("ai.batch_pause", "0s")
	v.Set("ai.preview_width", 512)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if want := []string{"P100", "P200"}; !reflect.DeepEqual(cfg.AI.PlanTiers, want) {
		t.Errorf("plan tiers = %v, want %v", cfg.AI.PlanTiers, want)
	}
	if !cfg.AIActive() {
		t.Error("AI must be active with enabled flag and key")
	}
	if cfg.Sweep.Interval != 0 {
		t.Errorf("sweep interval = %v", cfg.Sweep.Interval)
	}
	if got := cfg.PipelineBatchPause(); got >= 0 {
		t.Errorf("zero batch pause must disable the pipeline pause, got %v", got)
	}
	if cfg.AI.PreviewWidth != 512 {
		t.Errorf("preview width = %d, want 512", cfg.AI.PreviewWidth)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  string
		val  any
		want string
	}{
		{"driver", "database.driver", "mysql", "database.driver"},
		{"dsn", "database.dsn", " ", "database.dsn"},
		{"format", "log.format", "xml", "log.format"},
		{"max auto", "selection.max_auto", 0, "selection.max_auto"},
		{"threshold", "selection.duplicate_threshold", 1.5, "duplicate_threshold"},
		{"ai concurrency", "ai.concurrency", -1, "ai.concurrency"},
		{"sweep", "sweep.interval", "-1m", "sweep.interval"},
		{"batch pause", "ai.batch_pause", "-2s", "ai.batch_pause"},
		{"preview width", "ai.preview_width", 0, "ai.preview_width"},
		{"s3 keys", "s3.access_key", "AKIA", "s3.secret_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := NewViper()
			v.Set(tt.key, tt.val)
			_, err := Load(v)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "PHOTOPICK_TEST_DOTENV_VALUE"
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Errorf("%s = %q", key, got)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("PHOTOPICK_SELECTION_MAX_AUTO", "7")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Selection.MaxAuto != 7 {
		t.Errorf("max auto = %d, want 7 from env", cfg.Selection.MaxAuto)
	}
}
