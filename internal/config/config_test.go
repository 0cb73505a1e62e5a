package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if AppConfig == nil {
		t.Fatal("AppConfig is nil")
	}

	if AppConfig.Server.Port != 7768 {
		t.Errorf("Expected default port 7768, got %d", AppConfig.Server.Port)
	}
	if AppConfig.Server.Mode != "release" {
		t.Errorf("Expected default mode 'release', got %s", AppConfig.Server.Mode)
	}
	if AppConfig.Database.Path != "data/danmu.db" {
		t.Errorf("Expected default db path 'data/danmu.db', got %s", AppConfig.Database.Path)
	}
	if AppConfig.Tasks.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", AppConfig.Tasks.Workers)
	}
	if AppConfig.Tasks.StoreRetryDelay != 200*time.Millisecond {
		t.Errorf("Expected 200ms retry delay, got %s", AppConfig.Tasks.StoreRetryDelay)
	}
	if AppConfig.Scheduler.MaintenanceCron != "@every 6h" {
		t.Errorf("Unexpected maintenance cron %q", AppConfig.Scheduler.MaintenanceCron)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("DANMU_SERVER_PORT", "9999")
	t.Setenv("DANMU_TASKS_WORKERS", "0")

	err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if AppConfig.Server.Port != 9999 {
		t.Errorf("Expected port 9999 from env, got %d", AppConfig.Server.Port)
	}
	// 非正数的 worker 数会被修正为 1
	if AppConfig.Tasks.Workers != 1 {
		t.Errorf("Expected workers clamped to 1, got %d", AppConfig.Tasks.Workers)
	}
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	content := []byte("database:\n  path: /tmp/other.db\ntasks:\n  max_history: 42\nscheduler:\n  maintenance_cron: \"\"\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(dir); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if AppConfig.Database.Path != "/tmp/other.db" {
		t.Errorf("Expected db path from file, got %s", AppConfig.Database.Path)
	}
	if AppConfig.Tasks.MaxHistory != 42 {
		t.Errorf("Expected max_history 42, got %d", AppConfig.Tasks.MaxHistory)
	}
	if AppConfig.Scheduler.MaintenanceCron != "" {
		t.Errorf("Expected maintenance cron disabled, got %q", AppConfig.Scheduler.MaintenanceCron)
	}
}
