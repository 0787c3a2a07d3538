package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "attendguard.yaml", `
log_level: debug
detection:
  normal_work_start: "08:30"
  late_threshold_minutes: 15
model:
  retrain_cooldown: 30s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Detection.NormalWorkStart != "08:30" || cfg.Detection.LateThresholdMinutes != 15 {
		t.Fatalf("overrides not applied: %+v", cfg.Detection)
	}
	if cfg.Detection.NormalWorkEnd != "17:00" || cfg.Detection.MultipleSwipeThreshold != 3 {
		t.Fatalf("defaults lost: %+v", cfg.Detection)
	}
	if cfg.Model.RetrainCooldown != 30*time.Second {
		t.Fatalf("duration not decoded: %v", cfg.Model.RetrainCooldown)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "attendguard.json", `{"detection":{"work_hours_per_day":7.5},"storage":{"enabled":true,"driver":"postgres","dsn":"postgres://localhost/attend"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Detection.WorkHoursPerDay != 7.5 || cfg.Storage.Driver != "postgres" {
		t.Fatalf("json not applied: %+v %+v", cfg.Detection, cfg.Storage)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "attendguard.toml", `
log_format = "text"

[detection]
timezone = "Europe/Vilnius"
lookback_days = 14

[access_control]
enabled = true
revoked = ["DE:AD:BE:EF"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != "text" || cfg.Detection.LookbackDays != 14 || len(cfg.AccessControl.Revoked) != 1 {
		t.Fatalf("toml not applied: %+v", cfg)
	}
	if cfg.Detection.Location().String() != "Europe/Vilnius" {
		t.Fatalf("location: %v", cfg.Detection.Location())
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"normal_work_end":                 func(c *Config) { c.Detection.NormalWorkEnd = "08:00" },
		"normal_work_start":               func(c *Config) { c.Detection.NormalWorkStart = "9am" },
		"timezone":                        func(c *Config) { c.Detection.Timezone = "Mars/Olympus" },
		"outlier_contamination":           func(c *Config) { c.Detection.OutlierContamination = 0.7 },
		"consecutive_anomalies_threshold": func(c *Config) { c.Detection.ConsecutiveAnomaliesThreshold = 0 },
		"alerts.kafka":                    func(c *Config) { c.Alerts.Kafka.Enabled = true },
		"ingest.kafka":                    func(c *Config) { c.Ingest.Kafka.Enabled = true },
		"log_format":                      func(c *Config) { c.LogFormat = "xml" },
	}
	for want, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		err := Validate(cfg)
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: expected error mentioning it, got %v", want, err)
		}
	}
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestEmptyFileRejected(t *testing.T) {
	if _, err := Load(writeConfig(t, "empty.yaml", "  \n")); err == nil {
		t.Fatalf("expected error for empty config")
	}
}

func TestManagerReload(t *testing.T) {
	path := writeConfig(t, "attendguard.yaml", "log_level: info\n")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	needs, err := m.NeedsReload()
	if err != nil || !needs {
		t.Fatalf("expected reload to be needed: %v %v", needs, err)
	}
	cfg, err := m.Reload()
	if err != nil || cfg.LogLevel != "warn" || m.Get().LogLevel != "warn" {
		t.Fatalf("reload: %+v %v", cfg, err)
	}
}
