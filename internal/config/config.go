package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"attendguard/internal/clock"
)

type Config struct {
	LogLevel      string              `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat     string              `json:"log_format" yaml:"log_format" toml:"log_format"`
	Ingest        IngestConfig        `json:"ingest" yaml:"ingest" toml:"ingest"`
	Detection     DetectionConfig     `json:"detection" yaml:"detection" toml:"detection"`
	Model         ModelConfig         `json:"model" yaml:"model" toml:"model"`
	AccessControl AccessControlConfig `json:"access_control" yaml:"access_control" toml:"access_control"`
	Directory     DirectoryConfig     `json:"directory" yaml:"directory" toml:"directory"`
	API           APIConfig           `json:"api" yaml:"api" toml:"api"`
	Storage       StorageConfig       `json:"storage" yaml:"storage" toml:"storage"`
	Metrics       MetricsConfig       `json:"metrics" yaml:"metrics" toml:"metrics"`
	Alerts        AlertsConfig        `json:"alerts" yaml:"alerts" toml:"alerts"`
}

type IngestConfig struct {
	ChannelBuffer    int                `json:"channel_buffer" yaml:"channel_buffer" toml:"channel_buffer"`
	REST             RESTConfig         `json:"rest" yaml:"rest" toml:"rest"`
	Lines            LineListenerConfig `json:"lines" yaml:"lines" toml:"lines"`
	FileTail         FileTailConfig     `json:"file_tail" yaml:"file_tail" toml:"file_tail"`
	Kafka            KafkaConfig        `json:"kafka" yaml:"kafka" toml:"kafka"`
	Parser           ParserConfig       `json:"parser" yaml:"parser" toml:"parser"`
	RedeliveryWindow time.Duration      `json:"redelivery_window" yaml:"redelivery_window" toml:"redelivery_window"`
	MaxClockSkew     time.Duration      `json:"max_clock_skew" yaml:"max_clock_skew" toml:"max_clock_skew"`
	MaxFutureSkew    time.Duration      `json:"max_future_skew" yaml:"max_future_skew" toml:"max_future_skew"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
}

// LineListenerConfig covers terminals that push one swipe per line over UDP
// datagrams or a TCP stream.
type LineListenerConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	UDPAddr string `json:"udp_addr" yaml:"udp_addr" toml:"udp_addr"`
	TCPAddr string `json:"tcp_addr" yaml:"tcp_addr" toml:"tcp_addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end" toml:"start_at_end"`
	Files      []string `json:"files" yaml:"files" toml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers" toml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic" toml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id" toml:"group_id"`
}

type ParserConfig struct {
	Timezone        string `json:"timezone" yaml:"timezone" toml:"timezone"`
	DefaultReaderID string `json:"default_reader_id" yaml:"default_reader_id" toml:"default_reader_id"`
}

type DetectionConfig struct {
	Timezone                       string  `json:"timezone" yaml:"timezone" toml:"timezone"`
	NormalWorkStart                string  `json:"normal_work_start" yaml:"normal_work_start" toml:"normal_work_start"`
	NormalWorkEnd                  string  `json:"normal_work_end" yaml:"normal_work_end" toml:"normal_work_end"`
	WorkHoursPerDay                float64 `json:"work_hours_per_day" yaml:"work_hours_per_day" toml:"work_hours_per_day"`
	NormalBreakDuration            float64 `json:"normal_break_duration" yaml:"normal_break_duration" toml:"normal_break_duration"`
	LateThresholdMinutes           int     `json:"late_threshold_minutes" yaml:"late_threshold_minutes" toml:"late_threshold_minutes"`
	EarlyDepartureThresholdMinutes int     `json:"early_departure_threshold_minutes" yaml:"early_departure_threshold_minutes" toml:"early_departure_threshold_minutes"`
	AbnormalBreakMultiplier        float64 `json:"abnormal_break_multiplier" yaml:"abnormal_break_multiplier" toml:"abnormal_break_multiplier"`
	ConsecutiveAnomaliesThreshold  int     `json:"consecutive_anomalies_threshold" yaml:"consecutive_anomalies_threshold" toml:"consecutive_anomalies_threshold"`
	LookbackDays                   int     `json:"lookback_days" yaml:"lookback_days" toml:"lookback_days"`
	MultipleSwipeThreshold         int     `json:"multiple_swipe_threshold" yaml:"multiple_swipe_threshold" toml:"multiple_swipe_threshold"`
	SwipeDedupWindowMinutes        int     `json:"swipe_dedup_window_minutes" yaml:"swipe_dedup_window_minutes" toml:"swipe_dedup_window_minutes"`
	OutlierContamination           float64 `json:"outlier_contamination" yaml:"outlier_contamination" toml:"outlier_contamination"`
}

func (d DetectionConfig) Location() *time.Location {
	return clock.LoadLocation(d.Timezone)
}

func (d DetectionConfig) SwipeWindow() time.Duration {
	return time.Duration(d.SwipeDedupWindowMinutes) * time.Minute
}

type ModelConfig struct {
	MinSamples      int           `json:"min_samples" yaml:"min_samples" toml:"min_samples"`
	Trees           int           `json:"trees" yaml:"trees" toml:"trees"`
	SampleSize      int           `json:"sample_size" yaml:"sample_size" toml:"sample_size"`
	Seed            int64         `json:"seed" yaml:"seed" toml:"seed"`
	TrainingLimit   int           `json:"training_limit" yaml:"training_limit" toml:"training_limit"`
	TrainOnStart    bool          `json:"train_on_start" yaml:"train_on_start" toml:"train_on_start"`
	AutoRetrain     bool          `json:"auto_retrain" yaml:"auto_retrain" toml:"auto_retrain"`
	RetrainCooldown time.Duration `json:"retrain_cooldown" yaml:"retrain_cooldown" toml:"retrain_cooldown"`
}

// AccessControlConfig lists badge credentials that must no longer be honoured.
type AccessControlConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Revoked []string `json:"revoked" yaml:"revoked" toml:"revoked"`
}

type DirectoryConfig struct {
	SeedFile  string `json:"seed_file" yaml:"seed_file" toml:"seed_file"`
	CacheSize int    `json:"cache_size" yaml:"cache_size" toml:"cache_size"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Driver  string `json:"driver" yaml:"driver" toml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn" toml:"dsn"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit" toml:"store_limit"`
}

type AlertsConfig struct {
	StoreLimit int              `json:"store_limit" yaml:"store_limit" toml:"store_limit"`
	Kafka      AlertKafkaConfig `json:"kafka" yaml:"kafka" toml:"kafka"`
}

type AlertKafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers" toml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic" toml:"topic"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Ingest: IngestConfig{
			ChannelBuffer:    10000,
			REST:             RESTConfig{Enabled: true, Addr: ":8080"},
			Lines:            LineListenerConfig{Enabled: false, UDPAddr: ":5514", TCPAddr: ":9000"},
			FileTail:         FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:            KafkaConfig{Enabled: false},
			Parser:           ParserConfig{Timezone: "UTC", DefaultReaderID: "unknown"},
			RedeliveryWindow: 1 * time.Second,
			MaxClockSkew:     0,
			MaxFutureSkew:    2 * time.Minute,
		},
		Detection: DetectionConfig{
			Timezone:                       "UTC",
			NormalWorkStart:                "09:00",
			NormalWorkEnd:                  "17:00",
			WorkHoursPerDay:                8.0,
			NormalBreakDuration:            15,
			LateThresholdMinutes:           30,
			EarlyDepartureThresholdMinutes: 30,
			AbnormalBreakMultiplier:        1.5,
			ConsecutiveAnomaliesThreshold:  3,
			LookbackDays:                   7,
			MultipleSwipeThreshold:         3,
			SwipeDedupWindowMinutes:        5,
			OutlierContamination:           0.05,
		},
		Model: ModelConfig{
			MinSamples:      10,
			Trees:           100,
			SampleSize:      256,
			Seed:            42,
			TrainingLimit:   5000,
			TrainOnStart:    true,
			AutoRetrain:     false,
			RetrainCooldown: 10 * time.Minute,
		},
		AccessControl: AccessControlConfig{Enabled: false},
		Directory:     DirectoryConfig{CacheSize: 1024},
		API:           APIConfig{Enabled: true, Addr: ":8081"},
		Storage:       StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:attendguard.db?_pragma=busy_timeout(5000)"},
		Metrics:       MetricsConfig{StoreLimit: 5000},
		Alerts:        AlertsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	switch {
	case strings.EqualFold(filepath.Ext(path), ".toml"):
		_, decodeErr = toml.Decode(trimmed, cfg)
	case looksLikeJSON(trimmed):
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	default:
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s: %w", path, decodeErr)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = def.Metrics.StoreLimit
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = def.Alerts.StoreLimit
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = cfg.Detection.Timezone
	}
	if cfg.Ingest.Parser.DefaultReaderID == "" {
		cfg.Ingest.Parser.DefaultReaderID = def.Ingest.Parser.DefaultReaderID
	}
	if cfg.Detection.Timezone == "" {
		cfg.Detection.Timezone = "UTC"
	}
	if cfg.Detection.LookbackDays <= 0 {
		cfg.Detection.LookbackDays = def.Detection.LookbackDays
	}
	if cfg.Model.MinSamples <= 0 {
		cfg.Model.MinSamples = def.Model.MinSamples
	}
	if cfg.Model.Trees <= 0 {
		cfg.Model.Trees = def.Model.Trees
	}
	if cfg.Model.SampleSize <= 1 {
		cfg.Model.SampleSize = def.Model.SampleSize
	}
	if cfg.Model.TrainingLimit <= 0 {
		cfg.Model.TrainingLimit = def.Model.TrainingLimit
	}
	if cfg.Directory.CacheSize <= 0 {
		cfg.Directory.CacheSize = def.Directory.CacheSize
	}
}

func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.LogFormat) {
	case "", "json", "text":
	default:
		return fmt.Errorf("log_format must be json or text: %q", cfg.LogFormat)
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Lines.Enabled && cfg.Ingest.Lines.UDPAddr == "" && cfg.Ingest.Lines.TCPAddr == "" {
		return errors.New("ingest.lines.udp_addr or tcp_addr required when ingest.lines.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Alerts.Kafka.Enabled {
		if len(cfg.Alerts.Kafka.Brokers) == 0 || cfg.Alerts.Kafka.Topic == "" {
			return errors.New("alerts.kafka requires brokers and topic")
		}
	}
	d := cfg.Detection
	start, err := clock.ParseHHMM(d.NormalWorkStart)
	if err != nil {
		return fmt.Errorf("detection.normal_work_start: %w", err)
	}
	end, err := clock.ParseHHMM(d.NormalWorkEnd)
	if err != nil {
		return fmt.Errorf("detection.normal_work_end: %w", err)
	}
	if end <= start {
		return errors.New("detection.normal_work_end must be after normal_work_start")
	}
	if _, err := time.LoadLocation(d.Timezone); err != nil {
		return fmt.Errorf("detection.timezone: %w", err)
	}
	if d.WorkHoursPerDay <= 0 {
		return errors.New("detection.work_hours_per_day must be > 0")
	}
	if d.NormalBreakDuration <= 0 || d.AbnormalBreakMultiplier <= 0 {
		return errors.New("detection.normal_break_duration and abnormal_break_multiplier must be > 0")
	}
	if d.LateThresholdMinutes < 0 || d.EarlyDepartureThresholdMinutes < 0 {
		return errors.New("detection thresholds must not be negative")
	}
	if d.MultipleSwipeThreshold <= 0 || d.SwipeDedupWindowMinutes <= 0 {
		return errors.New("detection.multiple_swipe_threshold and swipe_dedup_window_minutes must be > 0")
	}
	if d.ConsecutiveAnomaliesThreshold <= 0 {
		return errors.New("detection.consecutive_anomalies_threshold must be > 0")
	}
	if d.OutlierContamination <= 0 || d.OutlierContamination >= 0.5 {
		return fmt.Errorf("detection.outlier_contamination must be in (0, 0.5): %v", d.OutlierContamination)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager serves cfg without a backing file; Reload and Watch are no-ops.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
