package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/occupancy"
	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/pkg/types"
)

const (
	// DefaultConfigFilename is the config file read when no path is given.
	DefaultConfigFilename = "door-monitor.yaml"

	// DefaultEnvFilename is the optional dotenv file loaded before env overrides.
	DefaultEnvFilename = ".env"

	// DefaultFilePermissions is the permission used when saving config files.
	DefaultFilePermissions = 0o600
)

// Source kinds.
const (
	SourceSynthetic = "synthetic"
	SourceDir       = "dir"
	SourceMJPEG     = "mjpeg"
	SourceCamera    = "camera"
)

// Detector kinds.
const (
	DetectorProcess  = "process"
	DetectorScripted = "scripted"
)

var (
	errConfigIsNotSet    = errors.New("configuration is not set")
	errUnknownSource     = errors.New("unknown source kind")
	errSourceDirRequired = errors.New("source.dir must be provided for dir source")
	errSourceURLRequired = errors.New("source.url must be provided for mjpeg source")
	errUnknownDetector   = errors.New("unknown detector kind")
	errCommandRequired   = errors.New("detector.command must be provided for process detector")
	errJPEGQuality       = errors.New("jpeg_quality must be between 1 and 100")
	errKafkaTopic        = errors.New("event_log.kafka.topic must be provided with brokers")
)

// PolicyConfig holds the occupancy thresholds.
type PolicyConfig struct {
	MaxPeopleChangePerFrame int           `yaml:"max_people_change_per_frame"`
	AlertDuration           time.Duration `yaml:"alert_duration"`
	OccupancyThreshold      int           `yaml:"occupancy_threshold"`
}

type plainPolicy PolicyConfig

// UnmarshalYAML reads alert_duration like ALERT_DURATION: a plain number is
// seconds, anything else is a Go duration string.
func (p *PolicyConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return node.Decode((*plainPolicy)(p))
	}

	rest := *node
	rest.Content = make([]*yaml.Node, 0, len(node.Content))
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if key.Value != "alert_duration" {
			rest.Content = append(rest.Content, key, value)
			continue
		}
		if value.Tag == "!!null" {
			continue
		}
		d, err := parseSeconds(value.Value)
		if err != nil {
			return fmt.Errorf("line %d: alert_duration: %w", value.Line, err)
		}
		p.AlertDuration = d
	}
	return rest.Decode((*plainPolicy)(p))
}

// Policy converts the config into the monitor policy.
func (p PolicyConfig) Policy() occupancy.Policy {
	return occupancy.Policy{
		MaxPeopleChangePerFrame: p.MaxPeopleChangePerFrame,
		AlertDuration:           p.AlertDuration,
		OccupancyThreshold:      p.OccupancyThreshold,
	}
}

// DetectorConfig selects and configures the person detector.
type DetectorConfig struct {
	Kind        string        `yaml:"kind"`
	Command     []string      `yaml:"command"`
	Confidence  float64       `yaml:"confidence"`
	PersonClass int           `yaml:"person_class"`
	Timeout     time.Duration `yaml:"timeout"`
	Script      []int         `yaml:"script"`
}

// ModelConfig identifies the detector model and its known-good hash.
type ModelConfig struct {
	Path   string `yaml:"path"`
	SHA256 string `yaml:"sha256"`
}

// KafkaConfig configures the optional Kafka record sink.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// PostgresConfig configures the optional PostgreSQL record sink.
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// EventLogConfig configures occupancy record sinks.
type EventLogConfig struct {
	CSVPath    string         `yaml:"csv_path"`
	MaxSizeMB  int            `yaml:"max_size_mb"`
	MaxBackups int            `yaml:"max_backups"`
	Interval   time.Duration  `yaml:"interval"`
	Kafka      KafkaConfig    `yaml:"kafka"`
	Postgres   PostgresConfig `yaml:"postgres"`
}

// TelegramConfig configures alert delivery through a Telegram bot.
type TelegramConfig struct {
	Token         string `yaml:"token"`
	ChatID        int64  `yaml:"chat_id"`
	RatePerSecond int    `yaml:"rate_per_second"`
}

// NotifyConfig configures alert notifications.
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// RecordingConfig configures the evidence recorder.
type RecordingConfig struct {
	OutputPath  string `yaml:"output_path"`
	AutoOnAlert bool   `yaml:"auto_on_alert"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// Config defines the runtime configuration for the door monitor.
type Config struct {
	Addr           string             `yaml:"addr"`
	PprofAddr      string             `yaml:"pprof_addr"`
	AllowOrigin    string             `yaml:"allow_origin"`
	StatusInterval time.Duration      `yaml:"status_interval"`
	JPEGQuality    int                `yaml:"jpeg_quality"`
	Policy         PolicyConfig       `yaml:"policy"`
	Source         types.SourceConfig `yaml:"source"`
	Detector       DetectorConfig     `yaml:"detector"`
	Model          ModelConfig        `yaml:"model"`
	EventLog       EventLogConfig     `yaml:"event_log"`
	Notify         NotifyConfig       `yaml:"notify"`
	Recording      RecordingConfig    `yaml:"recording"`
	Log            LogConfig          `yaml:"log"`
}

// DefaultConfig returns a config that runs the demo without any hardware.
func DefaultConfig() Config {
	policy := occupancy.DefaultPolicy()
	return Config{
		Addr:           ":8080",
		StatusInterval: time.Second,
		JPEGQuality:    80,
		Policy: PolicyConfig{
			MaxPeopleChangePerFrame: policy.MaxPeopleChangePerFrame,
			AlertDuration:           policy.AlertDuration,
			OccupancyThreshold:      policy.OccupancyThreshold,
		},
		Source: types.SourceConfig{
			Kind:   SourceSynthetic,
			Device: "/dev/video0",
			FPS:    10,
			Width:  640,
			Height: 480,
		},
		Detector: DetectorConfig{
			Kind:        DetectorScripted,
			Confidence:  0.25,
			PersonClass: 0,
			Timeout:     2 * time.Second,
			Script:      []int{0, 1, 2, 3, 4, 4, 4, 5, 4, 3, 2, 1},
		},
		Model: ModelConfig{
			Path: "yolov8n.pt",
		},
		EventLog: EventLogConfig{
			CSVPath:    "occupancy_log.csv",
			MaxSizeMB:  10,
			MaxBackups: 5,
			Interval:   time.Second,
			Postgres: PostgresConfig{
				Table: "occupancy_log",
			},
		},
		Notify: NotifyConfig{
			Telegram: TelegramConfig{
				RatePerSecond: 1,
			},
		},
		Recording: RecordingConfig{
			OutputPath: "./recordings",
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
	}
}

// Load reads the YAML config at path on top of DefaultConfig. A missing file
// at the default location is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	cfg := DefaultConfig()

	contents, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(contents, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	return &cfg, nil
}

// Save writes the config to path as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}
	if path == "" {
		path = DefaultConfigFilename
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// LoadDotEnv loads variables from a dotenv file into the process
// environment. A missing file is ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		path = DefaultEnvFilename
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides config fields from environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}

	if v := getenv("MAX_PEOPLE_CHANGE_PER_FRAME"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_PEOPLE_CHANGE_PER_FRAME: %w", err)
		}
		c.Policy.MaxPeopleChangePerFrame = n
	}
	if v := getenv("ALERT_DURATION"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("ALERT_DURATION: %w", err)
		}
		c.Policy.AlertDuration = d
	}
	if v := getenv("OCCUPANCY_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("OCCUPANCY_THRESHOLD: %w", err)
		}
		c.Policy.OccupancyThreshold = n
	}

	if v := getenv("DOOR_MONITOR_ADDR"); v != "" {
		c.Addr = v
	}
	if v := getenv("DOOR_MONITOR_PPROF_ADDR"); v != "" {
		c.PprofAddr = v
	}
	if v := getenv("DOOR_MONITOR_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("MODEL_PATH"); v != "" {
		c.Model.Path = v
	}
	if v := getenv("MODEL_SHA256"); v != "" {
		c.Model.SHA256 = v
	}
	if v := getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Notify.Telegram.Token = v
	}
	if v := getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		c.Notify.Telegram.ChatID = id
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.EventLog.Kafka.Brokers = splitList(v)
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		c.EventLog.Kafka.Topic = v
	}
	if v := getenv("DB_DSN"); v != "" {
		c.EventLog.Postgres.DSN = v
	}

	return nil
}

// Validate checks the config and fills zero values that have safe defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	defaults := DefaultConfig()

	if err := cfg.Policy.Policy().Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	if cfg.Addr == "" {
		cfg.Addr = defaults.Addr
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = defaults.StatusInterval
	}
	if cfg.JPEGQuality == 0 {
		cfg.JPEGQuality = defaults.JPEGQuality
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return errJPEGQuality
	}

	if cfg.Source.FPS <= 0 {
		cfg.Source.FPS = defaults.Source.FPS
	}
	switch cfg.Source.Kind {
	case SourceSynthetic:
	case SourceDir:
		if cfg.Source.Dir == "" {
			return errSourceDirRequired
		}
	case SourceMJPEG:
		if cfg.Source.URL == "" {
			return errSourceURLRequired
		}
	case SourceCamera:
		if cfg.Source.Device == "" {
			cfg.Source.Device = defaults.Source.Device
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownSource, cfg.Source.Kind)
	}

	switch cfg.Detector.Kind {
	case DetectorProcess:
		if len(cfg.Detector.Command) == 0 {
			return errCommandRequired
		}
	case DetectorScripted:
	default:
		return fmt.Errorf("%w: %q", errUnknownDetector, cfg.Detector.Kind)
	}
	if cfg.Detector.Timeout <= 0 {
		cfg.Detector.Timeout = defaults.Detector.Timeout
	}

	if cfg.EventLog.Interval < 0 {
		cfg.EventLog.Interval = 0
	}
	if len(cfg.EventLog.Kafka.Brokers) > 0 && cfg.EventLog.Kafka.Topic == "" {
		return errKafkaTopic
	}
	if cfg.EventLog.Postgres.Table == "" {
		cfg.EventLog.Postgres.Table = defaults.EventLog.Postgres.Table
	}
	if cfg.Notify.Telegram.RatePerSecond <= 0 {
		cfg.Notify.Telegram.RatePerSecond = defaults.Notify.Telegram.RatePerSecond
	}
	if cfg.Recording.OutputPath == "" {
		cfg.Recording.OutputPath = defaults.Recording.OutputPath
	}

	return nil
}

// parseSeconds accepts either a number of seconds ("5", "2.5") or a Go
// duration string ("5s", "1500ms").
func parseSeconds(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
