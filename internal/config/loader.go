package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/thruflo/botloop/internal/logging"
)

// Default values for Config.
const (
	DefaultDeviceType         = "sim"
	DefaultFPS                = 30
	DefaultRoot               = "data"
	DefaultRepoID             = "local/botloop"
	DefaultWarmupTimeS        = 10.0
	DefaultEpisodeTimeS       = 60.0
	DefaultResetTimeS         = 60.0
	DefaultNumEpisodes        = 50
	DefaultCompression        = "zstd"
	DefaultImageWriterWorkers = 4
	DefaultViewerAddr         = "127.0.0.1:8374"
	DefaultLogRateHz          = 1.0
)

// Compression codecs accepted by record.compression.
var compressions = []string{"none", "lz4", "zstd"}

var repoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Device: DeviceConfig{Type: DefaultDeviceType},
		Control: ControlConfig{
			FPS: DefaultFPS,
		},
		Record: RecordConfig{
			Root:               DefaultRoot,
			RepoID:             DefaultRepoID,
			WarmupTimeS:        DefaultWarmupTimeS,
			EpisodeTimeS:       DefaultEpisodeTimeS,
			ResetTimeS:         DefaultResetTimeS,
			NumEpisodes:        DefaultNumEpisodes,
			Video:              true,
			Compression:        DefaultCompression,
			ImageWriterWorkers: DefaultImageWriterWorkers,
		},
		Log: LogConfig{
			Level:  "info",
			RateHz: DefaultLogRateHz,
		},
	}
}

// DefaultViewerConfig returns a ViewerConfig with sensible default values.
func DefaultViewerConfig() *ViewerConfig {
	return &ViewerConfig{Addr: DefaultViewerAddr}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// LoadConfig reads and parses the config file at path. The format is
// chosen by extension: .toml files are TOML, anything else is YAML.
// If path is empty or the file doesn't exist, returns default config.
// Applies defaults for any missing fields.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := Decode(filepath.Ext(path), data, &cfg); err != nil {
		return nil, err
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Decode unmarshals data into cfg using the format named by ext.
func Decode(ext string, data []byte, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse TOML config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	return nil
}

// Save writes cfg to path as YAML, or TOML for a .toml path.
func Save(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ValidateConfig checks every config value and reports all problems at once.
func ValidateConfig(cfg *Config) error {
	var errs []error
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if cfg.Device.Type == "" {
		add("device.type", "required field is empty")
	}
	if cfg.Device.MaxRelativeTarget < 0 {
		add("device.max_relative_target", "must not be negative")
	}
	for name, cam := range cfg.Device.Cameras {
		if cam.Width <= 0 || cam.Height <= 0 {
			add("device.cameras."+name, "width and height must be positive")
		}
	}

	if cfg.Control.FPS <= 0 {
		add("control.fps", "must be positive")
	}
	if cfg.Control.TeleopTimeS < 0 {
		add("control.teleop_time_s", "must not be negative")
	}

	r := cfg.Record
	if r.Root == "" {
		add("record.root", "required field is empty")
	}
	if !repoIDPattern.MatchString(r.RepoID) {
		add("record.repo_id", "must have the form <owner>/<name>")
	}
	if r.WarmupTimeS < 0 {
		add("record.warmup_time_s", "must not be negative")
	}
	if r.EpisodeTimeS <= 0 {
		add("record.episode_time_s", "must be positive")
	}
	if r.ResetTimeS < 0 {
		add("record.reset_time_s", "must not be negative")
	}
	if r.NumEpisodes <= 0 {
		add("record.num_episodes", "must be positive")
	}
	if !slices.Contains(compressions, r.Compression) {
		add("record.compression", fmt.Sprintf("must be one of %s", strings.Join(compressions, ", ")))
	}
	if r.ImageWriterWorkers < 0 {
		add("record.image_writer_workers", "must not be negative")
	}

	if cfg.Policy.Path == "" && cfg.Policy.UseAMP {
		add("policy.use_amp", "requires policy.path")
	}

	if cfg.Viewer != nil && cfg.Viewer.Addr == "" {
		add("viewer.addr", "required field is empty")
	}

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		add("log.level", err.Error())
	}
	if cfg.Log.RateHz < 0 {
		add("log.rate_hz", "must not be negative")
	}

	return errors.Join(errs...)
}

// IsValidationError checks if an error is, or joins, a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// ValidationErrors unpacks every ValidationError joined into err.
func ValidationErrors(err error) []ValidationError {
	if err == nil {
		return nil
	}
	var out []ValidationError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, ValidationErrors(e)...)
		}
		return out
	}
	var ve ValidationError
	if errors.As(err, &ve) {
		out = append(out, ve)
	}
	return out
}
