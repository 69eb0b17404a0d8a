package config

import "time"

// CameraConfig is the resolution of one camera.
type CameraConfig struct {
	Width  int `yaml:"width" toml:"width"`
	Height int `yaml:"height" toml:"height"`
}

// DeviceConfig selects and tunes the robot device.
type DeviceConfig struct {
	Type              string                  `yaml:"type" toml:"type"`
	MaxRelativeTarget float32                 `yaml:"max_relative_target" toml:"max_relative_target"`
	Cameras           map[string]CameraConfig `yaml:"cameras,omitempty" toml:"cameras,omitempty"`
}

// ControlConfig holds loop pacing and interactive settings.
type ControlConfig struct {
	FPS            int  `yaml:"fps" toml:"fps"`
	DisplayCameras bool `yaml:"display_cameras" toml:"display_cameras"`
	// TeleopTimeS bounds the teleoperate command. Zero runs until the
	// operator exits.
	TeleopTimeS float64 `yaml:"teleop_time_s" toml:"teleop_time_s"`
}

// RecordConfig describes a recording session.
type RecordConfig struct {
	Root               string  `yaml:"root" toml:"root"`
	RepoID             string  `yaml:"repo_id" toml:"repo_id"`
	WarmupTimeS        float64 `yaml:"warmup_time_s" toml:"warmup_time_s"`
	EpisodeTimeS       float64 `yaml:"episode_time_s" toml:"episode_time_s"`
	ResetTimeS         float64 `yaml:"reset_time_s" toml:"reset_time_s"`
	NumEpisodes        int     `yaml:"num_episodes" toml:"num_episodes"`
	Video              bool    `yaml:"video" toml:"video"`
	Compression        string  `yaml:"compression" toml:"compression"`
	ImageWriterWorkers int     `yaml:"image_writer_workers" toml:"image_writer_workers"`
	Resume             bool    `yaml:"resume" toml:"resume"`
}

// PolicyConfig selects the policy used for autonomous control.
type PolicyConfig struct {
	Path   string `yaml:"path,omitempty" toml:"path,omitempty"`
	Device string `yaml:"device,omitempty" toml:"device,omitempty"`
	UseAMP bool   `yaml:"use_amp" toml:"use_amp"`
}

// ViewerConfig enables the web camera viewer.
type ViewerConfig struct {
	Addr         string `yaml:"addr" toml:"addr"`
	PasswordHash string `yaml:"password_hash,omitempty" toml:"password_hash,omitempty"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string  `yaml:"level" toml:"level"`
	RateHz float64 `yaml:"rate_hz" toml:"rate_hz"`
}

// Config is the botloop configuration file.
type Config struct {
	Device  DeviceConfig  `yaml:"device" toml:"device"`
	Control ControlConfig `yaml:"control" toml:"control"`
	Record  RecordConfig  `yaml:"record" toml:"record"`
	Policy  PolicyConfig  `yaml:"policy" toml:"policy"`
	Viewer  *ViewerConfig `yaml:"viewer,omitempty" toml:"viewer,omitempty"`
	Log     LogConfig     `yaml:"log" toml:"log"`
}

// Seconds converts a float seconds value from the config into a Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
