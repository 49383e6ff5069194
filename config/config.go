// Package config loads the server configuration from an optional file and
// WRP_-prefixed environment variables over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ImprolabFIT/wrpserver/logger"
	"github.com/ImprolabFIT/wrpserver/wire"
)

// EnvPrefix prefixes every environment override, e.g. WRP_SERVER_ADDR.
const EnvPrefix = "WRP"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Camera    CameraConfig    `mapstructure:"camera"`
	Grab      GrabConfig      `mapstructure:"grab"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Log       LogConfig       `mapstructure:"log"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
}

type ServerConfig struct {
	Name             string        `mapstructure:"name"`
	Addr             string        `mapstructure:"addr"`
	OutputBufferSize int           `mapstructure:"output_buffer_size"`
	PayloadTimeout   time.Duration `mapstructure:"payload_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

type CameraConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	FrameTimeout   time.Duration `mapstructure:"frame_timeout"`
}

type GrabConfig struct {
	MaxConsecutiveTimeouts int    `mapstructure:"max_consecutive_timeouts"`
	AckWindow              uint32 `mapstructure:"ack_window"`
}

type DirectoryConfig struct {
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	RedisAddr string        `mapstructure:"redis_addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
}

type NotifyConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type SimulatorConfig struct {
	Cameras []SimCamera `mapstructure:"cameras"`
}

// SimCamera describes one simulated camera.
type SimCamera struct {
	Serial       string  `mapstructure:"serial"`
	Model        string  `mapstructure:"model"`
	Vendor       string  `mapstructure:"vendor"`
	Manufacturer string  `mapstructure:"manufacturer"`
	Version      string  `mapstructure:"version"`
	Width        int     `mapstructure:"width"`
	Height       int     `mapstructure:"height"`
	FPS          float64 `mapstructure:"fps"`
}

// DefaultCamera is simulated when the configuration lists no cameras.
var DefaultCamera = SimCamera{
	Serial:       "SIM-0001",
	Model:        "WRP Simulator",
	Vendor:       "Improlab",
	Manufacturer: "FIT CTU",
	Version:      "1.0",
	Width:        160,
	Height:       120,
	FPS:          9,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "wrp")
	v.SetDefault("server.addr", "0.0.0.0:11001")
	v.SetDefault("server.output_buffer_size", 4<<20)
	v.SetDefault("server.payload_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", time.Duration(0))
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("camera.request_timeout", 3*time.Second)
	v.SetDefault("camera.frame_timeout", time.Second)
	v.SetDefault("grab.max_consecutive_timeouts", 1)
	v.SetDefault("grab.ack_window", 0)
	v.SetDefault("directory.cache_ttl", 5*time.Second)
	v.SetDefault("directory.redis_addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "")
	v.SetDefault("notify.nats_url", "")
	v.SetDefault("notify.subject_prefix", "wrp")
}

// Load reads the configuration.
//
// Parameters:
//   - path: Config file (YAML, TOML or JSON by extension); empty for none
//
// Returns:
//   - The validated configuration, or an error naming the offending key
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}

	if len(cfg.Simulator.Cameras) == 0 {
		cfg.Simulator.Cameras = []SimCamera{DefaultCamera}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.OutputBufferSize < wire.HeaderLen+wire.FrameHeaderLen {
		return fmt.Errorf("server.output_buffer_size %d is too small", c.Server.OutputBufferSize)
	}

	durations := map[string]time.Duration{
		"server.payload_timeout": c.Server.PayloadTimeout,
		"server.write_timeout":   c.Server.WriteTimeout,
		"camera.request_timeout": c.Camera.RequestTimeout,
		"camera.frame_timeout":   c.Camera.FrameTimeout,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}

	if c.Server.IdleTimeout < 0 {
		return fmt.Errorf("server.idle_timeout must not be negative, got %s", c.Server.IdleTimeout)
	}
	if c.Directory.CacheTTL < 0 {
		return fmt.Errorf("directory.cache_ttl must not be negative, got %s", c.Directory.CacheTTL)
	}
	if c.Grab.MaxConsecutiveTimeouts < 1 {
		return fmt.Errorf("grab.max_consecutive_timeouts must be at least 1, got %d", c.Grab.MaxConsecutiveTimeouts)
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	seen := make(map[string]bool, len(c.Simulator.Cameras))
	for i, cam := range c.Simulator.Cameras {
		if err := cam.Validate(); err != nil {
			return fmt.Errorf("simulator.cameras[%d] invalid: %w", i, err)
		}
		if seen[cam.Serial] {
			return fmt.Errorf("simulator.cameras[%d] invalid: duplicate serial %q", i, cam.Serial)
		}
		seen[cam.Serial] = true
	}

	return nil
}

// Validate checks that the camera fits the WRP limits.
func (c SimCamera) Validate() error {
	if c.Serial == "" || len(c.Serial) > wire.MaxSerialLength {
		return fmt.Errorf("serial must be 1..%d bytes", wire.MaxSerialLength)
	}
	if !wire.IsASCII([]byte(c.Serial)) {
		return fmt.Errorf("serial %q is not ASCII", c.Serial)
	}
	if c.Width < 0 || c.Width > 0xFFFF || c.Height < 0 || c.Height > 0xFFFF {
		return fmt.Errorf("resolution %dx%d out of range", c.Width, c.Height)
	}
	if c.FPS < 0 {
		return fmt.Errorf("fps must not be negative, got %g", c.FPS)
	}

	return nil
}
