// Package core holds what a koru host needs around the asset engine:
// configuration, logging and the frame loop.
package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/gobuffalo/envy"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/devblok/koruasset/asset"
)

// Environment variables that override the configuration file
const (
	EnvCacheDir     = "KORU_CACHE_DIR"
	EnvLogLevel     = "KORU_LOG_LEVEL"
	EnvFPS          = "KORU_FPS"
	EnvMaxTransfers = "KORU_MAX_TRANSFERS"
)

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time   TimeConfiguration   `yaml:"time"`
	Assets asset.Configuration `yaml:"assets"`
	Log    LogConfiguration    `yaml:"log"`
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int `yaml:"framesPerSecond"`
}

// LogConfiguration selects the log level and output format.
type LogConfiguration struct {
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// DefaultConfiguration returns the configuration used for anything the
// configuration file leaves out.
func DefaultConfiguration() Configuration {
	return Configuration{
		Time:   TimeConfiguration{FramesPerSecond: 60},
		Assets: asset.DefaultConfiguration(),
		Log:    LogConfiguration{Level: "info", Format: "text"},
	}
}

// LoadConfiguration reads the yaml file at path on top of the defaults,
// then applies the KORU_* environment overrides. An empty path skips the
// file. The env files are loaded into the environment first, variables
// already set win over them.
func LoadConfiguration(path string, envFiles ...string) (Configuration, error) {
	cfg := DefaultConfiguration()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}

	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return cfg, err
		}
		envy.Reload()
	}
	return cfg, applyEnvironment(&cfg)
}

func applyEnvironment(cfg *Configuration) error {
	cfg.Assets.CacheDirectory = envy.Get(EnvCacheDir, cfg.Assets.CacheDirectory)
	cfg.Log.Level = envy.Get(EnvLogLevel, cfg.Log.Level)

	ints := []struct {
		key string
		dst *int
	}{
		{EnvFPS, &cfg.Time.FramesPerSecond},
		{EnvMaxTransfers, &cfg.Assets.MaxConcurrentTransfers},
	}
	for _, v := range ints {
		s := envy.Get(v.key, "")
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: invalid value '%s'", v.key, s)
		}
		*v.dst = n
	}
	return nil
}
