// Package config loads the replay-buffer service configuration.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	logs "github.com/danmuck/smplog"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"ppo-experience-buffer/internal/buffer"
)

const (
	EnvConfigPath       = "CONFIG_PATH"
	EnvPort             = "PORT"
	EnvBufferCapacity   = "BUFFER_CAPACITY"
	EnvSeed             = "SEED"
	EnvCheckpointFolder = "CHECKPOINT_FOLDER"

	DefaultPort = "9001"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Port             string        `toml:"port" yaml:"port"`
	CheckpointFolder string        `toml:"checkpoint_folder" yaml:"checkpoint_folder"`
	SaveOnExit       bool          `toml:"save_on_exit" yaml:"save_on_exit"`
	Buffer           buffer.Config `toml:"experience_buffer" yaml:"experience_buffer"`
}

func Default() Config {
	return Config{
		Port:             DefaultPort,
		CheckpointFolder: "./local/checkpoint",
		Buffer:           buffer.DefaultConfig(),
	}
}

// Load reads path over the defaults. The format follows the extension:
// .toml, or .yaml/.yml. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, goerr.Wrap(err, "failed to decode toml config", goerr.V("path", path))
		}
		for _, key := range md.Undecoded() {
			if !strings.HasPrefix(key.String(), "experience_buffer.trajectory_processor_args") {
				logs.Warnf("config %s: unknown key %s", path, key)
			}
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, goerr.Wrap(err, "failed to read yaml config", goerr.V("path", path))
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, goerr.Wrap(err, "failed to decode yaml config", goerr.V("path", path))
		}
	default:
		return Config{}, goerr.Wrap(ErrInvalidConfig, "unsupported config format", goerr.V("path", path))
	}

	if cfg.Buffer.TrajectoryProcessorArgs == nil {
		cfg.Buffer.TrajectoryProcessorArgs = map[string]any{}
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any of PORT, BUFFER_CAPACITY, SEED and
// CHECKPOINT_FOLDER that are set. Malformed numbers are rejected rather than
// ignored.
func ApplyEnv(cfg Config) (Config, error) {
	cfg.Port = getenv(EnvPort, cfg.Port)
	cfg.CheckpointFolder = getenv(EnvCheckpointFolder, cfg.CheckpointFolder)

	capacity, err := getenvInt(EnvBufferCapacity, int64(cfg.Buffer.MaxSize))
	if err != nil {
		return Config{}, err
	}
	cfg.Buffer.MaxSize = int(capacity)

	seed, err := getenvInt(EnvSeed, cfg.Buffer.Seed)
	if err != nil {
		return Config{}, err
	}
	cfg.Buffer.Seed = seed
	return cfg, nil
}

// FromEnv loads the file named by CONFIG_PATH and applies the env overrides.
func FromEnv() (Config, error) {
	cfg, err := Load(os.Getenv(EnvConfigPath))
	if err != nil {
		return Config{}, err
	}
	return ApplyEnv(cfg)
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, goerr.Wrap(ErrInvalidConfig, "env value is not an integer", goerr.V("key", key), goerr.V("value", value))
	}
	return parsed, nil
}
