package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"

	"ppo-experience-buffer/internal/buffer"
	"ppo-experience-buffer/internal/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	gt.NoError(t, os.WriteFile(path, []byte(content), 0644)).Required()
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	gt.NoError(t, err)
	gt.Equal(t, cfg.Port, config.DefaultPort)
	gt.Equal(t, cfg.Buffer.MaxSize, buffer.DefaultMaxSize)
	gt.Equal(t, cfg.Buffer.DType, "float32")
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "buffer.toml", `
port = "7000"
save_on_exit = true

[experience_buffer]
max_size = 2048
seed = 42
dtype = "float64"

[experience_buffer.trajectory_processor_args]
gamma = 0.9
max_returns_per_stats_increment = 10
`)
	cfg, err := config.Load(path)
	gt.NoError(t, err).Required()

	gt.Equal(t, cfg.Port, "7000")
	gt.True(t, cfg.SaveOnExit)
	gt.Equal(t, cfg.CheckpointFolder, config.Default().CheckpointFolder)
	gt.Equal(t, cfg.Buffer.MaxSize, 2048)
	gt.Equal(t, cfg.Buffer.Seed, int64(42))
	gt.Equal(t, cfg.Buffer.DType, "float64")
	gt.Equal(t, cfg.Buffer.Device, "cpu")
	gt.Equal(t, cfg.Buffer.TrajectoryProcessorArgs["gamma"], any(0.9))
	gt.Equal(t, cfg.Buffer.TrajectoryProcessorArgs["max_returns_per_stats_increment"], any(int64(10)))
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "buffer.yaml", `
port: "7001"
checkpoint_folder: /tmp/ckpt
experience_buffer:
  max_size: 16
  device: cpu
  trajectory_processor_args:
    lambda: 0.8
    standardize_returns: false
`)
	cfg, err := config.Load(path)
	gt.NoError(t, err).Required()

	gt.Equal(t, cfg.Port, "7001")
	gt.Equal(t, cfg.CheckpointFolder, "/tmp/ckpt")
	gt.Equal(t, cfg.Buffer.MaxSize, 16)
	gt.Equal(t, cfg.Buffer.DType, "float32")
	gt.Equal(t, cfg.Buffer.TrajectoryProcessorArgs["lambda"], any(0.8))
	gt.Equal(t, cfg.Buffer.TrajectoryProcessorArgs["standardize_returns"], any(false))
}

func TestLoadErrors(t *testing.T) {
	_, err := config.Load(writeFile(t, "buffer.json", "{}"))
	gt.True(t, errors.Is(err, config.ErrInvalidConfig))

	_, err = config.Load(writeFile(t, "bad.toml", "port = "))
	gt.Error(t, err)

	_, err = config.Load(writeFile(t, "bad.yaml", "experience_buffer: [1, 2"))
	gt.Error(t, err)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	gt.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(config.EnvPort, "9100")
	t.Setenv(config.EnvBufferCapacity, "512")
	t.Setenv(config.EnvSeed, "-3")
	t.Setenv(config.EnvCheckpointFolder, "/var/ckpt")

	cfg, err := config.ApplyEnv(config.Default())
	gt.NoError(t, err).Required()
	gt.Equal(t, cfg.Port, "9100")
	gt.Equal(t, cfg.Buffer.MaxSize, 512)
	gt.Equal(t, cfg.Buffer.Seed, int64(-3))
	gt.Equal(t, cfg.CheckpointFolder, "/var/ckpt")
}

func TestApplyEnvRejectsMalformedNumbers(t *testing.T) {
	t.Setenv(config.EnvBufferCapacity, "lots")
	_, err := config.ApplyEnv(config.Default())
	gt.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestFromEnv(t *testing.T) {
	path := writeFile(t, "buffer.toml", "[experience_buffer]\nmax_size = 8\n")
	t.Setenv(config.EnvConfigPath, path)
	t.Setenv(config.EnvSeed, "11")

	cfg, err := config.FromEnv()
	gt.NoError(t, err).Required()
	gt.Equal(t, cfg.Buffer.MaxSize, 8)
	gt.Equal(t, cfg.Buffer.Seed, int64(11))
}
