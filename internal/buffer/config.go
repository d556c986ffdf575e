package buffer

const DefaultMaxSize = 100000

// Config controls an ExperienceBuffer. TrajectoryProcessorArgs is handed to
// the processor factory untouched.
type Config struct {
	MaxSize                 int            `toml:"max_size" yaml:"max_size"`
	TrajectoryProcessorArgs map[string]any `toml:"trajectory_processor_args" yaml:"trajectory_processor_args"`
	Seed                    int64          `toml:"seed" yaml:"seed"`
	DType                   string         `toml:"dtype" yaml:"dtype"`
	Device                  string         `toml:"device" yaml:"device"`
	CheckpointLoadFolder    string         `toml:"checkpoint_load_folder" yaml:"checkpoint_load_folder"`
}

func DefaultConfig() Config {
	return Config{
		MaxSize:                 DefaultMaxSize,
		TrajectoryProcessorArgs: map[string]any{},
		DType:                   "float32",
		Device:                  "cpu",
	}
}
