// Package logcfg locates the smplog configuration for the service binaries.
package logcfg

import (
	"os"

	logs "github.com/danmuck/smplog"
)

const envConfigPath = "SMPLOG_CONFIG"

var defaultCandidates = []string{
	"./smplog.config.toml",
	"./local/smplog.config.toml",
}

// Load returns the first readable configuration among SMPLOG_CONFIG, paths
// and the default candidates, falling back to smplog defaults.
func Load(paths ...string) logs.Config {
	candidates := make([]string, 0, len(paths)+len(defaultCandidates)+1)
	if path := os.Getenv(envConfigPath); path != "" {
		candidates = append(candidates, path)
	}
	candidates = append(candidates, paths...)
	candidates = append(candidates, defaultCandidates...)

	for _, path := range candidates {
		if path == "" {
			continue
		}
		if cfg, err := logs.ConfigFromFile(path); err == nil {
			return cfg
		}
	}
	return logs.DefaultConfig()
}
