package config

import (
	"os"
	"path/filepath"
)

// NudgePath returns the root directory for engine data.
// It uses $NUDGE_PATH if set, otherwise defaults to ~/.nudge.
func NudgePath() string {
	if v := os.Getenv("NUDGE_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".nudge")
	}
	return filepath.Join(home, ".nudge")
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	return filepath.Join(NudgePath(), "config.yaml")
}

// HeartbeatPath returns the path to the engine heartbeat file.
func HeartbeatPath() string {
	return filepath.Join(NudgePath(), "heartbeat.json")
}
