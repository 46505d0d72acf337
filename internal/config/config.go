// Package config holds compiler-wide defaults, following the teacher
// daemon's config.Config/DefaultConfig shape.
package config

import (
	"os"
	"path/filepath"

	"github.com/quantarax/collectivec/internal/ir"
)

// Config holds compiler configuration.
type Config struct {
	DefaultProtocol    string
	ThreadblockPolicy  string // "manual" or "automatic"
	DefaultInstances   int
	DefaultRankChannels int
	CacheDirectory     string
	CacheEnabled       bool
}

// ThreadblockPolicy values recognized in Config.ThreadblockPolicy.
const (
	PolicyManual    = "manual"
	PolicyAutomatic = "automatic"
)

// DefaultConfig returns the compiler's default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	cacheDir := filepath.Join(homeDir, ".local", "share", "collectivec", "cache")

	return &Config{
		DefaultProtocol:     ir.ProtocolSimple,
		ThreadblockPolicy:   PolicyAutomatic,
		DefaultInstances:    1,
		DefaultRankChannels: 1,
		CacheDirectory:      cacheDir,
		CacheEnabled:        true,
	}
}

// LoadConfig loads configuration from a file. Simplified: always returns
// the default configuration, following the teacher's LoadConfig stub — a
// real loader would parse a YAML file at configPath.
func LoadConfig(configPath string) (*Config, error) {
	return DefaultConfig(), nil
}
