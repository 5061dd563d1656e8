package indexing

import (
	"embed"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gong8/cramkit-sub000/internal/platform/logger"
)

//go:embed indexing.yaml
var configFS embed.FS

// CRAMKIT_INDEXING_CONFIG_YAML points at an override file; otherwise
// the embedded indexing.yaml is used.
const configPathEnv = "CRAMKIT_INDEXING_CONFIG_YAML"

// Fallback tunables if neither the override nor the embedded config
// can be loaded.
var (
	fallbackFoundationalTypes   = []string{"syllabus", "textbook", "lecture_notes"}
	fallbackParallelism         = 3
	fallbackMetadataParallelism = 3
	fallbackThoroughness        = "balanced"
	fallbackBreakerThreshold    = 2
	fallbackBreakerCooldown     = 60 * time.Second
)

// Config carries the pipeline tunables.
type Config struct {
	FoundationalTypes   []string
	Parallelism         int
	MetadataParallelism int
	DefaultThoroughness string
	BreakerThreshold    int
	BreakerCooldown     time.Duration
}

type yamlConfig struct {
	Pipeline            string   `yaml:"pipeline"`
	Version             int      `yaml:"version"`
	FoundationalTypes   []string `yaml:"foundational_types"`
	Parallelism         int      `yaml:"parallelism"`
	MetadataParallelism int      `yaml:"metadata_parallelism"`
	DefaultThoroughness string   `yaml:"default_thoroughness"`
	Breaker             struct {
		Threshold       int `yaml:"threshold"`
		CooldownSeconds int `yaml:"cooldown_seconds"`
	} `yaml:"breaker"`
}

// DefaultConfig returns the hardcoded fallback tunables.
func DefaultConfig() Config {
	return Config{
		FoundationalTypes:   append([]string(nil), fallbackFoundationalTypes...),
		Parallelism:         fallbackParallelism,
		MetadataParallelism: fallbackMetadataParallelism,
		DefaultThoroughness: fallbackThoroughness,
		BreakerThreshold:    fallbackBreakerThreshold,
		BreakerCooldown:     fallbackBreakerCooldown,
	}
}

// LoadConfig reads the override file when set, else the embedded
// config; a broken config falls back to the defaults with a warning.
func LoadConfig(log *logger.Logger) Config {
	raw, source, err := readConfigBytes()
	if err != nil {
		log.Warn("Indexing config load failed; using fallback", "source", source, "error", err)
		return DefaultConfig()
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(raw, &yc); err != nil {
		log.Warn("Indexing config parse failed; using fallback", "source", source, "error", err)
		return DefaultConfig()
	}
	cfg := DefaultConfig()
	if len(yc.FoundationalTypes) > 0 {
		cfg.FoundationalTypes = yc.FoundationalTypes
	}
	if yc.Parallelism > 0 {
		cfg.Parallelism = yc.Parallelism
	}
	if yc.MetadataParallelism > 0 {
		cfg.MetadataParallelism = yc.MetadataParallelism
	}
	if t := strings.TrimSpace(yc.DefaultThoroughness); t != "" {
		cfg.DefaultThoroughness = t
	}
	if yc.Breaker.Threshold > 0 {
		cfg.BreakerThreshold = yc.Breaker.Threshold
	}
	if yc.Breaker.CooldownSeconds > 0 {
		cfg.BreakerCooldown = time.Duration(yc.Breaker.CooldownSeconds) * time.Second
	}
	return cfg
}

func readConfigBytes() ([]byte, string, error) {
	if path := strings.TrimSpace(os.Getenv(configPathEnv)); path != "" {
		raw, err := os.ReadFile(path)
		return raw, path, err
	}
	raw, err := configFS.ReadFile("indexing.yaml")
	return raw, "embedded", err
}

// IsFoundational reports whether a resource type belongs to the
// sequential first phase. Matching is case-insensitive.
func (c Config) IsFoundational(resourceType string) bool {
	t := strings.ToLower(strings.TrimSpace(resourceType))
	for _, ft := range c.FoundationalTypes {
		if t == strings.ToLower(strings.TrimSpace(ft)) {
			return true
		}
	}
	return false
}
