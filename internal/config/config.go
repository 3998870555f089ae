// Package config loads upload subsystem settings from an optional YAML file
// with environment overrides layered on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied before the file and environment are consulted.
const (
	DefaultMaxFilesPerConversation = 5
	DefaultPlaceholderAPIKey       = "your-api-key-here"
	DefaultConversationDir         = "~/.uplink/conversations"
	DefaultUploadTimeout           = 2 * time.Minute
	DefaultSweepGraceMS            = 300
	DefaultIDStrategy              = "ksuid"
)

// Config holds everything the upload subsystem needs at construction time.
type Config struct {
	// Endpoint is the default file API base URL; conversations may override
	// it with their own credential endpoint.
	Endpoint string `yaml:"endpoint"`
	// PlaceholderAPIKey is the application default key that must never be
	// used for uploads.
	PlaceholderAPIKey string `yaml:"placeholder_api_key"`

	MaxFilesPerConversation int `yaml:"max_files_per_conversation"`
	// MaxTotalFiles caps attachments across all conversations; zero disables
	// the global check.
	MaxTotalFiles int `yaml:"max_total_files"`

	SweepGraceMS  int           `yaml:"sweep_grace_ms"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`

	ConversationDir string `yaml:"conversation_dir"`

	// IDStrategy selects the identifier algorithm for new conversations and
	// batches: "ksuid" (default) or "uuidv7".
	IDStrategy string `yaml:"id_strategy"`
}

// SweepGrace returns the sweep debounce window.
func (c Config) SweepGrace() time.Duration {
	return time.Duration(c.SweepGraceMS) * time.Millisecond
}

func defaults() Config {
	return Config{
		PlaceholderAPIKey:       DefaultPlaceholderAPIKey,
		MaxFilesPerConversation: DefaultMaxFilesPerConversation,
		SweepGraceMS:            DefaultSweepGraceMS,
		UploadTimeout:           DefaultUploadTimeout,
		ConversationDir:         DefaultConversationDir,
		IDStrategy:              DefaultIDStrategy,
	}
}

// Load reads the config file at path (missing file is fine), then applies
// UPLINK_* environment overrides. An empty path checks ~/.uplink/config.yaml.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".uplink", "config.yaml")
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Defaults plus environment are enough.
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.MaxFilesPerConversation < 0 {
		return Config{}, fmt.Errorf("max_files_per_conversation must not be negative")
	}
	if cfg.MaxTotalFiles < 0 {
		return Config{}, fmt.Errorf("max_total_files must not be negative")
	}
	switch cfg.IDStrategy {
	case "", "ksuid", "uuidv7":
	default:
		return Config{}, fmt.Errorf("id_strategy %q is not one of ksuid, uuidv7", cfg.IDStrategy)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("UPLINK_ENDPOINT")); v != "" {
		cfg.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("UPLINK_PLACEHOLDER_API_KEY")); v != "" {
		cfg.PlaceholderAPIKey = v
	}
	if v, ok := envInt("UPLINK_MAX_FILES_PER_CONVERSATION"); ok {
		cfg.MaxFilesPerConversation = v
	}
	if v, ok := envInt("UPLINK_MAX_TOTAL_FILES"); ok {
		cfg.MaxTotalFiles = v
	}
	if v, ok := envInt("UPLINK_SWEEP_GRACE_MS"); ok {
		cfg.SweepGraceMS = v
	}
	if v := strings.TrimSpace(os.Getenv("UPLINK_UPLOAD_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.UploadTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("UPLINK_CONVERSATION_DIR")); v != "" {
		cfg.ConversationDir = v
	}
	if v := strings.TrimSpace(os.Getenv("UPLINK_ID_STRATEGY")); v != "" {
		cfg.IDStrategy = v
	}
}

func envInt(name string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
