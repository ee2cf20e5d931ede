package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultListenAddr      = ":8080"
	DefaultCommandTimeout  = 30 * time.Second
	DefaultCleanupInterval = 60 * time.Second
	DefaultTempFileMaxAge  = 60 * time.Minute
	DefaultTempDir         = "/tmp"
	DefaultWorkspaceDir    = "/workspace"
	DefaultLanguage        = "python"
)

// Config holds the daemon configuration. Values come from environment
// variables with an optional YAML overlay for interpreter pool tuning.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	// CommandTimeout bounds every synchronous exec on the control wire.
	CommandTimeout time.Duration `yaml:"-"`

	// CleanupInterval is the cadence of the temp-file janitor inside each
	// control child; TempFileMaxAge is the age past which transport and
	// capture files are reclaimed.
	CleanupInterval time.Duration `yaml:"-"`
	TempFileMaxAge  time.Duration `yaml:"-"`

	// TempDir hosts per-correlation transport files and process capture
	// files. Everything under it is disposable.
	TempDir string `yaml:"temp_dir"`

	// WorkspaceDir is the initial working directory for sessions and
	// interpreter contexts that do not specify one.
	WorkspaceDir string `yaml:"workspace_dir"`

	// IsolationRequired makes a session creation with isolation requested
	// fail outright when the kernel lacks namespace support, instead of
	// logging and proceeding unisolated.
	IsolationRequired bool `yaml:"isolation_required"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	Interpreter InterpreterConfig `yaml:"interpreter"`
}

// InterpreterConfig configures the kernel languages and their pools.
type InterpreterConfig struct {
	DefaultLanguage string                    `yaml:"default_language"`
	Languages       map[string]LanguageConfig `yaml:"languages"`
}

// LanguageConfig configures one language kernel and its warm pool.
type LanguageConfig struct {
	// Command is the argv launched for each kernel of this language.
	Command []string `yaml:"command"`
	// MinPoolSize is the warm pool floor; MaxPoolSize caps available
	// plus in-use contexts for the language.
	MinPoolSize int `yaml:"min_pool_size"`
	MaxPoolSize int `yaml:"max_pool_size"`
}

// FromEnv builds a Config from the environment the host injects into the
// container. Millisecond-granularity variables follow the host contract:
// COMMAND_TIMEOUT_MS, CLEANUP_INTERVAL_MS, TEMP_FILE_MAX_AGE_MS, TEMP_DIR.
func FromEnv() *Config {
	cfg := &Config{
		ListenAddr:        envString("BURROW_LISTEN_ADDR", DefaultListenAddr),
		CommandTimeout:    envDurationMs("COMMAND_TIMEOUT_MS", DefaultCommandTimeout),
		CleanupInterval:   envDurationMs("CLEANUP_INTERVAL_MS", DefaultCleanupInterval),
		TempFileMaxAge:    envDurationMs("TEMP_FILE_MAX_AGE_MS", DefaultTempFileMaxAge),
		TempDir:           envString("TEMP_DIR", DefaultTempDir),
		WorkspaceDir:      envString("WORKSPACE_DIR", DefaultWorkspaceDir),
		LogLevel:          envString("BURROW_LOG_LEVEL", "info"),
		LogJSON:           envBool("BURROW_LOG_JSON", false),
		IsolationRequired: envBool("BURROW_ISOLATION_REQUIRED", false),
		Interpreter: InterpreterConfig{
			DefaultLanguage: DefaultLanguage,
			Languages: map[string]LanguageConfig{
				"python": {
					Command:     []string{"python3", "-u", "-m", "burrow_kernel"},
					MinPoolSize: 1,
					MaxPoolSize: 5,
				},
			},
		},
	}
	return cfg
}

// LoadFile overlays a YAML config file onto cfg. A missing file is not an
// error; a malformed one is.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive, got %v", c.CommandTimeout)
	}
	if c.TempDir == "" {
		return fmt.Errorf("temp dir must not be empty")
	}
	for lang, lc := range c.Interpreter.Languages {
		if len(lc.Command) == 0 {
			return fmt.Errorf("language %s has no kernel command", lang)
		}
		if lc.MaxPoolSize > 0 && lc.MinPoolSize > lc.MaxPoolSize {
			return fmt.Errorf("language %s min pool %d exceeds max %d", lang, lc.MinPoolSize, lc.MaxPoolSize)
		}
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDurationMs(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
