// Package config resolves bashguard's own settings: where the workspace
// policy, profiles, logs and session state live.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"github.com/gzhole/bashguard/internal/shell"
)

const (
	DefaultConfigDir = ".bashguard"
	DefaultLogDir    = ".claude/bashguard/logs"
	appName          = "bashguard"
)

type Config struct {
	Workspace    string `mapstructure:"workspace"`
	ConfigDir    string `mapstructure:"config_dir"`
	ProfilesDir  string `mapstructure:"profiles_dir"`
	LogDir       string `mapstructure:"log_dir"`
	StateDB      string `mapstructure:"state_db"`
	LogLevel     string `mapstructure:"log_level"`
	LogDecisions bool   `mapstructure:"log_decisions"`
	MaxDepth     int    `mapstructure:"max_depth"`
}

// LoadOptions controls configuration loading.
type LoadOptions struct {
	// Workspace is the project root. Defaults to the working directory.
	Workspace string
	// SettingsPath overrides the user settings file.
	SettingsPath string
	// FlagOverrides are highest-priority overrides from CLI flags.
	FlagOverrides map[string]any
}

// DefaultConfig returns the built-in defaults. Paths under the user's home
// are empty when no home directory is known.
func DefaultConfig() Config {
	cfg := Config{
		ConfigDir: DefaultConfigDir,
		LogDir:    DefaultLogDir,
		LogLevel:  "warn",
	}
	if dir := userConfigDir(); dir != "" {
		cfg.ProfilesDir = filepath.Join(dir, "profiles")
		cfg.StateDB = filepath.Join(dir, "state.db")
	}
	return cfg
}

// Load returns the effective configuration after applying precedence:
// defaults < user settings file < env (BASHGUARD_*) < flags. Relative
// directories are resolved against the workspace.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	setDefaults(v)

	workspace := opts.Workspace
	if workspace == "" {
		if cwd, err := os.Getwd(); err == nil {
			workspace = cwd
		}
	}
	v.SetDefault("workspace", workspace)

	settings := opts.SettingsPath
	if settings == "" {
		settings = userSettingsPath()
	}
	if err := mergeConfigFile(v, settings); err != nil {
		return Config{}, err
	}
	if err := applyEnvOverrides(v); err != nil {
		return Config{}, err
	}
	for k, val := range opts.FlagOverrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.resolve()
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("config_dir", def.ConfigDir)
	v.SetDefault("profiles_dir", def.ProfilesDir)
	v.SetDefault("log_dir", def.LogDir)
	v.SetDefault("state_db", def.StateDB)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_decisions", def.LogDecisions)
	v.SetDefault("max_depth", def.MaxDepth)
}

func (c *Config) resolve() {
	if c.Workspace != "" {
		if abs, err := filepath.Abs(c.Workspace); err == nil {
			c.Workspace = abs
		}
	}
	for _, p := range []*string{&c.ConfigDir, &c.LogDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(c.Workspace, *p)
		}
	}
}

// Validate checks the configuration for semantic errors.
func Validate(cfg Config) error {
	var errs []string
	if cfg.ConfigDir == "" {
		errs = append(errs, "config_dir must not be empty")
	}
	if cfg.MaxDepth < 0 {
		errs = append(errs, "max_depth cannot be negative")
	}
	if cfg.MaxDepth > shell.MaxDepthLimit {
		errs = append(errs, fmt.Sprintf("max_depth cannot exceed %d", shell.MaxDepthLimit))
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, fmt.Sprintf("log_level %q is not a level", cfg.LogLevel))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid settings: %s", strings.Join(errs, "; "))
	}
	return nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat settings %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("settings path %s is a directory", path)
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("merge settings %s: %w", path, err)
	}
	return nil
}

type valueKind int

const (
	kindString valueKind = iota
	kindBool
	kindInt
)

var envBindings = []struct {
	Env  string
	Key  string
	Kind valueKind
}{
	{"BASHGUARD_WORKSPACE", "workspace", kindString},
	{"BASHGUARD_CONFIG_DIR", "config_dir", kindString},
	{"BASHGUARD_PROFILES_DIR", "profiles_dir", kindString},
	{"BASHGUARD_LOG_DIR", "log_dir", kindString},
	{"BASHGUARD_STATE_DB", "state_db", kindString},
	{"BASHGUARD_LOG_LEVEL", "log_level", kindString},
	{"BASHGUARD_LOG_DECISIONS", "log_decisions", kindBool},
	{"BASHGUARD_MAX_DEPTH", "max_depth", kindInt},
}

func applyEnvOverrides(v *viper.Viper) error {
	for _, binding := range envBindings {
		val := os.Getenv(binding.Env)
		if val == "" {
			continue
		}
		parsed, err := parseValueByKind(val, binding.Kind)
		if err != nil {
			return fmt.Errorf("env %s: %w", binding.Env, err)
		}
		v.Set(binding.Key, parsed)
	}
	return nil
}

func parseValueByKind(raw string, kind valueKind) (any, error) {
	switch kind {
	case kindString:
		return raw, nil
	case kindBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("expected boolean: %w", err)
		}
		return v, nil
	case kindInt:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("expected integer: %w", err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("unsupported value kind")
}

func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appName)
}

func userSettingsPath() string {
	dir := userConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "settings.toml")
}

// EnsureDir creates path with private permissions if it does not exist.
func EnsureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0o700)
	}
	return nil
}
