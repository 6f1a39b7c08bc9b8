package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrNotFound is returned when a worker configuration file does not exist.
var ErrNotFound = errors.New("config file not found")

// LoadWorker reads the worker configuration at path. The format follows the
// file extension (toml, yaml, json, ...).
func LoadWorker(path string) (map[string]any, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return v.AllSettings(), nil
}

// FileConfig is the TOML layout read by the bootloader command.
type FileConfig struct {
	Env            []string        `toml:"env" mapstructure:"env"`
	EnvFiles       []string        `toml:"env_files" mapstructure:"env_files"`
	EnvVar         string          `toml:"env_var" mapstructure:"env_var"`
	Title          string          `toml:"title" mapstructure:"title"`
	PIDFile        string          `toml:"pid_file" mapstructure:"pid_file"`
	Stdout         string          `toml:"stdout" mapstructure:"stdout"`
	Stderr         string          `toml:"stderr" mapstructure:"stderr"`
	SupervisorLog  string          `toml:"supervisor_log" mapstructure:"supervisor_log"`
	MetricsFile    string          `toml:"metrics_file" mapstructure:"metrics_file"`
	UseLogging     *bool           `toml:"use_logging" mapstructure:"use_logging"`
	AppendLogs     bool            `toml:"append_logs" mapstructure:"append_logs"`
	StartupMessage string          `toml:"startup_message" mapstructure:"startup_message"`
	FlushInterval  time.Duration   `toml:"flush_interval" mapstructure:"flush_interval"`
	LogMaxSize     int64           `toml:"log_max_size" mapstructure:"log_max_size"`
	LogMaxFiles    int             `toml:"log_max_files" mapstructure:"log_max_files"`
	StopTimeout    time.Duration   `toml:"stop_timeout" mapstructure:"stop_timeout"`
	Services       []ServiceConfig `toml:"services" mapstructure:"services"`
}

// ServiceConfig declares one command-line service.
type ServiceConfig struct {
	Name         string   `toml:"name" mapstructure:"name"`
	Group        string   `toml:"group" mapstructure:"group"`
	Command      string   `toml:"command" mapstructure:"command"`
	WorkDir      string   `toml:"workdir" mapstructure:"workdir"`
	Env          []string `toml:"env" mapstructure:"env"`
	DebugOnly    bool     `toml:"debug_only" mapstructure:"debug_only"`
	CaptureInput bool     `toml:"capture_input" mapstructure:"capture_input"`
	AutoRestart  bool     `toml:"autorestart" mapstructure:"autorestart"`
	PushDebug    bool     `toml:"push_debug" mapstructure:"push_debug"`
}

// LoadFile parses and validates a services file.
func LoadFile(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Validate requires at least one service, unique names and a command each.
func (fc *FileConfig) Validate() error {
	if len(fc.Services) == 0 {
		return fmt.Errorf("no services declared")
	}
	seen := make(map[string]bool, len(fc.Services))
	for i, s := range fc.Services {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("service %d requires name", i)
		}
		if strings.ContainsAny(name, " \t\n/\\%") {
			return fmt.Errorf("service %q: name contains invalid characters", name)
		}
		if seen[name] {
			return fmt.Errorf("duplicate service name %q", name)
		}
		seen[name] = true
		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("service %q requires command", name)
		}
	}
	return nil
}

// GlobalEnv composes env_files (in order) then the env list, later entries winning.
func (fc *FileConfig) GlobalEnv() ([]string, error) {
	var out []string
	for _, p := range fc.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, pairs...)
	}
	return append(out, fc.Env...), nil
}

// LoadEnvFile parses KEY=VALUE lines; blank lines and # comments are skipped.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out = append(out, strings.TrimSpace(k)+"="+strings.TrimSpace(v))
	}
	return out, nil
}
