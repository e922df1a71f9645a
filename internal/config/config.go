package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIURL       = "http://localhost:8000"
	DefaultTimeout      = 30 * time.Second
	DefaultExportFormat = FormatPNG
	DefaultGlamourStyle = "dark"
	DefaultStatusWindow = 3 * time.Second
	DefaultLogLevel     = "info"

	FormatPNG      = "png"
	FormatMarkdown = "md"
)

type AppConfig struct {
	APIURL       string
	Timeout      time.Duration
	ExportDir    string
	ExportFormat string
	GlamourStyle string
	StatusWindow time.Duration
	LogFile      string
	LogLevel     string
	ChromePath   string
}

// fileConfig mirrors config.yaml. Durations are written like "30s".
type fileConfig struct {
	APIURL       string `yaml:"api_url"`
	Timeout      string `yaml:"timeout"`
	ExportDir    string `yaml:"export_dir"`
	ExportFormat string `yaml:"export_format"`
	GlamourStyle string `yaml:"glamour_style"`
	StatusWindow string `yaml:"status_window"`
	LogFile      string `yaml:"log_file"`
	LogLevel     string `yaml:"log_level"`
	ChromePath   string `yaml:"chrome_path"`
}

// Load resolves every field as flag, then environment, then the YAML file at
// path, then the default. Zero-valued fields in flags count as unset. A
// missing file is not an error.
func Load(path string, flags AppConfig) (AppConfig, error) {
	var cfg AppConfig

	fc, err := readFile(path)
	if err != nil {
		return cfg, err
	}

	cfg.APIURL = first(flags.APIURL, env("QUERYCHAT_API_URL", "API_URL"), fc.APIURL, DefaultAPIURL)

	cfg.Timeout, err = pickDuration("timeout", flags.Timeout, env("QUERYCHAT_TIMEOUT"), fc.Timeout, DefaultTimeout)
	if err != nil {
		return cfg, err
	}
	cfg.StatusWindow, err = pickDuration("status window", flags.StatusWindow, env("QUERYCHAT_STATUS_WINDOW"), fc.StatusWindow, DefaultStatusWindow)
	if err != nil {
		return cfg, err
	}

	cfg.ExportFormat = strings.ToLower(first(flags.ExportFormat, env("QUERYCHAT_EXPORT_FORMAT"), fc.ExportFormat, DefaultExportFormat))
	if cfg.ExportFormat != FormatPNG && cfg.ExportFormat != FormatMarkdown {
		return cfg, fmt.Errorf("unsupported export format %q (want %s or %s)", cfg.ExportFormat, FormatPNG, FormatMarkdown)
	}

	cfg.GlamourStyle = first(flags.GlamourStyle, env("QUERYCHAT_GLAMOUR_STYLE"), fc.GlamourStyle, DefaultGlamourStyle)
	cfg.LogLevel = first(flags.LogLevel, env("QUERYCHAT_LOG_LEVEL"), fc.LogLevel, DefaultLogLevel)
	cfg.ChromePath = first(flags.ChromePath, env("QUERYCHAT_CHROME_PATH"), fc.ChromePath)

	cfg.ExportDir, err = DetectExportDir(first(flags.ExportDir, env("QUERYCHAT_EXPORT_DIR"), fc.ExportDir))
	if err != nil {
		return cfg, err
	}
	cfg.LogFile, err = DetectLogFile(first(flags.LogFile, env("QUERYCHAT_LOG_FILE"), fc.LogFile))
	if err != nil {
		return cfg, err
	}

	return cfg, nil
}

func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "querychat", "config.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "querychat", "config.yaml"), nil
}

func DetectExportDir(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Clean(explicit), nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve cwd: %w", err)
	}
	return cwd, nil
}

func DetectLogFile(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Clean(explicit), nil
	}
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "querychat", "querychat.log"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "querychat", "querychat.log"), nil
}

func readFile(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fc, nil
	}
	if err != nil {
		return fc, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

func env(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func first(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func pickDuration(name string, flag time.Duration, fromEnv, fromFile string, def time.Duration) (time.Duration, error) {
	if flag > 0 {
		return flag, nil
	}
	s := first(fromEnv, fromFile)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, s)
	}
	return d, nil
}
