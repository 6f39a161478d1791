package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentc2/wfrt/internal/tools"
)

// Config holds all wfrt configuration.
// Priority: env vars > settings file > defaults.
type Config struct {
	DBPath               string               `yaml:"db_path"`
	LogLevel             string               `yaml:"log_level"`
	LogFormat            string               `yaml:"log_format"`
	HTTPAddr             string               `yaml:"http_addr"`
	MCP                  bool                 `yaml:"mcp"`
	SchedulerInterval    time.Duration        `yaml:"scheduler_interval"`
	CallTimeout          time.Duration        `yaml:"call_timeout"`
	AgentBaseURL         string               `yaml:"agent_base_url"`
	AgentAPIKey          string               `yaml:"agent_api_key"`
	ToolRetryMax         int                  `yaml:"tool_retry_max"`
	ToolBreakerThreshold int                  `yaml:"tool_breaker_threshold"`
	MCPServers           []tools.ServerConfig `yaml:"mcp_servers"`
}

func defaultConfig() Config {
	return Config{
		DBPath:               filepath.Join(wfrtDir(), "wfrt.db"),
		LogLevel:             "info",
		LogFormat:            "text",
		HTTPAddr:             ":4200",
		SchedulerInterval:    15 * time.Second,
		CallTimeout:          60 * time.Second,
		ToolRetryMax:         3,
		ToolBreakerThreshold: 5,
	}
}

func wfrtDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wfrt"
	}
	return filepath.Join(home, ".wfrt")
}

func settingsPath() string {
	return filepath.Join(wfrtDir(), "settings.yaml")
}

// loadConfig layers defaults, the settings file and WFRT_* variables. An
// explicit path must exist; the default settings file is optional.
func loadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = settingsPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	strs := map[string]*string{
		"WFRT_DB_PATH":        &cfg.DBPath,
		"WFRT_LOG_LEVEL":      &cfg.LogLevel,
		"WFRT_LOG_FORMAT":     &cfg.LogFormat,
		"WFRT_HTTP_ADDR":      &cfg.HTTPAddr,
		"WFRT_AGENT_BASE_URL": &cfg.AgentBaseURL,
		"WFRT_AGENT_API_KEY":  &cfg.AgentAPIKey,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"WFRT_SCHEDULER_INTERVAL": &cfg.SchedulerInterval,
		"WFRT_CALL_TIMEOUT":       &cfg.CallTimeout,
	}
	for key, dst := range durations {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"WFRT_TOOL_RETRY_MAX":         &cfg.ToolRetryMax,
		"WFRT_TOOL_BREAKER_THRESHOLD": &cfg.ToolBreakerThreshold,
	}
	for key, dst := range ints {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if v := getenv("WFRT_MCP"); v != "" {
		cfg.MCP = v == "true" || v == "1"
	}
	return nil
}
