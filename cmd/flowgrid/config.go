package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all flowgrid server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath       string `json:"db_path"`
	OllamaURL    string `json:"ollama_url"`
	LogLevel     string `json:"log_level"`
	Workers      int    `json:"workers"`
	AgentTimeout int    `json:"agent_timeout_seconds"`
	Scheduler    bool   `json:"scheduler"`
}

func defaultConfig() Config {
	return Config{
		DBPath:       filepath.Join(flowgridDir(), "flowgrid.db"),
		OllamaURL:    "http://localhost:11434",
		LogLevel:     "info",
		Workers:      4,
		AgentTimeout: 120,
		Scheduler:    true,
	}
}

func flowgridDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowgrid"
	}
	return filepath.Join(home, ".flowgrid")
}

func settingsPath() string {
	return filepath.Join(flowgridDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLOWGRID_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLOWGRID_OLLAMA_URL"); v != "" {
		cfg.OllamaURL = v
	}
	if v := os.Getenv("FLOWGRID_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWGRID_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("FLOWGRID_AGENT_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AgentTimeout = n
		}
	}
	if v := os.Getenv("FLOWGRID_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}

	return cfg
}
