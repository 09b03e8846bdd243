// Package config loads and holds the privacy core's configuration.
// Settings are layered: defaults → gate-config.json → environment
// variables (env vars win).
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds the full privacy core configuration.
type Config struct {
	GatePort       int    `json:"gatePort"`
	ManagementPort int    `json:"managementPort"`
	LogLevel       string `json:"logLevel"`
	BindAddress    string `json:"bindAddress"`

	// GateEnabled toggles Privacy Gate step 2 — when false, requests
	// to non-local providers bypass detection/redaction/audit just like a
	// local-class provider would, but still receive an auditId.
	GateEnabled bool `json:"gateEnabled"`

	// LocalProviders is the case-insensitive set of provider names exempt
	// from the gate. Runtime changes persist to
	// local-providers.json (see internal/management).
	LocalProviders []string `json:"localProviders"`

	// EnableNameAddressDetection turns on the low-confidence name/address
	// detectors, disabled by default per spec.md Open Question (2).
	EnableNameAddressDetection bool `json:"enableNameAddressDetection"`

	AIConfidenceThreshold float64 `json:"aiConfidenceThreshold"`

	AuditLogPath string `json:"auditLogPath"`

	VaultDir string `json:"vaultDir"`

	// PathGuardBase is the default base directory for SanitizeMediaPath
	// when a caller does not supply one explicitly.
	PathGuardBase          string `json:"pathGuardBase"`
	AllowBlockedExtensions bool   `json:"allowBlockedExtensions"`

	// SSRFAllowList is a list of "host:port" pairs exempt from the
	// private-IP check.
	SSRFAllowList []string `json:"ssrfAllowList"`

	ManagementToken string `json:"managementToken"`

	SafeExecutorTimeoutMs int `json:"safeExecutorTimeoutMs"`
	LLMTimeoutMs          int `json:"llmTimeoutMs"`
	EmbeddingTimeoutMs    int `json:"embeddingTimeoutMs"`
	TTSTimeoutMs          int `json:"ttsTimeoutMs"`
	STTTimeoutMs          int `json:"sttTimeoutMs"`
	SearchTimeoutMs       int `json:"searchTimeoutMs"`
	ProbeTimeoutMs        int `json:"probeTimeoutMs"`

	ContextMaxTokens int `json:"contextMaxTokens"`

	// HomeDir is a base directory for referenced paths. The Config
	// Validator (configvalidator.Options.HomeDir) checks the memory,
	// playbook and privacy sections' paths against such a directory;
	// skills paths are not checked.
	HomeDir string `json:"homeDir"`
}

// Load returns config with defaults overridden by gate-config.json and env vars.
func Load() *Config {
	cfg := defaults()
	loadFile(cfg, "gate-config.json")
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		GatePort:                   8090,
		ManagementPort:             8091,
		LogLevel:                   "info",
		BindAddress:                "127.0.0.1",
		GateEnabled:                true,
		LocalProviders:             []string{"ollama", "lmstudio", "local", "llamacpp"},
		EnableNameAddressDetection: false,
		AIConfidenceThreshold:      0.7,
		AuditLogPath:               "privacy/cloud-audit.jsonl",
		VaultDir:                   "credentials",
		PathGuardBase:              "media",
		AllowBlockedExtensions:     false,
		SSRFAllowList: []string{
			"localhost:11434", "127.0.0.1:11434",
			"localhost:8888", "127.0.0.1:18789",
		},
		SafeExecutorTimeoutMs: 30_000,
		LLMTimeoutMs:          60_000,
		EmbeddingTimeoutMs:    30_000,
		TTSTimeoutMs:          30_000,
		STTTimeoutMs:          30_000,
		SearchTimeoutMs:       15_000,
		ProbeTimeoutMs:        2_000,
		ContextMaxTokens:      8_000,
		HomeDir:               ".",
	}
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) //nolint:gosec // controlled config file path, not user input
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("GATE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GatePort = n
		}
	}
	if v := os.Getenv("MANAGEMENT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ManagementPort = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("GATE_ENABLED"); v == "false" {
		cfg.GateEnabled = false
	}
	if v := os.Getenv("ENABLE_NAME_ADDRESS_DETECTION"); v == "true" {
		cfg.EnableNameAddressDetection = true
	}
	if v := os.Getenv("AI_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.AIConfidenceThreshold = f
		}
	}
	if v := os.Getenv("AUDIT_LOG_PATH"); v != "" {
		cfg.AuditLogPath = v
	}
	if v := os.Getenv("VAULT_DIR"); v != "" {
		cfg.VaultDir = v
	}
	if v := os.Getenv("PATH_GUARD_BASE"); v != "" {
		cfg.PathGuardBase = v
	}
	if v := os.Getenv("ALLOW_BLOCKED_EXTENSIONS"); v == "true" {
		cfg.AllowBlockedExtensions = true
	}
	if v := os.Getenv("MANAGEMENT_TOKEN"); v != "" {
		cfg.ManagementToken = v
	}
	if v := os.Getenv("HOME_DIR"); v != "" {
		cfg.HomeDir = v
	}
}

// IsLocalProvider reports whether name matches the local-class provider
// set case-insensitively.
func (c *Config) IsLocalProvider(name string) bool {
	for _, p := range c.LocalProviders {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}
