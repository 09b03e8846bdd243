// Package configvalidator implements the assistant configuration
// validator (component L): a schema check, a decode-with-defaults pass,
// then business-rule checks that separate hard errors from soft
// warnings. Warnings never invalidate a config; errors always do.
package configvalidator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"

	"privacycore/internal/errs"
)

// modelIdentifierPattern is the required "provider/model" shape.
var modelIdentifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+/[A-Za-z0-9._-]+$`)

// Agent is one entry in Config.Agents.
type Agent struct {
	ID            string   `json:"id"`
	Identity      string   `json:"identity"`
	Model         string   `json:"model"`
	Tools         []string `json:"tools,omitempty"`
	Subagent      bool     `json:"subagent,omitempty"`
	MaxTokens     int      `json:"maxTokens,omitempty"`
	ContextWindow int      `json:"contextWindow,omitempty"`
	Fallbacks     []string `json:"fallbacks,omitempty"`
}

// Config is the decoded configuration document.
type Config struct {
	Agents  []Agent        `json:"agents"`
	Memory  map[string]any `json:"memory,omitempty"`
	Forge   map[string]any `json:"forge,omitempty"`
	Playbook map[string]any `json:"playbook,omitempty"`
	Privacy map[string]any `json:"privacy,omitempty"`
	Channels map[string]any `json:"channels,omitempty"`
	Tools   map[string]any `json:"tools,omitempty"`
}

// Result is the outcome of Validate.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
	Config   *Config
}

// Options configures path-existence warnings, which are soft and relative
// to HomeDir.
type Options struct {
	HomeDir string
}

// Validate runs the schema check, decodes with defaults, and applies the
// business rules against raw JSON bytes.
func Validate(raw []byte, opts Options) Result {
	var result Result

	if err := schemaCheck(raw); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	cfg := defaultConfig()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, cfg); err != nil {
			result.Errors = append(result.Errors, errs.Wrap(errs.KindUserInput, "decode configuration", err).Error())
		}
	}
	result.Config = cfg

	applyBusinessRules(cfg, opts, &result)

	result.Valid = len(result.Errors) == 0
	return result
}

func defaultConfig() *Config {
	return &Config{Agents: []Agent{}}
}

// schemaCheck is a minimal structural check: raw must be valid JSON and,
// if it decodes to an object, must not carry unrecognized top-level keys
// outside the documented sections.
func schemaCheck(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return errs.Wrap(errs.KindUserInput, "configuration is not a JSON object", err)
	}
	allowed := map[string]bool{
		"agents": true, "memory": true, "forge": true, "playbook": true,
		"privacy": true, "channels": true, "tools": true,
	}
	for key := range generic {
		if !allowed[key] {
			return errs.New(errs.KindUserInput, "unrecognized top-level configuration section: "+key)
		}
	}
	return nil
}

func applyBusinessRules(cfg *Config, opts Options, result *Result) {
	seen := make(map[string]bool, len(cfg.Agents))

	for i := range cfg.Agents {
		agent := &cfg.Agents[i]

		if agent.ID != "" {
			if seen[agent.ID] {
				result.Errors = append(result.Errors, "duplicate agent id: "+agent.ID)
			}
			seen[agent.ID] = true
		}

		if agent.Model != "" && !modelIdentifierPattern.MatchString(agent.Model) {
			result.Errors = append(result.Errors, "agent "+agent.ID+": model identifier \""+agent.Model+"\" is not in provider/model format")
		}
		for _, fb := range agent.Fallbacks {
			if !modelIdentifierPattern.MatchString(fb) {
				result.Errors = append(result.Errors, "agent "+agent.ID+": fallback identifier \""+fb+"\" is not in provider/model format")
			}
		}

		if agent.ContextWindow > 0 && agent.MaxTokens > agent.ContextWindow {
			result.Warnings = append(result.Warnings, "agent "+agent.ID+": maxTokens clamped to contextWindow")
			agent.MaxTokens = agent.ContextWindow
		}
	}

	if opts.HomeDir != "" {
		warnMissingPath(result, opts.HomeDir, "memory", cfg.Memory)
		warnMissingPath(result, opts.HomeDir, "playbook", cfg.Playbook)
		warnMissingPath(result, opts.HomeDir, "privacy", cfg.Privacy)
	}
}

// warnMissingPath soft-warns when section carries a "path" field that
// does not exist relative to home.
func warnMissingPath(result *Result, home, sectionName string, section map[string]any) {
	if section == nil {
		return
	}
	rel, ok := section["path"].(string)
	if !ok || rel == "" {
		return
	}
	full := filepath.Join(home, rel)
	if _, err := os.Stat(full); err != nil {
		result.Warnings = append(result.Warnings, sectionName+" path does not exist: "+full)
	}
}
