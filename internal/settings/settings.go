package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const schemaVersion = 1

const (
	reasoningEffortNone   = "none"
	reasoningEffortLow    = "low"
	reasoningEffortMedium = "medium"
	reasoningEffortHigh   = "high"
)

const (
	defaultMaxRounds              = 8
	defaultMaxToolCallsPerRound   = 8
	defaultMaxConsecutiveFailures = 3
	defaultAgentTimeoutSeconds    = 120
)

type Settings struct {
	SchemaVersion          int               `json:"schema_version"`
	AgentProvider          string            `json:"agent_provider"`
	AgentModel             string            `json:"agent_model"`
	AgentReasoningEffort   string            `json:"agent_reasoning_effort,omitempty"`
	MaxRounds              int               `json:"max_rounds"`
	MaxToolCallsPerRound   int               `json:"max_tool_calls_per_round"`
	MaxConsecutiveFailures int               `json:"max_consecutive_failures"`
	AgentTimeoutSeconds    int               `json:"agent_timeout_seconds"`
	ResolveExtensions      []string          `json:"resolve_extensions"`
	AliasPrefix            string            `json:"alias_prefix"`
	AliasTarget            string            `json:"alias_target"`
	RegistryBaseURL        string            `json:"registry_base_url"`
	RegistryPackages       map[string]string `json:"registry_packages"`
	EntryCandidates        []string          `json:"entry_candidates"`
	HistoryEnabled         bool              `json:"history_enabled"`
}

// Store reads and writes the settings document. Update holds the lock
// across its whole read-modify-write, so concurrent updates never clobber
// each other.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the saved settings, normalized. A missing file yields the
// defaults.
func (s *Store) Load() (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Update applies fn to the current settings and persists the result.
func (s *Store) Update(fn func(*Settings)) (*Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, err := s.read()
	if err != nil {
		return nil, err
	}
	fn(settings)
	backfillSettings(settings)
	if err := s.write(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *Store) read() (*Settings, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return defaultSettings(), nil
	}
	if err != nil {
		return nil, err
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	backfillSettings(&settings)
	return &settings, nil
}

// write lands the document atomically: temp file in the same directory,
// then rename over the old one.
func (s *Store) write(settings *Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func defaultSettings() *Settings {
	return &Settings{
		SchemaVersion:          schemaVersion,
		AgentProvider:          "openai",
		AgentModel:             "gpt-5.2",
		AgentReasoningEffort:   reasoningEffortMedium,
		MaxRounds:              defaultMaxRounds,
		MaxToolCallsPerRound:   defaultMaxToolCallsPerRound,
		MaxConsecutiveFailures: defaultMaxConsecutiveFailures,
		AgentTimeoutSeconds:    defaultAgentTimeoutSeconds,
		ResolveExtensions:      defaultResolveExtensions(),
		AliasPrefix:            "@/",
		AliasTarget:            "/",
		RegistryBaseURL:        "https://esm.sh",
		RegistryPackages:       defaultRegistryPackages(),
		EntryCandidates:        defaultEntryCandidates(),
		HistoryEnabled:         true,
	}
}

func defaultResolveExtensions() []string {
	return []string{".tsx", ".ts", ".jsx", ".js", ".css"}
}

func defaultEntryCandidates() []string {
	return []string{
		"/App.tsx", "/App.jsx", "/App.ts", "/App.js",
		"/index.tsx", "/index.jsx", "/index.ts", "/index.js",
	}
}

func defaultRegistryPackages() map[string]string {
	return map[string]string{
		"react":     "18.3.1",
		"react-dom": "18.3.1",
	}
}

func backfillSettings(settings *Settings) {
	if settings.SchemaVersion == 0 {
		settings.SchemaVersion = schemaVersion
		// A zero-valued document is a fresh install; history defaults on.
		settings.HistoryEnabled = true
	}
	if settings.AgentProvider == "" {
		settings.AgentProvider = "openai"
	}
	if settings.AgentModel == "" {
		settings.AgentModel = "gpt-5.2"
	}
	settings.AgentReasoningEffort = normalizeReasoningEffort(settings.AgentReasoningEffort)
	if settings.MaxRounds < 1 {
		settings.MaxRounds = defaultMaxRounds
	}
	if settings.MaxToolCallsPerRound < 1 {
		settings.MaxToolCallsPerRound = defaultMaxToolCallsPerRound
	}
	if settings.MaxConsecutiveFailures < 1 {
		settings.MaxConsecutiveFailures = defaultMaxConsecutiveFailures
	}
	if settings.AgentTimeoutSeconds < 1 {
		settings.AgentTimeoutSeconds = defaultAgentTimeoutSeconds
	}
	if len(settings.ResolveExtensions) == 0 {
		settings.ResolveExtensions = defaultResolveExtensions()
	}
	if settings.AliasPrefix == "" {
		settings.AliasPrefix = "@/"
	}
	if settings.AliasTarget == "" {
		settings.AliasTarget = "/"
	}
	if settings.RegistryBaseURL == "" {
		settings.RegistryBaseURL = "https://esm.sh"
	}
	settings.RegistryBaseURL = strings.TrimRight(settings.RegistryBaseURL, "/")
	if settings.RegistryPackages == nil {
		settings.RegistryPackages = defaultRegistryPackages()
	}
	if len(settings.EntryCandidates) == 0 {
		settings.EntryCandidates = defaultEntryCandidates()
	}
}

func normalizeReasoningEffort(value string) string {
	effort := strings.ToLower(strings.TrimSpace(value))
	switch effort {
	case reasoningEffortNone, reasoningEffortLow, reasoningEffortMedium, reasoningEffortHigh:
		return effort
	}
	return reasoningEffortMedium
}
