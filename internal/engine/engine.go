// Package engine owns virtual project trees, runs bounded agent editing
// sessions against them, and assembles preview documents from tree
// snapshots. It exposes its operations as JSON-RPC handlers.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"webweaver/engine/internal/appdirs"
	"webweaver/engine/internal/envutil"
	"webweaver/engine/internal/errinfo"
	"webweaver/engine/internal/llm"
	"webweaver/engine/internal/logging"
	"webweaver/engine/internal/openai"
	"webweaver/engine/internal/secrets"
	"webweaver/engine/internal/settings"
	"webweaver/engine/internal/store"
)

const (
	EngineVersion = "0.1.0"
	APIVersion    = "1"
)

const AgentOpenAI = "openai"

type Notifier func(method string, params any)

// AgentClient is the decision side of a session: given the transcript and
// the tool definitions it returns either tool calls or a final answer.
type AgentClient interface {
	ValidateKey(ctx context.Context, apiKey string) error
	Decide(ctx context.Context, apiKey, model string, messages []llm.ChatMessage, tools []llm.Tool) (llm.ChatResponse, error)
}

type sessionRunHandle struct {
	sessionID string
	cancel    context.CancelFunc
}

type Engine struct {
	dataDir     string
	settings    *settings.Store
	secrets     *secrets.Store
	history     *store.SQLiteStore
	agents      map[string]AgentClient
	notify      Notifier
	logger      *slog.Logger
	runMu       sync.Mutex
	sessionRuns map[string]sessionRunHandle
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithAgentClient overrides the client registered for an agent provider.
func WithAgentClient(providerID string, client AgentClient) Option {
	return func(e *Engine) {
		if client == nil {
			return
		}
		if e.agents == nil {
			e.agents = make(map[string]AgentClient)
		}
		e.agents[providerID] = client
	}
}

func New(opts ...Option) (*Engine, error) {
	engine := &Engine{logger: logging.Nop()}
	for _, opt := range opts {
		opt(engine)
	}
	dataDir, err := appdirs.DataDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	if engine.agents == nil {
		engine.agents = make(map[string]AgentClient)
	}
	if _, ok := engine.agents[AgentOpenAI]; !ok {
		engine.agents[AgentOpenAI] = openai.NewClient()
	}
	if envutil.Bool("WEBWEAVER_FAKE_AGENT") {
		fake := newFakeAgent()
		for id := range engine.agents {
			engine.agents[id] = fake
		}
	}
	engine.dataDir = dataDir
	engine.settings = settings.NewStore(appdirs.SettingsPath(dataDir))
	engine.secrets = secrets.NewStore(appdirs.SecretsPath(dataDir), appdirs.MasterKeyPath(dataDir))
	engine.sessionRuns = make(map[string]sessionRunHandle)
	engine.now = time.Now
	engine.sleep = sleepWithContext

	settingsData, err := engine.settings.Load()
	if err != nil {
		return nil, err
	}
	if settingsData.HistoryEnabled {
		history, err := store.NewSQLite(appdirs.HistoryPath(dataDir))
		if err != nil {
			engine.logger.Warn("history.open_failed", "error", err.Error())
		} else if err := history.Init(context.Background()); err != nil {
			engine.logger.Warn("history.init_failed", "error", err.Error())
			_ = history.Close()
		} else {
			engine.history = history
		}
	}

	engine.logger.Debug("engine.init", "data_dir", dataDir, "history_enabled", engine.history != nil, "fake_agent", envutil.Bool("WEBWEAVER_FAKE_AGENT"))
	return engine, nil
}

func (e *Engine) SetNotifier(notify Notifier) {
	e.notify = notify
}

func (e *Engine) Close() error {
	if e.history != nil {
		return e.history.Close()
	}
	return nil
}

func (e *Engine) EngineGetInfo(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	return map[string]any{
		"engine_version": EngineVersion,
		"api_version":    APIVersion,
	}, nil
}

func (e *Engine) AgentGetStatus(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	settingsData, err := e.settings.Load()
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseSettings, err.Error())
	}
	key, err := e.secrets.GetAgentKey()
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseSettings, err.Error())
	}
	return map[string]any{
		"provider_id":      settingsData.AgentProvider,
		"model":            settingsData.AgentModel,
		"reasoning_effort": settingsData.AgentReasoningEffort,
		"configured":       strings.TrimSpace(key) != "",
	}, nil
}

func (e *Engine) AgentSetApiKey(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, "invalid params")
	}
	if strings.TrimSpace(req.APIKey) == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, "api_key is required")
	}
	e.logger.Debug("agent.set_api_key", "api_key", logging.RedactValue(req.APIKey))
	if err := e.secrets.SetAgentKey(req.APIKey); err != nil {
		return nil, errinfo.FileWriteFailed(errinfo.PhaseSettings, err.Error())
	}
	return map[string]any{}, nil
}

func (e *Engine) AgentClearApiKey(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	if err := e.secrets.ClearAgentKey(); err != nil {
		return nil, errinfo.FileWriteFailed(errinfo.PhaseSettings, err.Error())
	}
	e.logger.Info("agent.key_cleared")
	return map[string]any{}, nil
}

func (e *Engine) AgentValidate(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	settingsData, err := e.settings.Load()
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseSettings, err.Error())
	}
	client, errInfo := e.clientForAgent(settingsData.AgentProvider)
	if errInfo != nil {
		return nil, errInfo
	}
	apiKey, errInfo := e.agentKey()
	if errInfo != nil {
		return nil, errInfo
	}
	e.logger.Debug("agent.validate", "provider_id", settingsData.AgentProvider, "fake_agent", envutil.Bool("WEBWEAVER_FAKE_AGENT"))
	if err := client.ValidateKey(ctx, apiKey); err != nil {
		return nil, mapAgentError(errinfo.PhaseAgent, err)
	}
	return map[string]any{"ok": true}, nil
}

func (e *Engine) SettingsGet(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	settingsData, err := e.settings.Load()
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseSettings, err.Error())
	}
	return settingsData, nil
}

func (e *Engine) SettingsUpdate(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		AgentProvider          *string           `json:"agent_provider"`
		AgentModel             *string           `json:"agent_model"`
		AgentReasoningEffort   *string           `json:"agent_reasoning_effort"`
		MaxRounds              *int              `json:"max_rounds"`
		MaxToolCallsPerRound   *int              `json:"max_tool_calls_per_round"`
		MaxConsecutiveFailures *int              `json:"max_consecutive_failures"`
		AgentTimeoutSeconds    *int              `json:"agent_timeout_seconds"`
		ResolveExtensions      []string          `json:"resolve_extensions"`
		AliasPrefix            *string           `json:"alias_prefix"`
		AliasTarget            *string           `json:"alias_target"`
		RegistryBaseURL        *string           `json:"registry_base_url"`
		RegistryPackages       map[string]string `json:"registry_packages"`
		EntryCandidates        []string          `json:"entry_candidates"`
		HistoryEnabled         *bool             `json:"history_enabled"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, "invalid params")
	}
	if req.AgentProvider != nil {
		if _, errInfo := e.clientForAgent(*req.AgentProvider); errInfo != nil {
			return nil, errInfo
		}
	}
	updated, err := e.settings.Update(func(s *settings.Settings) {
		if req.AgentProvider != nil {
			s.AgentProvider = *req.AgentProvider
		}
		if req.AgentModel != nil {
			s.AgentModel = *req.AgentModel
		}
		if req.AgentReasoningEffort != nil {
			s.AgentReasoningEffort = *req.AgentReasoningEffort
		}
		if req.MaxRounds != nil {
			s.MaxRounds = *req.MaxRounds
		}
		if req.MaxToolCallsPerRound != nil {
			s.MaxToolCallsPerRound = *req.MaxToolCallsPerRound
		}
		if req.MaxConsecutiveFailures != nil {
			s.MaxConsecutiveFailures = *req.MaxConsecutiveFailures
		}
		if req.AgentTimeoutSeconds != nil {
			s.AgentTimeoutSeconds = *req.AgentTimeoutSeconds
		}
		if req.ResolveExtensions != nil {
			s.ResolveExtensions = req.ResolveExtensions
		}
		if req.AliasPrefix != nil {
			s.AliasPrefix = *req.AliasPrefix
		}
		if req.AliasTarget != nil {
			s.AliasTarget = *req.AliasTarget
		}
		if req.RegistryBaseURL != nil {
			s.RegistryBaseURL = *req.RegistryBaseURL
		}
		if req.RegistryPackages != nil {
			s.RegistryPackages = req.RegistryPackages
		}
		if req.EntryCandidates != nil {
			s.EntryCandidates = req.EntryCandidates
		}
		if req.HistoryEnabled != nil {
			s.HistoryEnabled = *req.HistoryEnabled
		}
	})
	if err != nil {
		return nil, errinfo.FileWriteFailed(errinfo.PhaseSettings, err.Error())
	}
	e.logger.Info("settings.updated", "max_rounds", updated.MaxRounds, "agent_model", updated.AgentModel)
	return updated, nil
}

func (e *Engine) clientForAgent(providerID string) (AgentClient, *errinfo.ErrorInfo) {
	client, ok := e.agents[providerID]
	if !ok {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSettings, fmt.Sprintf("unknown agent provider: %s", providerID))
	}
	return client, nil
}

func (e *Engine) agentKey() (string, *errinfo.ErrorInfo) {
	key, err := e.secrets.GetAgentKey()
	if err != nil {
		return "", errinfo.FileReadFailed(errinfo.PhaseSettings, err.Error())
	}
	if strings.TrimSpace(key) == "" {
		if envutil.Bool("WEBWEAVER_FAKE_AGENT") {
			return "fake-key", nil
		}
		return "", errinfo.AgentNotConfigured(errinfo.PhaseAgent)
	}
	return key, nil
}

func (e *Engine) beginSessionRun(parent context.Context) (context.Context, string, *errinfo.ErrorInfo) {
	runCtx, cancel := context.WithCancel(parent)
	sessionID, err := generateSessionID()
	if err != nil {
		cancel()
		return nil, "", errinfo.ValidationFailed(errinfo.PhaseSession, "session id generation failed")
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()
	e.sessionRuns[sessionID] = sessionRunHandle{
		sessionID: sessionID,
		cancel:    cancel,
	}
	return runCtx, sessionID, nil
}

func (e *Engine) endSessionRun(sessionID string) {
	var cancel context.CancelFunc

	e.runMu.Lock()
	handle, ok := e.sessionRuns[sessionID]
	if ok {
		cancel = handle.cancel
		delete(e.sessionRuns, sessionID)
	}
	e.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (e *Engine) cancelSessionRun(sessionID string) bool {
	e.runMu.Lock()
	handle, ok := e.sessionRuns[sessionID]
	e.runMu.Unlock()
	if !ok || handle.cancel == nil {
		return false
	}
	handle.cancel()
	return true
}

func generateSessionID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "s-" + hex.EncodeToString(buf), nil
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
