package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"webweaver/engine/internal/errinfo"
	"webweaver/engine/internal/llm"
	"webweaver/engine/internal/vfs"
)

const (
	defaultMaxRounds            = 8
	defaultMaxToolCallsPerRound = 8
)

const (
	rateLimitRetryMaxAttempts = 5
	rateLimitRetryBaseDelay   = 10 * time.Second
	rateLimitRetryMaxDelay    = 4 * time.Minute
)

const (
	loopDetectionWindow  = 10 // sliding window of recent tool calls
	loopDetectionWarning = 3  // identical calls in window to trigger warning
)

const (
	terminationCompleted    = "completed"
	terminationRoundLimit   = "round_limit"
	terminationFailureLimit = "failure_limit"
	terminationAgentTimeout = "agent_timeout"
	terminationAgentError   = "agent_error"
	terminationCanceled     = "canceled"
)

type sessionLoopConfig struct {
	sessionID              string
	client                 AgentClient
	apiKey                 string
	model                  string
	messages               []llm.ChatMessage
	tools                  []llm.Tool
	maxRounds              int
	maxToolCallsPerRound   int
	maxConsecutiveFailures int
	agentTimeout           time.Duration
	handler                *ToolHandler
	tree                   *vfs.Tree
}

// roundCheckpoint records one completed round so callers can render the
// session's progression.
type roundCheckpoint struct {
	Round     int    `json:"round"`
	ToolCalls int    `json:"tool_calls"`
	Failures  int    `json:"failures"`
	TreeHash  string `json:"tree_hash"`
}

type sessionLoopResult struct {
	finalText   string
	rounds      int
	toolCalls   int
	toolErrors  int
	termination string
	checkpoints []roundCheckpoint
	err         *errinfo.ErrorInfo
}

// runSessionLoop drives one session to completion: each round sends the
// cumulative transcript to the agent and applies the returned tool calls
// in order. The transcript only ever grows; no round erases an earlier
// round's results.
func (e *Engine) runSessionLoop(ctx context.Context, cfg sessionLoopConfig) sessionLoopResult {
	result := sessionLoopResult{checkpoints: []roundCheckpoint{}}
	if cfg.maxRounds <= 0 {
		cfg.maxRounds = defaultMaxRounds
	}
	if cfg.handler == nil {
		cfg.handler = NewToolHandler(cfg.tree)
	}
	messages := append([]llm.ChatMessage{}, cfg.messages...)

	var lastAnswer string
	var loopWindow []string
	consecutiveFailures := 0
	loopStart := e.now()

	for round := 1; round <= cfg.maxRounds; round++ {
		pressure := computeTranscriptPressure(messages, cfg.model)
		e.logger.Info("session.round_start", "session_id", cfg.sessionID, "round", round,
			"messages", len(messages), "payload_bytes_approx", estimatePayloadBytes(messages),
			"context_share", pressure.Score)
		if pressure.Level == pressureHeavy {
			e.logger.Warn("session.context_pressure", "session_id", cfg.sessionID, "round", round,
				"level", pressure.Level, "context_share", pressure.Score, "model", cfg.model)
		}

		decideCtx := ctx
		cancel := context.CancelFunc(func() {})
		if cfg.agentTimeout > 0 {
			decideCtx, cancel = context.WithTimeout(ctx, cfg.agentTimeout)
		}
		decideStart := e.now()
		resp, err := e.decideWithRateLimitRetry(decideCtx, cfg, messages, round)
		cancel()
		if err != nil {
			result.termination, result.err = classifyDecideFailure(ctx, err)
			e.logger.Warn("session.agent_error", "session_id", cfg.sessionID, "round", round,
				"termination", result.termination, "error", err.Error())
			return result
		}
		e.logger.Info("session.agent_response", "session_id", cfg.sessionID, "round", round,
			"elapsed_ms", e.now().Sub(decideStart).Milliseconds(),
			"tool_call_count", len(resp.ToolCalls), "finish_reason", resp.FinishReason, "content_length", len(resp.Content))

		if text := strings.TrimSpace(resp.Content); text != "" {
			lastAnswer = text
		}

		if len(resp.ToolCalls) == 0 {
			result.rounds = round
			result.termination = terminationCompleted
			result.finalText = strings.TrimSpace(resp.Content)
			checkpoint := roundCheckpoint{Round: round, TreeHash: cfg.tree.Hash()}
			result.checkpoints = append(result.checkpoints, checkpoint)
			e.notifyRoundCompleted(cfg.sessionID, checkpoint)
			e.logger.Info("session.complete", "session_id", cfg.sessionID, "total_rounds", round,
				"total_tool_calls", result.toolCalls, "total_elapsed_ms", e.now().Sub(loopStart).Milliseconds())
			return result
		}

		toolCalls := resp.ToolCalls
		if cfg.maxToolCallsPerRound > 0 && len(toolCalls) > cfg.maxToolCallsPerRound {
			e.logger.Warn("session.tool_calls_truncated", "session_id", cfg.sessionID, "round", round,
				"requested", len(resp.ToolCalls), "cap", cfg.maxToolCallsPerRound)
			toolCalls = toolCalls[:cfg.maxToolCallsPerRound]
		}

		messages = append(messages, llm.AssistantMessage(resp.Content, toolCalls))

		roundFailures := 0
		executed := 0
		capReached := false
		for _, call := range toolCalls {
			argsSummary := call.Function.Arguments
			if len(argsSummary) > 200 {
				argsSummary = argsSummary[:200] + "..."
			}
			e.logger.Info("session.tool_start", "session_id", cfg.sessionID, "round", round,
				"tool", call.Function.Name, "args_summary", argsSummary)

			loopWindow = append(loopWindow, toolCallHash(call))
			if len(loopWindow) > loopDetectionWindow {
				loopWindow = loopWindow[len(loopWindow)-loopDetectionWindow:]
			}
			if repeatedCallWarning(loopWindow) {
				e.logger.Warn("session.repeated_tool_call", "session_id", cfg.sessionID, "round", round,
					"tool", call.Function.Name)
			}

			toolStart := e.now()
			toolResult, toolErr := cfg.handler.Execute(call)
			if toolErr != nil {
				toolResult = fmt.Sprintf("Error: %s", toolErr.Error())
				roundFailures++
				result.toolErrors++
				consecutiveFailures++
				e.logger.Warn("session.tool_error", "session_id", cfg.sessionID, "round", round,
					"tool", call.Function.Name, "error", toolErr.Error())
			} else {
				consecutiveFailures = 0
			}
			executed++
			result.toolCalls++
			e.logger.Info("session.tool_result", "session_id", cfg.sessionID, "round", round,
				"tool", call.Function.Name, "elapsed_ms", e.now().Sub(toolStart).Milliseconds(),
				"success", toolErr == nil, "result_bytes", len(toolResult))

			messages = append(messages, llm.ToolResultMessage(call.ID, toolResult))

			if cfg.maxConsecutiveFailures > 0 && consecutiveFailures >= cfg.maxConsecutiveFailures {
				capReached = true
				break
			}
		}

		result.rounds = round
		checkpoint := roundCheckpoint{Round: round, ToolCalls: executed, Failures: roundFailures, TreeHash: cfg.tree.Hash()}
		result.checkpoints = append(result.checkpoints, checkpoint)
		e.notifyRoundCompleted(cfg.sessionID, checkpoint)

		if capReached {
			result.termination = terminationFailureLimit
			result.finalText = lastAnswer
			result.err = errinfo.FailureLimitReached(errinfo.PhaseSession,
				fmt.Sprintf("%d consecutive tool failures", consecutiveFailures))
			e.logger.Warn("session.failure_limit", "session_id", cfg.sessionID, "round", round,
				"consecutive_failures", consecutiveFailures)
			return result
		}
	}

	result.termination = terminationRoundLimit
	result.finalText = lastAnswer
	e.logger.Info("session.round_limit", "session_id", cfg.sessionID, "max_rounds", cfg.maxRounds,
		"total_tool_calls", result.toolCalls, "total_elapsed_ms", e.now().Sub(loopStart).Milliseconds())
	return result
}

func (e *Engine) decideWithRateLimitRetry(ctx context.Context, cfg sessionLoopConfig, messages []llm.ChatMessage, round int) (llm.ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= rateLimitRetryMaxAttempts; attempt++ {
		resp, err := cfg.client.Decide(ctx, cfg.apiKey, cfg.model, messages, cfg.tools)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errors.Is(err, llm.ErrRateLimited) {
			return llm.ChatResponse{}, err
		}
		if attempt == rateLimitRetryMaxAttempts {
			return llm.ChatResponse{}, err
		}
		retryAttempt := attempt + 1
		wait := rateLimitBackoffDuration(retryAttempt)
		e.logger.Warn("session.agent_rate_limited", "session_id", cfg.sessionID, "round", round,
			"retry_attempt", retryAttempt, "retry_max", rateLimitRetryMaxAttempts, "retry_in_ms", wait.Milliseconds())
		if err := e.sleep(ctx, wait); err != nil {
			return llm.ChatResponse{}, err
		}
	}
	if lastErr != nil {
		return llm.ChatResponse{}, lastErr
	}
	return llm.ChatResponse{}, errors.New("rate-limit retry failed")
}

// classifyDecideFailure separates caller cancellation from the decision
// timeout and from agent-side failures. The timeout context belongs to the
// decision call alone, so a deadline error with a live parent is a timeout.
func classifyDecideFailure(parent context.Context, err error) (string, *errinfo.ErrorInfo) {
	if parent.Err() != nil {
		return terminationCanceled, errinfo.UserCanceled(errinfo.PhaseSession, "session canceled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return terminationAgentTimeout, errinfo.AgentTimeout(errinfo.PhaseSession, "agent decision timed out")
	}
	return terminationAgentError, mapAgentError(errinfo.PhaseSession, err)
}

func (e *Engine) notifyRoundCompleted(sessionID string, checkpoint roundCheckpoint) {
	if e.notify == nil {
		return
	}
	e.notify("SessionRoundCompleted", map[string]any{
		"session_id": sessionID,
		"round":      checkpoint.Round,
		"tool_calls": checkpoint.ToolCalls,
		"failures":   checkpoint.Failures,
		"tree_hash":  checkpoint.TreeHash,
	})
}

func (e *Engine) notifySessionFinished(sessionID, termination string) {
	if e.notify == nil {
		return
	}
	e.notify("SessionFinished", map[string]any{
		"session_id":  sessionID,
		"termination": termination,
	})
}

func toolCallHash(call llm.ToolCall) string {
	key := call.Function.Name + ":" + toolCallFingerprint(call)
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:8])
}

// toolCallFingerprint canonicalizes the arguments so that formatting
// differences do not defeat repeat detection.
func toolCallFingerprint(call llm.ToolCall) string {
	args := map[string]any{}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return strings.TrimSpace(call.Function.Arguments)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return strings.TrimSpace(call.Function.Arguments)
	}
	return string(data)
}

func repeatedCallWarning(window []string) bool {
	if len(window) == 0 {
		return false
	}
	last := window[len(window)-1]
	count := 0
	for _, h := range window {
		if h == last {
			count++
		}
	}
	return count >= loopDetectionWarning
}

func rateLimitBackoffDuration(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	wait := rateLimitRetryBaseDelay * time.Duration(1<<uint(attempt-1))
	if wait > rateLimitRetryMaxDelay {
		return rateLimitRetryMaxDelay
	}
	return wait
}
