// Package errinfo defines the structured error payload every RPC failure
// and failed tool result carries. The host UI branches on ErrorCode and
// Actions; Detail is for humans.
package errinfo

// ErrorInfo is the structured error payload returned over RPC and
// embedded in tool results.
type ErrorInfo struct {
	ErrorCode string   `json:"error_code"`
	Phase     string   `json:"phase,omitempty"`
	Retryable bool     `json:"retryable"`
	Actions   []string `json:"actions,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Path      string   `json:"path,omitempty"`
	Line      int      `json:"line,omitempty"`
	Col       int      `json:"col,omitempty"`
	Detail    string   `json:"detail,omitempty"`
}

const (
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeFileNotFound       = "FILE_NOT_FOUND"
	CodeTypeConflict       = "TYPE_CONFLICT"
	CodeAmbiguousMatch     = "AMBIGUOUS_MATCH"
	CodeRangeOutOfBounds   = "RANGE_OUT_OF_BOUNDS"
	CodeSyntaxError        = "SYNTAX_ERROR"
	CodeUnresolvedImport   = "UNRESOLVED_IMPORT"
	CodeRoundLimitReached  = "ROUND_LIMIT_REACHED"
	CodeFailureLimit       = "TOOL_FAILURE_LIMIT_REACHED"
	CodeAgentTimeout       = "AGENT_TIMEOUT"
	CodeAgentUnavailable   = "AGENT_UNAVAILABLE"
	CodeAgentAuthFailed    = "AGENT_AUTH_FAILED"
	CodeAgentNotConfigured = "AGENT_NOT_CONFIGURED"
	CodeEgressBlocked      = "EGRESS_BLOCKED_BY_POLICY"
	CodeFileReadFailed     = "FILE_READ_FAILED"
	CodeFileWriteFailed    = "FILE_WRITE_FAILED"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeHistoryUnavailable = "HISTORY_UNAVAILABLE"
	CodeUserCanceled       = "USER_CANCELED"
)

const (
	ActionRetry        = "retry"
	ActionOpenSettings = "open_settings"
)

const (
	PhaseSession   = "session"
	PhaseTools     = "tools"
	PhaseTransform = "transform"
	PhaseResolve   = "resolve"
	PhaseAssemble  = "assemble"
	PhaseSettings  = "settings"
	PhaseHistory   = "history"
	PhaseAgent     = "agent"
)

func newInfo(code, phase string) *ErrorInfo {
	return &ErrorInfo{ErrorCode: code, Phase: phase}
}

func (e *ErrorInfo) withDetail(detail string) *ErrorInfo {
	e.Detail = detail
	return e
}

func (e *ErrorInfo) withPath(path string) *ErrorInfo {
	e.Path = path
	return e
}

// retryable marks the failure transient and offers the retry action.
func (e *ErrorInfo) retryable() *ErrorInfo {
	e.Retryable = true
	e.Actions = append(e.Actions, ActionRetry)
	return e
}

func (e *ErrorInfo) withAction(action string) *ErrorInfo {
	e.Actions = append(e.Actions, action)
	return e
}

func ValidationFailed(phase, detail string) *ErrorInfo {
	return newInfo(CodeValidationFailed, phase).withDetail(detail)
}

func FileNotFound(phase, path string) *ErrorInfo {
	return newInfo(CodeFileNotFound, phase).withPath(path)
}

func TypeConflict(phase, path, detail string) *ErrorInfo {
	return newInfo(CodeTypeConflict, phase).withPath(path).withDetail(detail)
}

func AmbiguousMatch(phase, path, detail string) *ErrorInfo {
	return newInfo(CodeAmbiguousMatch, phase).withPath(path).withDetail(detail)
}

func RangeOutOfBounds(phase, path, detail string) *ErrorInfo {
	return newInfo(CodeRangeOutOfBounds, phase).withPath(path).withDetail(detail)
}

// SyntaxError points at the offending position; line and col are 1-based.
func SyntaxError(phase, path string, line, col int, detail string) *ErrorInfo {
	info := newInfo(CodeSyntaxError, phase).withPath(path).withDetail(detail)
	info.Line = line
	info.Col = col
	return info
}

func RoundLimitReached(phase, detail string) *ErrorInfo {
	return newInfo(CodeRoundLimitReached, phase).withDetail(detail)
}

func FailureLimitReached(phase, detail string) *ErrorInfo {
	return newInfo(CodeFailureLimit, phase).withDetail(detail)
}

func AgentTimeout(phase, detail string) *ErrorInfo {
	return newInfo(CodeAgentTimeout, phase).withDetail(detail).retryable()
}

func AgentUnavailable(phase, detail string) *ErrorInfo {
	return newInfo(CodeAgentUnavailable, phase).withDetail(detail).retryable()
}

func AgentAuthFailed(phase string) *ErrorInfo {
	return newInfo(CodeAgentAuthFailed, phase).withAction(ActionOpenSettings)
}

func AgentNotConfigured(phase string) *ErrorInfo {
	return newInfo(CodeAgentNotConfigured, phase).withAction(ActionOpenSettings)
}

func EgressBlocked(phase, detail string) *ErrorInfo {
	return newInfo(CodeEgressBlocked, phase).withDetail(detail)
}

func FileReadFailed(phase, detail string) *ErrorInfo {
	return newInfo(CodeFileReadFailed, phase).withDetail(detail)
}

func FileWriteFailed(phase, detail string) *ErrorInfo {
	return newInfo(CodeFileWriteFailed, phase).withDetail(detail)
}

func SessionNotFound(phase, sessionID string) *ErrorInfo {
	info := newInfo(CodeSessionNotFound, phase)
	info.SessionID = sessionID
	return info
}

func HistoryUnavailable(phase, detail string) *ErrorInfo {
	return newInfo(CodeHistoryUnavailable, phase).withDetail(detail)
}

func UserCanceled(phase, detail string) *ErrorInfo {
	return newInfo(CodeUserCanceled, phase).withDetail(detail)
}
