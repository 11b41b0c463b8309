package engine

import (
	"context"
	"errors"
	"net"

	"webweaver/engine/internal/errinfo"
	"webweaver/engine/internal/llm"
)

func mapAgentError(phase string, err error) *errinfo.ErrorInfo {
	if errors.Is(err, llm.ErrUnauthorized) {
		return errinfo.AgentAuthFailed(phase)
	}
	if errors.Is(err, llm.ErrEgressBlocked) {
		return errinfo.EgressBlocked(phase, "agent endpoint not allowed")
	}
	if errors.Is(err, llm.ErrUnavailable) {
		return errinfo.AgentUnavailable(phase, err.Error())
	}
	if errors.Is(err, llm.ErrRateLimited) {
		return errinfo.AgentUnavailable(phase, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errinfo.AgentTimeout(phase, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return errinfo.UserCanceled(phase, err.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errinfo.AgentUnavailable(phase, err.Error())
	}
	return errinfo.AgentUnavailable(phase, err.Error())
}
