// Package openai is the production AgentClient. It speaks the Responses
// API: transcript in as typed input items, text and function calls out.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"webweaver/engine/internal/egress"
	"webweaver/engine/internal/llm"
)

const defaultBaseURL = "https://api.openai.com"

const (
	defaultReasoningEffort = "medium"
	maxErrorBodyBytes      = 2048
)

// request is the /v1/responses payload.
type request struct {
	Model             string      `json:"model"`
	Input             []inputItem `json:"input"`
	Truncation        string      `json:"truncation"`
	Reasoning         reasoning   `json:"reasoning"`
	Tools             []toolSpec  `json:"tools,omitempty"`
	ToolChoice        string      `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool       `json:"parallel_tool_calls,omitempty"`
}

type reasoning struct {
	Effort string `json:"effort"`
}

// inputItem is one transcript entry on the wire. Exactly one of the three
// forms is populated: a role+content message, a function_call, or a
// function_call_output.
type inputItem struct {
	Role      string  `json:"role,omitempty"`
	Content   string  `json:"content,omitempty"`
	Type      string  `json:"type,omitempty"`
	CallID    string  `json:"call_id,omitempty"`
	Name      string  `json:"name,omitempty"`
	Arguments string  `json:"arguments,omitempty"`
	Output    *string `json:"output,omitempty"`
}

type toolSpec struct {
	Type        string          `json:"type"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Strict      bool            `json:"strict,omitempty"`
}

type responseEnvelope struct {
	Output []responseItem `json:"output"`
}

type responseItem struct {
	Type      string            `json:"type"`
	Role      string            `json:"role,omitempty"`
	Content   []responseContent `json:"content,omitempty"`
	CallID    string            `json:"call_id,omitempty"`
	Name      string            `json:"name,omitempty"`
	Arguments string            `json:"arguments,omitempty"`
}

type responseContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient() *Client {
	policy := egress.NewPolicy("api.openai.com")
	return &Client{
		baseURL: defaultBaseURL,
		client: &http.Client{
			Timeout:   600 * time.Second,
			Transport: policy.Transport(nil),
		},
	}
}

// ValidateKey makes the cheapest authenticated call the API offers and
// reports whether the key was accepted.
func (c *Client) ValidateKey(ctx context.Context, apiKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/v1/models"), nil)
	if err != nil {
		return err
	}
	resp, err := c.send(req, apiKey)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp); err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("validation failed: %s", resp.Status)
	}
	return nil
}

// Decide asks the model for the next step given the transcript and the
// available tools. The response carries plain text, tool calls, or both.
func (c *Client) Decide(ctx context.Context, apiKey, model string, messages []llm.ChatMessage, tools []llm.Tool) (llm.ChatResponse, error) {
	body, err := json.Marshal(c.decideRequest(ctx, model, messages, tools))
	if err != nil {
		return llm.ChatResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/v1/responses"), bytes.NewReader(body))
	if err != nil {
		return llm.ChatResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.send(req, apiKey)
	if err != nil {
		return llm.ChatResponse{}, err
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp); err != nil {
		return llm.ChatResponse{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return llm.ChatResponse{}, fmt.Errorf("openai error: %s endpoint=%s - %s", resp.Status, req.URL, readErrorBody(resp))
	}
	var envelope responseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return llm.ChatResponse{}, err
	}
	return envelope.decision()
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.baseURL, "/") + path
}

// send attaches auth and runs the request. Egress refusals surface as the
// bare sentinel so callers can branch on it.
func (c *Client) send(req *http.Request, apiKey string) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, llm.ErrEgressBlocked) {
			return nil, llm.ErrEgressBlocked
		}
		return nil, err
	}
	return resp, nil
}

// classifyStatus maps auth, throttle, and server failures to the shared
// sentinels. Other statuses return nil; callers handle success and the
// leftover 4xx range themselves.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return unauthorizedError(resp)
	case resp.StatusCode == http.StatusTooManyRequests:
		return llm.ErrRateLimited
	case resp.StatusCode >= 500:
		return llm.ErrUnavailable
	}
	return nil
}

func (c *Client) decideRequest(ctx context.Context, model string, messages []llm.ChatMessage, tools []llm.Tool) request {
	req := request{
		Model:      model,
		Input:      transcriptToInput(messages),
		Truncation: "disabled",
		Reasoning:  reasoning{Effort: reasoningEffort(ctx)},
	}
	if len(tools) > 0 {
		req.Tools = toolSpecs(tools)
		req.ToolChoice = "auto"
		parallel := false
		req.ParallelToolCalls = &parallel
	}
	return req
}

// transcriptToInput flattens the transcript into wire items. An assistant
// entry expands into a message item (when it has text) followed by one
// function_call item per tool call.
func transcriptToInput(messages []llm.ChatMessage) []inputItem {
	input := make([]inputItem, 0, len(messages))
	for _, msg := range messages {
		if strings.EqualFold(strings.TrimSpace(msg.Role), llm.RoleTool) {
			if msg.ToolCallID == "" {
				continue
			}
			output := msg.Content
			input = append(input, inputItem{Type: "function_call_output", CallID: msg.ToolCallID, Output: &output})
			continue
		}
		if msg.Content != "" {
			input = append(input, inputItem{Role: msg.Role, Content: msg.Content})
		}
		for _, call := range msg.ToolCalls {
			input = append(input, inputItem{
				Type:      "function_call",
				CallID:    call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})
		}
	}
	return input
}

func toolSpecs(tools []llm.Tool) []toolSpec {
	specs := make([]toolSpec, 0, len(tools))
	for _, tool := range tools {
		spec := toolSpec{Type: tool.Type}
		if tool.Type == "function" {
			spec.Name = tool.Function.Name
			spec.Description = tool.Function.Description
			spec.Parameters = tool.Function.Parameters
			spec.Strict = true
		}
		specs = append(specs, spec)
	}
	return specs
}

func reasoningEffort(ctx context.Context) string {
	profile, ok := llm.RequestProfileFromContext(ctx)
	if !ok {
		return defaultReasoningEffort
	}
	switch effort := strings.ToLower(strings.TrimSpace(profile.ReasoningEffort)); effort {
	case "none", "low", "medium", "high":
		return effort
	}
	return defaultReasoningEffort
}

// decision folds the output items into one ChatResponse. Text parts
// concatenate; each function_call becomes a tool call.
func (r responseEnvelope) decision() (llm.ChatResponse, error) {
	var text strings.Builder
	var calls []llm.ToolCall
	for _, item := range r.Output {
		switch item.Type {
		case "message":
			for _, part := range item.Content {
				if part.Type == "output_text" || part.Type == "text" {
					text.WriteString(part.Text)
				}
			}
		case "function_call":
			calls = append(calls, llm.ToolCall{
				ID:       item.CallID,
				Type:     "function",
				Function: llm.ToolCallFunction{Name: item.Name, Arguments: item.Arguments},
			})
		}
	}
	content := text.String()
	if content == "" && len(calls) == 0 {
		return llm.ChatResponse{}, errors.New("openai empty response")
	}
	finish := "stop"
	if len(calls) > 0 {
		finish = "tool_calls"
	}
	return llm.ChatResponse{Content: content, ToolCalls: calls, FinishReason: finish}, nil
}

func readErrorBody(resp *http.Response) string {
	if resp == nil || resp.Body == nil {
		return ""
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return strings.TrimSpace(string(body))
}

func unauthorizedError(resp *http.Response) error {
	if resp == nil {
		return llm.ErrUnauthorized
	}
	requestID := strings.TrimSpace(resp.Header.Get("x-request-id"))
	return fmt.Errorf("%w: status=%s request_id=%s body=%q", llm.ErrUnauthorized, resp.Status, requestID, readErrorBody(resp))
}
