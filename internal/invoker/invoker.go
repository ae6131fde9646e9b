// Package invoker is the boundary to the external model service. It owns
// the invocation contract, the tool-result contract, and the bounded
// iteration loop that drives a specialist to a final answer.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/colloquylab/colloquy/internal/ratecontrol"
	"github.com/colloquylab/colloquy/internal/tracing"
)

// Request is one specialist invocation.
type Request struct {
	Role         string                 `json:"role"`
	Prompt       string                 `json:"prompt"`
	Context      map[string]interface{} `json:"context,omitempty"`
	Capabilities []string               `json:"capabilities,omitempty"`
	BackendID    string                 `json:"backend"`
}

// ToolCall is a tool invocation requested by the specialist.
type ToolCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ToolResult is the structured outcome of one tool call. Success=false is a
// recoverable condition, never process-fatal.
type ToolResult struct {
	Success bool        `json:"success"`
	Output  interface{} `json:"output,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Result is the model service's reply. A non-empty ToolCalls list means the
// specialist wants tool output before answering.
type Result struct {
	Text       string     `json:"text"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	TokensUsed int        `json:"tokens_used"`
	ModelUsed  string     `json:"model_used,omitempty"`
}

// Invoker performs a single model call.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// ToolRunner executes one tool call. Implementations live outside this
// module; only the result contract is normative here.
type ToolRunner interface {
	Run(ctx context.Context, call ToolCall) ToolResult
}

// ToolRunnerFunc adapts a function to the ToolRunner interface.
type ToolRunnerFunc func(ctx context.Context, call ToolCall) ToolResult

func (f ToolRunnerFunc) Run(ctx context.Context, call ToolCall) ToolResult {
	return f(ctx, call)
}

// HTTPInvoker posts invocation requests to the model service as JSON,
// throttled by a per-backend rate limiter.
type HTTPInvoker struct {
	baseURL string
	client  *http.Client
	limits  *ratecontrol.Controller
	logger  *zap.Logger
}

// NewHTTPInvoker builds the default invoker against the model service URL.
func NewHTTPInvoker(baseURL string, limits *ratecontrol.Controller, logger *zap.Logger) *HTTPInvoker {
	if limits == nil {
		limits = ratecontrol.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPInvoker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
		limits:  limits,
		logger:  logger,
	}
}

// Invoke performs one model call. Waits on the backend's rate limiter
// before sending; a limiter wait cut short by context cancellation is
// returned as the context error.
func (h *HTTPInvoker) Invoke(ctx context.Context, req Request) (Result, error) {
	if err := h.limits.LimiterFor(req.BackendID).Wait(ctx); err != nil {
		return Result{}, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("marshal invocation: %w", err)
	}

	url := fmt.Sprintf("%s/specialist/invoke", h.baseURL)
	ctx, span := tracing.StartSpan(ctx, "invoker.Invoke")
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build invocation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, httpReq)

	start := time.Now()
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("invocation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("invocation failed with status %d: %s", resp.StatusCode, string(payload))
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode invocation response: %w", err)
	}

	h.logger.Debug("specialist invocation completed",
		zap.String("backend", req.BackendID),
		zap.String("role", req.Role),
		zap.Int("tokens_used", out.TokensUsed),
		zap.Int("tool_calls", len(out.ToolCalls)),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}
