package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"cognihub/internal/config"
	"cognihub/internal/store"
)

// ConfirmationToken is the exact out-of-band token a caller must supply
// to run a tool flagged RequiresConfirmation.
const ConfirmationToken = "CONFIRMED"

// AuditMeta links audit rows back to the conversation that caused them.
type AuditMeta struct {
	ChatRef    string
	MessageRef string
}

// Executor validates, runs, times out, and audits tool calls.
type Executor struct {
	registry     *Registry
	audit        *store.ToolStore
	callTimeout  time.Duration
	batchTimeout time.Duration
	log          *zap.Logger
}

// NewExecutor wires an executor over a registry and audit store.
func NewExecutor(reg *Registry, audit *store.ToolStore, cfg config.ToolsConfig, log *zap.Logger) *Executor {
	callTimeout := time.Duration(cfg.CallTimeoutSeconds) * time.Second
	if callTimeout <= 0 {
		callTimeout = 12 * time.Second
	}
	batchTimeout := time.Duration(cfg.BatchTimeoutSeconds) * time.Second
	if batchTimeout <= 0 {
		batchTimeout = 60 * time.Second
	}
	return &Executor{
		registry:     reg,
		audit:        audit,
		callTimeout:  callTimeout,
		batchTimeout: batchTimeout,
		log:          log.Named("tools"),
	}
}

// ExecuteBatch runs every call of one request concurrently, each under
// its own timeout and all under the shared batch deadline. If the batch
// deadline elapses first, outstanding calls are abandoned and the whole
// batch reports a global_timeout error instead of partial results; a
// cancelled parent context reports canceled instead.
func (e *Executor) ExecuteBatch(ctx context.Context, req *ToolRequest, confirmToken string, meta AuditMeta) BatchResult {
	batchCtx, cancel := context.WithTimeout(ctx, e.batchTimeout)
	defer cancel()

	results := make([]ToolResult, len(req.ToolCalls))
	var wg sync.WaitGroup
	for i, call := range req.ToolCalls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			results[i] = e.executeCall(batchCtx, call, confirmToken, meta)
		}(i, call)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return BatchResult{Type: "tool_result", ID: req.ID, Results: results}
	case <-batchCtx.Done():
		// Caller cancellation is not a timeout; label it honestly so
		// traces and audit rows don't blame the batch deadline.
		if errors.Is(batchCtx.Err(), context.Canceled) {
			e.log.Warn("tool batch canceled",
				zap.String("request_id", req.ID), zap.Int("calls", len(req.ToolCalls)))
			return BatchResult{Type: "tool_result", ID: req.ID, Error: "canceled"}
		}
		e.log.Warn("tool batch deadline exceeded",
			zap.String("request_id", req.ID), zap.Int("calls", len(req.ToolCalls)))
		return BatchResult{Type: "tool_result", ID: req.ID, Error: "global_timeout"}
	}
}

func (e *Executor) executeCall(batchCtx context.Context, call ToolCall, confirmToken string, meta AuditMeta) ToolResult {
	start := time.Now()

	fail := func(code, detail string) ToolResult {
		res := ToolResult{
			ID:   call.ID,
			Name: call.Name,
			OK:   false,
			Data: map[string]any{"error": code, "detail": detail},
			Meta: ResultMeta{MS: time.Since(start).Milliseconds()},
		}
		e.record(call, res, meta)
		return res
	}

	spec, err := e.registry.Get(call.Name)
	if err != nil {
		return fail(codeToolNotFound, err.Error())
	}
	if !spec.Enabled {
		return fail(codeToolDisabled, ErrToolDisabled.Error())
	}
	if spec.RequiresConfirmation && confirmToken != ConfirmationToken {
		return fail(codeConfirmationRequired,
			"tool "+call.Name+" needs explicit confirmation")
	}
	if err := ValidateArgs(spec, call.Arguments); err != nil {
		return fail(codeInvalidArguments, err.Error())
	}

	callCtx, cancel := context.WithTimeout(batchCtx, e.callTimeout)
	defer cancel()

	data, err := spec.Handler(callCtx, call.Arguments)
	elapsed := time.Since(start)
	if err != nil {
		code := codeExecutionError
		if errors.Is(err, context.DeadlineExceeded) {
			code = codeCallTimeout
		}
		res := ToolResult{
			ID:   call.ID,
			Name: call.Name,
			OK:   false,
			Data: map[string]any{"error": code, "detail": err.Error()},
			Meta: ResultMeta{MS: elapsed.Milliseconds()},
		}
		e.record(call, res, meta)
		return res
	}

	if data == nil {
		data = map[string]any{}
	}
	res := ToolResult{
		ID:   call.ID,
		Name: call.Name,
		OK:   true,
		Data: data,
		Meta: ResultMeta{MS: elapsed.Milliseconds()},
	}
	e.record(call, res, meta)
	return res
}

// record writes one audit row. Audit uses a detached context so rows for
// completed calls land even when the batch deadline has already fired.
func (e *Executor) record(call ToolCall, res ToolResult, meta AuditMeta) {
	if e.audit == nil {
		return
	}
	argsJSON, _ := json.Marshal(call.Arguments)
	output, _ := json.Marshal(res.Data)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := e.audit.Record(ctx, store.ToolRun{
		ChatRef:    meta.ChatRef,
		MessageRef: meta.MessageRef,
		ToolName:   call.Name,
		ArgsJSON:   string(argsJSON),
		OK:         res.OK,
		DurationMS: res.Meta.MS,
	}, string(output))
	if err != nil {
		e.log.Warn("audit write failed", zap.String("tool", call.Name), zap.Error(err))
	}
}
