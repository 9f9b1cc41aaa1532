package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cognihub/internal/config"
	"cognihub/internal/logging"
)

func testExecutor(t *testing.T, reg *Registry, callSec, batchSec int) *Executor {
	t.Helper()
	return NewExecutor(reg, nil, config.ToolsConfig{
		CallTimeoutSeconds:  callSec,
		BatchTimeoutSeconds: batchSec,
	}, logging.Nop())
}

func echoSpec(name string) ToolSpec {
	return ToolSpec{
		Name:    name,
		Args:    []ArgSpec{{Name: "value", Type: "string", Required: true, MaxLen: 100}},
		Enabled: true,
		Handler: func(_ context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"echo": args["value"]}, nil
		},
	}
}

func TestExecuteBatchHappyPath(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoSpec("echo")))
	ex := testExecutor(t, reg, 5, 10)

	batch := ex.ExecuteBatch(context.Background(), &ToolRequest{
		Type: "tool_request", ID: "r1",
		ToolCalls: []ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"value": "hi"}}},
	}, "", AuditMeta{})

	require.Equal(t, "tool_result", batch.Type)
	require.Empty(t, batch.Error)
	require.Len(t, batch.Results, 1)
	require.True(t, batch.Results[0].OK)
	require.Equal(t, "hi", batch.Results[0].Data["echo"])
}

func TestConfirmationRequiredWithoutToken(t *testing.T) {
	reg := NewRegistry()
	spec := echoSpec("danger")
	spec.SideEffect = SideEffectDangerous
	spec.RequiresConfirmation = true
	require.NoError(t, reg.Register(spec))
	ex := testExecutor(t, reg, 5, 10)

	for _, token := range []string{"", "confirmed", "YES", "CONFIRM"} {
		batch := ex.ExecuteBatch(context.Background(), &ToolRequest{
			Type: "tool_request", ID: "r",
			ToolCalls: []ToolCall{{ID: "c", Name: "danger", Arguments: map[string]any{"value": "x"}}},
		}, token, AuditMeta{})
		require.Len(t, batch.Results, 1)
		require.False(t, batch.Results[0].OK, "token %q must not pass", token)
		require.Equal(t, codeConfirmationRequired, batch.Results[0].Data["error"])
	}

	batch := ex.ExecuteBatch(context.Background(), &ToolRequest{
		Type: "tool_request", ID: "r",
		ToolCalls: []ToolCall{{ID: "c", Name: "danger", Arguments: map[string]any{"value": "x"}}},
	}, ConfirmationToken, AuditMeta{})
	require.True(t, batch.Results[0].OK)
}

func TestValidationFailureSkipsHandler(t *testing.T) {
	reg := NewRegistry()
	invoked := false
	require.NoError(t, reg.Register(ToolSpec{
		Name:    "strict",
		Args:    []ArgSpec{{Name: "n", Type: "int", Required: true}},
		Enabled: true,
		Handler: func(context.Context, map[string]any) (map[string]any, error) {
			invoked = true
			return nil, nil
		},
	}))
	ex := testExecutor(t, reg, 5, 10)

	cases := []map[string]any{
		{},                      // missing required
		{"n": "three"},          // wrong type
		{"n": 3, "extra": true}, // unknown arg
		{"n": 3.5},              // not an integer
	}
	for _, args := range cases {
		batch := ex.ExecuteBatch(context.Background(), &ToolRequest{
			Type: "tool_request", ID: "r",
			ToolCalls: []ToolCall{{ID: "c", Name: "strict", Arguments: args}},
		}, "", AuditMeta{})
		require.False(t, batch.Results[0].OK)
		require.Equal(t, codeInvalidArguments, batch.Results[0].Data["error"])
	}
	require.False(t, invoked, "handler must never run on invalid arguments")
}

func TestUnknownAndDisabledTools(t *testing.T) {
	reg := NewRegistry()
	off := echoSpec("off")
	off.Enabled = false
	require.NoError(t, reg.Register(off))
	ex := testExecutor(t, reg, 5, 10)

	batch := ex.ExecuteBatch(context.Background(), &ToolRequest{
		Type: "tool_request", ID: "r",
		ToolCalls: []ToolCall{
			{ID: "c1", Name: "missing", Arguments: map[string]any{}},
			{ID: "c2", Name: "off", Arguments: map[string]any{"value": "x"}},
		},
	}, "", AuditMeta{})

	require.Len(t, batch.Results, 2)
	require.Equal(t, codeToolNotFound, batch.Results[0].Data["error"])
	require.Equal(t, codeToolDisabled, batch.Results[1].Data["error"])
}

func TestHandlerErrorReportedPerCall(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(ToolSpec{
		Name: "boom", Enabled: true,
		Handler: func(context.Context, map[string]any) (map[string]any, error) {
			return nil, context.DeadlineExceeded
		},
	}))
	require.NoError(t, reg.Register(echoSpec("echo")))
	ex := testExecutor(t, reg, 5, 10)

	batch := ex.ExecuteBatch(context.Background(), &ToolRequest{
		Type: "tool_request", ID: "r",
		ToolCalls: []ToolCall{
			{ID: "c1", Name: "boom", Arguments: map[string]any{}},
			{ID: "c2", Name: "echo", Arguments: map[string]any{"value": "ok"}},
		},
	}, "", AuditMeta{})

	require.False(t, batch.Results[0].OK)
	require.Equal(t, codeCallTimeout, batch.Results[0].Data["error"])
	require.True(t, batch.Results[1].OK, "one failing call must not poison the batch")
}

func TestGlobalTimeoutBoundsWallClock(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(ToolSpec{
		Name: "sleepy", Enabled: true,
		Handler: func(_ context.Context, _ map[string]any) (map[string]any, error) {
			// Deliberately ignores cancellation to model a stuck handler.
			time.Sleep(5 * time.Second)
			return map[string]any{}, nil
		},
	}))
	// Per-call timeout longer than the batch deadline so the batch
	// deadline is what fires.
	ex := testExecutor(t, reg, 10, 1)

	start := time.Now()
	batch := ex.ExecuteBatch(context.Background(), &ToolRequest{
		Type: "tool_request", ID: "r",
		ToolCalls: []ToolCall{{ID: "c", Name: "sleepy", Arguments: map[string]any{}}},
	}, "", AuditMeta{})
	elapsed := time.Since(start)

	require.Equal(t, "global_timeout", batch.Error)
	require.Nil(t, batch.Results, "no partial silent results on batch timeout")
	require.Less(t, elapsed, 3*time.Second, "batch must not exceed the shared deadline by much")
}

func TestParentCancellationIsNotATimeout(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(ToolSpec{
		Name: "sleepy", Enabled: true,
		Handler: func(_ context.Context, _ map[string]any) (map[string]any, error) {
			time.Sleep(2 * time.Second)
			return map[string]any{}, nil
		},
	}))
	// Both deadlines far out; only the caller's cancel can end the batch.
	ex := testExecutor(t, reg, 10, 30)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	batch := ex.ExecuteBatch(ctx, &ToolRequest{
		Type: "tool_request", ID: "r",
		ToolCalls: []ToolCall{{ID: "c", Name: "sleepy", Arguments: map[string]any{}}},
	}, "", AuditMeta{})
	elapsed := time.Since(start)

	require.Equal(t, "canceled", batch.Error)
	require.Nil(t, batch.Results)
	require.Less(t, elapsed, time.Second, "cancellation must end the batch promptly")
}
