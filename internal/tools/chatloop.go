package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"cognihub/internal/llm"
)

// ChatClient is the completion capability the loop drives. Satisfied by
// *llm.Client; tests substitute a scripted fake.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []llm.Message, options map[string]any) (string, error)
}

const (
	// maxLoops bounds request/result iterations per conversation turn.
	maxLoops = 3

	// resultBudget caps the batch JSON fed back into the prompt; larger
	// payloads get their per-result data truncated first.
	resultBudget  = 4000
	truncPrefix   = 1000
	loopLimitNote = "Tool loop limit reached without a final answer."

	strictRetryPrompt = `Your previous reply did not follow the required format.
Respond with EXACTLY ONE JSON object and nothing else, either:
{"type":"tool_request","id":"...","tool_calls":[{"id":"...","name":"...","arguments":{...}}]}
or:
{"type":"final","id":"...","answer":"..."}`
)

// ChatLoop drives the two-shape contract against a model: request tools,
// execute them, feed results back, until a final answer or the loop cap.
type ChatLoop struct {
	client   ChatClient
	executor *Executor
	model    string
	log      *zap.Logger
}

// NewChatLoop assembles a loop for one model role.
func NewChatLoop(client ChatClient, executor *Executor, model string, log *zap.Logger) *ChatLoop {
	return &ChatLoop{client: client, executor: executor, model: model, log: log.Named("chatloop")}
}

// Run converses until the model produces a final answer. Malformed
// output earns exactly one corrective retry; a second failure returns
// the raw model text as a degraded answer rather than an error.
func (l *ChatLoop) Run(ctx context.Context, messages []llm.Message, confirmToken string, meta AuditMeta) (string, error) {
	history := make([]llm.Message, len(messages))
	copy(history, messages)

	for loop := 0; loop < maxLoops; loop++ {
		raw, err := l.client.Chat(ctx, l.model, history, nil)
		if err != nil {
			return "", fmt.Errorf("chat call: %w", err)
		}

		parsed, perr := ParseResponse(raw)
		if perr != nil {
			l.log.Debug("contract violation, retrying once", zap.Error(perr))
			retryHistory := append(append([]llm.Message{}, history...),
				llm.Message{Role: "user", Content: strictRetryPrompt})
			raw2, err := l.client.Chat(ctx, l.model, retryHistory, nil)
			if err != nil {
				return "", fmt.Errorf("chat retry: %w", err)
			}
			if parsed, perr = ParseResponse(raw2); perr != nil {
				l.log.Warn("contract violation after retry, returning raw text")
				return raw2, nil
			}
		}

		if parsed.Final != nil {
			return parsed.Final.Answer, nil
		}

		batch := l.executor.ExecuteBatch(ctx, parsed.Request, confirmToken, meta)
		history = append(history,
			llm.Message{Role: "assistant", Content: mustJSON(parsed.Request)},
			llm.Message{Role: "tool", Content: renderBatch(batch)})
	}
	return loopLimitNote, nil
}

// renderBatch serializes a batch for prompt feedback. Oversized payloads
// keep their structure but replace each result's data with a truncated
// marker so prompt growth stays bounded across iterations.
func renderBatch(batch BatchResult) string {
	full := mustJSON(batch)
	if len(full) <= resultBudget {
		return full
	}

	for i := range batch.Results {
		data := mustJSON(batch.Results[i].Data)
		if len(data) > truncPrefix {
			data = data[:truncPrefix]
		}
		batch.Results[i].Data = map[string]any{"truncated": data + "..."}
	}
	return mustJSON(batch)
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(b)
}
