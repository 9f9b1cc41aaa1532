package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"cognihub/internal/llm"
)

// Wire-shape limits. Anything outside these bounds is a contract
// violation, not a soft warning.
const (
	maxToolCalls = 6
	maxIDLen     = 64
	maxNameLen   = 64
	maxAnswerLen = 40000
)

// ToolCall is one requested tool invocation.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolRequest is the planning stage asking for 1..6 tool executions.
type ToolRequest struct {
	Type      string     `json:"type"`
	ID        string     `json:"id"`
	ToolCalls []ToolCall `json:"tool_calls"`
}

// FinalAnswer is the planning stage terminating with an answer.
type FinalAnswer struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Answer string `json:"answer"`
}

// ToolResult is the outcome of one call.
type ToolResult struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	OK   bool           `json:"ok"`
	Data map[string]any `json:"data"`
	Meta ResultMeta     `json:"meta"`
}

// ResultMeta carries execution metadata per call.
type ResultMeta struct {
	MS int64 `json:"ms"`
}

// BatchResult is the outcome of one whole tool request. When the shared
// batch deadline elapses, Error is "global_timeout" and Results is nil.
type BatchResult struct {
	Type    string       `json:"type"`
	ID      string       `json:"id"`
	Results []ToolResult `json:"results,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// ContractError reports why model output failed the two-shape contract.
type ContractError struct {
	Reason string
}

func (e *ContractError) Error() string {
	return "contract violation: " + e.Reason
}

// Parsed is the tagged decode of one model response: exactly one of
// Request or Final is non-nil.
type Parsed struct {
	Request *ToolRequest
	Final   *FinalAnswer
}

// ParseResponse extracts the first JSON object from raw model text and
// strictly decodes it as one of the two legal shapes. Unknown fields,
// wrong types, and out-of-bounds field sizes are all contract errors.
func ParseResponse(raw string) (Parsed, error) {
	obj := llm.ExtractJSONObject(raw)
	if obj == nil {
		return Parsed{}, &ContractError{Reason: "no JSON object found"}
	}
	kind, _ := obj["type"].(string)

	// Re-encode the extracted object so the strict decoder sees exactly
	// the candidate payload, not the surrounding prose.
	encoded, err := json.Marshal(obj)
	if err != nil {
		return Parsed{}, &ContractError{Reason: "unencodable JSON object"}
	}

	switch kind {
	case "tool_request":
		var req ToolRequest
		if err := strictDecode(encoded, &req); err != nil {
			return Parsed{}, &ContractError{Reason: fmt.Sprintf("bad tool_request: %v", err)}
		}
		if err := validateRequest(&req); err != nil {
			return Parsed{}, err
		}
		return Parsed{Request: &req}, nil

	case "final":
		var fin FinalAnswer
		if err := strictDecode(encoded, &fin); err != nil {
			return Parsed{}, &ContractError{Reason: fmt.Sprintf("bad final answer: %v", err)}
		}
		if len(fin.ID) > maxIDLen {
			return Parsed{}, &ContractError{Reason: "final id too long"}
		}
		if len(fin.Answer) > maxAnswerLen {
			fin.Answer = fin.Answer[:maxAnswerLen]
		}
		return Parsed{Final: &fin}, nil

	default:
		return Parsed{}, &ContractError{Reason: fmt.Sprintf("unknown type %q", kind)}
	}
}

func strictDecode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func validateRequest(req *ToolRequest) error {
	if len(req.ID) > maxIDLen {
		return &ContractError{Reason: "request id too long"}
	}
	if len(req.ToolCalls) == 0 {
		return &ContractError{Reason: "tool_request with no calls"}
	}
	if len(req.ToolCalls) > maxToolCalls {
		return &ContractError{Reason: fmt.Sprintf("too many tool calls (%d > %d)", len(req.ToolCalls), maxToolCalls)}
	}
	for i, call := range req.ToolCalls {
		if call.Name == "" {
			return &ContractError{Reason: fmt.Sprintf("call %d has no name", i)}
		}
		if len(call.Name) > maxNameLen || len(call.ID) > maxIDLen {
			return &ContractError{Reason: fmt.Sprintf("call %d has oversized id or name", i)}
		}
	}
	return nil
}
