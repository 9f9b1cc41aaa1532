package tools

import "errors"

var (
	// ErrToolNotFound means a call named a tool absent from the registry.
	ErrToolNotFound = errors.New("tool not found")

	// ErrDuplicateTool means the same name was registered twice.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrToolDisabled means the named tool exists but is switched off.
	ErrToolDisabled = errors.New("tool disabled")
)

// Machine-readable error codes placed in ToolResult.Data["error"].
const (
	codeInvalidArguments     = "invalid_arguments"
	codeConfirmationRequired = "confirmation_required"
	codeToolNotFound         = "tool_not_found"
	codeToolDisabled         = "tool_disabled"
	codeExecutionError       = "execution_error"
	codeCallTimeout          = "call_timeout"
)
