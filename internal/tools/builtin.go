package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"cognihub/internal/retrieval"
	"cognihub/internal/websearch"
)

// shellAllowlist names the only binaries shell_exec will run. Everything
// executes argv-style with no shell interpolation.
var shellAllowlist = map[string]bool{
	"ls": true, "cat": true, "head": true, "tail": true,
	"wc": true, "grep": true, "find": true, "date": true,
	"uname": true, "df": true,
}

const shellOutputCap = 4096

// BuiltinDeps carries the backends the built-in tools call into. Nil
// members leave their tool unregistered.
type BuiltinDeps struct {
	Searcher *websearch.Searcher
	Docs     retrieval.Provider
	Kiwix    retrieval.Provider

	// AllowShellExec registers the dangerous shell_exec tool.
	AllowShellExec bool
}

// RegisterBuiltins adds the standard evidence-gathering tools to reg.
func RegisterBuiltins(reg *Registry, deps BuiltinDeps) error {
	intArg := func(name string, min, max float64) ArgSpec {
		return ArgSpec{Name: name, Type: "int", Min: &min, Max: &max}
	}

	if deps.Searcher != nil {
		err := reg.Register(ToolSpec{
			Name:        "web_search",
			Description: "Search the live web and return candidate result URLs.",
			Args: []ArgSpec{
				{Name: "query", Type: "string", Required: true, MaxLen: 400},
				intArg("limit", 1, 20),
			},
			SideEffect: SideEffectNetwork,
			Enabled:    true,
			Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				urls, err := deps.Searcher.Search(ctx, args["query"].(string), intOr(args, "limit", 8))
				if err != nil {
					return nil, err
				}
				return map[string]any{"urls": urls}, nil
			},
		})
		if err != nil {
			return err
		}
	}

	if deps.Docs != nil {
		err := reg.Register(ToolSpec{
			Name:        "doc_search",
			Description: "Search the local document index for relevant chunks.",
			Args: []ArgSpec{
				{Name: "query", Type: "string", Required: true, MaxLen: 400},
				intArg("top_k", 1, 20),
			},
			SideEffect: SideEffectReadOnly,
			Enabled:    true,
			Handler:    retrieveHandler(deps.Docs, "top_k", 6),
		})
		if err != nil {
			return err
		}
	}

	if deps.Kiwix != nil {
		err := reg.Register(ToolSpec{
			Name:        "kiwix_search",
			Description: "Search the offline encyclopedia mirror.",
			Args: []ArgSpec{
				{Name: "query", Type: "string", Required: true, MaxLen: 400},
				intArg("top_k", 1, 10),
			},
			SideEffect: SideEffectNetwork,
			Enabled:    true,
			Handler:    retrieveHandler(deps.Kiwix, "top_k", 3),
		})
		if err != nil {
			return err
		}
	}

	if deps.AllowShellExec {
		err := reg.Register(ToolSpec{
			Name:        "shell_exec",
			Description: "Run one allowlisted command with argv arguments, no shell.",
			Args: []ArgSpec{
				{Name: "command", Type: "string", Required: true, MaxLen: 64},
				{Name: "args", Type: "array"},
			},
			SideEffect:           SideEffectDangerous,
			RequiresConfirmation: true,
			Enabled:              true,
			Handler:              shellExecHandler,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func retrieveHandler(p retrieval.Provider, kArg string, defaultK int) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		results, err := p.Retrieve(ctx, args["query"].(string), intOr(args, kArg, defaultK), retrieval.Options{})
		if err != nil {
			return nil, err
		}
		hits := make([]map[string]any, 0, len(results))
		for _, r := range results {
			hits = append(hits, map[string]any{
				"source_type": r.SourceType,
				"ref_id":      r.RefID,
				"chunk_id":    r.ChunkID,
				"title":       r.Title,
				"url":         r.URL,
				"score":       r.Score,
				"text":        r.Text,
			})
		}
		return map[string]any{"hits": hits}, nil
	}
}

func shellExecHandler(ctx context.Context, args map[string]any) (map[string]any, error) {
	command := args["command"].(string)
	if !shellAllowlist[command] {
		return nil, fmt.Errorf("command %q not allowlisted", command)
	}

	var argv []string
	if raw, ok := args["args"].([]any); ok {
		for _, a := range raw {
			s, ok := a.(string)
			if !ok {
				return nil, fmt.Errorf("shell args must be strings")
			}
			argv = append(argv, s)
		}
	}

	cmd := exec.CommandContext(ctx, command, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	out := map[string]any{
		"stdout": capString(stdout.String(), shellOutputCap),
		"stderr": capString(stderr.String(), shellOutputCap),
	}
	if runErr != nil {
		out["exit_error"] = runErr.Error()
	}
	return out, nil
}

func capString(s string, limit int) string {
	if len(s) > limit {
		return s[:limit]
	}
	return s
}

// intOr reads an integer argument with a default, tolerating the float64
// shape JSON decoding produces.
func intOr(args map[string]any, key string, fallback int) int {
	if v, ok := args[key]; ok {
		if f, ok := asNumber(v); ok {
			return int(f)
		}
	}
	return fallback
}
