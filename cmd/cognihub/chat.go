package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"cognihub/internal/kiwix"
	"cognihub/internal/llm"
	"cognihub/internal/retrieval"
	"cognihub/internal/tools"
	"cognihub/internal/websearch"
)

// chatSystemPrompt frames the tool-calling contract for the model; the
// registered tool descriptions are appended at runtime.
const chatSystemPrompt = `You are a research assistant with tools.
Reply with EXACTLY ONE JSON object per turn, either:
{"type":"tool_request","id":"...","tool_calls":[{"id":"...","name":"...","arguments":{...}}]}
to run up to 6 tools at once, or:
{"type":"final","id":"...","answer":"..."}
once you can answer. Available tools:
`

func newChatCmd(a *app) *cobra.Command {
	var (
		confirm bool
		chatRef string
	)
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Ask one question through the tool-calling loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loop, reg, err := a.chatSession()
			if err != nil {
				return err
			}

			token := ""
			if confirm {
				token = tools.ConfirmationToken
			}
			if chatRef == "" {
				chatRef = uuid.NewString()
			}
			messages := []llm.Message{
				{Role: "system", Content: chatSystemPrompt + describeTools(reg)},
				{Role: "user", Content: args[0]},
			}
			answer, err := loop.Run(cmd.Context(), messages, token,
				tools.AuditMeta{ChatRef: chatRef, MessageRef: uuid.NewString()})
			if err != nil {
				return err
			}
			fmt.Println(answer)
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "pre-approve tools that require confirmation")
	cmd.Flags().StringVar(&chatRef, "chat-ref", "", "conversation id recorded in the audit log")
	return cmd
}

// chatSession wires the tool-calling stack over the open stores: the
// builtin tools, the auditing executor, and the contract loop.
func (a *app) chatSession() (*tools.ChatLoop, *tools.Registry, error) {
	reg := tools.NewRegistry()
	deps := tools.BuiltinDeps{
		Searcher:       websearch.New(a.cfg.Web, nil, a.log),
		Docs:           retrieval.NewDocProvider(a.docs),
		AllowShellExec: a.cfg.Tools.AllowShellExec,
	}
	if a.cfg.Kiwix.BaseURL != "" {
		deps.Kiwix = retrieval.NewKiwixProvider(kiwix.New(a.cfg.Kiwix.BaseURL, a.log), a.engine, a.log)
	}
	if err := tools.RegisterBuiltins(reg, deps); err != nil {
		return nil, nil, err
	}

	exec := tools.NewExecutor(reg, a.toolRuns, a.cfg.Tools, a.log)
	return tools.NewChatLoop(a.chat, exec, a.cfg.LLM.ChatModel, a.log), reg, nil
}

func describeTools(reg *tools.Registry) string {
	var b strings.Builder
	for _, spec := range reg.List() {
		fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Description)
	}
	return b.String()
}
