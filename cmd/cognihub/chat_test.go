package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cognihub/internal/config"
	"cognihub/internal/embedding"
	"cognihub/internal/llm"
	"cognihub/internal/logging"
	"cognihub/internal/store"
	"cognihub/internal/tools"
)

func newTestApp(t *testing.T, cfg config.Config) *app {
	t.Helper()
	dir := t.TempDir()
	a := &app{
		cfg:    cfg,
		log:    logging.Nop(),
		engine: embedding.NewOllamaEngine(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.BatchSize),
		chat:   llm.New(cfg.LLM.BaseURL, time.Duration(cfg.LLM.TimeoutSeconds)*time.Second, logging.Nop()),
	}

	var err error
	a.docs, err = store.NewDocStore(filepath.Join(dir, "docs.db"), a.engine, cfg.Embedding, cfg.Retrieval, a.log)
	require.NoError(t, err)
	a.toolRuns, err = store.NewToolStore(filepath.Join(dir, "tools.db"), cfg.Tools.MaxOutputChars, a.log)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.docs.Close()
		a.toolRuns.Close()
	})
	return a
}

func TestChatSessionDefaultTools(t *testing.T) {
	a := newTestApp(t, config.Default())

	loop, reg, err := a.chatSession()
	require.NoError(t, err)
	require.NotNil(t, loop)

	_, err = reg.Get("web_search")
	require.NoError(t, err)
	_, err = reg.Get("doc_search")
	require.NoError(t, err)

	_, err = reg.Get("shell_exec")
	require.ErrorIs(t, err, tools.ErrToolNotFound, "shell_exec stays off unless enabled in config")
	_, err = reg.Get("kiwix_search")
	require.ErrorIs(t, err, tools.ErrToolNotFound, "kiwix tool needs a configured mirror")
}

func TestChatSessionOptionalTools(t *testing.T) {
	cfg := config.Default()
	cfg.Tools.AllowShellExec = true
	cfg.Kiwix.BaseURL = "http://127.0.0.1:8090"
	a := newTestApp(t, cfg)

	_, reg, err := a.chatSession()
	require.NoError(t, err)

	for _, name := range []string{"web_search", "doc_search", "kiwix_search", "shell_exec"} {
		_, err := reg.Get(name)
		require.NoError(t, err, "tool %s must be registered", name)
	}

	listing := describeTools(reg)
	require.Contains(t, listing, "web_search")
	require.Contains(t, listing, "shell_exec")
}
