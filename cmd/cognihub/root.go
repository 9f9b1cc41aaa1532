package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cognihub/internal/config"
	"cognihub/internal/embedding"
	"cognihub/internal/kiwix"
	"cognihub/internal/llm"
	"cognihub/internal/logging"
	"cognihub/internal/research"
	"cognihub/internal/retrieval"
	"cognihub/internal/store"
	"cognihub/internal/websearch"
)

// app holds the lazily-wired backends shared by the subcommands.
type app struct {
	cfgPath string
	cfg     config.Config
	log     *zap.Logger

	docs     *store.DocStore
	web      *store.WebStore
	runs     *store.ResearchStore
	toolRuns *store.ToolStore
	engine   embedding.Engine
	chat     *llm.Client
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "cognihub",
		Short:         "Retrieval-augmented research over local documents, the web, and offline archives",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "cognihub.yaml", "config file path")

	root.AddCommand(newIngestCmd(a))
	root.AddCommand(newDocsCmd(a))
	root.AddCommand(newResearchCmd(a))
	root.AddCommand(newRunsCmd(a))
	root.AddCommand(newChatCmd(a))
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	a.log = logger

	a.engine = embedding.NewOllamaEngine(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.BatchSize)
	a.chat = llm.New(cfg.LLM.BaseURL, time.Duration(cfg.LLM.TimeoutSeconds)*time.Second, logger)

	if a.docs, err = store.NewDocStore(cfg.Paths.DocDB, a.engine, cfg.Embedding, cfg.Retrieval, logger); err != nil {
		return fmt.Errorf("open doc store: %w", err)
	}
	if a.web, err = store.NewWebStore(cfg.Paths.WebDB, a.engine, cfg.Embedding, cfg.Web, logger); err != nil {
		return fmt.Errorf("open web store: %w", err)
	}
	if a.runs, err = store.NewResearchStore(cfg.Paths.ResearchDB, logger); err != nil {
		return fmt.Errorf("open research store: %w", err)
	}
	if a.toolRuns, err = store.NewToolStore(cfg.Paths.ToolDB, cfg.Tools.MaxOutputChars, logger); err != nil {
		return fmt.Errorf("open tool store: %w", err)
	}
	return nil
}

func (a *app) close() {
	for _, c := range []interface{ Close() error }{a.docs, a.web, a.runs, a.toolRuns} {
		if c != nil {
			_ = c.Close()
		}
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// orchestrator wires the full research stack from the open stores.
func (a *app) orchestrator() (*research.Orchestrator, *research.IngestQueue) {
	queue := research.NewIngestQueue(a.web, a.cfg.Research.IngestWorkers, a.log)

	deps := research.Deps{
		Chat:     a.chat,
		Docs:     retrieval.NewDocProvider(a.docs),
		Web:      retrieval.NewWebProvider(a.web),
		Searcher: websearch.New(a.cfg.Web, nil, a.log),
		Ingester: a.web,
		Runs:     a.runs,
		Queue:    queue,
	}
	if a.cfg.Kiwix.BaseURL != "" {
		deps.Kiwix = retrieval.NewKiwixProvider(kiwix.New(a.cfg.Kiwix.BaseURL, a.log), a.engine, a.log)
	}
	return research.New(a.cfg.Research, a.cfg.LLM, deps, a.log), queue
}

func exitIfNotFound(err error) error {
	if err == store.ErrNotFound {
		fmt.Fprintln(os.Stderr, "not found")
		os.Exit(2)
	}
	return err
}
