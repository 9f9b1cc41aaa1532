// Package config holds the typed configuration for cognihub.
// Every section has a Default constructor; Load reads an optional YAML
// file over the defaults and then applies environment overrides for the
// endpoint URLs so deployments can repoint services without editing files.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"cognihub/internal/logging"
)

// Config is the root configuration object.
type Config struct {
	Paths     PathsConfig     `yaml:"paths"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Research  ResearchConfig  `yaml:"research"`
	Tools     ToolsConfig     `yaml:"tools"`
	Web       WebConfig       `yaml:"web"`
	Kiwix     KiwixConfig     `yaml:"kiwix"`
	Logging   logging.Config  `yaml:"logging"`
}

// PathsConfig locates the SQLite databases.
type PathsConfig struct {
	DocDB      string `yaml:"doc_db"`
	WebDB      string `yaml:"web_db"`
	ResearchDB string `yaml:"research_db"`
	ToolDB     string `yaml:"tool_db"`
}

// LLMConfig configures the chat-completion endpoint and model roles.
type LLMConfig struct {
	BaseURL       string `yaml:"base_url"`
	PlannerModel  string `yaml:"planner_model"`
	VerifierModel string `yaml:"verifier_model"`
	SynthModel    string `yaml:"synth_model"`
	ChatModel     string `yaml:"chat_model"`

	// TimeoutSeconds bounds a single chat call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// EmbeddingConfig configures the embedding endpoint and chunking.
type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`

	// ChunkChars and ChunkOverlap drive the paragraph/sentence chunker.
	ChunkChars   int `yaml:"chunk_chars"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// RetrievalConfig tunes ranking and the lexical prefilter.
type RetrievalConfig struct {
	MaxTopK        int     `yaml:"max_top_k"`
	PrefilterLimit int     `yaml:"prefilter_limit"`
	PerDocCap      int     `yaml:"per_doc_cap"`
	UsePrefilter   bool    `yaml:"use_prefilter"`
	UseMMR         bool    `yaml:"use_mmr"`
	MMRLambda      float64 `yaml:"mmr_lambda"`
	MaxDocBytes    int     `yaml:"max_doc_bytes"`
}

// ResearchConfig tunes the orchestrator round loop.
type ResearchConfig struct {
	MaxRounds        int `yaml:"max_rounds"`
	DefaultRounds    int `yaml:"default_rounds"`
	MaxPagesPerRound int `yaml:"max_pages_per_round"`
	MaxDocQueries    int `yaml:"max_doc_queries"`
	MaxWebQueries    int `yaml:"max_web_queries"`
	DocTopK          int `yaml:"doc_top_k"`
	WebTopK          int `yaml:"web_top_k"`
	KiwixTopK        int `yaml:"kiwix_top_k"`

	// SupportedTarget ends the loop early once this many claims verify as
	// supported. Inherited from the original system as-is.
	SupportedTarget int `yaml:"supported_target"`

	// IngestWorkers sizes the background page-ingestion pool.
	IngestWorkers int `yaml:"ingest_workers"`
}

// ToolsConfig tunes the tool executor.
type ToolsConfig struct {
	CallTimeoutSeconds  int  `yaml:"call_timeout_seconds"`
	BatchTimeoutSeconds int  `yaml:"batch_timeout_seconds"`
	MaxOutputChars      int  `yaml:"max_output_chars"`
	AllowShellExec      bool `yaml:"allow_shell_exec"`
}

// WebConfig controls web fetching and search.
type WebConfig struct {
	UserAgent             string   `yaml:"user_agent"`
	BlockedHosts          []string `yaml:"blocked_hosts"`
	AllowedHosts          []string `yaml:"allowed_hosts"`
	MaxPageChars          int      `yaml:"max_page_chars"`
	FetchTimeoutSeconds   int      `yaml:"fetch_timeout_seconds"`
	SearchCacheTTLMinutes int      `yaml:"search_cache_ttl_minutes"`

	// SearchMinInterval throttles the search backend, seconds between calls.
	SearchMinInterval int `yaml:"search_min_interval"`
}

// KiwixConfig points at an offline encyclopedia mirror. Empty BaseURL
// disables the provider.
type KiwixConfig struct {
	BaseURL string `yaml:"base_url"`
}

// Default returns the full default configuration.
func Default() Config {
	return Config{
		Paths: PathsConfig{
			DocDB:      "data/docs.db",
			WebDB:      "data/web.db",
			ResearchDB: "data/research.db",
			ToolDB:     "data/tools.db",
		},
		LLM: LLMConfig{
			BaseURL:        "http://127.0.0.1:11434",
			PlannerModel:   "qwen2.5:7b",
			VerifierModel:  "qwen2.5:7b",
			SynthModel:     "qwen2.5:7b",
			ChatModel:      "qwen2.5:7b",
			TimeoutSeconds: 90,
		},
		Embedding: EmbeddingConfig{
			BaseURL:      "http://127.0.0.1:11434",
			Model:        "nomic-embed-text",
			BatchSize:    48,
			ChunkChars:   1200,
			ChunkOverlap: 200,
		},
		Retrieval: RetrievalConfig{
			MaxTopK:        20,
			PrefilterLimit: 1500,
			PerDocCap:      40,
			UsePrefilter:   true,
			UseMMR:         false,
			MMRLambda:      0.75,
			MaxDocBytes:    10 * 1024 * 1024,
		},
		Research: ResearchConfig{
			MaxRounds:        6,
			DefaultRounds:    3,
			MaxPagesPerRound: 6,
			MaxDocQueries:    6,
			MaxWebQueries:    6,
			DocTopK:          6,
			WebTopK:          6,
			KiwixTopK:        3,
			SupportedTarget:  6,
			IngestWorkers:    3,
		},
		Tools: ToolsConfig{
			CallTimeoutSeconds:  12,
			BatchTimeoutSeconds: 60,
			MaxOutputChars:      12000,
		},
		Web: WebConfig{
			UserAgent:             "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome Safari",
			MaxPageChars:          600_000,
			FetchTimeoutSeconds:   12,
			SearchCacheTTLMinutes: 30,
			SearchMinInterval:     2,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads path over Default(). A missing file is not an error; a
// malformed file is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overrides endpoint settings from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		u := strings.TrimRight(v, "/")
		cfg.LLM.BaseURL = u
		cfg.Embedding.BaseURL = u
	}
	if v := os.Getenv("EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("KIWIX_URL"); v != "" {
		cfg.Kiwix.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("WEB_BLOCKED_HOSTS"); v != "" {
		cfg.Web.BlockedHosts = splitHosts(v)
	}
	if v := os.Getenv("WEB_ALLOWED_HOSTS"); v != "" {
		cfg.Web.AllowedHosts = splitHosts(v)
	}
}

func splitHosts(s string) []string {
	var out []string
	for _, h := range strings.Split(s, ",") {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}
