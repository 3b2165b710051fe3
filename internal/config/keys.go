package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TAGASK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "TAGASK_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.backend", typ: kString, env: "TAGASK_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TAGASK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.mongo_uri", typ: kString, env: "TAGASK_MONGO_URI",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.MongoURI = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.MongoURI },
	},
	{
		key: "storage.mongo_database", typ: kString, env: "TAGASK_MONGO_DATABASE",
		apply:   func(cfg *Config, v any) { cfg.Storage.MongoDatabase = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.MongoDatabase },
	},
	{
		key: "graph.base_url", typ: kString, env: "TAGASK_GRAPH_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Graph.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Graph.BaseURL },
	},
	{
		key: "graph.tenant_id", typ: kString, env: "TAGASK_GRAPH_TENANT_ID",
		apply:   func(cfg *Config, v any) { cfg.Graph.TenantID = v.(string) },
		extract: func(cfg Config) any { return cfg.Graph.TenantID },
	},
	{
		key: "graph.client_id", typ: kString, env: "TAGASK_GRAPH_CLIENT_ID",
		apply:   func(cfg *Config, v any) { cfg.Graph.ClientID = v.(string) },
		extract: func(cfg Config) any { return cfg.Graph.ClientID },
	},
	{
		key: "graph.client_secret", typ: kString, env: "TAGASK_GRAPH_CLIENT_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Graph.ClientSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Graph.ClientSecret },
	},
	{
		key: "graph.token_url", typ: kString, env: "TAGASK_GRAPH_TOKEN_URL",
		apply:   func(cfg *Config, v any) { cfg.Graph.TokenURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Graph.TokenURL },
	},
	{
		key: "graph.mail_sender", typ: kString, env: "TAGASK_GRAPH_MAIL_SENDER",
		apply:   func(cfg *Config, v any) { cfg.Graph.MailSender = v.(string) },
		extract: func(cfg Config) any { return cfg.Graph.MailSender },
	},
	{
		key: "graph.team_id", typ: kString, env: "TAGASK_GRAPH_TEAM_ID",
		apply:   func(cfg *Config, v any) { cfg.Graph.TeamID = v.(string) },
		extract: func(cfg Config) any { return cfg.Graph.TeamID },
	},
	{
		key: "summarizer.backend", typ: kString, env: "TAGASK_SUMMARIZER_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Summarizer.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Summarizer.Backend },
	},
	{
		key: "summarizer.flow_url", typ: kString, env: "TAGASK_FLOW_URL",
		apply:   func(cfg *Config, v any) { cfg.Summarizer.FlowURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Summarizer.FlowURL },
	},
	{
		key: "summarizer.flow_token", typ: kString, env: "TAGASK_FLOW_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Summarizer.FlowToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Summarizer.FlowToken },
	},
	{
		key: "summarizer.ollama_url", typ: kString, env: "TAGASK_OLLAMA_URL",
		apply:   func(cfg *Config, v any) { cfg.Summarizer.OllamaURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Summarizer.OllamaURL },
	},
	{
		key: "summarizer.ollama_model", typ: kString, env: "TAGASK_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Summarizer.OllamaModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Summarizer.OllamaModel },
	},
	{
		key: "summarizer.gemini_api_key", typ: kString, env: "TAGASK_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Summarizer.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Summarizer.GeminiAPIKey },
	},
	{
		key: "summarizer.gemini_model", typ: kString, env: "TAGASK_GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Summarizer.GeminiModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Summarizer.GeminiModel },
	},
	{
		key: "log.level", typ: kString, env: "TAGASK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "worker.poll_interval", typ: kString, env: "TAGASK_WORKER_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Worker.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Worker.PollInterval },
	},
	{
		key: "worker.max_attempts", typ: kInt, env: "TAGASK_WORKER_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Worker.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Worker.MaxAttempts },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
