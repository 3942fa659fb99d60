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
	kFloat
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
		key: "server.host", typ: kString, env: "JURIST_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "JURIST_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "provider.base_url", typ: kString, env: "JURIST_PROVIDER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Provider.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.BaseURL },
	},
	{
		key: "provider.api_key", typ: kString, env: "JURIST_PROVIDER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Provider.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.APIKey },
	},
	{
		key: "provider.chat_model", typ: kString, env: "JURIST_PROVIDER_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.ChatModel },
	},
	{
		key: "provider.article_model", typ: kString, env: "JURIST_PROVIDER_ARTICLE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.ArticleModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.ArticleModel },
	},
	{
		key: "provider.embed_model", typ: kString, env: "JURIST_PROVIDER_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.EmbedModel },
	},
	{
		key: "provider.embed_dimensions", typ: kInt, env: "JURIST_PROVIDER_EMBED_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Provider.EmbedDimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Provider.EmbedDimensions },
	},
	{
		key: "provider.transcribe_model", typ: kString, env: "JURIST_PROVIDER_TRANSCRIBE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.TranscribeModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.TranscribeModel },
	},
	{
		key: "provider.timeout_secs", typ: kInt, env: "JURIST_PROVIDER_TIMEOUT_SECS",
		apply:   func(cfg *Config, v any) { cfg.Provider.TimeoutSecs = v.(int) },
		extract: func(cfg Config) any { return cfg.Provider.TimeoutSecs },
	},
	{
		key: "storage.data_dir", typ: kString, env: "JURIST_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "retrieval.context_limit", typ: kInt, env: "JURIST_RETRIEVAL_CONTEXT_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ContextLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.ContextLimit },
	},
	{
		key: "retrieval.context_threshold", typ: kFloat, env: "JURIST_RETRIEVAL_CONTEXT_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ContextThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.ContextThreshold },
	},
	{
		key: "retrieval.similar_threshold", typ: kFloat, env: "JURIST_RETRIEVAL_SIMILAR_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.SimilarThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.SimilarThreshold },
	},
	{
		key: "tagging.table_path", typ: kString, env: "JURIST_TAGGING_TABLE_PATH",
		apply:   func(cfg *Config, v any) { cfg.Tagging.TablePath = v.(string) },
		extract: func(cfg Config) any { return cfg.Tagging.TablePath },
	},
	{
		key: "automation.base_url", typ: kString, env: "JURIST_AUTOMATION_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Automation.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Automation.BaseURL },
	},
	{
		key: "automation.secret", typ: kString, env: "JURIST_AUTOMATION_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Automation.Secret = v.(string) },
		extract: func(cfg Config) any { return cfg.Automation.Secret },
	},
	{
		key: "log.level", typ: kString, env: "JURIST_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "JURIST_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "api.token", typ: kString, env: "JURIST_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
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
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
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
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
