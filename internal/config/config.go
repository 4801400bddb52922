package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/MikeSquared-Agency/concierge/internal/llm"
)

type Config struct {
	Port        int
	LogLevel    string
	DatabaseURL string
	BoltPath    string
	RedisURL    string
	NatsURL     string
	NatsToken   string
	APIToken    string

	TrustedProxies []string

	SlackBotToken string
	SlackChannel  string

	RateWindow     time.Duration
	RateVisitorMax int
	RateMemberMax  int
	RateAdminMax   int

	HistoryMaxTurns   int
	HistoryCharBudget int
	KnowledgeFile     string
	SystemPromptFile  string

	ProviderOrder  []string
	LLMTimeout     time.Duration
	ThinkingBudget int
}

// LoadDotEnv reads a .env file into the environment without overriding
// variables that are already set.
func LoadDotEnv(paths ...string) error {
	return godotenv.Load(paths...)
}

func Load() Config {
	return Config{
		Port:        envInt("CONCIERGE_PORT", 8760),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		DatabaseURL: envStr("DATABASE_URL", ""),
		BoltPath:    envStr("BOLT_PATH", ""),
		RedisURL:    envStr("REDIS_URL", ""),
		NatsURL:     envStr("NATS_URL", ""),
		NatsToken:   envStr("NATS_TOKEN", ""),
		APIToken:    envStr("CONCIERGE_API_TOKEN", ""),

		TrustedProxies: envList("TRUSTED_PROXIES", nil),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_ALERTS_CHANNEL", ""),

		RateWindow:     envDuration("RATE_WINDOW", 60*time.Second),
		RateVisitorMax: envInt("RATE_VISITOR_MAX", 10),
		RateMemberMax:  envInt("RATE_MEMBER_MAX", 30),
		RateAdminMax:   envInt("RATE_ADMIN_MAX", 120),

		HistoryMaxTurns:   envInt("HISTORY_MAX_TURNS", 30),
		HistoryCharBudget: envInt("HISTORY_CHAR_BUDGET", 12000),
		KnowledgeFile:     envStr("KNOWLEDGE_FILE", ""),
		SystemPromptFile:  envStr("SYSTEM_PROMPT_FILE", ""),

		ProviderOrder:  envList("LLM_PROVIDER_ORDER", []string{"anthropic", "openai", "deepseek", "openrouter"}),
		LLMTimeout:     envDuration("LLM_TIMEOUT", 45*time.Second),
		ThinkingBudget: envInt("ANTHROPIC_THINKING_BUDGET", 0),
	}
}

type providerDefaults struct {
	kind    llm.Kind
	baseURL string
	model   string
}

var knownProviders = map[string]providerDefaults{
	"anthropic":  {kind: llm.KindAnthropic, model: "claude-sonnet-4-20250514"},
	"openai":     {kind: llm.KindOpenAI, model: "gpt-4o-mini"},
	"deepseek":   {kind: llm.KindOpenAI, baseURL: "https://api.deepseek.com/v1", model: "deepseek-chat"},
	"openrouter": {kind: llm.KindOpenAI, baseURL: "https://openrouter.ai/api/v1", model: "openai/gpt-4o-mini"},
}

// Providers builds the provider list in configured order from
// <ID>_API_KEY, <ID>_BASE_URL, <ID>_MODEL and <ID>_MAX_TOKENS. Unknown IDs
// are skipped; providers without a key are kept here and dropped by the
// invoker.
func (c Config) Providers() []llm.ProviderConfig {
	var out []llm.ProviderConfig
	seen := make(map[string]bool)
	for _, id := range c.ProviderOrder {
		def, ok := knownProviders[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		prefix := strings.ToUpper(id) + "_"
		p := llm.ProviderConfig{
			ID:        id,
			Kind:      def.kind,
			APIKey:    envStr(prefix+"API_KEY", ""),
			BaseURL:   envStr(prefix+"BASE_URL", def.baseURL),
			Model:     envStr(prefix+"MODEL", def.model),
			MaxTokens: envInt(prefix+"MAX_TOKENS", 0),
		}
		if def.kind == llm.KindAnthropic && c.ThinkingBudget > 0 {
			p.SupportsThinking = true
			p.ThinkingBudget = c.ThinkingBudget
		}
		out = append(out, p)
	}
	return out
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
