// Package config resolves the process environment into provider
// credentials, default models, and the bot's allow-lists and costing table.
// Loading is non-interactive, so the same path serves both the terminal
// front end and a long-lived bot.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kaiho/agentloop/internal/apperr"
)

// Config is the resolved set of provider credentials and defaults this
// process needs to build a provider.Router and (optionally) a bot.
type Config struct {
	GrokAPIKey     string
	GrokModel      string
	GrokBaseURL    string
	AnthropicKey   string
	AnthropicModel string

	TelegramToken           string
	TelegramAllowedChatIDs  []int64
	TelegramAdminChatIDs    []int64
	TelegramRateLimitSecs   int
	TelegramApprovalTTLSecs int
	TelegramShowUsage       bool

	Costs map[string]ProviderCost
}

// ProviderCost holds the configured per-1M-token USD rates used for the
// cost estimate shown alongside a turn's usage.
type ProviderCost struct {
	PerMillionIn  float64
	PerMillionOut float64
}

const (
	defaultGrokModel      = "grok-4"
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultRateLimitSecs  = 5
	defaultApprovalTTL    = 600
)

// Load reads .env from the cwd, then the XDG config dir's "credentials"
// file, without overriding variables already present in the process
// environment. GROK_API_KEY is the only required variable; everything else
// defaults.
func Load() (*Config, error) {
	loadDotEnv(".env")
	if dir, err := ConfigDir(); err == nil {
		loadDotEnv(filepath.Join(dir, "credentials"))
	}

	grokKey := os.Getenv("GROK_API_KEY")
	if grokKey == "" {
		return nil, apperr.New(apperr.KindConfigMissingEnv,
			fmt.Errorf("config: required environment variable GROK_API_KEY is not set"))
	}

	cfg := &Config{
		GrokAPIKey:     grokKey,
		GrokModel:      envOr("GROK_MODEL", defaultGrokModel),
		GrokBaseURL:    os.Getenv("GROK_BASE_URL"),
		AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel: envOr("ANTHROPIC_MODEL", defaultAnthropicModel),

		TelegramToken:           os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramAllowedChatIDs:  parseInt64List(os.Getenv("TELEGRAM_ALLOWED_CHAT_IDS")),
		TelegramAdminChatIDs:    parseInt64List(os.Getenv("TELEGRAM_ADMIN_CHAT_IDS")),
		TelegramRateLimitSecs:   envOrInt("TELEGRAM_RATE_LIMIT_SECONDS", defaultRateLimitSecs),
		TelegramApprovalTTLSecs: envOrInt("TELEGRAM_APPROVAL_TTL_SECONDS", defaultApprovalTTL),
		TelegramShowUsage:       envOrBool("TELEGRAM_SHOW_USAGE", false),

		Costs: loadCosts(),
	}
	return cfg, nil
}

// RequireAnthropic fails with a config_missing_key classification when dev
// purpose is requested but no Anthropic credential was configured.
func (c *Config) RequireAnthropic() error {
	if c.AnthropicKey == "" {
		return apperr.New(apperr.KindConfigMissingKey,
			fmt.Errorf("config: ANTHROPIC_API_KEY is required for --dev purpose"))
	}
	return nil
}

// loadCosts scans the process environment for COST_<PROVIDER>_USD_PER_1M_IN
// and COST_<PROVIDER>_USD_PER_1M_OUT pairs, building one entry per provider
// name found. Unmatched or malformed values are skipped.
func loadCosts() map[string]ProviderCost {
	costs := make(map[string]ProviderCost)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		const prefix, inSuffix, outSuffix = "COST_", "_USD_PER_1M_IN", "_USD_PER_1M_OUT"
		switch {
		case strings.HasPrefix(key, prefix) && strings.HasSuffix(key, inSuffix):
			provider := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(key, prefix), inSuffix))
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				c := costs[provider]
				c.PerMillionIn = f
				costs[provider] = c
			}
		case strings.HasPrefix(key, prefix) && strings.HasSuffix(key, outSuffix):
			provider := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(key, prefix), outSuffix))
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				c := costs[provider]
				c.PerMillionOut = f
				costs[provider] = c
			}
		}
	}
	return costs
}

// EstimateUSD computes the cost estimate for a provider's token usage.
// Providers with no configured rates estimate to zero.
func (c *Config) EstimateUSD(provider string, inputTokens, outputTokens int) float64 {
	rate, ok := c.Costs[strings.ToLower(provider)]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1_000_000*rate.PerMillionIn + float64(outputTokens)/1_000_000*rate.PerMillionOut
}

// ConfigDir returns the XDG-compliant config directory for this project.
func ConfigDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" && filepath.IsAbs(dir) {
		return filepath.Join(dir, "agentloop"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", "agentloop"), nil
}

// loadDotEnv loads path into the process environment via godotenv, ignoring
// a missing file.
func loadDotEnv(path string) {
	_ = godotenv.Load(path)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envOrBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func parseInt64List(csv string) []int64 {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	var out []int64
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
