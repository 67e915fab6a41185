package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kaiho/agentloop/internal/apperr"
)

// isolate points HOME/XDG_CONFIG_HOME and the cwd at an empty temp dir so
// Load never picks up a real .env or credentials file from the machine
// running the tests.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
}

func TestLoad_RequiresGrokKey(t *testing.T) {
	isolate(t)
	t.Setenv("GROK_API_KEY", "")
	_, err := Load()
	require.Error(t, err)
	require.Equal(t, apperr.KindConfigMissingEnv, apperr.Classify(err))
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("GROK_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "test-key", cfg.GrokAPIKey)
	require.Equal(t, defaultGrokModel, cfg.GrokModel)
	require.Equal(t, defaultAnthropicModel, cfg.AnthropicModel)
	require.Equal(t, defaultRateLimitSecs, cfg.TelegramRateLimitSecs)
	require.Equal(t, defaultApprovalTTL, cfg.TelegramApprovalTTLSecs)
	require.False(t, cfg.TelegramShowUsage)

	t.Setenv("GROK_MODEL", "grok-4-fast")
	cfg, err = Load()
	require.NoError(t, err)
	require.Equal(t, "grok-4-fast", cfg.GrokModel)
}

func TestLoad_RequireAnthropicFailsWithoutKey(t *testing.T) {
	isolate(t)
	t.Setenv("GROK_API_KEY", "test-key")
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg, err := Load()
	require.NoError(t, err)
	rerr := cfg.RequireAnthropic()
	require.Error(t, rerr)
	require.Equal(t, apperr.KindConfigMissingKey, apperr.Classify(rerr))

	t.Setenv("ANTHROPIC_API_KEY", "anthropic-key")
	cfg, err = Load()
	require.NoError(t, err)
	require.NoError(t, cfg.RequireAnthropic())
}

func TestParseInt64List(t *testing.T) {
	require.Nil(t, parseInt64List(""))
	require.Nil(t, parseInt64List("   "))
	require.Equal(t, []int64{1, 2, 3}, parseInt64List("1,2,3"))
	require.Equal(t, []int64{1, 3}, parseInt64List("1, not-a-number, 3"))
	require.Equal(t, []int64{42}, parseInt64List(" 42 "))
}

func TestLoadCosts_ParsesPairsAndSkipsMalformed(t *testing.T) {
	isolate(t)
	t.Setenv("GROK_API_KEY", "test-key")
	t.Setenv("COST_GROK_USD_PER_1M_IN", "0.2")
	t.Setenv("COST_GROK_USD_PER_1M_OUT", "0.5")
	t.Setenv("COST_ANTHROPIC_USD_PER_1M_IN", "not-a-float")

	cfg, err := Load()
	require.NoError(t, err)

	grok, ok := cfg.Costs["grok"]
	require.True(t, ok)
	require.Equal(t, 0.2, grok.PerMillionIn)
	require.Equal(t, 0.5, grok.PerMillionOut)

	_, ok = cfg.Costs["anthropic"]
	require.False(t, ok)

	require.InDelta(t, 0.2*10+0.5*4, cfg.EstimateUSD("grok", 10_000_000, 4_000_000), 0.0001)
	require.Equal(t, 0.0, cfg.EstimateUSD("unknown", 1_000_000, 1_000_000))
}
