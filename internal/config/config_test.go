package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultGlobalConcurrency, cfg.Admission.GlobalLimit)
	assert.Equal(t, 40*time.Second, cfg.Provider.Timeout.Std())
	assert.Equal(t, 0.7, cfg.Cache.ServeRate)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider:
  api_key: sk-file
  timeout: 25
admission:
  global_limit: 7
  lease_ttl: 90s
cache:
  serve_rate: 0.5
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-file", cfg.Provider.APIKey)
	assert.Equal(t, 25*time.Second, cfg.Provider.Timeout.Std())
	assert.Equal(t, 7, cfg.Admission.GlobalLimit)
	assert.Equal(t, 90*time.Second, cfg.Admission.LeaseTTL.Std())
	assert.Equal(t, 0.5, cfg.Cache.ServeRate)

	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultTenantConcurrency, cfg.Admission.TenantLimit)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider:\n  api_key: sk-file\n"), 0o600))

	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("AI_CONCURRENCY_GLOBAL", "3")
	t.Setenv("AI_LEASE_TTL_S", "45")
	t.Setenv("AI_CACHE_SERVE_RATE", "0.9")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.Provider.APIKey)
	assert.Equal(t, 3, cfg.Admission.GlobalLimit)
	assert.Equal(t, 45*time.Second, cfg.Admission.LeaseTTL.Std())
	assert.Equal(t, 0.9, cfg.Cache.ServeRate)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"zero global limit", "admission:\n  global_limit: 0\n"},
		{"short lease ttl", "admission:\n  lease_ttl: 5\n"},
		{"serve rate above one", "cache:\n  serve_rate: 1.5\n"},
		{"negative cost cap", "cost_cap:\n  pro_daily_cents: -1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "gateway.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.yaml), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestDurationForms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache:
  ttl: 1h
safeguard:
  window: 10
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.Cache.TTL.Std())
	assert.Equal(t, 10*time.Second, cfg.Safeguard.Window.Std())
}

func TestMaxOutputTokens(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultTalkMaxTokensFree, cfg.MaxOutputTokens(ModeTalk, TierFree))
	assert.Equal(t, DefaultTalkMaxTokensPro, cfg.MaxOutputTokens("TALK", "PRO"))
	assert.Equal(t, DefaultSceneMaxTokensFree, cfg.MaxOutputTokens(ModeScene, TierFree))
	assert.Equal(t, DefaultSceneMaxTokensPro, cfg.MaxOutputTokens(ModeScene, TierPro))
	// Unknown mode falls back to talk.
	assert.Equal(t, DefaultTalkMaxTokensFree, cfg.MaxOutputTokens("chat", TierFree))
}

func TestModelSelection(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cfg.Provider.ModelPro, cfg.Model(TierPro))
	assert.Equal(t, cfg.Provider.ModelFree, cfg.Model(TierFree))

	cfg.Provider.ModelFree = ""
	assert.Equal(t, cfg.Provider.ModelPro, cfg.Model(TierFree))
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
