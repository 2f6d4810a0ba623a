// Package config defines the gateway configuration surface.
//
// DESIGN: One explicit Config struct is built at startup and passed into the
// gateway at construction time; nothing reads the environment at call time.
// Precedence: defaults < YAML file < environment variables. Each section has
// its own Validate so a bad knob is reported with its YAML path.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes YAML either as an integer number of seconds or as a Go
// duration string ("12s", "1h").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var secs int64
	if err := n.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full gateway configuration.
type Config struct {
	Redis      RedisConfig      `yaml:"redis"`
	Provider   ProviderConfig   `yaml:"provider"`
	KillSwitch KillSwitchConfig `yaml:"kill_switch"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Admission  AdmissionConfig  `yaml:"admission"`
	Quota      QuotaConfig      `yaml:"quota"`
	CostCap    CostCapConfig    `yaml:"cost_cap"`
	Safeguard  SafeguardConfig  `yaml:"safeguard"`
	Cache      CacheConfig      `yaml:"cache"`
	Tokens     TokenConfig      `yaml:"tokens"`
	Usage      UsageConfig      `yaml:"usage"`
}

// RedisConfig locates the shared state store.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// ProviderConfig configures the text generation provider client.
type ProviderConfig struct {
	APIKey             string   `yaml:"api_key"`
	BaseURL            string   `yaml:"base_url"`
	ModelPro           string   `yaml:"model_pro"`
	ModelFree          string   `yaml:"model_free"`
	Timeout            Duration `yaml:"timeout"`
	ProcessConcurrency int      `yaml:"process_concurrency"`
}

// KillSwitchConfig holds the static operator flag; the runtime flag lives in
// the shared store.
type KillSwitchConfig struct {
	StaticDisabled bool `yaml:"static_disabled"`
}

// BreakerConfig sets class-specific trip durations.
type BreakerConfig struct {
	TripTimeout    Duration `yaml:"trip_timeout"`
	TripRateLimit  Duration `yaml:"trip_rate_limit"`
	TripConnection Duration `yaml:"trip_connection"`
	TripStatus5xx  Duration `yaml:"trip_status_5xx"`
}

// AdmissionConfig bounds simultaneous in-flight provider calls.
type AdmissionConfig struct {
	GlobalLimit   int      `yaml:"global_limit"`
	TenantLimit   int      `yaml:"tenant_limit"`
	LeaseTTL      Duration `yaml:"lease_ttl"`
	QueueWaitPro  Duration `yaml:"queue_wait_pro"`
	QueueWaitFree Duration `yaml:"queue_wait_free"`
	PollStep      Duration `yaml:"poll_step"`
}

// ModeCaps holds per-mode quota ceilings for one tier.
type ModeCaps struct {
	UserDaily  int `yaml:"user_daily"`
	UserWeekly int `yaml:"user_weekly"`
}

// QuotaConfig holds the default quota policy's tier-aware caps.
type QuotaConfig struct {
	TalkFree         ModeCaps `yaml:"talk_free"`
	TalkPro          ModeCaps `yaml:"talk_pro"`
	SceneFree        ModeCaps `yaml:"scene_free"`
	ScenePro         ModeCaps `yaml:"scene_pro"`
	TalkTenantDaily  int      `yaml:"talk_tenant_daily"`
	SceneTenantDaily int      `yaml:"scene_tenant_daily"`
	UserTokensFree   int      `yaml:"user_daily_tokens_free"`
	UserTokensPro    int      `yaml:"user_daily_tokens_pro"`
}

// CostCapConfig holds per-tier token rates and daily spend caps.
type CostCapConfig struct {
	InputRatePro   float64 `yaml:"input_rate_pro"`   // USD per input token
	OutputRatePro  float64 `yaml:"output_rate_pro"`  // USD per output token
	InputRateFree  float64 `yaml:"input_rate_free"`
	OutputRateFree float64 `yaml:"output_rate_free"`
	ProDailyCents  float64 `yaml:"pro_daily_cents"`  // 0 = no cap
	FreeDailyCents float64 `yaml:"free_daily_cents"` // 0 = no cap
}

// SafeguardConfig holds anomaly thresholds. All are per sliding window
// except DailyGlobalTokens.
type SafeguardConfig struct {
	Window            Duration `yaml:"window"`
	GlobalCalls       int      `yaml:"global_calls"`
	GlobalTokens      int      `yaml:"global_tokens"`
	DailyGlobalTokens int      `yaml:"daily_global_tokens"`
	TenantCalls       int      `yaml:"tenant_calls"`
	TenantTokens      int      `yaml:"tenant_tokens"`
	UserCalls         int      `yaml:"user_calls"`
	UserTokens        int      `yaml:"user_tokens"`
	ShutdownTTL       Duration `yaml:"shutdown_ttl"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	MaxPromptLen int      `yaml:"max_prompt_len"`
	TTL          Duration `yaml:"ttl"`
	ServeRate    float64  `yaml:"serve_rate"`
}

// TokenConfig holds the hard per-mode-per-tier output token backstops.
type TokenConfig struct {
	TalkMaxFree  int `yaml:"talk_max_free"`
	TalkMaxPro   int `yaml:"talk_max_pro"`
	SceneMaxFree int `yaml:"scene_max_free"`
	SceneMaxPro  int `yaml:"scene_max_pro"`
}

// UsageConfig locates the usage ledger.
type UsageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			BaseURL:            DefaultProviderBaseURL,
			ModelPro:           DefaultModelPro,
			ModelFree:          DefaultModelFree,
			Timeout:            Duration(DefaultProviderTimeout),
			ProcessConcurrency: DefaultProcessConcurrency,
		},
		Breaker: BreakerConfig{
			TripTimeout:    Duration(DefaultTripTimeout),
			TripRateLimit:  Duration(DefaultTripRateLimit),
			TripConnection: Duration(DefaultTripConnection),
			TripStatus5xx:  Duration(DefaultTripStatus5xx),
		},
		Admission: AdmissionConfig{
			GlobalLimit:   DefaultGlobalConcurrency,
			TenantLimit:   DefaultTenantConcurrency,
			LeaseTTL:      Duration(DefaultLeaseTTL),
			QueueWaitPro:  Duration(DefaultQueueWaitPro),
			QueueWaitFree: Duration(DefaultQueueWaitFree),
			PollStep:      Duration(DefaultQueuePollStep),
		},
		Quota: QuotaConfig{
			TalkFree:         ModeCaps{UserDaily: DefaultTalkUserDailyFree, UserWeekly: DefaultTalkUserWeeklyFree},
			TalkPro:          ModeCaps{UserDaily: DefaultTalkUserDailyPro, UserWeekly: DefaultTalkUserWeeklyPro},
			SceneFree:        ModeCaps{UserDaily: DefaultSceneUserDailyFree, UserWeekly: DefaultSceneUserWeeklyFree},
			ScenePro:         ModeCaps{UserDaily: DefaultSceneUserDailyPro, UserWeekly: DefaultSceneUserWeeklyPro},
			TalkTenantDaily:  DefaultTalkTenantDaily,
			SceneTenantDaily: DefaultSceneTenantDaily,
			UserTokensFree:   DefaultUserDailyTokensFree,
			UserTokensPro:    DefaultUserDailyTokensPro,
		},
		CostCap: CostCapConfig{
			InputRatePro:   DefaultCostPerInputTokenPro,
			OutputRatePro:  DefaultCostPerOutputTokenPro,
			InputRateFree:  DefaultCostPerInputTokenFree,
			OutputRateFree: DefaultCostPerOutputTokenFree,
			ProDailyCents:  DefaultCostCapProDailyCents,
			FreeDailyCents: DefaultCostCapFreeDailyCents,
		},
		Safeguard: SafeguardConfig{
			Window:            Duration(DefaultSafeguardWindow),
			GlobalCalls:       DefaultSafeguardGlobalCalls,
			GlobalTokens:      DefaultSafeguardGlobalTokens,
			DailyGlobalTokens: DefaultSafeguardDailyGlobalTokens,
			TenantCalls:       DefaultSafeguardTenantCalls,
			TenantTokens:      DefaultSafeguardTenantTokens,
			UserCalls:         DefaultSafeguardUserCalls,
			UserTokens:        DefaultSafeguardUserTokens,
			ShutdownTTL:       Duration(DefaultSafeguardShutdownTTL),
		},
		Cache: CacheConfig{
			MaxPromptLen: DefaultCacheMaxPromptLen,
			TTL:          Duration(DefaultCacheTTL),
			ServeRate:    DefaultCacheServeRate,
		},
		Tokens: TokenConfig{
			TalkMaxFree:  DefaultTalkMaxTokensFree,
			TalkMaxPro:   DefaultTalkMaxTokensPro,
			SceneMaxFree: DefaultSceneMaxTokensFree,
			SceneMaxPro:  DefaultSceneMaxTokensPro,
		},
	}
}

// Load builds a Config from defaults, an optional YAML file, and environment
// overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers environment overrides on top, using the historical
// variable names so deployments carry over unchanged.
func (c *Config) applyEnv() {
	envStr(&c.Redis.URL, "REDIS_URL", "REDIS_PRIVATE_URL", "REDIS_PUBLIC_URL")
	envStr(&c.Provider.APIKey, "OPENAI_API_KEY")
	envStr(&c.Provider.BaseURL, "OPENAI_BASE_URL")
	envStr(&c.Provider.ModelPro, "OPENAI_MODEL")
	envStr(&c.Provider.ModelFree, "OPENAI_MODEL_FREE")
	envSeconds(&c.Provider.Timeout, "OPENAI_TIMEOUT_S")
	envInt(&c.Provider.ProcessConcurrency, "AI_PROCESS_CONCURRENCY")

	envBool(&c.KillSwitch.StaticDisabled, "AI_DISABLED")

	envInt(&c.Admission.GlobalLimit, "AI_CONCURRENCY_GLOBAL")
	envInt(&c.Admission.TenantLimit, "AI_CONCURRENCY_PER_TENANT")
	envSeconds(&c.Admission.LeaseTTL, "AI_LEASE_TTL_S")
	envSeconds(&c.Admission.QueueWaitPro, "AI_QUEUE_WAIT_PRO_S")
	envSeconds(&c.Admission.QueueWaitFree, "AI_QUEUE_WAIT_FREE_S")

	envFloat(&c.CostCap.ProDailyCents, "AI_COST_CAP_PRO_DAILY_CENTS")
	envFloat(&c.CostCap.FreeDailyCents, "AI_COST_CAP_FREE_DAILY_CENTS")
	envFloat(&c.CostCap.InputRatePro, "AI_COST_PER_INPUT_TOKEN_PRO")
	envFloat(&c.CostCap.OutputRatePro, "AI_COST_PER_OUTPUT_TOKEN_PRO")
	envFloat(&c.CostCap.InputRateFree, "AI_COST_PER_INPUT_TOKEN_FREE")
	envFloat(&c.CostCap.OutputRateFree, "AI_COST_PER_OUTPUT_TOKEN_FREE")

	envInt(&c.Safeguard.GlobalCalls, "AI_SAFEGUARD_GLOBAL_CALLS")
	envInt(&c.Safeguard.GlobalTokens, "AI_SAFEGUARD_GLOBAL_TOKENS")
	envInt(&c.Safeguard.DailyGlobalTokens, "AI_SAFEGUARD_GLOBAL_TOKENS_PER_DAY")
	envInt(&c.Safeguard.TenantCalls, "AI_SAFEGUARD_TENANT_CALLS")
	envInt(&c.Safeguard.TenantTokens, "AI_SAFEGUARD_TENANT_TOKENS")
	envInt(&c.Safeguard.UserCalls, "AI_SAFEGUARD_USER_CALLS")
	envInt(&c.Safeguard.UserTokens, "AI_SAFEGUARD_USER_TOKENS")
	envSeconds(&c.Safeguard.ShutdownTTL, "AI_SAFEGUARD_SHUTDOWN_TTL_S")

	envInt(&c.Cache.MaxPromptLen, "AI_CACHE_MAX_PROMPT_LENGTH")
	envSeconds(&c.Cache.TTL, "AI_CACHE_TTL_S")
	envFloat(&c.Cache.ServeRate, "AI_CACHE_SERVE_RATE")

	envStr(&c.Usage.SQLitePath, "AI_USAGE_SQLITE_PATH")
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if c.Admission.GlobalLimit < 1 {
		return fmt.Errorf("admission.global_limit must be >= 1, got %d", c.Admission.GlobalLimit)
	}
	if c.Admission.TenantLimit < 1 {
		return fmt.Errorf("admission.tenant_limit must be >= 1, got %d", c.Admission.TenantLimit)
	}
	if c.Admission.LeaseTTL.Std() < 20*time.Second {
		return fmt.Errorf("admission.lease_ttl must be >= 20s, got %s", c.Admission.LeaseTTL.Std())
	}
	if c.CostCap.ProDailyCents < 0 || c.CostCap.FreeDailyCents < 0 {
		return fmt.Errorf("cost_cap daily cents must be >= 0")
	}
	if c.Cache.ServeRate < 0 || c.Cache.ServeRate > 1 {
		return fmt.Errorf("cache.serve_rate must be in [0,1], got %f", c.Cache.ServeRate)
	}
	if c.Cache.MaxPromptLen < 1 {
		return fmt.Errorf("cache.max_prompt_len must be >= 1, got %d", c.Cache.MaxPromptLen)
	}
	if c.Safeguard.Window.Std() < time.Second {
		return fmt.Errorf("safeguard.window must be >= 1s, got %s", c.Safeguard.Window.Std())
	}
	if c.Provider.Timeout.Std() <= 0 {
		return fmt.Errorf("provider.timeout must be > 0, got %s", c.Provider.Timeout.Std())
	}
	if c.Provider.ProcessConcurrency < 1 {
		return fmt.Errorf("provider.process_concurrency must be >= 1, got %d", c.Provider.ProcessConcurrency)
	}
	return nil
}

// MaxOutputTokens returns the hard backstop for a mode+tier pair.
func (c *Config) MaxOutputTokens(mode, tier string) int {
	scene := strings.EqualFold(strings.TrimSpace(mode), ModeScene)
	pro := strings.EqualFold(strings.TrimSpace(tier), TierPro)
	switch {
	case scene && pro:
		return c.Tokens.SceneMaxPro
	case scene:
		return c.Tokens.SceneMaxFree
	case pro:
		return c.Tokens.TalkMaxPro
	default:
		return c.Tokens.TalkMaxFree
	}
}

// Model returns the provider model variant for a tier.
func (c *Config) Model(tier string) string {
	if strings.EqualFold(strings.TrimSpace(tier), TierPro) {
		return c.Provider.ModelPro
	}
	if c.Provider.ModelFree != "" {
		return c.Provider.ModelFree
	}
	return c.Provider.ModelPro
}

func envStr(dst *string, names ...string) {
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			*dst = v
			return
		}
	}
}

func envInt(dst *int, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(dst *bool, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envSeconds(dst *Duration, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			*dst = Duration(time.Duration(f * float64(time.Second)))
		}
	}
}
