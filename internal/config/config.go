package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	DefaultAddr              = ":8000"
	DefaultModel             = "Qwen-3-235B-0527-T"
	DefaultUpstream          = UpstreamPoe
	DefaultPoeBaseURL        = "https://api.poe.com"
	DefaultOpenAIBaseURL     = "https://api.poe.com/v1"
	DefaultMaxConcurrent     = 10
	DefaultExchangeLogLimit  = 200
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 15 * time.Second

	UpstreamPoe    = "poe"
	UpstreamOpenAI = "openai"

	envPrefix = "POE_BRIDGE"
	appName   = "poe-bridge"
)

// Config holds runtime configuration values. It is built once at startup.
type Config struct {
	Addr              string
	DefaultModel      string
	PoeAPIKey         string
	AuthToken         string
	Upstream          string
	PoeBaseURL        string
	OpenAIBaseURL     string
	MaxConcurrent     int
	ToolsEnabled      bool
	StreamingEnabled  bool
	SystemPrompt      string
	UsageEnabled      bool
	ExchangeLogLimit  int
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Verbose           bool
}

// Configured reports whether both credentials are present. Requests are
// refused until they are.
func (c Config) Configured() bool {
	return c.PoeAPIKey != "" && c.AuthToken != ""
}

type rawConfig struct {
	Addr              string `mapstructure:"addr"`
	DefaultModel      string `mapstructure:"default_model"`
	PoeAPIKey         string `mapstructure:"poe_api_key"`
	AuthToken         string `mapstructure:"auth_token"`
	Upstream          string `mapstructure:"upstream"`
	PoeBaseURL        string `mapstructure:"poe_base_url"`
	OpenAIBaseURL     string `mapstructure:"openai_base_url"`
	MaxConcurrent     int    `mapstructure:"max_concurrent"`
	ToolsEnabled      bool   `mapstructure:"tools_enabled"`
	StreamingEnabled  bool   `mapstructure:"streaming_enabled"`
	SystemPrompt      string `mapstructure:"system_prompt"`
	UsageEnabled      bool   `mapstructure:"usage_enabled"`
	ExchangeLogLimit  int    `mapstructure:"exchange_log_limit"`
	ReadHeaderTimeout string `mapstructure:"read_header_timeout"`
	ShutdownTimeout   string `mapstructure:"shutdown_timeout"`
	Verbose           bool   `mapstructure:"verbose"`
}

// AddFlags registers the command-line flags that Load binds.
func AddFlags(cmd *cobra.Command) {
	cmd.Flags().String("addr", DefaultAddr, "Listen address")
	cmd.Flags().String("default-model", DefaultModel, "Bot used when no #@model directive is present")
	cmd.Flags().String("upstream", DefaultUpstream, "Upstream protocol: poe or openai")
	cmd.Flags().String("poe-base-url", DefaultPoeBaseURL, "Poe bot protocol base URL")
	cmd.Flags().String("openai-base-url", DefaultOpenAIBaseURL, "OpenAI-compatible base URL")
	cmd.Flags().Int("max-concurrent", DefaultMaxConcurrent, "Maximum in-flight completions")
	cmd.Flags().Bool("tools", true, "Advertise tools and classify tool-call replies")
	cmd.Flags().Bool("streaming", true, "Honor stream:true requests")
	cmd.Flags().Bool("usage", false, "Attach estimated token usage to buffered responses")
	cmd.Flags().Int("exchange-log-limit", DefaultExchangeLogLimit, "Upstream exchanges kept for /debug/exchanges")
	cmd.Flags().String("read-header-timeout", DefaultReadHeaderTimeout.String(), "HTTP read header timeout")
	cmd.Flags().String("shutdown-timeout", DefaultShutdownTimeout.String(), "Graceful shutdown timeout")
	cmd.Flags().Bool("verbose", false, "Enable verbose logging")
}

// Load resolves configuration from defaults, config files, env, and flags.
func Load(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("default_model", DefaultModel)
	v.SetDefault("poe_api_key", "")
	v.SetDefault("auth_token", "")
	v.SetDefault("upstream", DefaultUpstream)
	v.SetDefault("poe_base_url", DefaultPoeBaseURL)
	v.SetDefault("openai_base_url", DefaultOpenAIBaseURL)
	v.SetDefault("max_concurrent", DefaultMaxConcurrent)
	v.SetDefault("tools_enabled", true)
	v.SetDefault("streaming_enabled", true)
	v.SetDefault("system_prompt", "")
	v.SetDefault("usage_enabled", false)
	v.SetDefault("exchange_log_limit", DefaultExchangeLogLimit)
	v.SetDefault("read_header_timeout", DefaultReadHeaderTimeout.String())
	v.SetDefault("shutdown_timeout", DefaultShutdownTimeout.String())
	v.SetDefault("verbose", false)

	if cmd != nil {
		_ = v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
		_ = v.BindPFlag("default_model", cmd.Flags().Lookup("default-model"))
		_ = v.BindPFlag("upstream", cmd.Flags().Lookup("upstream"))
		_ = v.BindPFlag("poe_base_url", cmd.Flags().Lookup("poe-base-url"))
		_ = v.BindPFlag("openai_base_url", cmd.Flags().Lookup("openai-base-url"))
		_ = v.BindPFlag("max_concurrent", cmd.Flags().Lookup("max-concurrent"))
		_ = v.BindPFlag("tools_enabled", cmd.Flags().Lookup("tools"))
		_ = v.BindPFlag("streaming_enabled", cmd.Flags().Lookup("streaming"))
		_ = v.BindPFlag("usage_enabled", cmd.Flags().Lookup("usage"))
		_ = v.BindPFlag("exchange_log_limit", cmd.Flags().Lookup("exchange-log-limit"))
		_ = v.BindPFlag("read_header_timeout", cmd.Flags().Lookup("read-header-timeout"))
		_ = v.BindPFlag("shutdown_timeout", cmd.Flags().Lookup("shutdown-timeout"))
		_ = v.BindPFlag("verbose", cmd.Flags().Lookup("verbose"))
	}

	// Unprefixed names accepted for existing Modal deployments.
	if os.Getenv(envPrefix+"_POE_API_KEY") == "" {
		for _, name := range []string{"POE_CALLER_API_KEY1", "POE_API_KEY"} {
			if key := os.Getenv(name); key != "" {
				v.Set("poe_api_key", key)
				break
			}
		}
	}
	if token := os.Getenv("MODAL_AUTH_TOKEN"); token != "" && os.Getenv(envPrefix+"_AUTH_TOKEN") == "" {
		v.Set("auth_token", token)
	}
	if port := os.Getenv("PORT"); port != "" && os.Getenv(envPrefix+"_ADDR") == "" && (cmd == nil || !cmd.Flags().Changed("addr")) {
		v.Set("addr", ":"+port)
	}

	if err := loadConfigFile(v); err != nil {
		return Config{}, err
	}

	var raw rawConfig
	decoder, _ := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "mapstructure", Result: &raw, WeaklyTypedInput: true})
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return Config{}, err
	}

	readHeaderTimeout, err := parseDuration("read_header_timeout", raw.ReadHeaderTimeout, DefaultReadHeaderTimeout)
	if err != nil {
		return Config{}, err
	}
	shutdownTimeout, err := parseDuration("shutdown_timeout", raw.ShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	upstream := strings.ToLower(strings.TrimSpace(raw.Upstream))
	switch upstream {
	case "":
		upstream = DefaultUpstream
	case UpstreamPoe, UpstreamOpenAI:
	default:
		return Config{}, fmt.Errorf("invalid upstream %q: want %s or %s", raw.Upstream, UpstreamPoe, UpstreamOpenAI)
	}

	cfg := Config{
		Addr:              raw.Addr,
		DefaultModel:      strings.TrimSpace(raw.DefaultModel),
		PoeAPIKey:         strings.TrimSpace(raw.PoeAPIKey),
		AuthToken:         strings.TrimSpace(raw.AuthToken),
		Upstream:          upstream,
		PoeBaseURL:        raw.PoeBaseURL,
		OpenAIBaseURL:     raw.OpenAIBaseURL,
		MaxConcurrent:     raw.MaxConcurrent,
		ToolsEnabled:      raw.ToolsEnabled,
		StreamingEnabled:  raw.StreamingEnabled,
		SystemPrompt:      raw.SystemPrompt,
		UsageEnabled:      raw.UsageEnabled,
		ExchangeLogLimit:  raw.ExchangeLogLimit,
		ReadHeaderTimeout: readHeaderTimeout,
		ShutdownTimeout:   shutdownTimeout,
		Verbose:           raw.Verbose,
	}

	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.PoeBaseURL == "" {
		cfg.PoeBaseURL = DefaultPoeBaseURL
	}
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = DefaultOpenAIBaseURL
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.ExchangeLogLimit <= 0 {
		cfg.ExchangeLogLimit = DefaultExchangeLogLimit
	}

	return cfg, nil
}

func parseDuration(key, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	if parsed <= 0 {
		return fallback, nil
	}
	return parsed, nil
}

func loadConfigFile(v *viper.Viper) error {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil
	}
	base := filepath.Join(configDir, appName)
	candidates := []string{
		filepath.Join(base, "config.yaml"),
		filepath.Join(base, "config.yml"),
		filepath.Join(base, "config.json"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return err
			}
			return nil
		}
	}
	return nil
}
