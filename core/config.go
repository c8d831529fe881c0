package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the fulfillment platform.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Absence of any one adapter's credentials disables that adapter without
// failing startup. A present but malformed value is a configuration error
// and callers should exit with code 2.
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithServiceName("simflow"),
//	    WithPort(8080),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// Core settings
	ServiceName string `json:"service_name" env:"SIMFLOW_SERVICE_NAME" default:"simflow"`
	Port        int    `json:"port" env:"SIMFLOW_PORT" default:"8080" validate:"gt=0,lte=65535"`
	Address     string `json:"address" env:"SIMFLOW_ADDRESS"`
	AdminToken  string `json:"-" env:"SIMFLOW_ADMIN_TOKEN"`

	// HTTP server configuration
	HTTP HTTPConfig `json:"http"`

	// Document store configuration
	Store StoreConfig `json:"store"`

	// Redis cache configuration (optional; memory fallback when unset)
	Redis RedisConfig `json:"redis"`

	// Provider cascade configuration
	Providers ProvidersConfig `json:"providers"`

	// Inquiry channel configuration
	Channels ChannelsConfig `json:"channels"`

	// Manual fulfillment notification
	Discord DiscordConfig `json:"discord"`

	// Payment webhook configuration
	Stripe StripeConfig `json:"stripe"`

	// Fulfillment pipeline configuration
	Fulfillment FulfillmentConfig `json:"fulfillment"`

	// Circuit breaker configuration
	Breaker BreakerConfig `json:"breaker"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Telemetry configuration (optional)
	Telemetry TelemetryConfig `json:"telemetry"`
}

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	ReadTimeout     time.Duration `json:"read_timeout" env:"SIMFLOW_HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"SIMFLOW_HTTP_WRITE_TIMEOUT" default:"60s"`
	IdleTimeout     time.Duration `json:"idle_timeout" env:"SIMFLOW_HTTP_IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"SIMFLOW_HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
	CORSOrigins     []string      `json:"cors_origins" env:"SIMFLOW_CORS_ORIGINS"`
}

// StoreConfig points at the PocketBase document store. When URL is empty
// the library falls back to the in-memory store, which is only suitable
// for tests and single-process development.
type StoreConfig struct {
	URL           string        `json:"url" env:"POCKETBASE_URL"`
	AdminEmail    string        `json:"admin_email" env:"POCKETBASE_ADMIN_EMAIL"`
	AdminPassword string        `json:"-" env:"POCKETBASE_ADMIN_PASSWORD"`
	StaticToken   string        `json:"-" env:"POCKETBASE_TOKEN"`
	Timeout       time.Duration `json:"timeout" env:"POCKETBASE_TIMEOUT" default:"10s"`
}

// RedisConfig configures the shared cache used for webhook replay dedup
// and product-mapping lookups.
type RedisConfig struct {
	URL       string `json:"url" env:"SIMFLOW_REDIS_URL,REDIS_URL"`
	Namespace string `json:"namespace" env:"SIMFLOW_REDIS_NAMESPACE" default:"simflow"`
}

// ProviderCredentials holds one supplier's environment-sourced secrets.
// Secret material never leaves this struct for logs.
type ProviderCredentials struct {
	APIKey     string `json:"-"`
	APISecret  string `json:"-"`
	BaseURL    string `json:"base_url"`
	MerchantID string `json:"merchant_id,omitempty"`
}

// ProvidersConfig carries the cascade priority list plus per-supplier
// credentials keyed by slug.
type ProvidersConfig struct {
	// File optionally points at a YAML priority list replacing Configs.
	File    string                         `json:"file" env:"SIMFLOW_PROVIDERS_FILE"`
	Configs []ProviderConfig               `json:"configs"`
	Creds   map[string]ProviderCredentials `json:"-"`
}

// ChannelsConfig holds inquiry channel credentials.
type ChannelsConfig struct {
	Naver    NaverConfig    `json:"naver"`
	TalkTalk TalkTalkConfig `json:"talktalk"`
	Kakao    KakaoConfig    `json:"kakao"`
	Email    EmailConfig    `json:"email"`
}

// NaverConfig configures the Naver SmartStore commerce API access.
type NaverConfig struct {
	AppID         string `json:"app_id" env:"NAVER_COMMERCE_APP_ID"`
	AppSecret     string `json:"-" env:"NAVER_COMMERCE_APP_SECRET"`
	WebhookSecret string `json:"-" env:"NAVER_COMMERCE_WEBHOOK_SECRET"`
	BaseURL       string `json:"base_url" env:"NAVER_COMMERCE_API_URL" default:"https://api.commerce.naver.com"`
}

// TalkTalkConfig configures the Naver TalkTalk partner API.
type TalkTalkConfig struct {
	ClientID     string `json:"client_id" env:"NAVER_TALKTALK_CLIENT_ID"`
	ClientSecret string `json:"-" env:"NAVER_TALKTALK_CLIENT_SECRET"`
	ChannelID    string `json:"channel_id" env:"NAVER_TALKTALK_CHANNEL_ID"`
	BaseURL      string `json:"base_url" env:"NAVER_TALKTALK_API_URL" default:"https://gw.talk.naver.com"`
}

// KakaoConfig configures the Kakao consultation channel.
type KakaoConfig struct {
	RESTKey   string `json:"-" env:"KAKAO_REST_API_KEY"`
	ChannelID string `json:"channel_id" env:"KAKAO_CHANNEL_ID"`
	BaseURL   string `json:"base_url" env:"KAKAO_API_URL" default:"https://kapi.kakao.com"`
}

// EmailConfig marks the email channel enabled when a sender port is wired.
// SMTP fields are optional; when SMTPHost is empty no sender is built and
// the email channel stays disabled unless the embedder injects one.
type EmailConfig struct {
	FromAddress  string `json:"from_address" env:"SIMFLOW_EMAIL_FROM"`
	InboxAddress string `json:"inbox_address" env:"SIMFLOW_EMAIL_INBOX"`
	SMTPHost     string `json:"smtp_host" env:"SIMFLOW_SMTP_HOST"`
	SMTPPort     int    `json:"smtp_port" env:"SIMFLOW_SMTP_PORT" default:"587"`
	SMTPUsername string `json:"-" env:"SIMFLOW_SMTP_USERNAME"`
	SMTPPassword string `json:"-" env:"SIMFLOW_SMTP_PASSWORD"`
}

// DiscordConfig configures the manual-fulfillment webhook.
type DiscordConfig struct {
	WebhookURL string        `json:"-" env:"DISCORD_WEBHOOK_URL"`
	Timeout    time.Duration `json:"timeout" env:"DISCORD_TIMEOUT" default:"10s"`
}

// StripeConfig configures payment webhook verification.
type StripeConfig struct {
	SecretKey     string `json:"-" env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `json:"-" env:"STRIPE_WEBHOOK_SECRET"`
}

// FulfillmentConfig bounds the fulfillment pipeline.
type FulfillmentConfig struct {
	// DeadlineBudget is raced against each fulfillment; derived from the
	// webhook budget (25s inside a 30s window).
	DeadlineBudget time.Duration `json:"deadline_budget" env:"SIMFLOW_FULFILL_BUDGET" default:"25s"`
	// DefaultMaxRetries applies to providers without a per-provider value.
	DefaultMaxRetries int `json:"default_max_retries" env:"SIMFLOW_FULFILL_MAX_RETRIES" default:"3"`
	// DefaultTimeout is the per-call HTTP timeout for providers without one.
	DefaultTimeout time.Duration `json:"default_timeout" env:"SIMFLOW_FULFILL_PROVIDER_TIMEOUT" default:"30s"`
	// ReconcileInterval drives the stuck-order sweep; zero disables it.
	ReconcileInterval time.Duration `json:"reconcile_interval" env:"SIMFLOW_RECONCILE_INTERVAL" default:"60s"`
	// SyncInterval drives the background inquiry sync; zero disables it.
	SyncInterval time.Duration `json:"sync_interval" env:"SIMFLOW_SYNC_INTERVAL" default:"300s"`
}

// BreakerConfig carries the circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" env:"SIMFLOW_BREAKER_FAILURES" default:"5" validate:"gt=0"`
	ResetTimeout     time.Duration `json:"reset_timeout" env:"SIMFLOW_BREAKER_RESET" default:"30s"`
	SuccessThreshold int           `json:"success_threshold" env:"SIMFLOW_BREAKER_SUCCESSES" default:"2" validate:"gt=0"`
	CacheTTL         time.Duration `json:"cache_ttl" env:"SIMFLOW_BREAKER_CACHE_TTL" default:"5s"`
	StoreRetryAfter  time.Duration `json:"store_retry_after" env:"SIMFLOW_BREAKER_STORE_RETRY" default:"30s"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" env:"SIMFLOW_LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format string `json:"format" env:"SIMFLOW_LOG_FORMAT" default:"json" validate:"oneof=json text"`
}

// TelemetryConfig contains OpenTelemetry configuration. Tracing is enabled
// automatically when an OTLP endpoint is present.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" env:"SIMFLOW_TELEMETRY_ENABLED" default:"false"`
	Endpoint    string `json:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `json:"service_name" env:"OTEL_SERVICE_NAME"`
	Insecure    bool   `json:"insecure" env:"SIMFLOW_TELEMETRY_INSECURE" default:"true"`
	Stdout      bool   `json:"stdout" env:"SIMFLOW_TELEMETRY_STDOUT" default:"false"`
}

// Option is a functional option for configuring the platform.
// Options are applied in order and can return an error.
type Option func(*Config) error

// providerSlugs is the fixed set of suppliers whose credentials are read
// from the environment as <SLUG>_API_KEY / <SLUG>_API_SECRET / <SLUG>_API_URL.
var providerSlugs = []string{"esimcard", "airalo", "mobimatter", "redteago"}

// DefaultConfig returns a configuration with the documented defaults and
// the built-in provider priority list. Priorities are higher = earlier.
func DefaultConfig() *Config {
	cfg := &Config{
		ServiceName: "simflow",
		Port:        8080,
		Address:     "0.0.0.0",
		HTTP: HTTPConfig{
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			Timeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Namespace: "simflow",
		},
		Providers: ProvidersConfig{
			Configs: DefaultProviderConfigs(),
			Creds:   make(map[string]ProviderCredentials),
		},
		Channels: ChannelsConfig{
			Naver:    NaverConfig{BaseURL: "https://api.commerce.naver.com"},
			TalkTalk: TalkTalkConfig{BaseURL: "https://gw.talk.naver.com"},
			Kakao:    KakaoConfig{BaseURL: "https://kapi.kakao.com"},
			Email:    EmailConfig{SMTPPort: 587},
		},
		Discord: DiscordConfig{
			Timeout: 10 * time.Second,
		},
		Fulfillment: FulfillmentConfig{
			DeadlineBudget:    25 * time.Second,
			DefaultMaxRetries: 3,
			DefaultTimeout:    30 * time.Second,
			ReconcileInterval: 60 * time.Second,
			SyncInterval:      300 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			SuccessThreshold: 2,
			CacheTTL:         5 * time.Second,
			StoreRetryAfter:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
	return cfg
}

// DefaultProviderConfigs returns the built-in cascade list. The document
// store's provider records override these when present.
func DefaultProviderConfigs() []ProviderConfig {
	return []ProviderConfig{
		{Slug: "esimcard", DisplayName: "eSIM Card", Priority: 100, CredentialEnv: "ESIMCARD_API_KEY", Timeout: 30 * time.Second, MaxRetries: 3, Active: true},
		{Slug: "airalo", DisplayName: "Airalo Partner", Priority: 90, CredentialEnv: "AIRALO_API_KEY", Timeout: 30 * time.Second, MaxRetries: 3, Active: true},
		{Slug: "mobimatter", DisplayName: "MobiMatter", Priority: 80, CredentialEnv: "MOBIMATTER_API_KEY", Timeout: 30 * time.Second, MaxRetries: 3, Active: true},
		{Slug: "redteago", DisplayName: "RedteaGO", Priority: 70, CredentialEnv: "REDTEAGO_API_KEY", Timeout: 30 * time.Second, MaxRetries: 3, Active: true},
	}
}

// NewConfig builds a configuration from defaults, environment variables,
// and functional options, in that priority order, then validates it.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables take precedence over defaults but are overridden
// by functional options. Returns an error only for malformed values;
// missing credentials are not errors.
func (c *Config) LoadFromEnv() error {
	// Core settings
	if v := os.Getenv("SIMFLOW_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("SIMFLOW_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: SIMFLOW_PORT=%q", ErrInvalidConfiguration, v)
		}
		c.Port = port
	}
	if v := os.Getenv("SIMFLOW_ADDRESS"); v != "" {
		c.Address = v
	}
	if v := os.Getenv("SIMFLOW_ADMIN_TOKEN"); v != "" {
		c.AdminToken = v
	}

	// HTTP settings
	if err := envDuration("SIMFLOW_HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout); err != nil {
		return err
	}
	if err := envDuration("SIMFLOW_HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout); err != nil {
		return err
	}
	if err := envDuration("SIMFLOW_HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout); err != nil {
		return err
	}
	if v := os.Getenv("SIMFLOW_CORS_ORIGINS"); v != "" {
		c.HTTP.CORSOrigins = parseStringList(v)
	}

	// Document store
	if v := os.Getenv("POCKETBASE_URL"); v != "" {
		c.Store.URL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("POCKETBASE_ADMIN_EMAIL"); v != "" {
		c.Store.AdminEmail = v
	}
	if v := os.Getenv("POCKETBASE_ADMIN_PASSWORD"); v != "" {
		c.Store.AdminPassword = v
	}
	if v := os.Getenv("POCKETBASE_TOKEN"); v != "" {
		c.Store.StaticToken = v
	}
	if err := envDuration("POCKETBASE_TIMEOUT", &c.Store.Timeout); err != nil {
		return err
	}

	// Redis
	if v := os.Getenv("SIMFLOW_REDIS_URL"); v != "" {
		c.Redis.URL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("SIMFLOW_REDIS_NAMESPACE"); v != "" {
		c.Redis.Namespace = v
	}

	// Provider credentials: <SLUG>_API_KEY / <SLUG>_API_SECRET / <SLUG>_API_URL
	if c.Providers.Creds == nil {
		c.Providers.Creds = make(map[string]ProviderCredentials)
	}
	for _, slug := range providerSlugs {
		prefix := strings.ToUpper(slug)
		creds := ProviderCredentials{
			APIKey:    os.Getenv(prefix + "_API_KEY"),
			APISecret: os.Getenv(prefix + "_API_SECRET"),
			BaseURL:   strings.TrimRight(os.Getenv(prefix+"_API_URL"), "/"),
		}
		if slug == "mobimatter" {
			creds.MerchantID = os.Getenv("MOBIMATTER_MERCHANT_ID")
		}
		c.Providers.Creds[slug] = creds
	}
	if v := os.Getenv("SIMFLOW_PROVIDERS_FILE"); v != "" {
		c.Providers.File = v
	}
	if c.Providers.File != "" {
		configs, err := LoadProvidersFile(c.Providers.File)
		if err != nil {
			return err
		}
		c.Providers.Configs = configs
	}

	// Channels
	if v := os.Getenv("NAVER_COMMERCE_APP_ID"); v != "" {
		c.Channels.Naver.AppID = v
	}
	if v := os.Getenv("NAVER_COMMERCE_APP_SECRET"); v != "" {
		c.Channels.Naver.AppSecret = v
	}
	if v := os.Getenv("NAVER_COMMERCE_WEBHOOK_SECRET"); v != "" {
		c.Channels.Naver.WebhookSecret = v
	}
	if v := os.Getenv("NAVER_COMMERCE_API_URL"); v != "" {
		c.Channels.Naver.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("NAVER_TALKTALK_CLIENT_ID"); v != "" {
		c.Channels.TalkTalk.ClientID = v
	}
	if v := os.Getenv("NAVER_TALKTALK_CLIENT_SECRET"); v != "" {
		c.Channels.TalkTalk.ClientSecret = v
	}
	if v := os.Getenv("NAVER_TALKTALK_CHANNEL_ID"); v != "" {
		c.Channels.TalkTalk.ChannelID = v
	}
	if v := os.Getenv("NAVER_TALKTALK_API_URL"); v != "" {
		c.Channels.TalkTalk.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("KAKAO_REST_API_KEY"); v != "" {
		c.Channels.Kakao.RESTKey = v
	}
	if v := os.Getenv("KAKAO_CHANNEL_ID"); v != "" {
		c.Channels.Kakao.ChannelID = v
	}
	if v := os.Getenv("KAKAO_API_URL"); v != "" {
		c.Channels.Kakao.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("SIMFLOW_EMAIL_FROM"); v != "" {
		c.Channels.Email.FromAddress = v
	}
	if v := os.Getenv("SIMFLOW_EMAIL_INBOX"); v != "" {
		c.Channels.Email.InboxAddress = v
	}
	if v := os.Getenv("SIMFLOW_SMTP_HOST"); v != "" {
		c.Channels.Email.SMTPHost = v
	}
	if v := os.Getenv("SIMFLOW_SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: SIMFLOW_SMTP_PORT=%q", ErrInvalidConfiguration, v)
		}
		c.Channels.Email.SMTPPort = port
	}
	if v := os.Getenv("SIMFLOW_SMTP_USERNAME"); v != "" {
		c.Channels.Email.SMTPUsername = v
	}
	if v := os.Getenv("SIMFLOW_SMTP_PASSWORD"); v != "" {
		c.Channels.Email.SMTPPassword = v
	}

	// Discord
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		c.Discord.WebhookURL = v
	}
	if err := envDuration("DISCORD_TIMEOUT", &c.Discord.Timeout); err != nil {
		return err
	}

	// Stripe
	if v := os.Getenv("STRIPE_SECRET_KEY"); v != "" {
		c.Stripe.SecretKey = v
	}
	if v := os.Getenv("STRIPE_WEBHOOK_SECRET"); v != "" {
		c.Stripe.WebhookSecret = v
	}

	// Fulfillment
	if err := envDuration("SIMFLOW_FULFILL_BUDGET", &c.Fulfillment.DeadlineBudget); err != nil {
		return err
	}
	if v := os.Getenv("SIMFLOW_FULFILL_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: SIMFLOW_FULFILL_MAX_RETRIES=%q", ErrInvalidConfiguration, v)
		}
		c.Fulfillment.DefaultMaxRetries = n
	}
	if err := envDuration("SIMFLOW_FULFILL_PROVIDER_TIMEOUT", &c.Fulfillment.DefaultTimeout); err != nil {
		return err
	}
	if err := envDuration("SIMFLOW_RECONCILE_INTERVAL", &c.Fulfillment.ReconcileInterval); err != nil {
		return err
	}
	if err := envDuration("SIMFLOW_SYNC_INTERVAL", &c.Fulfillment.SyncInterval); err != nil {
		return err
	}

	// Breaker
	if v := os.Getenv("SIMFLOW_BREAKER_FAILURES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: SIMFLOW_BREAKER_FAILURES=%q", ErrInvalidConfiguration, v)
		}
		c.Breaker.FailureThreshold = n
	}
	if err := envDuration("SIMFLOW_BREAKER_RESET", &c.Breaker.ResetTimeout); err != nil {
		return err
	}
	if v := os.Getenv("SIMFLOW_BREAKER_SUCCESSES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: SIMFLOW_BREAKER_SUCCESSES=%q", ErrInvalidConfiguration, v)
		}
		c.Breaker.SuccessThreshold = n
	}

	// Logging
	if v := os.Getenv("SIMFLOW_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("SIMFLOW_LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}

	// Telemetry
	if v := os.Getenv("SIMFLOW_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	} else if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = c.ServiceName
	}
	if v := os.Getenv("SIMFLOW_TELEMETRY_STDOUT"); v != "" {
		c.Telemetry.Stdout = parseBool(v)
	}

	return nil
}

// UnmarshalYAML decodes a provider entry, accepting Go duration strings
// ("20s") for the timeout field. A zero or absent max_retries means the
// platform default applies.
func (p *ProviderConfig) UnmarshalYAML(value *yaml.Node) error {
	var aux struct {
		Slug          string `yaml:"slug"`
		DisplayName   string `yaml:"display_name"`
		Priority      int    `yaml:"priority"`
		BaseURL       string `yaml:"base_url"`
		CredentialEnv string `yaml:"credential_env"`
		Timeout       string `yaml:"timeout"`
		MaxRetries    int    `yaml:"max_retries"`
		Active        bool   `yaml:"active"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	p.Slug = aux.Slug
	p.DisplayName = aux.DisplayName
	p.Priority = aux.Priority
	p.BaseURL = aux.BaseURL
	p.CredentialEnv = aux.CredentialEnv
	p.MaxRetries = aux.MaxRetries
	p.Active = aux.Active
	if aux.Timeout != "" {
		d, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("provider %s timeout %q: %w", aux.Slug, aux.Timeout, err)
		}
		p.Timeout = d
	}
	return nil
}

// LoadProvidersFile reads a YAML provider priority list.
func LoadProvidersFile(path string) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: providers file %s: %v", ErrInvalidConfiguration, path, err)
	}
	var doc struct {
		Providers []ProviderConfig `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: providers file %s: %v", ErrInvalidConfiguration, path, err)
	}
	if len(doc.Providers) == 0 {
		return nil, fmt.Errorf("%w: providers file %s lists no providers", ErrInvalidConfiguration, path)
	}
	return doc.Providers, nil
}

// Validate checks structural constraints. Missing credentials are fine;
// contradictory or out-of-range values are not.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	seen := make(map[string]bool, len(c.Providers.Configs))
	for _, pc := range c.Providers.Configs {
		if pc.Slug == "" {
			return fmt.Errorf("%w: provider config with empty slug", ErrInvalidConfiguration)
		}
		if seen[pc.Slug] {
			return fmt.Errorf("%w: duplicate provider slug %q", ErrInvalidConfiguration, pc.Slug)
		}
		seen[pc.Slug] = true
	}
	return nil
}

// Functional options

// WithServiceName sets the service name used in logs and telemetry.
func WithServiceName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("service name cannot be empty")
		}
		c.ServiceName = name
		return nil
	}
}

// WithPort sets the HTTP listen port.
func WithPort(port int) Option {
	return func(c *Config) error {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid port: %d", port)
		}
		c.Port = port
		return nil
	}
}

// WithProviders replaces the cascade priority list.
func WithProviders(configs []ProviderConfig) Option {
	return func(c *Config) error {
		if len(configs) == 0 {
			return fmt.Errorf("provider list cannot be empty")
		}
		c.Providers.Configs = configs
		return nil
	}
}

// WithDeadlineBudget sets the fulfillment deadline budget.
func WithDeadlineBudget(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("deadline budget must be positive")
		}
		c.Fulfillment.DeadlineBudget = d
		return nil
	}
}

// WithAdminToken sets the bearer token guarding /admin routes.
func WithAdminToken(token string) Option {
	return func(c *Config) error {
		c.AdminToken = token
		return nil
	}
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q", ErrInvalidConfiguration, key, v)
	}
	*dst = d
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

func parseStringList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
