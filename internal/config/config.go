package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath        = "config.toml"
	DefaultAPIHost           = "0.0.0.0"
	DefaultAPIPort           = 8000
	DefaultEnvironment       = "development"
	DefaultVerifyToken       = "my_voice_is_my_password_verify_me"
	DefaultGraphBaseURL      = "https://graph.facebook.com"
	DefaultGraphVersion      = "v21.0"
	DefaultGraphTimeout      = 10 * time.Second
	DefaultGraphClientTTL    = time.Hour
	DefaultDataRoot          = "data"
	DefaultMediaMaxBytes     = 16 << 20
	DefaultWebhookBodyLimit  = 1 << 20
	DefaultProcessTimeout    = 60 * time.Second
	DefaultMediaTimeout      = 30 * time.Second
	DefaultDedupTTL          = 10 * time.Minute
	DefaultPublishTimeout    = 5 * time.Second
	DefaultEventsDialTimeout = 5 * time.Second
	DefaultRedialBackoff     = 5 * time.Second
	DefaultEventsExchange    = "metahook.events"
	DefaultNgrokAPIURL       = "http://127.0.0.1:4040"
	DefaultKeepAliveSchedule = "@every 5m"
	DefaultPGHost            = "127.0.0.1"
	DefaultPGPort            = 5432
	DefaultPGUser            = "postgres"
	DefaultPGDatabase        = "metahook"
	DefaultPGSSLMode         = "disable"

	EnvironmentDevelopment = "development"
	EnvironmentStaging     = "staging"
	EnvironmentProduction  = "production"
)

// Config is loaded from a TOML file and then overlaid with environment
// variables. Environment names follow the META_*/API_* convention used by the
// deployment manifests.
type Config struct {
	Log       LogConfig       `toml:"log"`
	API       APIConfig       `toml:"api"`
	Meta      MetaConfig      `toml:"meta"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Graph     GraphConfig     `toml:"graph"`
	Webhook   WebhookConfig   `toml:"webhook"`
	Media     MediaConfig     `toml:"media"`
	Events    EventsConfig    `toml:"events"`
	KeepAlive KeepAliveConfig `toml:"keepalive"`
}

type LogConfig struct {
	Level  string `toml:"level" env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `toml:"format" env:"LOG_FORMAT" validate:"omitempty,oneof=text json"`
}

type APIConfig struct {
	Host                    string `toml:"host" env:"API_HOST"`
	Port                    int    `toml:"port" env:"API_PORT" validate:"min=1,max=65535"`
	Debug                   bool   `toml:"debug" env:"API_DEBUG"`
	Environment             string `toml:"environment" env:"API_ENVIRONMENT" validate:"oneof=development staging production"`
	UseFakeSender           bool   `toml:"use_fake_sender" env:"API_USE_FAKE_SENDER"`
	BypassSubscriptionCheck bool   `toml:"bypass_subscription_check" env:"API_BYPASS_SUBSCRIPTION_CHECK"`
}

// Addr is the listen address for the HTTP server.
func (c APIConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// MetaConfig holds the default credentials. Per-owner credentials live in the
// meta_accounts table; these are only used for seeding and development fallback.
type MetaConfig struct {
	BearerTokenAccess string `toml:"bearer_token_access" env:"META_BEARER_TOKEN_ACCESS"`
	VerificationToken string `toml:"verification_token" env:"META_VERIFICATION_TOKEN"`
	PhoneNumberID     string `toml:"phone_number_id" env:"META_PHONE_NUMBER_ID"`
	VersionAPI        string `toml:"version_api" env:"META_VERSION_API"`
	PhoneNumber       string `toml:"phone_number" env:"META_PHONE_NUMBER"`
	BusinessAccountID string `toml:"business_account_id" env:"META_BUSINESS_ACCOUNT_ID"`
	AppSecret         string `toml:"app_secret" env:"META_APP_SECRET"`
}

type PostgresConfig struct {
	URL      string `toml:"url" env:"DATABASE_URL"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN returns URL when set, otherwise a keyword/value connection string.
func (c PostgresConfig) DSN() string {
	if strings.TrimSpace(c.URL) != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type GraphConfig struct {
	BaseURL   string        `toml:"base_url" env:"GRAPH_BASE_URL"`
	Timeout   time.Duration `toml:"timeout" env:"GRAPH_TIMEOUT"`
	ClientTTL time.Duration `toml:"client_ttl" env:"GRAPH_CLIENT_TTL"`
}

type WebhookConfig struct {
	BodyLimit      int64         `toml:"body_limit" validate:"min=1"`
	ProcessTimeout time.Duration `toml:"process_timeout" env:"WEBHOOK_PROCESS_TIMEOUT"`
	MediaTimeout   time.Duration `toml:"media_timeout" env:"WEBHOOK_MEDIA_TIMEOUT"`
	DedupTTL       time.Duration `toml:"dedup_ttl"`
	PublishTimeout time.Duration `toml:"publish_timeout" env:"WEBHOOK_PUBLISH_TIMEOUT"`
}

type MediaConfig struct {
	DataRoot string `toml:"data_root" env:"MEDIA_DATA_ROOT"`
	MaxBytes int64  `toml:"max_bytes" validate:"min=1"`
}

type EventsConfig struct {
	URL           string        `toml:"url" env:"EVENTS_URL"`
	Exchange      string        `toml:"exchange" env:"EVENTS_EXCHANGE"`
	DialTimeout   time.Duration `toml:"dial_timeout" env:"EVENTS_DIAL_TIMEOUT"`
	RedialBackoff time.Duration `toml:"redial_backoff" env:"EVENTS_REDIAL_BACKOFF"`
}

type KeepAliveConfig struct {
	PublicURL   string `toml:"public_url" env:"PUBLIC_URL"`
	NgrokAPIURL string `toml:"ngrok_api_url" env:"NGROK_API_URL"`
	Schedule    string `toml:"schedule" env:"KEEPALIVE_SCHEDULE"`
}

// IsDevelopment reports whether the development-only fallbacks are enabled.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.API.Environment, EnvironmentDevelopment)
}

// UseFakeSender reports whether outbound messages go to the logging sender.
// The flag is ignored outside development.
func (c Config) UseFakeSender() bool {
	return c.IsDevelopment() && c.API.UseFakeSender
}

// BypassSubscriptionCheck reports whether GET /webhook skips token comparison.
// Development only.
func (c Config) BypassSubscriptionCheck() bool {
	return c.IsDevelopment() && c.API.BypassSubscriptionCheck
}

// VerifyToken is the subscription secret echoed by Meta on GET /webhook. The
// built-in token is only used in development; Validate rejects it elsewhere.
func (c Config) VerifyToken() string {
	if c.Meta.VerificationToken != "" || !c.IsDevelopment() {
		return c.Meta.VerificationToken
	}
	return DefaultVerifyToken
}

// ErrVerifyTokenRequired is returned outside development when no verification
// token is configured or the built-in one is still in place.
var ErrVerifyTokenRequired = errors.New("meta.verification_token must be set outside development")

var validate = validator.New()

// Validate checks value ranges after defaults, file and environment are merged.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config %s: failed %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if !c.IsDevelopment() {
		token := strings.TrimSpace(c.Meta.VerificationToken)
		if token == "" || token == DefaultVerifyToken {
			return ErrVerifyTokenRequired
		}
	}
	return nil
}

// Defaults returns a Config populated with built-in defaults only.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		API: APIConfig{
			Host:        DefaultAPIHost,
			Port:        DefaultAPIPort,
			Environment: DefaultEnvironment,
		},
		Meta: MetaConfig{
			VersionAPI: DefaultGraphVersion,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Graph: GraphConfig{
			BaseURL:   DefaultGraphBaseURL,
			Timeout:   DefaultGraphTimeout,
			ClientTTL: DefaultGraphClientTTL,
		},
		Webhook: WebhookConfig{
			BodyLimit:      DefaultWebhookBodyLimit,
			ProcessTimeout: DefaultProcessTimeout,
			MediaTimeout:   DefaultMediaTimeout,
			DedupTTL:       DefaultDedupTTL,
			PublishTimeout: DefaultPublishTimeout,
		},
		Media: MediaConfig{
			DataRoot: DefaultDataRoot,
			MaxBytes: DefaultMediaMaxBytes,
		},
		Events: EventsConfig{
			Exchange:      DefaultEventsExchange,
			DialTimeout:   DefaultEventsDialTimeout,
			RedialBackoff: DefaultRedialBackoff,
		},
		KeepAlive: KeepAliveConfig{
			NgrokAPIURL: DefaultNgrokAPIURL,
			Schedule:    DefaultKeepAliveSchedule,
		},
	}
}

// Load reads path (a missing file means defaults), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
