package app

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the daemon configuration, read from the environment and an
// optional .env file. Environment variables win over .env.
type Config struct {
	Env       string `mapstructure:"ENV"`        // dev, staging, prod (default: dev)
	LogLevel  string `mapstructure:"LOG_LEVEL"`  // debug, info, warn, error (default: info)
	LogFormat string `mapstructure:"LOG_FORMAT"` // json, text (default: json)
	Port      int    `mapstructure:"PORT"`       // HTTP port (default: 8080)

	ShutdownGracePeriod time.Duration `mapstructure:"SHUTDOWN_GRACE_PERIOD"`

	AppName       string `mapstructure:"SESSION_APP_NAME"`
	APIDomain     string `mapstructure:"SESSION_API_DOMAIN"`     // Required
	WebsiteDomain string `mapstructure:"SESSION_WEBSITE_DOMAIN"` // Defaults to the API domain
	APIBasePath   string `mapstructure:"SESSION_API_BASE_PATH"`

	// CoreHosts is a comma-separated list of authority base URLs.
	CoreHosts  string `mapstructure:"SESSION_CORE_HOSTS"`
	CoreAPIKey string `mapstructure:"SESSION_CORE_API_KEY"`

	CookieDomain   string `mapstructure:"SESSION_COOKIE_DOMAIN"`
	CookieSameSite string `mapstructure:"SESSION_COOKIE_SAME_SITE"`
	AntiCSRF       string `mapstructure:"SESSION_ANTI_CSRF"`

	CheckDatabase       bool          `mapstructure:"SESSION_CHECK_DATABASE"`
	UseStaticSigningKey bool          `mapstructure:"SESSION_USE_STATIC_SIGNING_KEY"`
	JWKSCooldown        time.Duration `mapstructure:"SESSION_JWKS_COOLDOWN"`
	JWKSMaxAge          time.Duration `mapstructure:"SESSION_JWKS_MAX_AGE"`

	// IssueToken enables POST /v1/sessions for trusted backends. Requests
	// must carry it in X-Issue-Token. Empty disables the route.
	IssueToken string `mapstructure:"SESSION_ISSUE_TOKEN"`
}

// LoadConfig reads .env (if present) and the environment into a Config.
// A missing .env is ignored.
func LoadConfig() (Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("PORT", 8080)
	v.SetDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second)
	v.SetDefault("SESSION_APP_NAME", "sessiond")
	v.SetDefault("SESSION_API_DOMAIN", "")
	v.SetDefault("SESSION_WEBSITE_DOMAIN", "")
	v.SetDefault("SESSION_API_BASE_PATH", "/auth")
	v.SetDefault("SESSION_CORE_HOSTS", "")
	v.SetDefault("SESSION_CORE_API_KEY", "")
	v.SetDefault("SESSION_COOKIE_DOMAIN", "")
	v.SetDefault("SESSION_COOKIE_SAME_SITE", "")
	v.SetDefault("SESSION_ANTI_CSRF", "")
	v.SetDefault("SESSION_CHECK_DATABASE", false)
	v.SetDefault("SESSION_USE_STATIC_SIGNING_KEY", false)
	v.SetDefault("SESSION_JWKS_COOLDOWN", 500*time.Millisecond)
	v.SetDefault("SESSION_JWKS_MAX_AGE", time.Minute)
	v.SetDefault("SESSION_ISSUE_TOKEN", "")
}

// Validate rejects configurations the daemon cannot start with. Session
// settings are checked again, in full, when the recipe is built.
func (c Config) Validate() error {
	if c.APIDomain == "" {
		return errors.New("config: SESSION_API_DOMAIN must be set")
	}
	if len(c.CoreHostList()) == 0 {
		return errors.New("config: SESSION_CORE_HOSTS must be set")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("config: PORT must be between 1 and 65535")
	}
	if c.IssueToken != "" && len(c.IssueToken) < 16 {
		return errors.New("config: SESSION_ISSUE_TOKEN must be at least 16 characters")
	}
	return nil
}

// CoreHostList splits CoreHosts on commas, dropping blanks.
func (c Config) CoreHostList() []string {
	if c.CoreHosts == "" {
		return nil
	}
	parts := strings.Split(c.CoreHosts, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
