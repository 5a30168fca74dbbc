package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the orchestrator process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	HubSpot  HubSpotConfig
	Vapi     VapiConfig
	Classify ClassifyConfig
	Auth     AuthConfig
	DB       DBConfig
	Redis    RedisConfig
}

type AppConfig struct {
	Env  string
	Port int

	// BaseURL is the public URL this service is reachable at. It is embedded
	// in call-dispatch requests so the voice platform can deliver the
	// end-of-call report back to us.
	BaseURL string
}

type HubSpotConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string

	// AccessToken optionally seeds the token manager; it will be refreshed
	// on expiry regardless.
	AccessToken string

	// WebhookSecret guards /webhooks/hubspot. Empty disables the check
	// (local development only; Validate enforces it in production).
	WebhookSecret string

	// Status values written back to hs_lead_status. Configurable because
	// lead-status options are portal-specific.
	StatusOpenDeal    string
	StatusUnqualified string
	StatusContacted   string

	// SummaryProperty is the contact property the call summary is written to.
	SummaryProperty string
}

type VapiConfig struct {
	APIKey     string
	WorkflowID string

	// WebhookSecret guards /webhooks/vapi via the X-Vapi-Secret header.
	WebhookSecret string
}

type ClassifyConfig struct {
	// OpenAIKey activates the LLM classification strategy. Empty falls back
	// to the deterministic rule classifier.
	OpenAIKey string

	// QualifyTimingDays is the purchase-timeline threshold for the Qualified
	// outcome.
	QualifyTimingDays int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	AccessTokenTTL time.Duration
}

// DBConfig is optional: when Host is empty the process runs on in-memory
// repositories (local development).
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig is optional: when Host is empty dedup and pending-call claims
// use the in-memory implementations (local development).
type RedisConfig struct {
	Host string
	Port int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("BASE_URL")), "/")

	c.HubSpot.ClientID = strings.TrimSpace(os.Getenv("HUBSPOT_CLIENT_ID"))
	c.HubSpot.ClientSecret = os.Getenv("HUBSPOT_CLIENT_SECRET")
	c.HubSpot.RefreshToken = os.Getenv("HUBSPOT_REFRESH_TOKEN")
	c.HubSpot.AccessToken = os.Getenv("HUBSPOT_ACCESS_TOKEN")
	c.HubSpot.WebhookSecret = os.Getenv("HUBSPOT_WEBHOOK_SECRET")
	c.HubSpot.StatusOpenDeal = envDefault("HS_STATUS_OPEN_DEAL", "OPEN_DEAL")
	c.HubSpot.StatusUnqualified = envDefault("HS_STATUS_UNQUALIFIED", "UNQUALIFIED")
	c.HubSpot.StatusContacted = envDefault("HS_STATUS_CONTACTED", "CONNECTED")
	c.HubSpot.SummaryProperty = envDefault("CALL_SUMMARY_PROPERTY", "contact_summary")

	c.Vapi.APIKey = os.Getenv("VAPI_API_KEY")
	c.Vapi.WorkflowID = strings.TrimSpace(os.Getenv("VAPI_WORKFLOW_ID"))
	c.Vapi.WebhookSecret = os.Getenv("VAPI_WEBHOOK_SECRET")

	c.Classify.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	c.Classify.QualifyTimingDays = optionalInt("QUALIFY_TIMING_DAYS", 7)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.AccessTokenTTL = optionalDuration("JWT_ACCESS_TTL", 15*time.Minute)

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	if c.DB.Host != "" {
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.BaseURL == "" {
		errs = append(errs, errors.New("BASE_URL is required (webhook callback URL)"))
	}

	if c.HubSpot.ClientID == "" {
		errs = append(errs, errors.New("HUBSPOT_CLIENT_ID is required"))
	}
	if c.HubSpot.ClientSecret == "" {
		errs = append(errs, errors.New("HUBSPOT_CLIENT_SECRET is required"))
	}
	if c.HubSpot.RefreshToken == "" {
		errs = append(errs, errors.New("HUBSPOT_REFRESH_TOKEN is required"))
	}
	if c.HubSpot.StatusOpenDeal == "" || c.HubSpot.StatusUnqualified == "" || c.HubSpot.StatusContacted == "" {
		errs = append(errs, errors.New("HS_STATUS_* values must not be empty"))
	}
	if c.HubSpot.SummaryProperty == "" {
		errs = append(errs, errors.New("CALL_SUMMARY_PROPERTY must not be empty"))
	}

	if c.Vapi.APIKey == "" {
		errs = append(errs, errors.New("VAPI_API_KEY is required"))
	}
	if c.Vapi.WorkflowID == "" {
		errs = append(errs, errors.New("VAPI_WORKFLOW_ID is required"))
	}

	if c.Classify.QualifyTimingDays <= 0 {
		errs = append(errs, fmt.Errorf("QUALIFY_TIMING_DAYS must be positive, got %d", c.Classify.QualifyTimingDays))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}

	if c.IsProduction() {
		// Unauthenticated webhooks and volatile state are acceptable only in
		// local development.
		if c.Vapi.WebhookSecret == "" {
			errs = append(errs, errors.New("VAPI_WEBHOOK_SECRET is required in production"))
		}
		if c.HubSpot.WebhookSecret == "" {
			errs = append(errs, errors.New("HUBSPOT_WEBHOOK_SECRET is required in production"))
		}
		if c.DB.Host == "" {
			errs = append(errs, errors.New("DB_HOST is required in production"))
		}
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required in production"))
		}
	}

	if c.DB.Host != "" {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required when DB_HOST is set"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required when DB_HOST is set"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			}
		} else if !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}
	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// UsePostgres reports whether durable repositories should be used.
func (c Config) UsePostgres() bool { return c.DB.Host != "" }

// UseRedis reports whether the shared dedup/claim stores should be used.
func (c Config) UseRedis() bool { return c.Redis.Host != "" }

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	sslMode := c.DB.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		sslMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func optionalDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
