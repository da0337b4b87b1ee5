package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds the complete server configuration, loadable from environment
// variables (KIOSK_ prefix), flags, or YAML config files.
type Config struct {
	Addr           string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL    string `usage:"PostgreSQL connection URL (KIOSK_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL       string `usage:"Redis URL for the operator cache and shared rate limits (optional)" flag:"redis-url"`
	OperatorPepper string `usage:"HMAC pepper for operator code hashing (KIOSK_OPERATOR_PEPPER)" flag:"operator-pepper"`
	Cart           CartConfig
	Payment        PaymentConfig
	Session        SessionConfig
	Broadcast      BroadcastConfig
	Export         ExportConfig
	RateLimit      RateLimitConfig
	CORS           CORSConfig
	Graceful       GracefulConfig

	// FilterRefresh is how often the operator pre-filter is rebuilt.
	FilterRefresh time.Duration `default:"1m" usage:"Operator filter refresh interval" flag:"filter-refresh"`
}

// CartConfig controls pricing.
type CartConfig struct {
	TaxRate string `default:"0.19" usage:"Tax rate applied to the discounted subtotal" flag:"tax-rate"`
	Places  int32  `default:"2" usage:"Decimal places of the currency minor unit"`

	MaxQuantity int `default:"999" usage:"Maximum units on a single cart line" flag:"max-quantity"`
}

// PaymentConfig controls the payment gateway and retry policy.
type PaymentConfig struct {
	MaxRetries     int           `default:"3" usage:"Failed attempts before a transaction is abandoned" flag:"max-retries"`
	Timeout        time.Duration `default:"60s" usage:"Time a charge attempt may stay unanswered"`
	GatewayURL     string        `usage:"Payment provider base URL; empty uses the in-process simulator" flag:"gateway-url"`
	CallbackURL    string        `usage:"Public URL the provider posts verdicts to" flag:"callback-url"`
	CallbackSecret string        `usage:"Shared secret authenticating verdict callbacks" flag:"callback-secret"`
	SimulatorDelay time.Duration `default:"2s" usage:"Verdict delay of the simulator" flag:"simulator-delay"`
}

// SessionConfig controls the session engine.
type SessionConfig struct {
	Retention     time.Duration `default:"10m" usage:"How long closed sessions stay addressable"`
	QueueSize     int           `default:"64" usage:"Pending commands per session" flag:"queue-size"`
	SaveTimeout   time.Duration `default:"5s" usage:"Bound on a single session write" flag:"save-timeout"`
	MaxActive     int           `default:"5000" usage:"Active sessions before readiness fails" flag:"max-active"`
	MinConfidence float64       `default:"0.8" usage:"Minimum facial match confidence" flag:"min-confidence"`
}

// BroadcastConfig controls event fan-out.
type BroadcastConfig struct {
	Buffer    int           `default:"1024" usage:"Undelivered events per subscriber before it is dropped"`
	Heartbeat time.Duration `default:"15s" usage:"Idle keep-alive interval of event streams"`
}

// ExportConfig controls the optional Kafka event export.
type ExportConfig struct {
	Brokers []string      `usage:"Kafka seed brokers; empty disables export"`
	Topic   string        `default:"kiosk.session-events" usage:"Kafka topic"`
	Linger  time.Duration `default:"5ms" usage:"Producer linger"`
}

// RateLimitConfig guards the operator-code routes.
type RateLimitConfig struct {
	Max    int           `default:"20" usage:"Operator-code requests per window per client"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KIOSK",
		Files:     []string{"config.yaml", "/etc/kiosk/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set KIOSK_DATABASE_URL or DATABASE_URL")
	}
	if c.OperatorPepper == "" {
		return errors.New("operator pepper is required: set KIOSK_OPERATOR_PEPPER")
	}
	if _, err := c.Cart.taxRate(); err != nil {
		return err
	}
	if c.Cart.MaxQuantity <= 0 {
		return errors.Errorf("max quantity %d must be positive", c.Cart.MaxQuantity)
	}
	if c.Payment.GatewayURL != "" && c.Payment.CallbackURL == "" {
		return errors.New("callback URL is required with a payment gateway URL")
	}
	return nil
}

func (c CartConfig) taxRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse tax rate %q", c.TaxRate)
	}
	if rate.IsNegative() {
		return decimal.Decimal{}, errors.Errorf("tax rate %s is negative", rate)
	}
	return rate, nil
}

// applyPlatformDefaults maps platform-provided variables (DATABASE_URL,
// REDIS_URL, PORT) onto the KIOSK_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
