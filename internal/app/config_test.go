package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:           "0.0.0.0:8080",
		DatabaseURL:    "postgres://localhost/kiosk",
		OperatorPepper: "pepper",
		Cart:           CartConfig{TaxRate: "0.19", Places: 2, MaxQuantity: 999},
	}
}

func TestConfigValidate(t *testing.T) {
	for _, tt := range []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"Valid", func(*Config) {}, ""},
		{"NoDatabase", func(c *Config) { c.DatabaseURL = "" }, "database URL"},
		{"NoPepper", func(c *Config) { c.OperatorPepper = "" }, "pepper"},
		{"BadTaxRate", func(c *Config) { c.Cart.TaxRate = "abc" }, "tax rate"},
		{"NegativeTaxRate", func(c *Config) { c.Cart.TaxRate = "-0.1" }, "negative"},
		{"NoMaxQuantity", func(c *Config) { c.Cart.MaxQuantity = 0 }, "max quantity"},
		{"GatewayWithoutCallback", func(c *Config) { c.Payment.GatewayURL = "https://pay.example" }, "callback"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://platform:6379/0")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: "0.0.0.0:8080"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "redis://platform:6379/0", cfg.RedisURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)

	// Explicit settings win.
	cfg = Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit/db"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/db", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
}
