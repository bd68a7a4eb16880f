package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pay/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"APP_ENV":                 "development",
		"REDIS_URL":               "redis://localhost:6379/0",
		"RAZORPAY_KEY_ID":         "",
		"RAZORPAY_KEY_SECRET":     "",
		"RAZORPAY_WEBHOOK_SECRET": "",
		"PAYU_MERCHANT_KEY":       "",
		"PAYU_MERCHANT_SALT":      "",
		"PAYU_MERCHANT_ID":        "",
		"PAYU_AUTH_HEADER":        "",
		"PUBLIC_BASE_URL":         "",
		"ADMIN_API_TOKEN":         "",
		"GATEWAY_TIMEOUT":         "",
	}
}

func TestLoadDefaultsOutsideProduction(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, cfg.GatewayTimeout)
	require.Equal(t, 3, cfg.GatewayMaxAttempts)
	require.False(t, cfg.Razorpay.Configured())
	require.False(t, cfg.PayU.Configured())
	require.Equal(t, ":8080", cfg.HTTPAddr())
}

func TestLoadRequiresGatewaySecretsInProduction(t *testing.T) {
	env := baseEnv()
	env["APP_ENV"] = "production"
	env["RAZORPAY_KEY_ID"] = "rzp_live"

	_, err := config.LoadForTests(env)
	var cfgErr *config.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	require.Contains(t, cfgErr.Missing, "RAZORPAY_KEY_SECRET")
	require.Contains(t, cfgErr.Missing, "RAZORPAY_WEBHOOK_SECRET")
	require.Contains(t, cfgErr.Missing, "PAYU_MERCHANT_SALT")
	require.NotContains(t, cfgErr.Missing, "RAZORPAY_KEY_ID")
}

func TestLoadRequiresPayUMerchantAPIInProduction(t *testing.T) {
	env := baseEnv()
	env["APP_ENV"] = "production"
	env["PAYU_MERCHANT_KEY"] = "key"
	env["PAYU_MERCHANT_SALT"] = "salt"

	_, err := config.LoadForTests(env)
	var cfgErr *config.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	require.Contains(t, cfgErr.Missing, "PAYU_MERCHANT_ID")
	require.Contains(t, cfgErr.Missing, "PAYU_AUTH_HEADER")
	require.NotContains(t, cfgErr.Missing, "PAYU_MERCHANT_KEY")
}

func TestLoadRequiresRedis(t *testing.T) {
	env := baseEnv()
	env["REDIS_URL"] = ""

	_, err := config.LoadForTests(env)
	require.ErrorContains(t, err, "REDIS_URL")
}

func TestLoadTrimsBaseURLs(t *testing.T) {
	env := baseEnv()
	env["PUBLIC_BASE_URL"] = "https://shop.example.com/"
	env["GATEWAY_TIMEOUT"] = "3s"

	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, "https://shop.example.com", cfg.PublicBaseURL)
	require.Equal(t, 3*time.Second, cfg.GatewayTimeout)
}
