package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.GatewayHTTPAddr)
	assert.Equal(t, 5, c.BreakerFailureThreshold)
	assert.Equal(t, 30*time.Second, c.BreakerOpenTimeout)
	assert.Equal(t, 100*time.Millisecond, c.RetryInitialInterval)
	assert.Equal(t, "gateway.exchange", c.GatewayExchange)
	assert.Empty(t, c.TrustedProxies)
}

func TestLoadTrustedProxies(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("GATEWAY_TRUSTED_PROXIES", "10.0.0.0/8,192.168.1.10")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.10"}, c.TrustedProxies)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "restored-after-test")
	require.NoError(t, os.Unsetenv("JWT_SECRET"))
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadAlertsBindings(t *testing.T) {
	t.Setenv("ALERTS_DB_DSN", "file::memory:")
	t.Setenv("ALERTS_BINDINGS", "circuit.open,circuit.closed")

	c, err := LoadAlerts()
	require.NoError(t, err)
	assert.Equal(t, []string{"circuit.open", "circuit.closed"}, c.Bindings)
	assert.Equal(t, "gateway.alerts.q", c.Queue)
	assert.Equal(t, "postgres", c.DBDriver)
}
