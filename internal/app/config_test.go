package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("WS_ALLOWED_ORIGINS", "app.example.com,*.example.org")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, "@every 1m", cfg.SweepCron)
	assert.Equal(t, []string{"app.example.com", "*.example.org"}, cfg.WSAllowedOrigins)
	assert.False(t, cfg.IsProduction())
}
