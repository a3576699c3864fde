package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-fl/lattice/pkg/config"
)

func TestLoadServerConfig_DefaultsApplyWhenUnset(t *testing.T) {
	cfg, err := config.LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8443", cfg.BindAddr)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.False(t, cfg.Simulation)
}

func TestLoadServerConfig_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("LATTICE_BIND_ADDR", "0.0.0.0:9443")
	t.Setenv("LATTICE_SIMULATION", "true")
	t.Setenv("LATTICE_LIVENESS_TIMEOUT", "45s")

	cfg, err := config.LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9443", cfg.BindAddr)
	assert.True(t, cfg.Simulation)
	assert.Equal(t, 45*time.Second, cfg.LivenessTimeout)
}

func TestLoadWorkerConfig_RequiredFieldsMustBeSet(t *testing.T) {
	_, err := config.LoadWorkerConfig()
	assert.Error(t, err)
}

func TestLoadWorkerConfig_ParsesAllowDenyLists(t *testing.T) {
	t.Setenv("LATTICE_WORKER_NAME", "client-1")
	t.Setenv("LATTICE_SERVER_URL", "https://server:8443")
	t.Setenv("LATTICE_WORKER_USERNAME", "client-1")
	t.Setenv("LATTICE_WORKER_PASSWORD", "s3cret")
	t.Setenv("LATTICE_ALLOW", "Train,Evaluate")
	t.Setenv("LATTICE_DENY", "Shutdown")

	cfg, err := config.LoadWorkerConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"Train", "Evaluate"}, cfg.Allow)
	assert.Equal(t, []string{"Shutdown"}, cfg.Deny)
}
