package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Servers = []ServerConfig{
		{ID: "plc-1", EndpointURL: "opc.tcp://plc-1:4840", Enabled: true},
	}
	return cfg
}

func TestValidateRejectsEmptyServerID(t *testing.T) {
	cfg := validConfig()
	cfg.Servers[0].ID = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id must not be empty")
}

func TestValidateRejectsEmptyEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.Servers[0].EndpointURL = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint_url must not be empty")
}

func TestValidateRejectsDuplicateServerID(t *testing.T) {
	cfg := validConfig()
	cfg.Servers = append(cfg.Servers, ServerConfig{ID: "plc-1", EndpointURL: "opc.tcp://other:4840"})
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate server id")
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestEffectiveSessionTimeoutFallsBackToDefault(t *testing.T) {
	sc := ServerConfig{}
	assert.Equal(t, DefaultSessionTimeout, sc.EffectiveSessionTimeout())
}

func TestEffectiveKeepAliveIntervalHonorsOverride(t *testing.T) {
	sc := ServerConfig{KeepAliveInterval: 42}
	assert.EqualValues(t, 42, sc.EffectiveKeepAliveInterval())
}
