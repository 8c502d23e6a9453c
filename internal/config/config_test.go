package config

import (
	"bytes"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, defaultHost, cfg.Host)
	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, defaultLogLevel, cfg.LogLevel)
	assert.Equal(t, defaultMetricsAddr, cfg.MetricsAddr)
}

func TestParseOverridesFlags(t *testing.T) {
	cfg, err := Parse([]string{"--host", "127.0.0.1", "--port", "5222"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 5222, cfg.Port)
}

func TestParseInvalidPort(t *testing.T) {
	_, err := Parse([]string{"--port", "99999"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestParseHelpReturnsFlagErrHelp(t *testing.T) {
	_, err := Parse([]string{"--help"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, flag.ErrHelp)
}
