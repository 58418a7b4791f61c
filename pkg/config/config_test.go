package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	c, err := ClientFrom(v)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000", c.APIURL)
	assert.Equal(t, 15*time.Second, c.Timeouts.Read)
	assert.Equal(t, 10*time.Second, c.Timeouts.Write)
	assert.Equal(t, 15*time.Second, c.Timeouts.Import)
	assert.Equal(t, 8*time.Second, c.Timeouts.Metadata)
	assert.Equal(t, 2*time.Second, c.ImportClearDelay)
	assert.Equal(t, 6*time.Hour, c.AniListCacheTTL)
	assert.NotContains(t, c.TokenPath, "~")
}

func TestServerTTLHonoured(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("jwt_ttl_hours", 3)
	v.Set("api_url", "http://example.test/")

	s, err := ServerFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Hour, s.JWTTTL)
	assert.Equal(t, ":5000", s.ListenAddr)
	assert.Equal(t, 5, s.ProgressEvery)
	assert.True(t, s.DevSecret())

	c, err := ClientFrom(v)
	require.NoError(t, err)
	assert.Equal(t, "http://example.test", c.APIURL)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OTAKUSHELF_LISTEN_ADDR", ":6000")
	t.Setenv("OTAKUSHELF_TIMEOUTS_READ", "3s")
	t.Setenv("OTAKUSHELF_CONFIG_PATH", t.TempDir())

	v, err := New()
	require.NoError(t, err)

	s, err := ServerFrom(v)
	require.NoError(t, err)
	assert.Equal(t, ":6000", s.ListenAddr)

	c, err := ClientFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, c.Timeouts.Read)
}

func TestEmptySecretRejected(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("jwt_secret", "")

	_, err := ServerFrom(v)
	require.Error(t, err)
}
