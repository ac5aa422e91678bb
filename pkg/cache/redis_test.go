package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hospital-admin-api/pkg/config"
)

func TestOptions(t *testing.T) {
	opts := Options(config.RedisConfig{Host: "cache", Port: 6380, DB: 2, Password: "pw"})
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, "pw", opts.Password)
}

func TestNewRedisDisabled(t *testing.T) {
	client, err := NewRedis(config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, client)
}
