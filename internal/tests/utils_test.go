package tests

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_GetDbConfigFromEnv(t *testing.T) {
	previous := map[string]string{}
	ReplaceEnv(map[string]string{
		"HISTORIC_CACHE_DATABASE_HOST":     "db.internal",
		"HISTORIC_CACHE_DATABASE_PORT":     "6543",
		"HISTORIC_CACHE_DATABASE_USER":     "indexer",
		"HISTORIC_CACHE_DATABASE_PASSWORD": "secret",
	}, &previous)
	t.Cleanup(func() { RestoreEnv(previous) })

	t.Run("Should read connection settings from the environment", func(t *testing.T) {
		cfg := GetDbConfigFromEnv()
		assert.Equal(t, "db.internal", cfg.Host)
		assert.Equal(t, 6543, cfg.Port)
		assert.Equal(t, "indexer", cfg.User)
		assert.Equal(t, "secret", cfg.Password)
		assert.Equal(t, "disable", cfg.SSLMode)
	})
	t.Run("Should fall back to the default port when unparsable", func(t *testing.T) {
		prev := map[string]string{}
		ReplaceEnv(map[string]string{"HISTORIC_CACHE_DATABASE_PORT": "not-a-port"}, &prev)
		defer RestoreEnv(prev)

		assert.Equal(t, 5432, GetDbConfigFromEnv().Port)
	})
}

func Test_GenerateTestDbName(t *testing.T) {
	a, err := GenerateTestDbName()
	assert.Nil(t, err)
	b, err := GenerateTestDbName()
	assert.Nil(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "test_"))
	assert.NotContains(t, a, "-")
}
