package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvPrefersLoadedFile(t *testing.T) {
	t.Setenv("PAYPROXY_TEST_KEY", "from-os")
	Env = map[string]string{"PAYPROXY_TEST_KEY": "from-file"}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, "from-file", GetEnv("PAYPROXY_TEST_KEY", "default"))
}

func TestGetEnvFallsBack(t *testing.T) {
	Env = nil
	t.Setenv("PAYPROXY_TEST_KEY", "from-os")

	assert.Equal(t, "from-os", GetEnv("PAYPROXY_TEST_KEY", "default"))
	assert.Equal(t, "default", GetEnv("PAYPROXY_TEST_MISSING", "default"))
}

func TestIsDev(t *testing.T) {
	Env = map[string]string{"APP_ENV": "dev"}
	t.Cleanup(func() { Env = nil })
	assert.True(t, IsDev())

	Env = map[string]string{"APP_ENV": "prod"}
	assert.False(t, IsDev())
}
