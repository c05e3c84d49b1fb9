package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, 2, exitCodeFor(errConfig))
	assert.Equal(t, 2, exitCodeFor(fmt.Errorf("%w: bad", errConfig)))
	assert.Equal(t, 3, exitCodeFor(errUnsupportedRuntime))
	assert.Equal(t, 1, exitCodeFor(errors.New("something else")))
}

func TestLoadConfigAppliesFlagOverridesOntoDefaults(t *testing.T) {
	t.Setenv("SALTYRTC_SAFETY_OFF", "yes-and-i-know-what-im-doing")
	cfg, err := loadConfig(&serveFlags{host: "127.0.0.1", port: 9443})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9443, cfg.Port)
}

func TestLoadConfigRejectsMissingTLSAndKeysWithoutSafetyOverride(t *testing.T) {
	os.Unsetenv("SALTYRTC_SAFETY_OFF")
	_, err := loadConfig(&serveFlags{})
	assert.ErrorIs(t, err, errConfig)
}

func TestLoadConfigRejectsInvalidConfigFile(t *testing.T) {
	t.Setenv("SALTYRTC_SAFETY_OFF", "yes-and-i-know-what-im-doing")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: not-a-number\n"), 0o600))

	_, err := loadConfig(&serveFlags{configPath: path})
	assert.ErrorIs(t, err, errConfig)
}

func TestLoadConfigRejectsInvalidatedDefaults(t *testing.T) {
	t.Setenv("SALTYRTC_SAFETY_OFF", "yes-and-i-know-what-im-doing")
	_, err := loadConfig(&serveFlags{port: -1})
	assert.ErrorIs(t, err, errConfig)
}
