package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, "0.0.0.0:5000", cfg.Addr())
	assert.Equal(t, "models/yolov5s.onnx", cfg.ModelPath)
	assert.Equal(t, 640, cfg.InputSize)
	assert.Equal(t, float32(0.25), cfg.ConfThreshold)
	assert.Equal(t, 0.45, cfg.IouThreshold)
	assert.Equal(t, 4, cfg.PoolSize)
	assert.Equal(t, 5*time.Second, cfg.AcquireTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Debug)
	assert.Empty(t, cfg.MQTTBroker)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("INPUT_SIZE", "320")
	t.Setenv("CONF_THRESHOLD", "0.5")
	t.Setenv("ACQUIRE_TIMEOUT", "250ms")
	t.Setenv("DEBUG", "true")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("MODEL_URL", "https://example.com/yolov5s.onnx")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 320, cfg.InputSize)
	assert.Equal(t, float32(0.5), cfg.ConfThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.AcquireTimeout)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://example.com/yolov5s.onnx", cfg.ModelURL)
}

func TestFromEnvInvalid(t *testing.T) {
	cases := map[string]string{
		"INPUT_SIZE":      "abc",
		"ACQUIRE_TIMEOUT": "soon",
		"CONF_THRESHOLD":  "1.5",
		"POOL_SIZE":       "0",
		"PORT":            "http",
		"LOG_LEVEL":       "loud",
		"MODEL_URL":       "not a url",
	}

	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("POOL_SIZE=2\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("POOL_SIZE") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.PoolSize)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}
