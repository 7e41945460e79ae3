package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makinacorpus/apubsub-sub000/pkg/config"
)

type brokerConfig struct {
	Engine     string        `env:"TEST_CFG_ENGINE" envDefault:"memory"`
	QueueMax   int           `env:"TEST_CFG_QUEUE_MAX" envDefault:"0"`
	GCInterval time.Duration `env:"TEST_CFG_GC_INTERVAL" envDefault:"5m"`
}

type cachedConfig struct {
	Value string `env:"TEST_CFG_CACHED" envDefault:"default"`
}

type requiredConfig struct {
	URL string `env:"TEST_CFG_REQUIRED_URL,required"`
}

type connConfig struct {
	URL string `env:"URL" envDefault:"none"`
}

type fileConfig struct {
	Engine string `env:"TEST_CFG_FILE_ENGINE"`
	Size   int    `env:"TEST_CFG_FILE_SIZE"`
	Kept   string `env:"TEST_CFG_FILE_KEPT"`
}

func TestLoad(t *testing.T) {
	t.Run("values and defaults", func(t *testing.T) {
		config.ResetCache()
		t.Setenv("TEST_CFG_ENGINE", "redis")
		t.Setenv("TEST_CFG_QUEUE_MAX", "100")

		var cfg brokerConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "redis", cfg.Engine)
		assert.Equal(t, 100, cfg.QueueMax)
		assert.Equal(t, 5*time.Minute, cfg.GCInterval)
	})

	t.Run("parsed once per type", func(t *testing.T) {
		config.ResetCache()
		t.Setenv("TEST_CFG_CACHED", "first")
		var first cachedConfig
		require.NoError(t, config.Load(&first))

		t.Setenv("TEST_CFG_CACHED", "second")
		var second cachedConfig
		require.NoError(t, config.Load(&second))
		assert.Equal(t, "first", second.Value)

		require.NoError(t, config.ForceReloadConfig(&second))
		assert.Equal(t, "second", second.Value)
	})

	t.Run("missing required value", func(t *testing.T) {
		config.ResetCache()
		os.Unsetenv("TEST_CFG_REQUIRED_URL")

		var cfg requiredConfig
		err := config.Load(&cfg)
		assert.ErrorIs(t, err, config.ErrParsingConfig)

		t.Setenv("TEST_CFG_REQUIRED_URL", "redis://localhost")
		require.NoError(t, config.Load(&cfg), "a failed parse is not cached")
		assert.Equal(t, "redis://localhost", cfg.URL)
	})

	t.Run("nil pointer", func(t *testing.T) {
		var cfg *brokerConfig
		assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
	})

	t.Run("must load panics", func(t *testing.T) {
		config.ResetCache()
		os.Unsetenv("TEST_CFG_REQUIRED_URL")
		var cfg requiredConfig
		assert.Panics(t, func() { config.MustLoad(&cfg) })
	})
}

func TestLoadWithPrefix(t *testing.T) {
	config.ResetCache()
	t.Setenv("SOURCE_URL", "postgres://source")
	t.Setenv("TARGET_URL", "postgres://target")

	var source, target, bare connConfig
	require.NoError(t, config.LoadWithPrefix(&source, "SOURCE_"))
	require.NoError(t, config.LoadWithPrefix(&target, "TARGET_"))
	require.NoError(t, config.Load(&bare))

	assert.Equal(t, "postgres://source", source.URL)
	assert.Equal(t, "postgres://target", target.URL)
	assert.Equal(t, "none", bare.URL)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.env")
	override := filepath.Join(dir, "override.env")
	require.NoError(t, os.WriteFile(base, []byte("TEST_CFG_FILE_ENGINE=pgsql\nTEST_CFG_FILE_SIZE=10\nTEST_CFG_FILE_KEPT=file\n"), 0o600))
	require.NoError(t, os.WriteFile(override, []byte("TEST_CFG_FILE_SIZE=20\n"), 0o600))

	for _, k := range []string{"TEST_CFG_FILE_ENGINE", "TEST_CFG_FILE_SIZE"} {
		os.Unsetenv(k)
		t.Cleanup(func() { os.Unsetenv(k) })
	}
	t.Setenv("TEST_CFG_FILE_KEPT", "process")

	require.NoError(t, config.LoadEnv(base, override))
	config.ResetCache()

	var cfg fileConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "pgsql", cfg.Engine)
	assert.Equal(t, 20, cfg.Size, "later files win")
	assert.Equal(t, "process", cfg.Kept, "the process environment wins")

	t.Run("missing file", func(t *testing.T) {
		err := config.LoadEnv(filepath.Join(dir, "missing.env"))
		assert.ErrorIs(t, err, config.ErrLoadingEnvFile)
		assert.Panics(t, func() { config.MustLoadEnv(filepath.Join(dir, "missing.env")) })
	})
}
