package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iTrooz/tiercache/internal/cache"
	"github.com/iTrooz/tiercache/internal/config"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	content := "log:\n  level: debug\n  format: json\nlocal:\n  folder: " + filepath.Join(dir, "local") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestConfigureLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)
	defer logrus.SetFormatter(&logrus.TextFormatter{})

	require.NoError(t, configureLogging(config.LogConfig{Level: "warn", Format: "json"}))
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	assert.Error(t, configureLogging(config.LogConfig{Level: "loud"}))
}

func TestConfigCommand(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)
	defer logrus.SetFormatter(&logrus.TextFormatter{})

	path := writeConfig(t, t.TempDir())
	require.NoError(t, newApp().Run(context.Background(), []string{"tiercache", "--config", path, "config"}))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
}

func TestConfigCommandMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	assert.Error(t, newApp().Run(context.Background(), []string{"tiercache", "--config", missing, "config"}))
}

func TestSweepCommand(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)
	defer logrus.SetFormatter(&logrus.TextFormatter{})

	dir := t.TempDir()
	path := writeConfig(t, dir)

	store := cache.NewDisk(filepath.Join(dir, "local"), 0)
	require.NoError(t, store.Set("cache_stale", []byte(`{"value":1,"expiry":1}`)))
	require.NoError(t, store.Set("cache_fresh", []byte(`{"value":2}`)))

	require.NoError(t, newApp().Run(context.Background(), []string{"tiercache", "--config", path, "sweep"}))

	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"cache_fresh"}, keys)
}
