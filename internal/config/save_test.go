package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveDirectory_CreatesNewFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	err := SaveDirectory(configPath, DirectoryConfig{Owner: "root", Marketplace: "market", Admins: []string{"carol"}})
	require.NoError(t, err)

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "directory:")
	assert.Contains(t, content, "owner: root")
	assert.Contains(t, content, "marketplace: market")
	assert.Contains(t, content, "- carol")
}

func TestSaveDirectory_PreservesOtherConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(configPath))

	err := SaveDirectory(configPath, DirectoryConfig{Owner: "root", Marketplace: "market"})
	require.NoError(t, err)

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "# Ticketbay Configuration")
	assert.Contains(t, content, "# initial fee in basis points")
	assert.Contains(t, content, "fee_bps: 250")
	assert.Contains(t, content, "owner: root")
	assert.NotContains(t, content, "owner: owner")
}

func TestSaveDirectory_Roundtrip(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	want := DirectoryConfig{Owner: "root", Marketplace: "market", Admins: []string{"carol", "dave"}}
	require.NoError(t, SaveDirectory(configPath, want))

	v := viper.New()
	v.SetConfigFile(configPath)
	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, want, cfg.Directory)
}

func TestSaveStore_Roundtrip(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(configPath))

	want := StoreConfig{Driver: DriverSQLite, Path: "/data/escrow.db", LedgerPath: "/data/funds.db"}
	require.NoError(t, SaveStore(configPath, want))

	v := viper.New()
	v.SetConfigFile(configPath)
	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, want, cfg.Store)
	require.Equal(t, Defaults().Market, cfg.Market)
}

func TestSaveLogLevel(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log:\n  path: /tmp/tb.log\n  level: debug\n"), 0o644))

	require.NoError(t, SaveLogLevel(configPath, "warn"))

	v := viper.New()
	v.SetConfigFile(configPath)
	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, "/tmp/tb.log", cfg.Log.Path)
}

func TestSaveLogLevel_AddsSection(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("market:\n  fee_bps: 100\n"), 0o644))

	require.NoError(t, SaveLogLevel(configPath, "error"))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "fee_bps: 100")
	assert.Contains(t, string(data), "level: error")
}

func TestSaveLogLevel_RejectsUnknownLevel(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.Error(t, SaveLogLevel(configPath, "chatty"))

	_, err := os.Stat(configPath)
	require.True(t, os.IsNotExist(err), "nothing is written for an invalid level")
}

func TestSave_RejectsNonMappingDocument(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("- just\n- a list\n"), 0o644))

	err := SaveStore(configPath, StoreConfig{Driver: DriverMemory})
	require.ErrorContains(t, err, "not a mapping")
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, SaveStore(configPath, StoreConfig{Driver: DriverMemory}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "config.yaml", entries[0].Name())
}
