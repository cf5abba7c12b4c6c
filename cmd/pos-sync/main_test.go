package main

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/posync/internal/app"
)

func mapLookup(values map[string]string) envLookup {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestReadConfig_Defaults(t *testing.T) {
	cfg, warnings, err := readConfig(mapLookup(nil))
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, app.DefaultConfig().HTTPAddr, cfg.HTTPAddr)
	require.Equal(t, app.RemoteDriverMemory, cfg.RemoteDriver)
}

func TestReadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device_id: till-9\nhttp_addr: :7000\n"), 0o600))

	cfg, warnings, err := readConfig(mapLookup(map[string]string{
		app.EnvConfigFile: path,
		app.EnvHTTPAddr:   ":7100",
	}))
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, "till-9", cfg.DeviceID)
	require.Equal(t, ":7100", cfg.HTTPAddr, "env wins over file")
}

func TestReadConfig_Errors(t *testing.T) {
	_, _, err := readConfig(mapLookup(map[string]string{
		app.EnvConfigFile: filepath.Join(t.TempDir(), "missing.yaml"),
	}))
	require.Error(t, err)

	_, _, err = readConfig(mapLookup(map[string]string{
		app.EnvRemoteDriver: "postgres",
	}))
	require.Error(t, err, "postgres without dsn")
}

func TestReadConfig_Warnings(t *testing.T) {
	cfg, warnings, err := readConfig(mapLookup(map[string]string{
		app.EnvProbeInterval: "often",
	}))
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Equal(t, app.DefaultConfig().ProbeInterval, cfg.ProbeInterval)
}

func TestSetupLogger(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	setupLogger("debug")
	require.Equal(t, log.DebugLevel, log.GetLevel())

	setupLogger("nonsense")
	require.Equal(t, log.InfoLevel, log.GetLevel())
}
