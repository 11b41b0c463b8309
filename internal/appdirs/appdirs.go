// Package appdirs maps out the engine's on-disk layout. Everything the
// engine persists lives under one data directory:
//
//	settings.json   preferences, plain JSON
//	secrets.enc     encrypted credential store
//	master.key      key material for secrets.enc
//	history.db      session history, SQLite
//	logs/           debug logs, when enabled
package appdirs

import (
	"os"
	"path/filepath"

	"webweaver/engine/internal/envutil"
)

const dirName = "webweaver"

// DataDir resolves the data directory. WEBWEAVER_DATA_DIR overrides the
// platform default under the user config dir.
func DataDir() (string, error) {
	if override := envutil.String("WEBWEAVER_DATA_DIR", ""); override != "" {
		return override, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, dirName), nil
}

func SettingsPath(dataDir string) string { return filepath.Join(dataDir, "settings.json") }

func SecretsPath(dataDir string) string { return filepath.Join(dataDir, "secrets.enc") }

func MasterKeyPath(dataDir string) string { return filepath.Join(dataDir, "master.key") }

func HistoryPath(dataDir string) string { return filepath.Join(dataDir, "history.db") }

func LogDir(dataDir string) string { return filepath.Join(dataDir, "logs") }
