// Package config reads the process settings from the environment and an
// optional .env file
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/thereceipt/pos-hardware/internal/printer"
)

// Environment variable names
const (
	EnvAddr             = "POS_ADDR"
	EnvDataDir          = "POS_DATA_DIR"
	EnvPrefsPath        = "POS_PREFS_PATH"
	EnvJournalPath      = "POS_JOURNAL_PATH"
	EnvJournalRetention = "POS_JOURNAL_RETENTION"
	EnvMonitorInterval  = "POS_MONITOR_INTERVAL"
	EnvScannerPrefix    = "POS_SCANNER_PREFIX"
	EnvScannerSuffix    = "POS_SCANNER_SUFFIX"
	EnvDisconnectPolicy = "POS_DISCONNECT_POLICY"
	EnvCodePage         = "POS_CODE_PAGE"
	EnvLogLevel         = "POS_LOG_LEVEL"
	EnvPreviewFont      = "POS_PREVIEW_FONT"
	EnvProbeTargets     = "POS_PROBE_TARGETS"
)

// DefaultAddr is the API listen address
const DefaultAddr = "127.0.0.1:12212"

// Config is everything the server needs to start
type Config struct {
	Addr             string
	PrefsPath        string
	JournalPath      string
	JournalRetention time.Duration
	MonitorInterval  time.Duration
	ScannerPrefix    string
	ScannerSuffix    string
	DisconnectPolicy printer.DisconnectPolicy
	CodePage         string
	LogLevel         zerolog.Level
	PreviewFont      string
	ProbeTargets     []string
}

// Load reads the configuration. Invalid values fall back to defaults with a
// warning, except the disconnect policy which is rejected.
func Load() (Config, error) {
	dir := String(EnvDataDir, "")
	if dir == "" {
		dir = dataDir()
	}

	policy, err := printer.ParseDisconnectPolicy(String(EnvDisconnectPolicy, ""))
	if err != nil {
		return Config{}, err
	}

	level, err := zerolog.ParseLevel(String(EnvLogLevel, "info"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	cfg := Config{
		Addr:             String(EnvAddr, DefaultAddr),
		PrefsPath:        String(EnvPrefsPath, filepath.Join(dir, "device_preferences.json")),
		JournalPath:      String(EnvJournalPath, filepath.Join(dir, "print_journal.db")),
		JournalRetention: Duration(EnvJournalRetention, 30*24*time.Hour),
		MonitorInterval:  Duration(EnvMonitorInterval, 2*time.Second),
		ScannerPrefix:    Raw(EnvScannerPrefix, ""),
		ScannerSuffix:    Raw(EnvScannerSuffix, ""),
		DisconnectPolicy: policy,
		CodePage:         String(EnvCodePage, ""),
		LogLevel:         level,
		PreviewFont:      String(EnvPreviewFont, ""),
		ProbeTargets:     splitList(String(EnvProbeTargets, "")),
	}
	return cfg, nil
}

// dataDir is the per-user directory that holds preferences and the journal
func dataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "pos-hardware")
	}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "pos-hardware")
		}
	} else if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", "pos-hardware")
	}

	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
