package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	loadOnce   sync.Once
	loadedPath string
	loadErr    error
)

// LoadDotEnv loads the first .env found from the working directory up to the
// filesystem root. Variables already set win. Under go test nothing is loaded
// unless GOTEST_LOAD_DOTENV=1. Later calls are no-ops.
func LoadDotEnv() error {
	if runningUnderGoTest() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
		return nil
	}
	loadOnce.Do(func() {
		path, err := findDotEnv()
		if err != nil {
			loadErr = err
			log.Debug().Err(err).Msg("search for .env failed")
			return
		}
		if path == "" {
			return
		}
		if err := godotenv.Load(path); err != nil {
			loadErr = errors.Wrapf(err, "failed to load %s", path)
			log.Warn().Err(err).Str("dotenv", path).Msg("load .env failed")
			return
		}
		loadedPath = path
		log.Debug().Str("dotenv", path).Msg("loaded .env")
	})
	return loadErr
}

// LoadedPath returns the .env file that was loaded, or ""
func LoadedPath() string {
	return loadedPath
}

func runningUnderGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

func findDotEnv() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(wd, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		} else if err != nil && !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(wd)
		if parent == wd {
			return "", nil
		}
		wd = parent
	}
}

// String returns the trimmed variable or fallback when unset
func String(key, fallback string) string {
	LoadDotEnv()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Raw returns the variable untrimmed, so values like a scanner suffix of
// a single space survive
func Raw(key, fallback string) string {
	LoadDotEnv()
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

// Duration parses a duration, falling back when unset or invalid
func Duration(key string, fallback time.Duration) time.Duration {
	LoadDotEnv()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", val).Msg("invalid duration, using default")
	}
	return fallback
}

// Int parses an integer, falling back when unset or invalid
func Int(key string, fallback int) int {
	LoadDotEnv()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", val).Msg("invalid integer, using default")
	}
	return fallback
}

// Bool accepts 1/true/yes and 0/false/no
func Bool(key string, fallback bool) bool {
	LoadDotEnv()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes":
			return true
		case "0", "false", "no":
			return false
		}
	}
	return fallback
}
