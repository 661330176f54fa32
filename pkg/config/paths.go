package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "bookrnn"

// windows: C:\Users\{user}\AppData\Roaming\bookrnn
// macOS: ~/Library/Application Support/bookrnn
// linux: ~/.config/bookrnn
func GetConfigDir() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(mustHome(), "AppData", "Roaming")
		}
		configDir = filepath.Join(appData, appName)

	case "darwin":
		configDir = filepath.Join(mustHome(), "Library", "Application Support", appName)

	default:
		xdgConfig := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfig == "" {
			xdgConfig = filepath.Join(mustHome(), ".config")
		}
		configDir = filepath.Join(xdgConfig, appName)
	}

	return configDir
}

// windows: C:\Users\{user}\AppData\Local\bookrnn
// macOS: ~/Library/Caches/bookrnn
// linux: ~/.cache/bookrnn
func GetCacheDir() string {
	var cacheDir string

	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			localAppData = filepath.Join(mustHome(), "AppData", "Local")
		}
		cacheDir = filepath.Join(localAppData, appName)

	case "darwin":
		cacheDir = filepath.Join(mustHome(), "Library", "Caches", appName)

	default:
		xdgCache := os.Getenv("XDG_CACHE_HOME")
		if xdgCache == "" {
			xdgCache = filepath.Join(mustHome(), ".cache")
		}
		cacheDir = filepath.Join(xdgCache, appName)
	}

	return cacheDir
}

func GetDefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

func GetEmbeddingCacheDir() string {
	return filepath.Join(GetCacheDir(), "embeddings")
}

func mustHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Sprintf("failed to get user home directory: %v", err))
	}
	return home
}
