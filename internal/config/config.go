package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

// Driver names accepted by SCROLLFRAME_DRIVER.
const (
	DriverRaw      = "raw"
	DriverChromedp = "chromedp"
)

// Config holds all configuration for the scrollframe daemon.
type Config struct {
	// CDP connection settings
	CDPAddress    string
	CDPPort       int
	TabURLFilter  string
	Driver        string
	EvalTimeoutMS int

	// HTTP listener
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Storage
	DataDir    string
	DBPath     string
	ExportDir  string
	JournalDir string

	// Logging
	LogLevel string
	LogFile  string

	// Capture tuning
	ScrollThreshold float64
	ThresholdScope  string
	OverlapPolicy   string

	// Outbound services
	LicenseURL string
	NtfyURL    string

	// Browser launch
	LaunchBrowser     bool
	BrowserProfileDir string
	StartURL          string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	dataDir := getEnvOrDefault("SCROLLFRAME_DATA_DIR", filepath.Join(xdg.DataHome, "scrollframe"))
	cfg := &Config{
		CDPAddress:        getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		TabURLFilter:      getEnvOrDefault("SCROLLFRAME_TAB_URL_FILTER", ""),
		Driver:            strings.ToLower(getEnvOrDefault("SCROLLFRAME_DRIVER", DriverRaw)),
		EvalTimeoutMS:     getEnvIntOrDefault("SCROLLFRAME_EVAL_TIMEOUT_MS", 5000),
		BindAddr:          getEnvOrDefault("SCROLLFRAME_BIND_ADDR", "127.0.0.1:8290"),
		PortCandidates:    splitList(getEnvOrDefault("SCROLLFRAME_PORT_CANDIDATES", "")),
		PortAutoFallback:  getEnvBoolOrDefault("SCROLLFRAME_PORT_AUTO_FALLBACK", true),
		DataDir:           dataDir,
		DBPath:            getEnvOrDefault("SCROLLFRAME_DB_PATH", filepath.Join(dataDir, "scrollframe.db")),
		ExportDir:         getEnvOrDefault("SCROLLFRAME_EXPORT_DIR", filepath.Join(dataDir, "exports")),
		JournalDir:        getEnvOrDefault("SCROLLFRAME_JOURNAL_DIR", filepath.Join(dataDir, "journal")),
		LogLevel:          strings.ToLower(getEnvOrDefault("SCROLLFRAME_LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("SCROLLFRAME_LOG_FILE", filepath.Join(dataDir, "logs", "scrollframe.log")),
		ScrollThreshold:   getEnvFloatOrDefault("SCROLLFRAME_SCROLL_THRESHOLD", 300),
		ThresholdScope:    strings.ToLower(getEnvOrDefault("SCROLLFRAME_THRESHOLD_SCOPE", "session")),
		OverlapPolicy:     strings.ToLower(getEnvOrDefault("SCROLLFRAME_OVERLAP_POLICY", "queue")),
		LicenseURL:        getEnvOrDefault("SCROLLFRAME_LICENSE_URL", ""),
		NtfyURL:           getEnvOrDefault("SCROLLFRAME_NTFY_URL", ""),
		LaunchBrowser:     getEnvBoolOrDefault("SCROLLFRAME_LAUNCH_BROWSER", false),
		BrowserProfileDir: getEnvOrDefault("SCROLLFRAME_BROWSER_PROFILE_DIR", filepath.Join(dataDir, "browser-profile")),
		StartURL:          getEnvOrDefault("SCROLLFRAME_START_URL", "about:blank"),
	}
	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	if cfg.ScrollThreshold <= 0 {
		cfg.ScrollThreshold = 300
	}
	if cfg.Driver != DriverRaw && cfg.Driver != DriverChromedp {
		return nil, fmt.Errorf("config: SCROLLFRAME_DRIVER must be %q or %q, got %q", DriverRaw, DriverChromedp, cfg.Driver)
	}
	return cfg, nil
}

// CDPURL returns the full CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
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

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
