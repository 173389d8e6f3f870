package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Backend names accepted by StoreBackend.
const (
	BackendFolder = "folder"
	BackendSQLite = "sqlite"
)

// Environment variables read by ApplyEnv and BaseDir.
const (
	EnvConfigBase   = "K_CONFIG_BASE"
	EnvLogLevel     = "K_LOG_LEVEL"
	EnvStoreBackend = "K_STORE_BACKEND"
)

// Config holds application configuration.
type Config struct {
	// StoreBackend selects the record store: "folder" (default) or "sqlite".
	StoreBackend string `json:"store_backend,omitempty"`

	// MemoriesDir, PreferencesDir and SkillsDir are resolved against the base
	// dir when relative.
	MemoriesDir    string `json:"memories_dir,omitempty"`
	PreferencesDir string `json:"preferences_dir,omitempty"`
	SkillsDir      string `json:"skills_dir,omitempty"`

	// PerRouteLimit is the default number of records each search route keeps.
	PerRouteLimit int `json:"per_route_limit,omitempty"`

	// RouteTimeoutMS bounds each search route. 0 disables the timeout.
	RouteTimeoutMS int `json:"route_timeout_ms,omitempty"`

	// AllowedPaths is an allowlist of directories for search and export output.
	// Paths outside <base>/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for output files.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits open connections for the sqlite backend.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits idle connections for the sqlite backend.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of tool types to disable entirely.
	// Known types: "memory", "preferences", "skills".
	DisabledTypes []string `json:"disabled_types,omitempty"`

	// LogLevel is a zap level name (debug, info, warn, error).
	LogLevel string `json:"log_level,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		StoreBackend:   BackendFolder,
		MemoriesDir:    "memories",
		PreferencesDir: "preferences",
		SkillsDir:      "skills",
		PerRouteLimit:  8,
		LogLevel:       "warn",
	}
}

// BaseDir returns $K_CONFIG_BASE if set, else ~/.kapybara.
func BaseDir() (string, error) {
	if base := strings.TrimSpace(os.Getenv(EnvConfigBase)); base != "" {
		return base, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".kapybara"), nil
}

// LoadEnv loads baseDir/.env into the process environment.
// Variables already set are not overridden. A missing file is not an error.
func LoadEnv(baseDir string) error {
	envPath := filepath.Join(baseDir, ".env")
	if _, err := os.Stat(envPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(envPath)
}

// ApplyEnv overrides fields from K_* environment variables.
func ApplyEnv(cfg *Config) *Config {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStoreBackend)); v != "" {
		cfg.StoreBackend = v
	}
	return cfg
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.kapybara.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.kapybara) and repo (.kapy) directories.
// Repo config is found by walking upward from startDir to find the nearest .kapy/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	// Apply defaults, then global, then repo
	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .kapy/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".kapy", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Resolve returns p joined to baseDir unless p is already absolute.
func Resolve(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.StoreBackend = pickString(overlay.StoreBackend, base.StoreBackend)
	result.MemoriesDir = pickString(overlay.MemoriesDir, base.MemoriesDir)
	result.PreferencesDir = pickString(overlay.PreferencesDir, base.PreferencesDir)
	result.SkillsDir = pickString(overlay.SkillsDir, base.SkillsDir)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)

	result.PerRouteLimit = pickInt(overlay.PerRouteLimit, base.PerRouteLimit)
	result.RouteTimeoutMS = pickInt(overlay.RouteTimeoutMS, base.RouteTimeoutMS)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
