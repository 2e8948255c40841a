package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete catalog configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Root        RootConfig        `yaml:"root" json:"root"`
	Search      SearchConfig      `yaml:"search" json:"search"`
	Index       IndexConfig       `yaml:"index" json:"index"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Vacuum      VacuumConfig      `yaml:"vacuum" json:"vacuum"`
	Log         LogConfig         `yaml:"log" json:"log"`
}

// RootConfig configures the catalog's index root and the directory
// under it holding durable stores and sidecars.
type RootConfig struct {
	// Path is the catalog root directory. Empty means "current directory".
	Path string `yaml:"path" json:"path"`
	// IndexDir is the name of the subdirectory (under Path) holding
	// the record store, index stores, sidecars, write.lock and neg.dat.
	// Default: ".cbird".
	IndexDir string `yaml:"index_dir" json:"index_dir"`
}

// SearchConfig configures default similarity-search parameters applied
// when a caller does not override them in SearchParams.
type SearchConfig struct {
	// DctThresh is the default maximum Hamming distance for a DctImage
	// candidate to count as a hit.
	DctThresh int `yaml:"dct_thresh" json:"dct_thresh"`
	// MinMatches is the default minimum group size retained by filterMatch.
	MinMatches int `yaml:"min_matches" json:"min_matches"`
	// MaxMatches caps results per needle after scoring.
	MaxMatches int `yaml:"max_matches" json:"max_matches"`
	// FilterSelf drops a candidate whose id equals the needle's id.
	FilterSelf bool `yaml:"filter_self" json:"filter_self"`
	// FilterParent drops candidates sharing the needle's immediate container.
	FilterParent bool `yaml:"filter_parent" json:"filter_parent"`
	// NegativeMatch enables negative-match filtering by default.
	NegativeMatch bool `yaml:"negative_match" json:"negative_match"`
}

// IndexConfig configures the index family, including the optional
// HNSW acceleration path for the color index and the optional bleve
// path-search enrichment.
type IndexConfig struct {
	// DctPartitionBits controls how many bits of a DCT hash are used
	// to partition the bit-partitioned Hamming-search structure.
	DctPartitionBits int `yaml:"dct_partition_bits" json:"dct_partition_bits"`
	// ColorHNSWEnabled turns on the coder/hnsw-backed accelerator for
	// the color index once the catalog grows past ColorHNSWThreshold.
	ColorHNSWEnabled bool `yaml:"color_hnsw_enabled" json:"color_hnsw_enabled"`
	// ColorHNSWThreshold is the minimum record count before the color
	// index builds and consults its HNSW graph.
	ColorHNSWThreshold int `yaml:"color_hnsw_threshold" json:"color_hnsw_threshold"`
	// PathIndexEnabled turns on the bleve-backed supplementary path
	// search index alongside the record store's SQL LIKE queries.
	PathIndexEnabled bool `yaml:"path_index_enabled" json:"path_index_enabled"`
}

// PerformanceConfig configures performance tuning options.
type PerformanceConfig struct {
	// SearchWorkers bounds the errgroup concurrency for the parallel
	// search pipeline fan-out. Default: runtime.NumCPU().
	SearchWorkers int `yaml:"search_workers" json:"search_workers"`
	// RecordCacheSize is the capacity of the golang-lru record cache
	// fronting the record store's byId/byPath hydration path.
	RecordCacheSize int `yaml:"record_cache_size" json:"record_cache_size"`
	// SQLiteCacheMB is the SQLite page cache size in MB.
	SQLiteCacheMB int `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
	// BusyTimeoutMS is the SQLite busy_timeout in milliseconds.
	BusyTimeoutMS int `yaml:"busy_timeout_ms" json:"busy_timeout_ms"`
	// WatchEnabled turns on the fsnotify root watcher that invalidates
	// the record cache when another process mutates the catalog.
	WatchEnabled bool `yaml:"watch_enabled" json:"watch_enabled"`
}

// VacuumConfig configures the background vacuum scheduler.
type VacuumConfig struct {
	// Enabled turns on periodic background vacuum.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Interval is how often the scheduler attempts a vacuum, e.g. "1h".
	Interval string `yaml:"interval" json:"interval"`
	// IdleTimeout is how long must have passed since the catalog's last
	// Add (the mtime of last-added.txt) before a scheduled vacuum may run.
	IdleTimeout string `yaml:"idle_timeout" json:"idle_timeout"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level         string `yaml:"level" json:"level"`
	FilePath      string `yaml:"file_path" json:"file_path"`
	MaxSizeMB     int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles      int    `yaml:"max_files" json:"max_files"`
	WriteToStderr bool   `yaml:"write_to_stderr" json:"write_to_stderr"`
}

// defaultExcludePatterns lists directories not to be treated as catalog
// roots. Nothing in this package reads it; DetectRoot does not consult it.
var defaultExcludePatterns = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/.cbird/cache/**",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Root: RootConfig{
			Path:     "",
			IndexDir: ".cbird",
		},
		Search: SearchConfig{
			DctThresh:     8,
			MinMatches:    1,
			MaxMatches:    50,
			FilterSelf:    true,
			FilterParent:  false,
			NegativeMatch: true,
		},
		Index: IndexConfig{
			DctPartitionBits:   8,
			ColorHNSWEnabled:   false,
			ColorHNSWThreshold: 100000,
			PathIndexEnabled:   false,
		},
		Performance: PerformanceConfig{
			SearchWorkers:   runtime.NumCPU(),
			RecordCacheSize: 4096,
			SQLiteCacheMB:   64,
			BusyTimeoutMS:   5000,
			WatchEnabled:    true,
		},
		Vacuum: VacuumConfig{
			Enabled:     true,
			Interval:    "1h",
			IdleTimeout: "30s",
		},
		Log: LogConfig{
			Level:         "info",
			MaxSizeMB:     10,
			MaxFiles:      5,
			WriteToStderr: true,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/cbird/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/cbird/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cbird", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "cbird", "config.yaml")
	}
	return filepath.Join(home, ".config", "cbird", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration for the catalog rooted at dir, applying
// configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/cbird/config.yaml)
//  3. Root config (.cbird.yaml at dir)
//  4. Environment variables (CBIRD_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()
	cfg.Root.Path = dir

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .cbird.yaml or .cbird.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".cbird.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".cbird.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Root.Path != "" {
		c.Root.Path = other.Root.Path
	}
	if other.Root.IndexDir != "" {
		c.Root.IndexDir = other.Root.IndexDir
	}

	if other.Search.DctThresh != 0 {
		c.Search.DctThresh = other.Search.DctThresh
	}
	if other.Search.MinMatches != 0 {
		c.Search.MinMatches = other.Search.MinMatches
	}
	if other.Search.MaxMatches != 0 {
		c.Search.MaxMatches = other.Search.MaxMatches
	}
	c.Search.FilterSelf = c.Search.FilterSelf || other.Search.FilterSelf
	c.Search.FilterParent = c.Search.FilterParent || other.Search.FilterParent
	c.Search.NegativeMatch = c.Search.NegativeMatch || other.Search.NegativeMatch
	c.Index.ColorHNSWEnabled = c.Index.ColorHNSWEnabled || other.Index.ColorHNSWEnabled
	c.Index.PathIndexEnabled = c.Index.PathIndexEnabled || other.Index.PathIndexEnabled
	c.Performance.WatchEnabled = c.Performance.WatchEnabled || other.Performance.WatchEnabled
	c.Vacuum.Enabled = c.Vacuum.Enabled || other.Vacuum.Enabled
	c.Log.WriteToStderr = c.Log.WriteToStderr || other.Log.WriteToStderr

	if other.Index.DctPartitionBits != 0 {
		c.Index.DctPartitionBits = other.Index.DctPartitionBits
	}
	if other.Index.ColorHNSWThreshold != 0 {
		c.Index.ColorHNSWThreshold = other.Index.ColorHNSWThreshold
	}

	if other.Performance.SearchWorkers != 0 {
		c.Performance.SearchWorkers = other.Performance.SearchWorkers
	}
	if other.Performance.RecordCacheSize != 0 {
		c.Performance.RecordCacheSize = other.Performance.RecordCacheSize
	}
	if other.Performance.SQLiteCacheMB != 0 {
		c.Performance.SQLiteCacheMB = other.Performance.SQLiteCacheMB
	}
	if other.Performance.BusyTimeoutMS != 0 {
		c.Performance.BusyTimeoutMS = other.Performance.BusyTimeoutMS
	}

	if other.Vacuum.Interval != "" {
		c.Vacuum.Interval = other.Vacuum.Interval
	}
	if other.Vacuum.IdleTimeout != "" {
		c.Vacuum.IdleTimeout = other.Vacuum.IdleTimeout
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.FilePath != "" {
		c.Log.FilePath = other.Log.FilePath
	}
	if other.Log.MaxSizeMB != 0 {
		c.Log.MaxSizeMB = other.Log.MaxSizeMB
	}
	if other.Log.MaxFiles != 0 {
		c.Log.MaxFiles = other.Log.MaxFiles
	}
}

// applyEnvOverrides applies CBIRD_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CBIRD_ROOT"); v != "" {
		c.Root.Path = v
	}
	if v := os.Getenv("CBIRD_INDEX_DIR"); v != "" {
		c.Root.IndexDir = v
	}
	if v := os.Getenv("CBIRD_DCT_THRESH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Search.DctThresh = n
		}
	}
	if v := os.Getenv("CBIRD_SEARCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Performance.SearchWorkers = n
		}
	}
	if v := os.Getenv("CBIRD_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CBIRD_VACUUM_ENABLED"); v != "" {
		c.Vacuum.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
}

// DetectRoot returns dir if it already contains an index directory,
// otherwise walks upward looking for one, falling back to dir itself.
func DetectRoot(dir, indexDirName string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, indexDirName)) {
			return currentDir, nil
		}
		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Root.IndexDir == "" {
		return fmt.Errorf("root.index_dir must not be empty")
	}
	if c.Search.DctThresh < 0 || c.Search.DctThresh > 64 {
		return fmt.Errorf("search.dct_thresh must be between 0 and 64, got %d", c.Search.DctThresh)
	}
	if c.Search.MinMatches < 0 {
		return fmt.Errorf("search.min_matches must be non-negative, got %d", c.Search.MinMatches)
	}
	if c.Search.MaxMatches < 0 {
		return fmt.Errorf("search.max_matches must be non-negative, got %d", c.Search.MaxMatches)
	}
	if c.Performance.SearchWorkers <= 0 {
		return fmt.Errorf("performance.search_workers must be positive, got %d", c.Performance.SearchWorkers)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Log.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// SaveUserConfig writes cfg to the user/global configuration path,
// backing up whatever is already there first (BackupUserConfig is a
// no-op when no user config exists yet). The backup happens before the
// directory is created so a failed MkdirAll never leaves a half-written
// config without a recovery copy.
func SaveUserConfig(cfg *Config) error {
	if _, err := BackupUserConfig(); err != nil {
		return fmt.Errorf("backup existing user config: %w", err)
	}

	if err := os.MkdirAll(GetUserConfigDir(), 0755); err != nil {
		return fmt.Errorf("create user config directory: %w", err)
	}

	return cfg.WriteYAML(GetUserConfigPath())
}
