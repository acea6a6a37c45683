package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for a scribe instance: one queue,
// one on-disk store, one ranking profile, one snapshot policy.
type Config struct {
	Version   int              `yaml:"version" json:"version"`
	Queue     QueueConfig      `yaml:"queue" json:"queue"`
	Store     StoreConfig      `yaml:"store" json:"store"`
	Ranking   RankingConfig    `yaml:"ranking" json:"ranking"`
	Snapshot  SnapshotConfig   `yaml:"snapshot" json:"snapshot"`
	Server    ServerConfig     `yaml:"server" json:"server"`
	Ingestion IngestionConfig  `yaml:"ingestion" json:"ingestion"`
}

// QueueConfig configures the task queue and batch scheduler (C1).
type QueueConfig struct {
	// MaxEnqueued is the number of Enqueued tasks allowed before Submit
	// fails with ResourceLimit/QueueFull.
	MaxEnqueued int `yaml:"max_enqueued" json:"max_enqueued"`
	// TaskDBMapSizeMB is the initial map-size of the task store (§4.3.3).
	TaskDBMapSizeMB int `yaml:"task_db_map_size_mb" json:"task_db_map_size_mb"`
	// TaskDBMapSizeCapMB is the operator cap on map-size doubling.
	TaskDBMapSizeCapMB int `yaml:"task_db_map_size_cap_mb" json:"task_db_map_size_cap_mb"`
	// AutobatchMaxTasks bounds how many tasks a single greedy walk absorbs.
	AutobatchMaxTasks int `yaml:"autobatch_max_tasks" json:"autobatch_max_tasks"`
}

// StoreConfig configures the on-disk index (C3).
type StoreConfig struct {
	// DataDir is the root directory for the task store, index stores,
	// auth store, and content-file directory.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// IndexMapSizeMB is the initial map-size per index store.
	IndexMapSizeMB int `yaml:"index_map_size_mb" json:"index_map_size_mb"`
	// IndexMapSizeCapMB is the operator cap on map-size doubling.
	IndexMapSizeCapMB int `yaml:"index_map_size_cap_mb" json:"index_map_size_cap_mb"`
	// FacetFanout is F in the facet tree of §3.5/§4.3.2 (typically 4-32).
	FacetFanout int `yaml:"facet_fanout" json:"facet_fanout"`
	// WordPrefixMaxLen bounds which words get a prefix-posting entry.
	WordPrefixMaxLen int `yaml:"word_prefix_max_len" json:"word_prefix_max_len"`
	// VectorDimensions is the embedding width for the optional vector
	// index; 0 disables it.
	VectorDimensions int `yaml:"vector_dimensions" json:"vector_dimensions"`
}

// RankingConfig configures the search/ranking engine (C4).
type RankingConfig struct {
	// MinWordLenOneTypo / MinWordLenTwoTypos are the edit-distance
	// typo-tolerance thresholds of §4.4.2.
	MinWordLenOneTypo  int `yaml:"min_word_len_one_typo" json:"min_word_len_one_typo"`
	MinWordLenTwoTypos int `yaml:"min_word_len_two_typos" json:"min_word_len_two_typos"`
	// DefaultTimeBudget bounds ranking work per query (§4.4.5).
	DefaultTimeBudget time.Duration `yaml:"default_time_budget" json:"default_time_budget"`
	// SearchSemaphoreSize bounds concurrent in-flight searches (§5).
	SearchSemaphoreSize int `yaml:"search_semaphore_size" json:"search_semaphore_size"`
	// BM25Weight/SemanticWeight are the hybrid-search fusion weights
	// (§4.4.4); must sum to 1.0.
	BM25Weight     float64 `yaml:"bm25_weight" json:"bm25_weight"`
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`
	// RRFConstant is the reciprocal-rank-fusion smoothing parameter k.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
}

// SnapshotConfig configures snapshot/restore (C5).
type SnapshotConfig struct {
	// Dir is where local snapshot tarballs are written.
	Dir string `yaml:"dir" json:"dir"`
	// UploadPartSizeMB is the multipart-upload chunk size for the
	// streamed object-storage target.
	UploadPartSizeMB int `yaml:"upload_part_size_mb" json:"upload_part_size_mb"`
	// UploadMaxRetries bounds per-part retry attempts.
	UploadMaxRetries int `yaml:"upload_max_retries" json:"upload_max_retries"`
}

// ServerConfig configures the daemon transport that fronts C1/C4.
type ServerConfig struct {
	SocketPath string `yaml:"socket_path" json:"socket_path"`
	LogLevel   string `yaml:"log_level" json:"log_level"`
	// MaxIndexes bounds how many indexes the daemon keeps open at once
	// (LRU-evicted beyond this, §4.6.3).
	MaxIndexes int `yaml:"max_indexes" json:"max_indexes"`
	Compaction CompactionConfig `yaml:"compaction" json:"compaction"`
}

// CompactionConfig configures idle-triggered background vector-graph
// compaction (§4.6).
type CompactionConfig struct {
	Enabled         bool    `yaml:"enabled" json:"enabled"`
	IdleTimeout     string  `yaml:"idle_timeout" json:"idle_timeout"`
	Cooldown        string  `yaml:"cooldown" json:"cooldown"`
	OrphanThreshold float64 `yaml:"orphan_threshold" json:"orphan_threshold"`
	MinOrphanCount  int     `yaml:"min_orphan_count" json:"min_orphan_count"`
}

// IngestionConfig configures the filesystem watcher that turns changed
// files into DocumentImport task submissions (an external collaborator's
// concern in principle, but this repo owns one concrete adapter).
type IngestionConfig struct {
	Paths         []string `yaml:"paths" json:"paths"`
	Exclude       []string `yaml:"exclude" json:"exclude"`
	WatchDebounce string   `yaml:"watch_debounce" json:"watch_debounce"`
	IndexWorkers  int      `yaml:"index_workers" json:"index_workers"`
}

var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/dist/**",
	"**/build/**",
}

// NewConfig returns a Config populated with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Queue: QueueConfig{
			MaxEnqueued:        100_000,
			TaskDBMapSizeMB:    64,
			TaskDBMapSizeCapMB: 4096,
			AutobatchMaxTasks:  1000,
		},
		Store: StoreConfig{
			DataDir:           defaultDataDir(),
			IndexMapSizeMB:    256,
			IndexMapSizeCapMB: 16384,
			FacetFanout:       16,
			WordPrefixMaxLen:  4,
			VectorDimensions:  0,
		},
		Ranking: RankingConfig{
			MinWordLenOneTypo:   5,
			MinWordLenTwoTypos:  9,
			DefaultTimeBudget:   1500 * time.Millisecond,
			SearchSemaphoreSize: runtime.NumCPU(),
			BM25Weight:          0.5,
			SemanticWeight:      0.5,
			RRFConstant:         60,
		},
		Snapshot: SnapshotConfig{
			Dir:              filepath.Join(defaultDataDir(), "snapshots"),
			UploadPartSizeMB: 16,
			UploadMaxRetries: 5,
		},
		Server: ServerConfig{
			SocketPath: defaultSocketPath(),
			LogLevel:   "info",
			MaxIndexes: 5,
			Compaction: CompactionConfig{
				Enabled:         true,
				IdleTimeout:     "30s",
				Cooldown:        "1h",
				OrphanThreshold: 0.3,
				MinOrphanCount:  100,
			},
		},
		Ingestion: IngestionConfig{
			Paths:         []string{},
			Exclude:       defaultExcludePatterns,
			WatchDebounce: "500ms",
			IndexWorkers:  runtime.NumCPU(),
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".scribe", "data")
	}
	return filepath.Join(home, ".scribe", "data")
}

func defaultSocketPath() string {
	return filepath.Join(os.TempDir(), "scribe.sock")
}

// GetUserConfigPath returns the path to the user/global configuration file,
// following the XDG Base Directory specification.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "scribe", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "scribe", "config.yaml")
	}
	return filepath.Join(home, ".config", "scribe", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string { return filepath.Dir(GetUserConfigPath()) }

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool { return fileExists(GetUserConfigPath()) }

func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load loads configuration for the instance rooted at dir, applying
// (in order of increasing precedence): hardcoded defaults, the user/global
// config, the project config (.scribe.yaml in dir), then SCRIBE_* env vars.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
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

func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".scribe.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(dir, ".scribe.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith overlays non-zero fields from other onto c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Queue.MaxEnqueued != 0 {
		c.Queue.MaxEnqueued = other.Queue.MaxEnqueued
	}
	if other.Queue.TaskDBMapSizeMB != 0 {
		c.Queue.TaskDBMapSizeMB = other.Queue.TaskDBMapSizeMB
	}
	if other.Queue.TaskDBMapSizeCapMB != 0 {
		c.Queue.TaskDBMapSizeCapMB = other.Queue.TaskDBMapSizeCapMB
	}
	if other.Queue.AutobatchMaxTasks != 0 {
		c.Queue.AutobatchMaxTasks = other.Queue.AutobatchMaxTasks
	}

	if other.Store.DataDir != "" {
		c.Store.DataDir = other.Store.DataDir
	}
	if other.Store.IndexMapSizeMB != 0 {
		c.Store.IndexMapSizeMB = other.Store.IndexMapSizeMB
	}
	if other.Store.IndexMapSizeCapMB != 0 {
		c.Store.IndexMapSizeCapMB = other.Store.IndexMapSizeCapMB
	}
	if other.Store.FacetFanout != 0 {
		c.Store.FacetFanout = other.Store.FacetFanout
	}
	if other.Store.WordPrefixMaxLen != 0 {
		c.Store.WordPrefixMaxLen = other.Store.WordPrefixMaxLen
	}
	if other.Store.VectorDimensions != 0 {
		c.Store.VectorDimensions = other.Store.VectorDimensions
	}

	if other.Ranking.MinWordLenOneTypo != 0 {
		c.Ranking.MinWordLenOneTypo = other.Ranking.MinWordLenOneTypo
	}
	if other.Ranking.MinWordLenTwoTypos != 0 {
		c.Ranking.MinWordLenTwoTypos = other.Ranking.MinWordLenTwoTypos
	}
	if other.Ranking.DefaultTimeBudget != 0 {
		c.Ranking.DefaultTimeBudget = other.Ranking.DefaultTimeBudget
	}
	if other.Ranking.SearchSemaphoreSize != 0 {
		c.Ranking.SearchSemaphoreSize = other.Ranking.SearchSemaphoreSize
	}
	if other.Ranking.BM25Weight != 0 {
		c.Ranking.BM25Weight = other.Ranking.BM25Weight
	}
	if other.Ranking.SemanticWeight != 0 {
		c.Ranking.SemanticWeight = other.Ranking.SemanticWeight
	}
	if other.Ranking.RRFConstant != 0 {
		c.Ranking.RRFConstant = other.Ranking.RRFConstant
	}

	if other.Snapshot.Dir != "" {
		c.Snapshot.Dir = other.Snapshot.Dir
	}
	if other.Snapshot.UploadPartSizeMB != 0 {
		c.Snapshot.UploadPartSizeMB = other.Snapshot.UploadPartSizeMB
	}
	if other.Snapshot.UploadMaxRetries != 0 {
		c.Snapshot.UploadMaxRetries = other.Snapshot.UploadMaxRetries
	}

	if other.Server.SocketPath != "" {
		c.Server.SocketPath = other.Server.SocketPath
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.MaxIndexes != 0 {
		c.Server.MaxIndexes = other.Server.MaxIndexes
	}
	if other.Server.Compaction.IdleTimeout != "" {
		c.Server.Compaction = other.Server.Compaction
	}

	if len(other.Ingestion.Paths) > 0 {
		c.Ingestion.Paths = other.Ingestion.Paths
	}
	if len(other.Ingestion.Exclude) > 0 {
		c.Ingestion.Exclude = append(c.Ingestion.Exclude, other.Ingestion.Exclude...)
	}
	if other.Ingestion.WatchDebounce != "" {
		c.Ingestion.WatchDebounce = other.Ingestion.WatchDebounce
	}
	if other.Ingestion.IndexWorkers != 0 {
		c.Ingestion.IndexWorkers = other.Ingestion.IndexWorkers
	}
}

// applyEnvOverrides applies SCRIBE_* environment variable overrides, the
// highest-precedence layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SCRIBE_BM25_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Ranking.BM25Weight = w
		}
	}
	if v := os.Getenv("SCRIBE_SEMANTIC_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Ranking.SemanticWeight = w
		}
	}
	if v := os.Getenv("SCRIBE_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Ranking.RRFConstant = k
		}
	}
	if v := os.Getenv("SCRIBE_DATA_DIR"); v != "" {
		c.Store.DataDir = v
	}
	if v := os.Getenv("SCRIBE_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("SCRIBE_SOCKET_PATH"); v != "" {
		c.Server.SocketPath = v
	}
	if v := os.Getenv("SCRIBE_MAX_ENQUEUED"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Queue.MaxEnqueued = n
		}
	}
}

func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// FindProjectRoot walks up from startDir looking for .git or a .scribe
// config file.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	dir := absDir
	for {
		if dirExists(filepath.Join(dir, ".git")) {
			return dir, nil
		}
		if fileExists(filepath.Join(dir, ".scribe.yaml")) || fileExists(filepath.Join(dir, ".scribe.yml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return absDir, nil
		}
		dir = parent
	}
}

// Validate returns an error describing the first invalid field found.
func (c *Config) Validate() error {
	if c.Ranking.BM25Weight < 0 || c.Ranking.BM25Weight > 1 {
		return fmt.Errorf("ranking.bm25_weight must be between 0 and 1, got %f", c.Ranking.BM25Weight)
	}
	if c.Ranking.SemanticWeight < 0 || c.Ranking.SemanticWeight > 1 {
		return fmt.Errorf("ranking.semantic_weight must be between 0 and 1, got %f", c.Ranking.SemanticWeight)
	}
	if sum := c.Ranking.BM25Weight + c.Ranking.SemanticWeight; math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("ranking.bm25_weight + ranking.semantic_weight must equal 1.0, got %.2f", sum)
	}
	if c.Ranking.MinWordLenOneTypo <= 0 || c.Ranking.MinWordLenTwoTypos <= c.Ranking.MinWordLenOneTypo {
		return fmt.Errorf("ranking.min_word_len_two_typos must exceed min_word_len_one_typo")
	}
	if c.Queue.MaxEnqueued <= 0 {
		return fmt.Errorf("queue.max_enqueued must be positive, got %d", c.Queue.MaxEnqueued)
	}
	if c.Store.FacetFanout < 2 {
		return fmt.Errorf("store.facet_fanout must be at least 2, got %d", c.Store.FacetFanout)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	if c.Server.MaxIndexes <= 0 {
		return fmt.Errorf("server.max_indexes must be positive, got %d", c.Server.MaxIndexes)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads the user configuration file, if any.
func LoadUserConfig() (*Config, error) { return loadUserConfig() }

// MergeNewDefaults fills in zero-valued fields with current defaults,
// returning the list of dotted field names that were populated. Used when
// upgrading a persisted config written by an older version (§4.5.2).
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Ranking.RRFConstant == 0 {
		c.Ranking.RRFConstant = defaults.Ranking.RRFConstant
		added = append(added, "ranking.rrf_constant")
	}
	if c.Ranking.DefaultTimeBudget == 0 {
		c.Ranking.DefaultTimeBudget = defaults.Ranking.DefaultTimeBudget
		added = append(added, "ranking.default_time_budget")
	}
	if c.Queue.AutobatchMaxTasks == 0 {
		c.Queue.AutobatchMaxTasks = defaults.Queue.AutobatchMaxTasks
		added = append(added, "queue.autobatch_max_tasks")
	}
	if c.Store.FacetFanout == 0 {
		c.Store.FacetFanout = defaults.Store.FacetFanout
		added = append(added, "store.facet_fanout")
	}
	if c.Snapshot.UploadPartSizeMB == 0 {
		c.Snapshot.UploadPartSizeMB = defaults.Snapshot.UploadPartSizeMB
		added = append(added, "snapshot.upload_part_size_mb")
	}

	return added
}
