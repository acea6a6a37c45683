package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// AC01: Default Configuration Tests
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: all defaults should be applied
	require.NotNil(t, cfg)

	// Ranking defaults
	assert.Equal(t, 0.5, cfg.Ranking.BM25Weight)
	assert.Equal(t, 0.5, cfg.Ranking.SemanticWeight)
	assert.Equal(t, 60, cfg.Ranking.RRFConstant) // industry-standard k=60
	assert.Equal(t, 5, cfg.Ranking.MinWordLenOneTypo)
	assert.Equal(t, 9, cfg.Ranking.MinWordLenTwoTypos)
	assert.Equal(t, 1500*time.Millisecond, cfg.Ranking.DefaultTimeBudget)
	assert.Equal(t, runtime.NumCPU(), cfg.Ranking.SearchSemaphoreSize)

	// Queue defaults
	assert.Equal(t, 100_000, cfg.Queue.MaxEnqueued)
	assert.Equal(t, 64, cfg.Queue.TaskDBMapSizeMB)
	assert.Equal(t, 1000, cfg.Queue.AutobatchMaxTasks)

	// Store defaults
	assert.NotEmpty(t, cfg.Store.DataDir)
	assert.Equal(t, 256, cfg.Store.IndexMapSizeMB)
	assert.Equal(t, 16, cfg.Store.FacetFanout)
	assert.Equal(t, 4, cfg.Store.WordPrefixMaxLen)
	assert.Equal(t, 0, cfg.Store.VectorDimensions)

	// Snapshot defaults
	assert.Contains(t, cfg.Snapshot.Dir, "snapshots")
	assert.Equal(t, 16, cfg.Snapshot.UploadPartSizeMB)
	assert.Equal(t, 5, cfg.Snapshot.UploadMaxRetries)

	// Server defaults
	assert.NotEmpty(t, cfg.Server.SocketPath)
	assert.Equal(t, "info", cfg.Server.LogLevel)

	// Ingestion defaults
	assert.Contains(t, cfg.Ingestion.Exclude, "**/node_modules/**")
	assert.Contains(t, cfg.Ingestion.Exclude, "**/.git/**")
	assert.Contains(t, cfg.Ingestion.Exclude, "**/vendor/**")
	assert.Equal(t, "500ms", cfg.Ingestion.WatchDebounce)
	assert.Equal(t, runtime.NumCPU(), cfg.Ingestion.IndexWorkers)
}

func TestConfig_VersionDefaultsToOne(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 1, cfg.Version)
}

func TestConfig_RankingWeightsSumToOne(t *testing.T) {
	cfg := NewConfig()
	sum := cfg.Ranking.BM25Weight + cfg.Ranking.SemanticWeight
	assert.InDelta(t, 1.0, sum, 0.01)
}

// =============================================================================
// AC02: Configuration File Loading Tests
// =============================================================================

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	// Given: a directory with no .scribe.yaml
	tmpDir := t.TempDir()

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: defaults are returned without error
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 0.5, cfg.Ranking.BM25Weight)
}

func TestLoad_YamlFile_OverridesDefaults(t *testing.T) {
	// Given: a directory with .scribe.yaml
	tmpDir := t.TempDir()
	configContent := `
version: 1
ranking:
  bm25_weight: 0.4
  semantic_weight: 0.6
  rrf_constant: 100
store:
  facet_fanout: 32
`
	err := os.WriteFile(filepath.Join(tmpDir, ".scribe.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: all overrides are applied
	require.NoError(t, err)
	assert.Equal(t, 0.4, cfg.Ranking.BM25Weight)
	assert.Equal(t, 0.6, cfg.Ranking.SemanticWeight)
	assert.Equal(t, 100, cfg.Ranking.RRFConstant)
	assert.Equal(t, 32, cfg.Store.FacetFanout)
}

func TestLoad_YmlExtension_IsRecognized(t *testing.T) {
	// Given: a directory with .scribe.yml (alternative extension)
	tmpDir := t.TempDir()
	configContent := `
version: 1
server:
  log_level: debug
`
	err := os.WriteFile(filepath.Join(tmpDir, ".scribe.yml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: .yml file is recognized
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoad_YamlPreferredOverYml(t *testing.T) {
	// Given: both .yaml and .yml exist
	tmpDir := t.TempDir()
	yamlContent := `
version: 1
server:
  log_level: warn
`
	ymlContent := `
version: 1
server:
  log_level: error
`
	err := os.WriteFile(filepath.Join(tmpDir, ".scribe.yaml"), []byte(yamlContent), 0o644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(tmpDir, ".scribe.yml"), []byte(ymlContent), 0o644)
	require.NoError(t, err)

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: .yaml takes precedence
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Server.LogLevel)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	// Given: invalid YAML syntax
	tmpDir := t.TempDir()
	invalidContent := `
version: 1
ranking:
  bm25_weight: [invalid yaml syntax
`
	err := os.WriteFile(filepath.Join(tmpDir, ".scribe.yaml"), []byte(invalidContent), 0o644)
	require.NoError(t, err)

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: error is returned with clear message
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "parse")
}

func TestLoad_InvalidFieldType_ReturnsError(t *testing.T) {
	// Given: wrong type for a YAML-accessible field
	tmpDir := t.TempDir()
	invalidContent := `
version: 1
store:
  facet_fanout: "not-a-number"
`
	err := os.WriteFile(filepath.Join(tmpDir, ".scribe.yaml"), []byte(invalidContent), 0o644)
	require.NoError(t, err)

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: error is returned
	require.Error(t, err)
	assert.Nil(t, cfg)
}

// =============================================================================
// AC03: Project Root Discovery Tests
// =============================================================================

func TestFindProjectRoot_GitDirectory_ReturnsGitRoot(t *testing.T) {
	// Given: a nested directory in a git repo
	tmpDir := t.TempDir()
	gitDir := filepath.Join(tmpDir, ".git")
	nestedDir := filepath.Join(tmpDir, "src", "internal")
	require.NoError(t, os.Mkdir(gitDir, 0o755))
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))

	// When: finding project root from nested directory
	root, err := FindProjectRoot(nestedDir)

	// Then: git root is returned
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_ConfigFile_ReturnsConfigLocation(t *testing.T) {
	// Given: a directory with .scribe.yaml (no git)
	tmpDir := t.TempDir()
	nestedDir := filepath.Join(tmpDir, "src", "internal")
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))
	err := os.WriteFile(filepath.Join(tmpDir, ".scribe.yaml"), []byte("version: 1"), 0o644)
	require.NoError(t, err)

	// When: finding project root from nested directory
	root, err := FindProjectRoot(nestedDir)

	// Then: config file location is returned
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_NoMarkers_ReturnsCurrentDir(t *testing.T) {
	// Given: a directory with no markers
	tmpDir := t.TempDir()

	// When: finding project root
	root, err := FindProjectRoot(tmpDir)

	// Then: current directory is returned
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

// =============================================================================
// AC04: Environment Variable Override Tests
// =============================================================================

func TestLoad_EnvVarOverridesDataDir(t *testing.T) {
	// Given: a config file with one data dir and env var with another
	tmpDir := t.TempDir()
	configContent := `
version: 1
store:
  data_dir: /var/lib/scribe-from-yaml
`
	err := os.WriteFile(filepath.Join(tmpDir, ".scribe.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)
	customDir := t.TempDir()
	t.Setenv("SCRIBE_DATA_DIR", customDir)

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: env var takes precedence
	require.NoError(t, err)
	assert.Equal(t, customDir, cfg.Store.DataDir)
}

func TestLoad_EnvVarOverridesLogLevel(t *testing.T) {
	// Given: env var for log level
	tmpDir := t.TempDir()
	t.Setenv("SCRIBE_LOG_LEVEL", "debug")

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: env var is applied
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoad_EnvVarOverridesSocketPath(t *testing.T) {
	// Given: env var for socket path
	tmpDir := t.TempDir()
	t.Setenv("SCRIBE_SOCKET_PATH", "/tmp/custom-scribe.sock")

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: env var is applied
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-scribe.sock", cfg.Server.SocketPath)
}

func TestLoad_EnvVarOverridesRRFConstant(t *testing.T) {
	// Given: YAML config with RRF constant and env var override
	tmpDir := t.TempDir()
	configContent := `
version: 1
ranking:
  rrf_constant: 100
`
	err := os.WriteFile(filepath.Join(tmpDir, ".scribe.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)
	t.Setenv("SCRIBE_RRF_CONSTANT", "80")

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: env var takes precedence over YAML
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Ranking.RRFConstant)
}

func TestLoad_EnvVarOverridesRankingWeights(t *testing.T) {
	// Given: YAML config with weights and env var override
	tmpDir := t.TempDir()
	configContent := `
version: 1
ranking:
  bm25_weight: 0.4
  semantic_weight: 0.6
`
	err := os.WriteFile(filepath.Join(tmpDir, ".scribe.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)
	t.Setenv("SCRIBE_BM25_WEIGHT", "0.5")
	t.Setenv("SCRIBE_SEMANTIC_WEIGHT", "0.5")

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: env vars take precedence over YAML
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Ranking.BM25Weight)
	assert.Equal(t, 0.5, cfg.Ranking.SemanticWeight)
}

func TestLoad_EnvVarEmptyString_DoesNotOverride(t *testing.T) {
	// Given: empty env var
	tmpDir := t.TempDir()
	t.Setenv("SCRIBE_LOG_LEVEL", "")

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: default is kept
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Server.LogLevel)
}

// =============================================================================
// AC05: User/Global Configuration Tests
// =============================================================================

func TestGetUserConfigPath_DefaultsToXDGLocation(t *testing.T) {
	// Given: no XDG_CONFIG_HOME set
	t.Setenv("XDG_CONFIG_HOME", "")

	// When: getting user config path
	path := GetUserConfigPath()

	// Then: defaults to ~/.config/scribe/config.yaml
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	expected := filepath.Join(home, ".config", "scribe", "config.yaml")
	assert.Equal(t, expected, path)
}

func TestGetUserConfigPath_RespectsXDGConfigHome(t *testing.T) {
	// Given: XDG_CONFIG_HOME is set
	customConfig := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", customConfig)

	// When: getting user config path
	path := GetUserConfigPath()

	// Then: uses XDG_CONFIG_HOME
	expected := filepath.Join(customConfig, "scribe", "config.yaml")
	assert.Equal(t, expected, path)
}

func TestGetUserConfigDir_ReturnsParentOfConfigPath(t *testing.T) {
	// When: getting user config directory
	dir := GetUserConfigDir()
	path := GetUserConfigPath()

	// Then: directory is parent of config file
	assert.Equal(t, filepath.Dir(path), dir)
}

func TestUserConfigExists_ReturnsFalseWhenMissing(t *testing.T) {
	// Given: XDG_CONFIG_HOME points to empty directory
	emptyDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", emptyDir)

	// When: checking if user config exists
	exists := UserConfigExists()

	// Then: returns false
	assert.False(t, exists)
}

func TestUserConfigExists_ReturnsTrueWhenPresent(t *testing.T) {
	// Given: user config file exists
	configDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	scribeDir := filepath.Join(configDir, "scribe")
	require.NoError(t, os.MkdirAll(scribeDir, 0o755))
	configPath := filepath.Join(scribeDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("version: 1"), 0o644))

	// When: checking if user config exists
	exists := UserConfigExists()

	// Then: returns true
	assert.True(t, exists)
}

func TestLoad_UserConfigOverridesDefaults(t *testing.T) {
	// Given: user config with custom socket path
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	scribeDir := filepath.Join(configDir, "scribe")
	require.NoError(t, os.MkdirAll(scribeDir, 0o755))
	userConfig := `
version: 1
server:
  socket_path: /tmp/user-scribe.sock
`
	require.NoError(t, os.WriteFile(filepath.Join(scribeDir, "config.yaml"), []byte(userConfig), 0o644))

	// When: loading configuration
	cfg, err := Load(projectDir)

	// Then: user config values are applied
	require.NoError(t, err)
	assert.Equal(t, "/tmp/user-scribe.sock", cfg.Server.SocketPath)
}

func TestLoad_ProjectConfigOverridesUserConfig(t *testing.T) {
	// Given: both user and project configs exist
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	// User config
	scribeDir := filepath.Join(configDir, "scribe")
	require.NoError(t, os.MkdirAll(scribeDir, 0o755))
	userConfig := `
version: 1
server:
  log_level: warn
ranking:
  rrf_constant: 50
`
	require.NoError(t, os.WriteFile(filepath.Join(scribeDir, "config.yaml"), []byte(userConfig), 0o644))

	// Project config (overrides user)
	projectConfig := `
version: 1
ranking:
  rrf_constant: 90
`
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".scribe.yaml"), []byte(projectConfig), 0o644))

	// When: loading configuration
	cfg, err := Load(projectDir)

	// Then: project config takes precedence
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.Ranking.RRFConstant)
	// And: user config's log level is still used (not overridden by project)
	assert.Equal(t, "warn", cfg.Server.LogLevel)
}

func TestLoad_EnvVarOverridesUserAndProjectConfig(t *testing.T) {
	// Given: all three config sources exist
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	t.Setenv("SCRIBE_RRF_CONSTANT", "70")

	// User config
	scribeDir := filepath.Join(configDir, "scribe")
	require.NoError(t, os.MkdirAll(scribeDir, 0o755))
	userConfig := `
version: 1
ranking:
  rrf_constant: 50
`
	require.NoError(t, os.WriteFile(filepath.Join(scribeDir, "config.yaml"), []byte(userConfig), 0o644))

	// Project config
	projectConfig := `
version: 1
ranking:
  rrf_constant: 90
`
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".scribe.yaml"), []byte(projectConfig), 0o644))

	// When: loading configuration
	cfg, err := Load(projectDir)

	// Then: env var has highest precedence
	require.NoError(t, err)
	assert.Equal(t, 70, cfg.Ranking.RRFConstant)
}

func TestLoad_InvalidUserConfig_ReturnsError(t *testing.T) {
	// Given: invalid user config
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	scribeDir := filepath.Join(configDir, "scribe")
	require.NoError(t, os.MkdirAll(scribeDir, 0o755))
	invalidConfig := `
version: 1
server:
  log_level: [invalid yaml
`
	require.NoError(t, os.WriteFile(filepath.Join(scribeDir, "config.yaml"), []byte(invalidConfig), 0o644))

	// When: loading configuration
	cfg, err := Load(projectDir)

	// Then: error is returned
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "user config")
}
