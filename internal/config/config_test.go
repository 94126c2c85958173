package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, 1.0, cfg.Ranking.CentralityWeight)
	assert.Equal(t, 0.45, cfg.Ranking.ConfidenceCoverageGuardrail)
	assert.Equal(t, 50, cfg.Ranking.RerankCandidateCap)
	assert.Contains(t, cfg.Ranking.Signals, "exact_match")
	assert.Equal(t, 5.0, cfg.Ranking.Signals["exact_match"].Default)

	assert.Contains(t, cfg.Plan.Plans, "lexical_fast")
	assert.Equal(t, 40, cfg.Plan.Plans["lexical_fast"].LexicalFanout.Floor)
	assert.Equal(t, 2000, cfg.Plan.Plans["semantic_deep"].LexicalFanout.Cap)
	assert.Equal(t, 120, cfg.Plan.Plans["lexical_fast"].LatencyBudgetMS)
	assert.True(t, cfg.Plan.AdaptiveEnabled)

	assert.Equal(t, 5, cfg.Diversity.WindowSize)
	assert.Equal(t, 2, cfg.Diversity.MaxPerFile)
	assert.Equal(t, 0.5, cfg.Diversity.MinScoreRatio)

	assert.Equal(t, "balanced", cfg.Policy.Mode)
	assert.Equal(t, "rule-based", cfg.Semantic.RerankProvider)

	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, 8765, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)

	assert.Equal(t, runtime.NumCPU(), cfg.Enrichment.WorkerConcurrency)
	assert.Equal(t, 64*1024, cfg.Safety.MaxResponseBytes)

	assert.Contains(t, cfg.Paths.Exclude, "**/node_modules/**")
	assert.Contains(t, cfg.Paths.Exclude, "**/.git/**")
}

func TestConfig_VersionDefaultsToOne(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 1, cfg.Version)
}

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "balanced", cfg.Policy.Mode)
}

func TestLoad_YamlFile_OverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
policy:
  mode: strict
diversity:
  window_size: 8
  max_per_file: 3
`
	err := os.WriteFile(filepath.Join(tmpDir, ".cruxe.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "strict", cfg.Policy.Mode)
	assert.Equal(t, 8, cfg.Diversity.WindowSize)
	assert.Equal(t, 3, cfg.Diversity.MaxPerFile)
}

func TestLoad_YmlExtension_IsRecognized(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
semantic:
  rerank_provider: cross-encoder
`
	err := os.WriteFile(filepath.Join(tmpDir, ".cruxe.yml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "cross-encoder", cfg.Semantic.RerankProvider)
}

func TestLoad_YamlPreferredOverYml(t *testing.T) {
	tmpDir := t.TempDir()
	yamlContent := "version: 1\npolicy:\n  mode: strict\n"
	ymlContent := "version: 1\npolicy:\n  mode: off\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".cruxe.yaml"), []byte(yamlContent), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".cruxe.yml"), []byte(ymlContent), 0o644))

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "strict", cfg.Policy.Mode)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	invalidContent := "version: 1\npolicy:\n  mode: [invalid yaml syntax\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".cruxe.yaml"), []byte(invalidContent), 0o644))

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "parse")
}

func TestDetectProjectType_GoMod_ReturnsGo(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "go.mod"), []byte("module test"), 0o644))

	assert.Equal(t, ProjectTypeGo, DetectProjectType(tmpDir))
}

func TestDetectProjectType_PackageJson_ReturnsNode(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "package.json"), []byte("{}"), 0o644))

	assert.Equal(t, ProjectTypeNode, DetectProjectType(tmpDir))
}

func TestDetectProjectType_Priority_GoOverNode(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "go.mod"), []byte("module test"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "package.json"), []byte("{}"), 0o644))

	assert.Equal(t, ProjectTypeGo, DetectProjectType(tmpDir))
}

func TestDetectProjectType_NoMarkerFiles_ReturnsUnknown(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "random.txt"), []byte("hello"), 0o644))

	assert.Equal(t, ProjectTypeUnknown, DetectProjectType(tmpDir))
}

func TestFindProjectRoot_GitDirectory_ReturnsGitRoot(t *testing.T) {
	tmpDir := t.TempDir()
	nestedDir := filepath.Join(tmpDir, "src", "internal")
	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, ".git"), 0o755))
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))

	root, err := FindProjectRoot(nestedDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_ConfigFile_ReturnsConfigLocation(t *testing.T) {
	tmpDir := t.TempDir()
	nestedDir := filepath.Join(tmpDir, "src", "internal")
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".cruxe.yaml"), []byte("version: 1"), 0o644))

	root, err := FindProjectRoot(nestedDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_NoMarkers_ReturnsCurrentDir(t *testing.T) {
	tmpDir := t.TempDir()

	root, err := FindProjectRoot(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestDiscoverSourceDirs_FindsCommonDirs(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, "src"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, "internal"), 0o755))

	dirs := DiscoverSourceDirs(tmpDir)

	assert.Contains(t, dirs, "src")
	assert.Contains(t, dirs, "internal")
}

func TestDiscoverDocsDirs_FindsDocDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "README.md"), []byte("# Title"), 0o644))

	dirs := DiscoverDocsDirs(tmpDir)

	assert.Contains(t, dirs, "docs")
	assert.Contains(t, dirs, "README.md")
}

func TestLoad_EnvVarOverridesPolicyMode(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("CRUXE_POLICY_MODE", "strict")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "strict", cfg.Policy.Mode)
}

func TestLoad_EnvVarOverridesLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("CRUXE_LOG_LEVEL", "debug")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoad_EnvVarOverridesTransport(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("CRUXE_TRANSPORT", "sse")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "sse", cfg.Server.Transport)
}

func TestLoad_EnvVarOverridesMaxResponseBytes(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("CRUXE_MAX_RESPONSE_BYTES", "2048")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 2048, cfg.Safety.MaxResponseBytes)
}

func TestLoad_EnvVarOverridesYamlAndDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := "version: 1\npolicy:\n  mode: off\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".cruxe.yaml"), []byte(configContent), 0o644))
	t.Setenv("CRUXE_POLICY_MODE", "strict")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "strict", cfg.Policy.Mode)
}

func TestLoad_EnvVarEmptyString_DoesNotOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("CRUXE_LOG_LEVEL", "")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Server.LogLevel)
}

func TestGetUserConfigPath_DefaultsToXDGLocation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")

	path := GetUserConfigPath()

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "cruxe", "config.yaml"), path)
}

func TestGetUserConfigPath_RespectsXDGConfigHome(t *testing.T) {
	customConfig := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", customConfig)

	path := GetUserConfigPath()

	assert.Equal(t, filepath.Join(customConfig, "cruxe", "config.yaml"), path)
}

func TestGetUserConfigDir_ReturnsParentOfConfigPath(t *testing.T) {
	dir := GetUserConfigDir()
	path := GetUserConfigPath()

	assert.Equal(t, filepath.Dir(path), dir)
}

func TestUserConfigExists_ReturnsFalseWhenMissing(t *testing.T) {
	emptyDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", emptyDir)

	assert.False(t, UserConfigExists())
}

func TestUserConfigExists_ReturnsTrueWhenPresent(t *testing.T) {
	configDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	cruxeDir := filepath.Join(configDir, "cruxe")
	require.NoError(t, os.MkdirAll(cruxeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cruxeDir, "config.yaml"), []byte("version: 1"), 0o644))

	assert.True(t, UserConfigExists())
}

func TestLoad_UserConfigOverridesDefaults(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	cruxeDir := filepath.Join(configDir, "cruxe")
	require.NoError(t, os.MkdirAll(cruxeDir, 0o755))
	userConfig := "version: 1\npolicy:\n  mode: strict\n"
	require.NoError(t, os.WriteFile(filepath.Join(cruxeDir, "config.yaml"), []byte(userConfig), 0o644))

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, "strict", cfg.Policy.Mode)
}

func TestLoad_ProjectConfigOverridesUserConfig(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	cruxeDir := filepath.Join(configDir, "cruxe")
	require.NoError(t, os.MkdirAll(cruxeDir, 0o755))
	userConfig := "version: 1\npolicy:\n  mode: strict\nsemantic:\n  rerank_provider: cross-encoder\n"
	require.NoError(t, os.WriteFile(filepath.Join(cruxeDir, "config.yaml"), []byte(userConfig), 0o644))

	projectConfig := "version: 1\npolicy:\n  mode: off\n"
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".cruxe.yaml"), []byte(projectConfig), 0o644))

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, "off", cfg.Policy.Mode)
	assert.Equal(t, "cross-encoder", cfg.Semantic.RerankProvider)
}

func TestLoad_EnvVarOverridesUserAndProjectConfig(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	t.Setenv("CRUXE_POLICY_MODE", "off")

	cruxeDir := filepath.Join(configDir, "cruxe")
	require.NoError(t, os.MkdirAll(cruxeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cruxeDir, "config.yaml"), []byte("version: 1\npolicy:\n  mode: strict\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".cruxe.yaml"), []byte("version: 1\npolicy:\n  mode: balanced\n"), 0o644))

	cfg, err := Load(projectDir)

	require.NoError(t, err)
	assert.Equal(t, "off", cfg.Policy.Mode)
}

func TestLoad_InvalidUserConfig_ReturnsError(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	cruxeDir := filepath.Join(configDir, "cruxe")
	require.NoError(t, os.MkdirAll(cruxeDir, 0o755))
	invalidConfig := "version: 1\npolicy:\n  mode: [invalid yaml\n"
	require.NoError(t, os.WriteFile(filepath.Join(cruxeDir, "config.yaml"), []byte(invalidConfig), 0o644))

	cfg, err := Load(projectDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "user config")
}
