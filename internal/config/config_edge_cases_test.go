package config

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonMarshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func jsonUnmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// =============================================================================
// FindProjectRoot Edge Cases
// =============================================================================

func TestFindProjectRoot_NonExistentDir_ReturnsError(t *testing.T) {
	nonExistent := "/nonexistent/path/that/does/not/exist"

	root, err := FindProjectRoot(nonExistent)

	if err != nil {
		assert.Error(t, err)
	} else {
		assert.NotEmpty(t, root)
	}
}

func TestFindProjectRoot_DeepNesting_FindsGitRoot(t *testing.T) {
	tmpDir := t.TempDir()
	gitDir := filepath.Join(tmpDir, ".git")
	deepNested := filepath.Join(tmpDir, "a", "b", "c", "d", "e", "f", "g", "h")
	require.NoError(t, os.Mkdir(gitDir, 0o755))
	require.NoError(t, os.MkdirAll(deepNested, 0o755))

	root, err := FindProjectRoot(deepNested)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_RelativePath_ResolvesToAbsolute(t *testing.T) {
	tmpDir := t.TempDir()
	gitDir := filepath.Join(tmpDir, ".git")
	require.NoError(t, os.Mkdir(gitDir, 0o755))

	oldWd, _ := os.Getwd()
	defer func() { _ = os.Chdir(oldWd) }()
	require.NoError(t, os.Chdir(tmpDir))

	root, err := FindProjectRoot(".")

	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(root), "Root should be absolute path")
	expectedRoot, _ := filepath.EvalSymlinks(tmpDir)
	actualRoot, _ := filepath.EvalSymlinks(root)
	assert.Equal(t, expectedRoot, actualRoot)
}

func TestFindProjectRoot_EmptyString_UsesCurrentDir(t *testing.T) {
	tmpDir := t.TempDir()
	gitDir := filepath.Join(tmpDir, ".git")
	require.NoError(t, os.Mkdir(gitDir, 0o755))

	oldWd, _ := os.Getwd()
	defer func() { _ = os.Chdir(oldWd) }()
	require.NoError(t, os.Chdir(tmpDir))

	root, err := FindProjectRoot("")

	require.NoError(t, err)
	expectedRoot, _ := filepath.EvalSymlinks(tmpDir)
	actualRoot, _ := filepath.EvalSymlinks(root)
	assert.Equal(t, expectedRoot, actualRoot)
}

// =============================================================================
// Config Merge Edge Cases
// =============================================================================

func TestLoad_MergeExcludePaths_AppendsToDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
paths:
  exclude:
    - "**/.custom_ignore/**"
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".cruxe.yaml"), []byte(configContent), 0o644))

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Contains(t, cfg.Paths.Exclude, "**/node_modules/**", "Default exclude should be preserved")
	assert.Contains(t, cfg.Paths.Exclude, "**/.git/**", "Default exclude should be preserved")
	assert.Contains(t, cfg.Paths.Exclude, "**/.custom_ignore/**", "Custom exclude should be added")
}

func TestLoad_ZeroValuesNotMerged(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
diversity:
  window_size: 0
  max_per_file: 0
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".cruxe.yaml"), []byte(configContent), 0o644))

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Diversity.WindowSize, "Zero should not override default window_size")
	assert.Equal(t, 2, cfg.Diversity.MaxPerFile, "Zero should not override default max_per_file")
}

// TestNormalize_InvertedSignalRange_ResetsToDefault exercises the
// inverted_range diagnostic from spec §6.
func TestNormalize_InvertedSignalRange_ResetsToDefault(t *testing.T) {
	cfg := NewConfig()
	cfg.Ranking.Signals["exact_match"] = SignalBudget{Min: 5, Max: 0, Default: 5}

	diags := cfg.Normalize()

	assert.Contains(t, diagCodes(diags), DiagInvertedRange)
	assert.Equal(t, defaultSignalBudgets()["exact_match"], cfg.Ranking.Signals["exact_match"])
}

// TestNormalize_NonFiniteSignalRange_ResetsToDefault exercises the
// non_finite_range diagnostic from spec §6.
func TestNormalize_NonFiniteSignalRange_ResetsToDefault(t *testing.T) {
	cfg := NewConfig()
	cfg.Ranking.Signals["bm25_score"] = SignalBudget{Min: 0, Max: math.Inf(1), Default: 0}

	diags := cfg.Normalize()

	assert.Contains(t, diagCodes(diags), DiagNonFiniteRange)
	assert.Equal(t, defaultSignalBudgets()["bm25_score"], cfg.Ranking.Signals["bm25_score"])
}

// TestNormalize_DefaultOutOfRange_ClampsRatherThanReset exercises the
// default_out_of_range diagnostic: only Default is clamped into [Min,Max].
func TestNormalize_DefaultOutOfRange_ClampsRatherThanReset(t *testing.T) {
	cfg := NewConfig()
	cfg.Ranking.Signals["role_weight"] = SignalBudget{Min: 0, Max: 1, Default: 5}

	diags := cfg.Normalize()

	assert.Contains(t, diagCodes(diags), DiagDefaultOutOfRange)
	assert.Equal(t, 1.0, cfg.Ranking.Signals["role_weight"].Default)
}

// TestNormalize_InvalidPolicyMode_ResetsToBalanced exercises normalization
// of an unrecognized policy mode.
func TestNormalize_InvalidPolicyMode_ResetsToBalanced(t *testing.T) {
	cfg := NewConfig()
	cfg.Policy.Mode = "bogus"

	diags := cfg.Normalize()

	assert.Contains(t, diagCodes(diags), DiagDefaultOutOfRange)
	assert.Equal(t, "balanced", cfg.Policy.Mode)
}

// TestNormalize_InvertedPlanRange_Swapped exercises inverted_range for a
// plan's fanout range (floor > cap).
func TestNormalize_InvertedPlanRange_Swapped(t *testing.T) {
	cfg := NewConfig()
	b := cfg.Plan.Plans["lexical_fast"]
	b.LexicalFanout = Range{Floor: 500, Cap: 40}
	cfg.Plan.Plans["lexical_fast"] = b

	diags := cfg.Normalize()

	assert.Contains(t, diagCodes(diags), DiagInvertedRange)
	fixed := cfg.Plan.Plans["lexical_fast"].LexicalFanout
	assert.True(t, fixed.Floor <= fixed.Cap)
}

// TestValidate_NeverReturnsErrorForNormalizableValues documents that
// invalid config is normalized, not rejected (spec §6).
func TestValidate_NeverReturnsErrorForNormalizableValues(t *testing.T) {
	cfg := NewConfig()
	cfg.Policy.Mode = "nonsense"
	cfg.Diversity.WindowSize = -1

	err := cfg.Validate()

	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Diagnostics())
}

func diagCodes(diags []Diagnostic) []string {
	codes := make([]string, len(diags))
	for i, d := range diags {
		codes[i] = d.Code
	}
	return codes
}

// =============================================================================
// Config File Permission Edge Cases
// =============================================================================

func TestLoad_UnreadableConfigFile_ReturnsError(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("Test requires non-root user")
	}

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, ".cruxe.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("version: 1"), 0o000))
	defer func() { _ = os.Chmod(configPath, 0o644) }()

	cfg, err := Load(tmpDir)

	require.Error(t, err, "Load should fail for unreadable config file")
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "read", "Error should mention read failure")
}

// =============================================================================
// DetectProjectType Edge Cases
// =============================================================================

func TestDetectProjectType_EmptyDir_ReturnsUnknown(t *testing.T) {
	tmpDir := t.TempDir()

	assert.Equal(t, ProjectTypeUnknown, DetectProjectType(tmpDir))
}

func TestDetectProjectType_NonExistentDir_ReturnsUnknown(t *testing.T) {
	nonExistent := "/nonexistent/path/that/does/not/exist"

	assert.Equal(t, ProjectTypeUnknown, DetectProjectType(nonExistent))
}

func TestDetectProjectType_EmptyMarkerFiles_StillDetected(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "go.mod"), []byte(""), 0o644))

	assert.Equal(t, ProjectTypeGo, DetectProjectType(tmpDir))
}

// =============================================================================
// DiscoverSourceDirs / DiscoverDocsDirs Edge Cases
// =============================================================================

func TestDiscoverSourceDirs_EmptyDir_ReturnsEmpty(t *testing.T) {
	tmpDir := t.TempDir()

	assert.Empty(t, DiscoverSourceDirs(tmpDir))
}

func TestDiscoverSourceDirs_NonExistentDir_ReturnsEmpty(t *testing.T) {
	assert.Empty(t, DiscoverSourceDirs("/nonexistent/path/that/does/not/exist"))
}

func TestDiscoverSourceDirs_FilesNotDirs_NotIncluded(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "src"), []byte("not a dir"), 0o644))

	assert.NotContains(t, DiscoverSourceDirs(tmpDir), "src")
}

func TestDiscoverDocsDirs_EmptyDir_ReturnsEmpty(t *testing.T) {
	tmpDir := t.TempDir()

	assert.Empty(t, DiscoverDocsDirs(tmpDir))
}

func TestDiscoverDocsDirs_NonExistentDir_ReturnsEmpty(t *testing.T) {
	assert.Empty(t, DiscoverDocsDirs("/nonexistent/path/that/does/not/exist"))
}

// =============================================================================
// Config JSON Marshaling Edge Cases
// =============================================================================

func TestConfig_JSON_RoundTrip(t *testing.T) {
	cfg := NewConfig()
	cfg.Diversity.WindowSize = 8
	cfg.Policy.Mode = "strict"
	cfg.Safety.MaxResponseBytes = 32768

	data, err := jsonMarshal(cfg)
	require.NoError(t, err)

	var parsed Config
	err = jsonUnmarshal(data, &parsed)
	require.NoError(t, err)

	assert.Equal(t, 8, parsed.Diversity.WindowSize)
	assert.Equal(t, "strict", parsed.Policy.Mode)
	assert.Equal(t, 32768, parsed.Safety.MaxResponseBytes)
}

func TestConfig_UnmarshalJSON_InvalidJSON_ReturnsError(t *testing.T) {
	invalidJSON := []byte("{invalid json")

	var cfg Config
	err := jsonUnmarshal(invalidJSON, &cfg)

	require.Error(t, err, "Unmarshal should fail for invalid JSON")
}
