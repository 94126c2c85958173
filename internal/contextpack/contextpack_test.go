package contextpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_DefinitionWinsOverOtherLabels(t *testing.T) {
	c := Candidate{IsDefinition: true, IsTest: true, IsConfig: true}
	assert.Equal(t, SectionDefinitions, classify(c))
}

func TestClassify_DefaultsToKeyUsages(t *testing.T) {
	c := Candidate{}
	assert.Equal(t, SectionKeyUsages, classify(c))
}

func TestClassify_PriorityOrderRespected(t *testing.T) {
	assert.Equal(t, SectionDependencies, classify(Candidate{IsDependency: true, IsTest: true, IsConfig: true, IsDocs: true}))
	assert.Equal(t, SectionTests, classify(Candidate{IsTest: true, IsConfig: true, IsDocs: true}))
	assert.Equal(t, SectionConfig, classify(Candidate{IsConfig: true, IsDocs: true}))
	assert.Equal(t, SectionDocs, classify(Candidate{IsDocs: true}))
}

func TestBuild_DedupsByID(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Content: "hello world this is a definition", IsDefinition: true},
		{ID: "a", Content: "duplicate, should be dropped", IsDefinition: true},
	}
	pack := Build(Input{BudgetTokens: 1000}, candidates)
	assert.Len(t, pack.Items, 1)
}

func TestBuild_RespectsOverallBudget(t *testing.T) {
	big := make([]byte, 400) // ~100 tokens at 4 chars/token
	candidates := []Candidate{
		{ID: "a", Content: string(big), IsDefinition: true},
		{ID: "b", Content: string(big), IsKeyUsage: true},
		{ID: "c", Content: string(big), IsKeyUsage: true},
	}
	pack := Build(Input{BudgetTokens: 150}, candidates)
	assert.Less(t, len(pack.Items), 3)
	assert.NotEmpty(t, pack.Diagnostics.DroppedCandidates)
	assert.Equal(t, contextpackCompleteness(pack), true)
}

func contextpackCompleteness(pack Pack) bool {
	return pack.Diagnostics.TokenBudgetUsed <= 150
}

func TestBuild_SectionCapLimitsThatSectionOnly(t *testing.T) {
	content := "word word word word word word word word" // 40 chars -> 10 tokens
	candidates := []Candidate{
		{ID: "def1", Content: content, IsDefinition: true},
		{ID: "def2", Content: content, IsDefinition: true},
		{ID: "doc1", Content: content, IsDocs: true},
	}
	pack := Build(Input{BudgetTokens: 1000, SectionCaps: map[Section]int{SectionDefinitions: 10}}, candidates)

	var defCount, docCount int
	for _, item := range pack.Items {
		switch item.Section {
		case SectionDefinitions:
			defCount++
		case SectionDocs:
			docCount++
		}
	}
	assert.Equal(t, 1, defCount, "definitions capped at one ~10-token item")
	assert.Equal(t, 1, docCount, "docs section unaffected by the definitions cap")
}

func TestBuild_MinEstimatedTokensFloor(t *testing.T) {
	candidates := []Candidate{{ID: "tiny", Content: "x", IsDefinition: true}}
	pack := Build(Input{BudgetTokens: 1000}, candidates)
	require.Len(t, pack.Items, 1)
	assert.Equal(t, minEstimatedTokens, pack.Items[0].EstimatedTokens)
}

func TestBuild_ContentHashIsStable(t *testing.T) {
	candidates := []Candidate{{ID: "a", Content: "same content", IsDefinition: true}}
	p1 := Build(Input{BudgetTokens: 1000}, candidates)
	p2 := Build(Input{BudgetTokens: 1000}, candidates)
	require.Len(t, p1.Items, 1)
	require.Len(t, p2.Items, 1)
	assert.Equal(t, p1.Items[0].ContentHash, p2.Items[0].ContentHash)
}

func TestBuild_DeterministicAcrossRepeatedRuns(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Content: "alpha content here", IsDefinition: true},
		{ID: "b", Content: "beta usage content", IsKeyUsage: true},
		{ID: "c", Content: "gamma test content", IsTest: true},
	}
	input := Input{Query: "widget", BudgetTokens: 1000}
	p1 := Build(input, candidates)
	p2 := Build(input, candidates)
	assert.Equal(t, p1, p2)
}

func TestBuild_MissingSectionsProduceHintsAndSuggestions(t *testing.T) {
	candidates := []Candidate{{ID: "a", Content: "only a definition here", IsDefinition: true}}
	pack := Build(Input{Query: "widget", BudgetTokens: 1000}, candidates)
	assert.Contains(t, pack.Diagnostics.MissingContextHints, string(SectionTests))
	assert.NotEmpty(t, pack.Diagnostics.SuggestedNextQueries)
}

func TestClampBudget(t *testing.T) {
	assert.Equal(t, minBudgetTokens, ClampBudget(0))
	assert.Equal(t, minBudgetTokens, ClampBudget(-5))
	assert.Equal(t, maxBudgetTokens, ClampBudget(999999999))
	assert.Equal(t, 500, ClampBudget(500))
}
