package course

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func fixtureTables() (ResolverTable, ProviderTable) {
	requirements := ResolverTable{
		{Format: "html", Kind: "completed"}: RequirementReusesCache,
		{Format: "html", Kind: "speaker"}:   RequirementPopulatesCache,
	}

	providers := ProviderTable{
		{Format: "html", Kind: "completed"}: {Format: "html", Kind: "speaker"},
	}

	return requirements, providers
}

func TestResolveAddsMissingProvider(t *testing.T) {
	requirements, providers := fixtureTables()

	requested := []Tuple{{Language: "en", Format: "html", Kind: "completed"}}

	implicit := Resolve(requested, requirements, providers)
	require.Equal(t, []Tuple{{Language: "en", Format: "html", Kind: "speaker"}}, implicit)
}

func TestResolveOmitsAlreadyRequestedProvider(t *testing.T) {
	requirements, providers := fixtureTables()

	requested := []Tuple{
		{Language: "en", Format: "html", Kind: "completed"},
		{Language: "en", Format: "html", Kind: "speaker"},
	}

	implicit := Resolve(requested, requirements, providers)
	require.Empty(t, implicit)
}

func TestResolveIsPure(t *testing.T) {
	requirements, providers := fixtureTables()
	requested := []Tuple{{Language: "en", Format: "html", Kind: "completed"}}

	first := Resolve(requested, requirements, providers)
	second := Resolve(requested, requirements, providers)
	require.Equal(t, first, second)
}

func TestOutputTargetMatchesFilters(t *testing.T) {
	target := OutputTarget{
		Formats: map[string]bool{"notebook": true},
	}

	require.True(t, target.Matches(Tuple{Language: "en", Format: "notebook", Kind: "completed"}))
	require.False(t, target.Matches(Tuple{Language: "en", Format: "html", Kind: "completed"}))
}

func TestCodeFormatOnlyValidWithCompletedKind(t *testing.T) {
	target := OutputTarget{}

	require.True(t, target.Matches(Tuple{Format: "code", Kind: "completed"}))
	require.False(t, target.Matches(Tuple{Format: "code", Kind: "speaker"}))
}
