package cachekey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildDeterministic(t *testing.T) {
	b := NewBuilder("dscache")
	p := Params{DataSourceID: 7, Measure: "Revenue", PracticeHint: "114", Frequency: "monthly"}

	first := b.Build(p)
	second := b.Build(p)
	require.Equal(t, first, second)
	require.Equal(t, "dscache:ds:7:m:revenue:p:114:freq:monthly", first)
}

func TestBuildNormalizesSegments(t *testing.T) {
	b := NewBuilder("")
	a := b.Build(Params{DataSourceID: 3, Measure: "New Patients"})
	bkey := b.Build(Params{DataSourceID: 3, Measure: "new patients"})
	require.Equal(t, a, bkey)
	require.Equal(t, "dscache:ds:3:m:new-patients:p:any:freq:any", a)
}

func TestBuildDiffersPerCacheableDimension(t *testing.T) {
	b := NewBuilder("dscache")
	base := Params{DataSourceID: 1, Measure: "Revenue", Frequency: "monthly"}

	require.NotEqual(t, b.Build(base), b.Build(Params{DataSourceID: 2, Measure: "Revenue", Frequency: "monthly"}))
	require.NotEqual(t, b.Build(base), b.Build(Params{DataSourceID: 1, Measure: "Visits", Frequency: "monthly"}))
	require.NotEqual(t, b.Build(base), b.Build(Params{DataSourceID: 1, Measure: "Revenue", Frequency: "weekly"}))
}

func TestBuildPanicsWithoutDataSource(t *testing.T) {
	b := NewBuilder("dscache")
	require.Panics(t, func() { b.Build(Params{Measure: "Revenue"}) })
	require.Panics(t, func() { b.Candidates(Params{}) })
}

func TestCandidatesMostToLeastSpecific(t *testing.T) {
	b := NewBuilder("dscache")
	keys := b.Candidates(Params{DataSourceID: 7, Measure: "Revenue", PracticeHint: "114", Frequency: "monthly"})

	require.Equal(t, []string{
		"dscache:ds:7:m:revenue:p:114:freq:monthly",
		"dscache:ds:7:m:revenue:p:any:freq:monthly",
		"dscache:ds:7:m:revenue:p:any:freq:any",
		"dscache:ds:7:m:any:p:any:freq:any",
	}, keys)
}

func TestCandidatesCollapseDuplicates(t *testing.T) {
	b := NewBuilder("dscache")

	keys := b.Candidates(Params{DataSourceID: 7, Measure: "Revenue", Frequency: "monthly"})
	require.Equal(t, []string{
		"dscache:ds:7:m:revenue:p:any:freq:monthly",
		"dscache:ds:7:m:revenue:p:any:freq:any",
		"dscache:ds:7:m:any:p:any:freq:any",
	}, keys)

	keys = b.Candidates(Params{DataSourceID: 7})
	require.Equal(t, []string{"dscache:ds:7:m:any:p:any:freq:any"}, keys)
}

func TestPatternAndAuxKeys(t *testing.T) {
	b := NewBuilder("dscache")

	require.Equal(t, "dscache:ds:7:m:revenue:p:*:freq:*", b.Pattern(7, "Revenue", ""))
	require.Equal(t, "dscache:ds:7:m:*:p:*:freq:*", b.Pattern(7, "", ""))
	require.Equal(t, "dscache:ds:7:measures", b.IndexKey(7, "measures"))
	require.Equal(t, "dscache:ds:7:*", b.IndexPattern(7))
	require.Equal(t, "dscache:lock:warm:7", b.LockKey(7))
	require.Equal(t, "dscache:ds:7:m:", b.EntryPrefix(7))
	require.Equal(t, "dscache:ds:*:m:*", b.AllEntriesPattern())
}

func TestDataSourceIDParsing(t *testing.T) {
	b := NewBuilder("dscache")

	id, ok := b.DataSourceID("dscache:ds:42:m:revenue:p:any:freq:monthly")
	require.True(t, ok)
	require.Equal(t, int64(42), id)

	_, ok = b.DataSourceID("other:ds:42:m:revenue:p:any:freq:monthly")
	require.False(t, ok)
	_, ok = b.DataSourceID("dscache:lock:warm:42")
	require.False(t, ok)
	_, ok = b.DataSourceID("dscache:ds:abc:m:revenue")
	require.False(t, ok)
}
