package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	// token order and punctuation must not matter
	assert.Equal(t, NormalizeName("García, María"), NormalizeName("maría garcía"))
	assert.Equal(t, "jose maria silva", NormalizeName("  Silva,  Jose-Maria "))
	assert.Equal(t, "", NormalizeName("  .,- "))
}

func TestNormalizeExternalID(t *testing.T) {
	assert.Equal(t, NormalizeExternalID("AB-12 34"), NormalizeExternalID("ab1234"))
	assert.Equal(t, "", NormalizeExternalID(""))
}

func TestNameSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, NameSimilarity("maria garcia", "maria garcia"), 1e-9)
	assert.Greater(t, NameSimilarity("maria garcia", "maria garcya"), 0.85)
	assert.Less(t, NameSimilarity("maria garcia", "john smith"), 0.4)
	// partial token overlap keeps a floor above raw edit distance
	assert.GreaterOrEqual(t, NameSimilarity("maria garcia lopez", "maria garcia"), 0.5)
}

func TestParseBBox(t *testing.T) {
	b, ok, err := ParseBBox("1,2,3,4")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 4.0, b.Area(), 1e-9)

	_, ok, err = ParseBBox("")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ParseBBox("1,2,3")
	assert.Error(t, err)
}

func TestOverlapRatio(t *testing.T) {
	a := BBox{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}
	b := BBox{MinX: 5, MinY: 5, MaxX: 15, MaxY: 15}
	assert.InDelta(t, 0.25, OverlapRatio(a, b), 1e-9)

	c := BBox{MinX: 2, MinY: 2, MaxX: 4, MaxY: 4}
	// c is fully inside a: ratio relative to the smaller area
	assert.InDelta(t, 1.0, OverlapRatio(a, c), 1e-9)

	d := BBox{MinX: 20, MinY: 20, MaxX: 30, MaxY: 30}
	assert.Zero(t, OverlapRatio(a, d))
}

func TestMatchPersonsHighTier(t *testing.T) {
	cfg := DefaultConfig()
	a := PersonCandidate{FullName: "Ana Silva", NationalID: "ID-123"}
	b := PersonCandidate{FullName: "Anna da Silva", NationalID: "id 123"}
	m := MatchPersons(a, b, cfg)
	require.True(t, m.Matched)
	assert.Equal(t, TierHigh, m.Tier)
	assert.Equal(t, 100, m.Score)
}

func TestMatchPersonsMediumTier(t *testing.T) {
	cfg := DefaultConfig()
	a := PersonCandidate{FullName: "Maria Garcia", BirthDate: "1980-03-14", Gender: "female"}
	b := PersonCandidate{FullName: "Maria Garcya", BirthDate: "1980-11-02", Gender: "female"}
	m := MatchPersons(a, b, cfg)
	require.True(t, m.Matched)
	assert.Equal(t, TierMedium, m.Tier)
	assert.LessOrEqual(t, m.Score, 100)
	assert.Greater(t, m.Score, 60)
}

func TestMatchPersonsLowTier(t *testing.T) {
	cfg := DefaultConfig()
	a := PersonCandidate{FullName: "Maria Garcia Lopez", BirthDate: "1980-03-14", Gender: "female"}
	b := PersonCandidate{FullName: "Maria Garcia", BirthDate: "1979-01-01", Gender: "female"}
	m := MatchPersons(a, b, cfg)
	require.True(t, m.Matched)
	assert.Equal(t, TierLow, m.Tier)
}

func TestMatchPersonsNoMatch(t *testing.T) {
	cfg := DefaultConfig()
	a := PersonCandidate{FullName: "Maria Garcia", NationalID: "111"}
	b := PersonCandidate{FullName: "John Smith", NationalID: "222"}
	m := MatchPersons(a, b, cfg)
	assert.False(t, m.Matched)
}

func TestMatchPropertiesParcelID(t *testing.T) {
	cfg := DefaultConfig()
	a := PropertyCandidate{ParcelID: "PAR-001"}
	b := PropertyCandidate{ParcelID: "par 001"}
	m := MatchProperties(a, b, cfg)
	require.True(t, m.Matched)
	assert.Equal(t, TierHigh, m.Tier)
}

func TestMatchPropertiesBBoxOverlap(t *testing.T) {
	cfg := DefaultConfig()
	a := PropertyCandidate{BBox: "0,0,10,10"}
	b := PropertyCandidate{BBox: "1,1,9,9"}
	m := MatchProperties(a, b, cfg)
	require.True(t, m.Matched)
	assert.Equal(t, TierLow, m.Tier)

	// disjoint parcels never match on geometry
	c := PropertyCandidate{BBox: "100,100,110,110"}
	assert.False(t, MatchProperties(a, c, cfg).Matched)
}
