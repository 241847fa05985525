package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchScorer_CalculateMatchConfidence(t *testing.T) {
	scorer := NewMatchScorer(DefaultScoringConfig(), nil)

	base := CarSpec{Make: "Skoda", Model: "Octavia", Variant: "Style"}
	with := func(mutate func(*CarSpec)) CarSpec {
		c := base
		mutate(&c)
		return c
	}

	tests := []struct {
		name     string
		a, b     CarSpec
		expected float64
	}{
		{
			name:     "identical records",
			a:        base,
			b:        base,
			expected: 1.0,
		},
		{
			name:     "make and model compare case-insensitively",
			a:        base,
			b:        with(func(c *CarSpec) { c.Make, c.Model = "SKODA", "octavia" }),
			expected: 1.0,
		},
		{
			name:     "different model",
			a:        base,
			b:        with(func(c *CarSpec) { c.Model = "Superb" }),
			expected: 0,
		},
		{
			name:     "horsepower within tolerance",
			a:        with(func(c *CarSpec) { c.Horsepower = intPtr(150) }),
			b:        with(func(c *CarSpec) { c.Horsepower = intPtr(155) }),
			expected: 1.0,
		},
		{
			name:     "proportional horsepower penalty",
			a:        with(func(c *CarSpec) { c.Horsepower = intPtr(150) }),
			b:        with(func(c *CarSpec) { c.Horsepower = intPtr(200) }),
			expected: 0.75,
		},
		{
			name:     "horsepower penalty is capped",
			a:        with(func(c *CarSpec) { c.Horsepower = intPtr(100) }),
			b:        with(func(c *CarSpec) { c.Horsepower = intPtr(300) }),
			expected: 0.7,
		},
		{
			name:     "missing horsepower is not penalized",
			a:        with(func(c *CarSpec) { c.Horsepower = intPtr(150) }),
			b:        base,
			expected: 1.0,
		},
		{
			name:     "transmission conflict",
			a:        with(func(c *CarSpec) { c.Transmission = TransmissionManual }),
			b:        with(func(c *CarSpec) { c.Transmission = TransmissionAutomatic }),
			expected: 0.8,
		},
		{
			name:     "unknown transmission is not penalized",
			a:        with(func(c *CarSpec) { c.Transmission = TransmissionManual }),
			b:        base,
			expected: 1.0,
		},
		{
			name:     "variant text similarity",
			a:        with(func(c *CarSpec) { c.Variant = "Style 150 HK" }),
			b:        with(func(c *CarSpec) { c.Variant = "Style 150 HK DSG" }),
			expected: 0.875,
		},
		{
			name:     "variant whitespace and case are ignored",
			a:        with(func(c *CarSpec) { c.Variant = "Style  150 HK" }),
			b:        with(func(c *CarSpec) { c.Variant = "style 150 hk" }),
			expected: 1.0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, scorer.CalculateMatchConfidence(tc.a, tc.b), 1e-9)
			assert.InDelta(t, tc.expected, scorer.CalculateMatchConfidence(tc.b, tc.a), 1e-9)
		})
	}
}

func TestMatchScorer_EmptyMakeAndModelNeverMatch(t *testing.T) {
	scorer := NewMatchScorer(DefaultScoringConfig(), nil)

	assert.Equal(t, 0.0, scorer.CalculateMatchConfidence(CarSpec{Variant: "Style"}, CarSpec{Variant: "Style"}))
}

func TestMatchScorer_ClampsToZero(t *testing.T) {
	scorer := NewMatchScorer(DefaultScoringConfig(), nil)

	a := CarSpec{Make: "BMW", Model: "X3", Variant: "xDrive30e 292 HK", Transmission: TransmissionManual}
	b := CarSpec{Make: "BMW", Model: "X3", Variant: "sDrive18d 150 HK", Transmission: TransmissionAutomatic}

	score := scorer.CalculateMatchConfidence(a, b)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.Less(t, score, 0.5)
}

func TestMatchScorer_Accepts(t *testing.T) {
	scorer := NewMatchScorer(DefaultScoringConfig(), nil)

	assert.Equal(t, 0.85, scorer.Threshold())
	assert.True(t, scorer.Accepts(0.85))
	assert.True(t, scorer.Accepts(0.9))
	assert.False(t, scorer.Accepts(0.849))
}

func TestLevenshteinDistance(t *testing.T) {
	assert.Equal(t, 3, LevenshteinDistance("kitten", "sitting"))
	assert.Equal(t, 0, LevenshteinDistance("", ""))
	assert.Equal(t, 4, LevenshteinDistance("", "golf"))
	assert.Equal(t, 1, LevenshteinDistance("Golf", "golf"))
}

func TestStringSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, StringSimilarity("", ""))
	assert.Equal(t, 1.0, StringSimilarity("style", "style"))
	assert.Equal(t, 0.0, StringSimilarity("", "style"))
	assert.InDelta(t, 0.75, StringSimilarity("æble", "able"), 1e-9)
}
