package reconcile

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// ScoringConfig tunes the match confidence scorer and the acceptance threshold.
type ScoringConfig struct {
	// MatchThreshold gates whether a composite or fuzzy candidate is accepted.
	MatchThreshold float64 `yaml:"match_threshold"`
	// HorsepowerTolerance is the gap (in hp) treated as OCR or rounding noise.
	HorsepowerTolerance int `yaml:"horsepower_tolerance"`
	// VariantPenaltyWeight scales 1 - similarity of the variant strings.
	VariantPenaltyWeight float64 `yaml:"variant_penalty_weight"`
	// HorsepowerMaxPenalty caps the proportional horsepower penalty.
	HorsepowerMaxPenalty float64 `yaml:"horsepower_max_penalty"`
	TransmissionPenalty  float64 `yaml:"transmission_penalty"`
	DrivetrainPenalty    float64 `yaml:"drivetrain_penalty"`
}

// DefaultScoringConfig returns the production weights.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		MatchThreshold:       0.85,
		HorsepowerTolerance:  5,
		VariantPenaltyWeight: 0.5,
		HorsepowerMaxPenalty: 0.3,
		TransmissionPenalty:  0.2,
		DrivetrainPenalty:    0.1,
	}
}

// MatchScorer estimates how likely two records denote the same physical trim.
type MatchScorer struct {
	cfg   ScoringConfig
	specs *SpecExtractor
}

// NewMatchScorer creates a scorer. A nil extractor uses the default vocabulary.
func NewMatchScorer(cfg ScoringConfig, specs *SpecExtractor) *MatchScorer {
	if specs == nil {
		specs = NewSpecExtractor(DefaultVocabulary())
	}
	return &MatchScorer{cfg: cfg, specs: specs}
}

// Threshold returns the configured acceptance threshold.
func (s *MatchScorer) Threshold() float64 {
	return s.cfg.MatchThreshold
}

// Accepts reports whether a confidence clears the acceptance threshold.
func (s *MatchScorer) Accepts(confidence float64) bool {
	return confidence >= s.cfg.MatchThreshold
}

// CalculateMatchConfidence returns a score in [0,1]. Make and model must agree
// (case-insensitively) for any non-zero score. Attributes missing on either side
// are never penalized.
func (s *MatchScorer) CalculateMatchConfidence(extracted, existing CarSpec) float64 {
	return s.score(s.profile(extracted), s.profile(existing))
}

// scoreProfile is a record with its derived matching attributes precomputed.
type scoreProfile struct {
	makeModel string
	variant   string
	specs     VariantSpecs
}

func (s *MatchScorer) profile(car CarSpec) scoreProfile {
	return scoreProfile{
		makeModel: makeModelKey(car.Make, car.Model),
		variant:   normalizeVariantText(car.Variant),
		specs:     s.specs.Resolve(car),
	}
}

func (s *MatchScorer) score(a, b scoreProfile) float64 {
	if a.makeModel != b.makeModel || a.makeModel == keySeparator {
		return 0
	}

	confidence := 1.0

	if a.variant != b.variant {
		confidence -= s.cfg.VariantPenaltyWeight * (1 - StringSimilarity(a.variant, b.variant))
	}

	if a.specs.Horsepower != nil && b.specs.Horsepower != nil {
		confidence -= s.horsepowerPenalty(*a.specs.Horsepower, *b.specs.Horsepower)
	}

	if a.specs.Transmission.Known() && b.specs.Transmission.Known() &&
		a.specs.Transmission != b.specs.Transmission {
		confidence -= s.cfg.TransmissionPenalty
	}

	if a.specs.AWD != b.specs.AWD {
		confidence -= s.cfg.DrivetrainPenalty
	}

	return math.Max(0, math.Min(1, confidence))
}

// horsepowerPenalty grows with the relative gap once it exceeds the tolerance.
func (s *MatchScorer) horsepowerPenalty(a, b int) float64 {
	gap := a - b
	if gap < 0 {
		gap = -gap
	}
	if gap <= s.cfg.HorsepowerTolerance {
		return 0
	}
	larger := a
	if b > larger {
		larger = b
	}
	if larger <= 0 {
		return s.cfg.HorsepowerMaxPenalty
	}
	return math.Min(s.cfg.HorsepowerMaxPenalty, float64(gap)/float64(larger))
}

func normalizeVariantText(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}

// LevenshteinDistance returns the edit distance between a and b.
// It is case-sensitive; callers fold case beforehand when needed.
func LevenshteinDistance(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}

// StringSimilarity returns (len(longer) - distance) / len(longer), counted in runes.
// Two empty strings are identical.
func StringSimilarity(a, b string) float64 {
	longer := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longer {
		longer = n
	}
	if longer == 0 {
		return 1
	}
	return float64(longer-LevenshteinDistance(a, b)) / float64(longer)
}
