package reconcile

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Vocabulary is the static dealer-notation configuration used to read
// technical qualifiers out of free-text variant names.
type Vocabulary struct {
	AutomaticTokens  []string
	ManualTokens     []string
	DrivetrainTokens []string
	PowerUnits       []string
}

// DefaultVocabulary returns the notation found in Danish dealer price lists.
// Each call returns fresh slices, so callers may extend the result freely.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		AutomaticTokens:  []string{"DSG", "S Tronic", "Automatgear", "Automatik", "Automatic", "aut."},
		ManualTokens:     []string{"Manual", "Manuel"},
		DrivetrainTokens: []string{"xDrive", "4Motion", "AWD", "4WD", "Quattro", "Allrad"},
		PowerUnits:       []string{"hk", "hp"},
	}
}

// VariantSpecs are the technical attributes recovered from a variant string.
type VariantSpecs struct {
	Horsepower   *int         `json:"horsepower,omitempty"`
	Transmission Transmission `json:"transmission,omitempty"`
	AWD          bool         `json:"awd"`
	// CoreVariant is a lossy canonical trim name used only for composite keys.
	CoreVariant string `json:"core_variant"`
}

// SpecExtractor parses variant strings with patterns compiled once from a Vocabulary.
// It is safe for concurrent use.
type SpecExtractor struct {
	horsepower *regexp.Regexp
	automatic  *regexp.Regexp
	manual     *regexp.Regexp
	drivetrain *regexp.Regexp
}

// NewSpecExtractor compiles the patterns for the given vocabulary.
func NewSpecExtractor(vocab Vocabulary) *SpecExtractor {
	return &SpecExtractor{
		// A plain integer token (not the tail of 1.5 or 2,0) followed by a power unit.
		horsepower: regexp.MustCompile(`(?i)(?:^|[^\d.,])((\d+)\s*(?:` + alternation(vocab.PowerUnits, false) + `))(?:$|[^\p{L}\p{N}])`),
		automatic:  tokenPattern(vocab.AutomaticTokens),
		manual:     tokenPattern(vocab.ManualTokens),
		// Drivetrain markers are plain substrings: "xDrive30d" carries one.
		drivetrain: regexp.MustCompile(`(?i)` + alternation(vocab.DrivetrainTokens, false)),
	}
}

// tokenPattern matches any of the tokens as a standalone word. Group 1 is the token.
func tokenPattern(tokens []string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(` + alternation(tokens, true) + `)(?:$|[^\p{L}\p{N}])`)
}

func alternation(tokens []string, flexibleSpace bool) string {
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		quoted := regexp.QuoteMeta(tok)
		if flexibleSpace {
			quoted = strings.ReplaceAll(quoted, " ", `[\s-]*`)
		}
		parts = append(parts, quoted)
	}
	if len(parts) == 0 {
		// Matches nothing.
		return `[^\s\S]`
	}
	return strings.Join(parts, "|")
}

// Parse extracts horsepower, transmission, drivetrain and the core variant name.
//
//	"GTI 245 HK DSG"                           -> 245 hp, automatic, core "GTI"
//	"xDrive30d 286 HK Automatgear Mild Hybrid" -> 286 hp, automatic, AWD, core "30d"
func (e *SpecExtractor) Parse(variant string) VariantSpecs {
	var specs VariantSpecs

	if m := e.horsepower.FindStringSubmatch(variant); m != nil {
		if hp, err := strconv.Atoi(m[2]); err == nil {
			specs.Horsepower = &hp
		}
	}

	specs.Transmission = e.transmission(variant)
	specs.AWD = e.drivetrain.MatchString(variant)

	stripped := stripGroup(e.horsepower, variant)
	stripped = stripGroup(e.automatic, stripped)
	stripped = stripGroup(e.manual, stripped)
	stripped = e.drivetrain.ReplaceAllString(stripped, " ")
	specs.CoreVariant = firstMeaningfulToken(stripped)

	return specs
}

// transmission picks the synonym set whose token occurs first in the string.
func (e *SpecExtractor) transmission(variant string) Transmission {
	auto := e.automatic.FindStringSubmatchIndex(variant)
	manual := e.manual.FindStringSubmatchIndex(variant)
	switch {
	case auto == nil && manual == nil:
		return TransmissionUnknown
	case manual == nil:
		return TransmissionAutomatic
	case auto == nil:
		return TransmissionManual
	case auto[2] <= manual[2]:
		return TransmissionAutomatic
	default:
		return TransmissionManual
	}
}

// stripGroup blanks out group 1 of every match. Matches are removed one at a
// time because adjacent tokens share the separator the pattern consumes.
func stripGroup(re *regexp.Regexp, s string) string {
	for {
		loc := re.FindStringSubmatchIndex(s)
		if loc == nil || loc[2] < 0 {
			return s
		}
		s = s[:loc[2]] + " " + s[loc[3]:]
	}
}

func firstMeaningfulToken(s string) string {
	for _, field := range strings.Fields(s) {
		tok := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if tok != "" {
			return tok
		}
	}
	return ""
}

// Resolve merges the explicit attributes of a record over what its variant
// string reveals. Explicit horsepower and transmission win; drivetrain is only
// ever known from the variant text.
func (e *SpecExtractor) Resolve(car CarSpec) VariantSpecs {
	specs := e.Parse(car.Variant)
	if car.Horsepower != nil {
		hp := *car.Horsepower
		specs.Horsepower = &hp
	}
	if car.Transmission.Known() {
		specs.Transmission = car.Transmission
	}
	return specs
}
