package reconcile

import (
	"strconv"
	"strings"
)

const keySeparator = "|"

// GenerateExactKey returns make|model|variant, case-folded and otherwise untouched.
// Transmission is deliberately not part of the key: two listings that differ only
// in transmission are the same dealer-catalog entry and must collide here.
func GenerateExactKey(brand, model, variant string) string {
	return strings.ToLower(brand) + keySeparator + strings.ToLower(model) + keySeparator + strings.ToLower(variant)
}

// GenerateCompositeKey returns make|model|core|<hp>hp|transmission[|awd].
// Unknown horsepower or transmission leave their segment empty so that keys
// stay positionally aligned.
func GenerateCompositeKey(brand, model string, specs VariantSpecs) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(brand))
	b.WriteString(keySeparator)
	b.WriteString(strings.ToLower(model))
	b.WriteString(keySeparator)
	b.WriteString(strings.ToLower(specs.CoreVariant))
	b.WriteString(keySeparator)
	if specs.Horsepower != nil {
		b.WriteString(strconv.Itoa(*specs.Horsepower))
		b.WriteString("hp")
	}
	b.WriteString(keySeparator)
	b.WriteString(string(specs.Transmission))
	if specs.AWD {
		b.WriteString(keySeparator)
		b.WriteString("awd")
	}
	return b.String()
}

// CompositeKeyFor resolves a record's specs and returns its composite key.
func (e *SpecExtractor) CompositeKeyFor(car CarSpec) string {
	return GenerateCompositeKey(car.Make, car.Model, e.Resolve(car))
}

func makeModelKey(brand, model string) string {
	return strings.ToLower(strings.TrimSpace(brand)) + keySeparator + strings.ToLower(strings.TrimSpace(model))
}
