package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func floatPtr(f float64) *float64 { return &f }

func TestSpecExtractor_Parse(t *testing.T) {
	extractor := NewSpecExtractor(DefaultVocabulary())

	tests := []struct {
		name         string
		variant      string
		horsepower   *int
		transmission Transmission
		awd          bool
		core         string
	}{
		{
			name:         "hot hatch with DSG",
			variant:      "GTI 245 HK DSG",
			horsepower:   intPtr(245),
			transmission: TransmissionAutomatic,
			core:         "GTI",
		},
		{
			name:         "BMW xDrive prefix",
			variant:      "xDrive30d 286 HK Automatgear Mild Hybrid",
			horsepower:   intPtr(286),
			transmission: TransmissionAutomatic,
			awd:          true,
			core:         "30d",
		},
		{
			name:         "displacement is not horsepower",
			variant:      "1.5 TSI 150 HK Manuel",
			horsepower:   intPtr(150),
			transmission: TransmissionManual,
			core:         "1.5",
		},
		{
			name:         "multi-word automatic token and quattro",
			variant:      "Sportback 40 TFSI Quattro S Tronic 204 hk",
			horsepower:   intPtr(204),
			transmission: TransmissionAutomatic,
			awd:          true,
			core:         "Sportback",
		},
		{
			name:         "abbreviated automatic",
			variant:      "Comfort 110 HK aut.",
			horsepower:   intPtr(110),
			transmission: TransmissionAutomatic,
			core:         "Comfort",
		},
		{
			name:         "unit glued to number",
			variant:      "e-tron 300hp",
			horsepower:   intPtr(300),
			transmission: TransmissionUnknown,
			core:         "e-tron",
		},
		{
			name:         "plain trim name",
			variant:      "Active",
			transmission: TransmissionUnknown,
			core:         "Active",
		},
		{
			name:         "empty variant",
			variant:      "",
			transmission: TransmissionUnknown,
			core:         "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			specs := extractor.Parse(tc.variant)

			if tc.horsepower == nil {
				assert.Nil(t, specs.Horsepower)
			} else {
				require.NotNil(t, specs.Horsepower)
				assert.Equal(t, *tc.horsepower, *specs.Horsepower)
			}
			assert.Equal(t, tc.transmission, specs.Transmission)
			assert.Equal(t, tc.awd, specs.AWD)
			assert.Equal(t, tc.core, specs.CoreVariant)
		})
	}
}

func TestSpecExtractor_Parse_TokensInsideWordsIgnored(t *testing.T) {
	extractor := NewSpecExtractor(DefaultVocabulary())

	specs := extractor.Parse("Manualine 120 HK")

	assert.Equal(t, TransmissionUnknown, specs.Transmission)
	assert.Equal(t, "Manualine", specs.CoreVariant)
}

func TestSpecExtractor_Parse_CustomVocabulary(t *testing.T) {
	vocab := DefaultVocabulary()
	vocab.AutomaticTokens = append(vocab.AutomaticTokens, "Steptronic")
	extractor := NewSpecExtractor(vocab)

	specs := extractor.Parse("M340i 374 HK Steptronic")

	assert.Equal(t, TransmissionAutomatic, specs.Transmission)
	assert.Equal(t, "M340i", specs.CoreVariant)
}

func TestSpecExtractor_Resolve_ExplicitFieldsWin(t *testing.T) {
	extractor := NewSpecExtractor(DefaultVocabulary())

	specs := extractor.Resolve(CarSpec{
		Variant:      "Style 150 HK DSG",
		Horsepower:   intPtr(150),
		Transmission: TransmissionManual,
	})

	require.NotNil(t, specs.Horsepower)
	assert.Equal(t, 150, *specs.Horsepower)
	assert.Equal(t, TransmissionManual, specs.Transmission)
	assert.Equal(t, "Style", specs.CoreVariant)

	parsed := extractor.Resolve(CarSpec{Variant: "Style 150 HK DSG"})
	assert.Equal(t, TransmissionAutomatic, parsed.Transmission)
}

func TestParseTransmission(t *testing.T) {
	assert.Equal(t, TransmissionAutomatic, ParseTransmission("Automatgear"))
	assert.Equal(t, TransmissionAutomatic, ParseTransmission(" automatic "))
	assert.Equal(t, TransmissionManual, ParseTransmission("Manuel"))
	assert.Equal(t, TransmissionUnknown, ParseTransmission("semi"))
	assert.Equal(t, TransmissionUnknown, ParseTransmission(""))
}
