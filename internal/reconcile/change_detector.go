package reconcile

import "strings"

// Field names reported in Changes.
const (
	FieldVariant             = "variant"
	FieldHorsepower          = "horsepower"
	FieldTransmission        = "transmission"
	FieldYear                = "year"
	FieldWLTP                = "wltp"
	FieldCO2Emission         = "co2_emission"
	FieldConsumptionL100km   = "consumption_l_100km"
	FieldConsumptionKWh100km = "consumption_kwh_100km"
	FieldCO2TaxHalfYear      = "co2_tax_half_year"
	// FieldOffers only ever appears in change summaries, never in Changes.
	FieldOffers = "offers"
)

// DetectFieldChanges compares the scalar fields of a matched pair. A field is
// reported only when it is populated on the extracted side and differs from the
// existing side. Returns nil when nothing differs. Offers are not compared here;
// see CompareOfferArrays.
func DetectFieldChanges(extracted ExtractedCar, existing ExistingListing) Changes {
	var changes Changes
	record := func(field string, old, next interface{}) {
		if changes == nil {
			changes = Changes{}
		}
		changes[field] = FieldChange{Old: old, New: next}
	}

	ext, cur := extracted.CarSpec, existing.CarSpec

	if ext.Variant != "" && ext.Variant != cur.Variant {
		record(FieldVariant, cur.Variant, ext.Variant)
	}
	if ext.Transmission.Known() && ext.Transmission != cur.Transmission {
		var old interface{}
		if cur.Transmission.Known() {
			old = string(cur.Transmission)
		}
		record(FieldTransmission, old, string(ext.Transmission))
	}

	intFields := []struct {
		name     string
		ext, cur *int
	}{
		{FieldHorsepower, ext.Horsepower, cur.Horsepower},
		{FieldYear, ext.Year, cur.Year},
	}
	for _, f := range intFields {
		if f.ext != nil && (f.cur == nil || *f.ext != *f.cur) {
			record(f.name, derefInt(f.cur), *f.ext)
		}
	}

	floatFields := []struct {
		name     string
		ext, cur *float64
	}{
		{FieldWLTP, ext.WLTP, cur.WLTP},
		{FieldCO2Emission, ext.CO2Emission, cur.CO2Emission},
		{FieldConsumptionL100km, ext.ConsumptionL100km, cur.ConsumptionL100km},
		{FieldConsumptionKWh100km, ext.ConsumptionKWh100km, cur.ConsumptionKWh100km},
		{FieldCO2TaxHalfYear, ext.CO2TaxHalfYear, cur.CO2TaxHalfYear},
	}
	for _, f := range floatFields {
		if f.ext != nil && (f.cur == nil || *f.ext != *f.cur) {
			record(f.name, derefFloat(f.cur), *f.ext)
		}
	}

	return changes
}

func derefInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func derefFloat(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// describeChanges renders the review-screen summary, e.g. "horsepower, offers".
func describeChanges(changes Changes, offersChanged bool) string {
	fields := changes.Fields()
	if offersChanged {
		fields = append(fields, FieldOffers)
	}
	return strings.Join(fields, ", ")
}
