// Package reconcile matches a freshly extracted dealer price list against the
// dealer's existing catalog and decides which listings to create, update or delete.
//
// Everything in this package is a pure function of its inputs plus static
// configuration: no I/O, no shared mutable state between runs.
package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Transmission is the gearbox type of a vehicle. The empty value means unknown.
type Transmission string

const (
	TransmissionUnknown   Transmission = ""
	TransmissionAutomatic Transmission = "automatic"
	TransmissionManual    Transmission = "manual"
)

// Known reports whether the transmission carries a real value.
func (t Transmission) Known() bool {
	return t == TransmissionAutomatic || t == TransmissionManual
}

// UnmarshalJSON accepts the canonical values as well as the Danish spellings
// dealers use. Anything unrecognised decodes to TransmissionUnknown.
func (t *Transmission) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = TransmissionUnknown
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("transmission: %w", err)
	}
	*t = ParseTransmission(raw)
	return nil
}

// ParseTransmission maps a free-form transmission value to a Transmission.
func ParseTransmission(s string) Transmission {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "automatic", "auto", "automatisk", "automatgear", "automatik", "aut.", "dsg", "cvt":
		return TransmissionAutomatic
	case "manual", "manuel", "manuelt", "manuel gear":
		return TransmissionManual
	default:
		return TransmissionUnknown
	}
}

// MatchMethod records which lookup stage paired an extracted record with a listing.
type MatchMethod string

const (
	MatchExact     MatchMethod = "exact"
	MatchComposite MatchMethod = "composite"
	MatchFuzzy     MatchMethod = "fuzzy"
	MatchUnmatched MatchMethod = "unmatched"
)

// ChangeType is the decision taken for one record.
type ChangeType string

const (
	ChangeCreate    ChangeType = "create"
	ChangeUpdate    ChangeType = "update"
	ChangeDelete    ChangeType = "delete"
	ChangeUnchanged ChangeType = "unchanged"
)

// CarSpec is the attribute set shared by extracted records and catalog listings.
// Optional attributes are pointers so that "unknown" is never confused with zero.
type CarSpec struct {
	Make                string       `json:"make"`
	Model               string       `json:"model"`
	Variant             string       `json:"variant"`
	Horsepower          *int         `json:"horsepower,omitempty"`
	Transmission        Transmission `json:"transmission,omitempty"`
	FuelType            string       `json:"fuel_type,omitempty"`
	BodyType            string       `json:"body_type,omitempty"`
	Year                *int         `json:"year,omitempty"`
	WLTP                *float64     `json:"wltp,omitempty"`
	CO2Emission         *float64     `json:"co2_emission,omitempty"`
	ConsumptionL100km   *float64     `json:"consumption_l_100km,omitempty"`
	ConsumptionKWh100km *float64     `json:"consumption_kwh_100km,omitempty"`
	CO2TaxHalfYear      *float64     `json:"co2_tax_half_year,omitempty"`
	// Offers is nil when the source carried no offer collection at all,
	// and an empty slice when it carried an empty one.
	Offers []Offer `json:"offers"`
}

// ExtractedCar is a candidate record produced by the upstream extractor.
type ExtractedCar struct {
	CarSpec
}

// ExistingListing is a persisted catalog row. The engine never mutates it.
type ExistingListing struct {
	ID string `json:"id"`
	CarSpec
}

// FieldChange holds the old and new value of one changed field.
type FieldChange struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// Changes maps a field name to its change. A nil Changes means nothing differs.
type Changes map[string]FieldChange

// Fields returns the changed field names in sorted order.
func (c Changes) Fields() []string {
	fields := make([]string, 0, len(c))
	for f := range c {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// ListingMatch is one decision emitted by the engine.
type ListingMatch struct {
	Extracted *ExtractedCar    `json:"extracted"`
	Existing  *ExistingListing `json:"existing"`
	// ExtractedIndex is the position of Extracted in the input batch, -1 for deletes.
	ExtractedIndex int         `json:"extractedIndex"`
	Confidence     float64     `json:"confidence"`
	MatchMethod    MatchMethod `json:"matchMethod"`
	ChangeType     ChangeType  `json:"changeType"`
	Changes        Changes     `json:"changes,omitempty"`
	OffersChanged  bool        `json:"offersChanged"`
	ChangeSummary  string      `json:"changeSummary,omitempty"`
}

// Summary aggregates a reconciliation run for logs and the review screen.
type Summary struct {
	Extracted int `json:"extracted"`
	Existing  int `json:"existing"`
	Creates   int `json:"creates"`
	Updates   int `json:"updates"`
	Unchanged int `json:"unchanged"`
	Deletes   int `json:"deletes"`
	Retained  int `json:"retained"`
	Exact     int `json:"exact"`
	Composite int `json:"composite"`
	Fuzzy     int `json:"fuzzy"`
	Offers    int `json:"offers"`
}

// Result is the full decision set of one run.
type Result struct {
	Matches []ListingMatch `json:"matches"`
	// Retained lists unclaimed listings spared by a scoped deletion policy.
	Retained []ExistingListing `json:"retained,omitempty"`
	Summary  Summary           `json:"summary"`
}

// ByChangeType returns the decisions of one change type, in result order.
func (r *Result) ByChangeType(ct ChangeType) []ListingMatch {
	var out []ListingMatch
	for _, m := range r.Matches {
		if m.ChangeType == ct {
			out = append(out, m)
		}
	}
	return out
}

func summarize(matches []ListingMatch, extracted []ExtractedCar, existingCount, retained int) Summary {
	s := Summary{
		Extracted: len(extracted),
		Existing:  existingCount,
		Retained:  retained,
	}
	for _, car := range extracted {
		s.Offers += len(car.Offers)
	}
	for _, m := range matches {
		switch m.ChangeType {
		case ChangeCreate:
			s.Creates++
		case ChangeUpdate:
			s.Updates++
		case ChangeUnchanged:
			s.Unchanged++
		case ChangeDelete:
			s.Deletes++
		}
		if m.ChangeType == ChangeDelete {
			continue
		}
		switch m.MatchMethod {
		case MatchExact:
			s.Exact++
		case MatchComposite:
			s.Composite++
		case MatchFuzzy:
			s.Fuzzy++
		}
	}
	return s
}
