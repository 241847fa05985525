package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Modal contract terms on the Danish private-leasing market.
const (
	DefaultPeriodMonths   = 36
	DefaultMileagePerYear = 15000
)

// Offer is one lease financing term set as it arrives from the extractor or the
// catalog. Every field is optional; NormalizeOffer fills the gaps.
//
// On the wire an offer is either an object with named fields or a positional
// array [monthly_price, first_payment, period_months, mileage_per_year, total_price?].
type Offer struct {
	MonthlyPrice   *float64 `json:"monthly_price,omitempty"`
	FirstPayment   *float64 `json:"first_payment,omitempty"`
	PeriodMonths   *float64 `json:"period_months,omitempty"`
	MileagePerYear *float64 `json:"mileage_per_year,omitempty"`
	TotalPrice     *float64 `json:"total_price,omitempty"`
}

// UnmarshalJSON accepts both the positional array and the named-field object.
func (o *Offer) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var tuple []*float64
		if err := json.Unmarshal(trimmed, &tuple); err != nil {
			return fmt.Errorf("offer tuple: %w", err)
		}
		*o = offerFromTuple(tuple)
		return nil
	}

	type plain Offer
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return fmt.Errorf("offer object: %w", err)
	}
	*o = Offer(p)
	return nil
}

func offerFromTuple(tuple []*float64) Offer {
	at := func(i int) *float64 {
		if i < len(tuple) {
			return tuple[i]
		}
		return nil
	}
	return Offer{
		MonthlyPrice:   at(0),
		FirstPayment:   at(1),
		PeriodMonths:   at(2),
		MileagePerYear: at(3),
		TotalPrice:     at(4),
	}
}

// NewOffer builds an offer with every comparable field set.
func NewOffer(monthly, first float64, periodMonths, mileagePerYear int) Offer {
	period := float64(periodMonths)
	mileage := float64(mileagePerYear)
	return Offer{
		MonthlyPrice:   &monthly,
		FirstPayment:   &first,
		PeriodMonths:   &period,
		MileagePerYear: &mileage,
	}
}

// NormalizedOffer is the canonical, fully populated shape used for comparison.
type NormalizedOffer struct {
	MonthlyPrice   float64 `json:"monthly_price"`
	FirstPayment   float64 `json:"first_payment"`
	PeriodMonths   int     `json:"period_months"`
	MileagePerYear int     `json:"mileage_per_year"`
}

// TotalPrice returns the derived total cost of the contract.
func (n NormalizedOffer) TotalPrice() float64 {
	return CalculateTotalPrice(n.MonthlyPrice, n.PeriodMonths, n.FirstPayment)
}

// CalculateTotalPrice returns periodMonths*monthly + firstPayment.
// The first payment is optional and defaults to zero.
func CalculateTotalPrice(monthly float64, periodMonths int, firstPayment ...float64) float64 {
	total := float64(periodMonths) * monthly
	if len(firstPayment) > 0 {
		total += firstPayment[0]
	}
	return total
}

// NormalizeOffer converts any supported offer representation into its canonical
// form. Supported inputs: Offer, *Offer, NormalizedOffer, positional slices
// ([]float64, []int, []interface{}) and map[string]interface{} with named fields.
// Missing prices become 0, a missing or zero period becomes 36 months and a
// missing or zero mileage becomes 15000 km. Unsupported inputs normalize to the
// defaults rather than failing.
func NormalizeOffer(v interface{}) NormalizedOffer {
	switch o := v.(type) {
	case NormalizedOffer:
		return fillDefaults(o)
	case *NormalizedOffer:
		if o == nil {
			return fillDefaults(NormalizedOffer{})
		}
		return fillDefaults(*o)
	case Offer:
		return normalizeFields(o.MonthlyPrice, o.FirstPayment, o.PeriodMonths, o.MileagePerYear)
	case *Offer:
		if o == nil {
			return fillDefaults(NormalizedOffer{})
		}
		return NormalizeOffer(*o)
	case []float64:
		tuple := make([]*float64, len(o))
		for i := range o {
			tuple[i] = &o[i]
		}
		return NormalizeOffer(offerFromTuple(tuple))
	case []int:
		tuple := make([]*float64, len(o))
		for i, n := range o {
			f := float64(n)
			tuple[i] = &f
		}
		return NormalizeOffer(offerFromTuple(tuple))
	case []interface{}:
		tuple := make([]*float64, len(o))
		for i, el := range o {
			tuple[i] = toFloat(el)
		}
		return NormalizeOffer(offerFromTuple(tuple))
	case map[string]interface{}:
		return normalizeFields(
			toFloat(o["monthly_price"]),
			toFloat(o["first_payment"]),
			toFloat(o["period_months"]),
			toFloat(o["mileage_per_year"]),
		)
	default:
		return fillDefaults(NormalizedOffer{})
	}
}

func normalizeFields(monthly, first, period, mileage *float64) NormalizedOffer {
	var n NormalizedOffer
	if monthly != nil {
		n.MonthlyPrice = *monthly
	}
	if first != nil {
		n.FirstPayment = *first
	}
	if period != nil {
		n.PeriodMonths = int(*period)
	}
	if mileage != nil {
		n.MileagePerYear = int(*mileage)
	}
	return fillDefaults(n)
}

func fillDefaults(n NormalizedOffer) NormalizedOffer {
	if n.PeriodMonths == 0 {
		n.PeriodMonths = DefaultPeriodMonths
	}
	if n.MileagePerYear == 0 {
		n.MileagePerYear = DefaultMileagePerYear
	}
	return n
}

func toFloat(v interface{}) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil
		}
		f = parsed
	case *float64:
		return n
	default:
		return nil
	}
	return &f
}

// CompareOfferArrays reports whether two offer collections differ.
// A nil collection on either side always counts as changed, so incomplete
// records surface for review. Otherwise the collections are compared as sets:
// both sides are normalized and sorted before an element-wise comparison.
func CompareOfferArrays(a, b []Offer) bool {
	if a == nil || b == nil {
		return true
	}
	if len(a) != len(b) {
		return true
	}

	na := normalizeAndSort(a)
	nb := normalizeAndSort(b)
	for i := range na {
		if na[i] != nb[i] {
			return true
		}
	}
	return false
}

// OffersEqual reports whether two single offers are equal after normalization.
func OffersEqual(a, b interface{}) bool {
	return NormalizeOffer(a) == NormalizeOffer(b)
}

func normalizeAndSort(offers []Offer) []NormalizedOffer {
	out := make([]NormalizedOffer, len(offers))
	for i, o := range offers {
		out[i] = NormalizeOffer(o)
	}
	// Period is the last tie-breaker so that equal sets always sort identically.
	sort.SliceStable(out, func(i, j int) bool {
		x, y := out[i], out[j]
		if x.MonthlyPrice != y.MonthlyPrice {
			return x.MonthlyPrice < y.MonthlyPrice
		}
		if x.FirstPayment != y.FirstPayment {
			return x.FirstPayment < y.FirstPayment
		}
		if x.MileagePerYear != y.MileagePerYear {
			return x.MileagePerYear < y.MileagePerYear
		}
		return x.PeriodMonths < y.PeriodMonths
	})
	return out
}
