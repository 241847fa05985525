package reconcile

import (
	"math"
	"strings"
)

// DeletionPolicy decides which unclaimed catalog listings become deletes.
type DeletionPolicy string

const (
	// DeletionCatalogWide deletes every unclaimed listing of the dealer, so
	// uploading a partial price list removes everything it does not mention.
	DeletionCatalogWide DeletionPolicy = "catalog_wide"
	// DeletionScopedToModels deletes only unclaimed listings whose make and model
	// appear in the extracted batch. Other unclaimed listings are retained.
	DeletionScopedToModels DeletionPolicy = "scoped_to_models"
)

// AssignmentStrategy decides how extracted records are paired with listings.
type AssignmentStrategy string

const (
	// AssignmentGreedy processes extracted records in input order and lets the
	// first record that reaches a listing claim it.
	AssignmentGreedy AssignmentStrategy = "greedy"
	// AssignmentOptimal pairs records so that total confidence is maximal.
	AssignmentOptimal AssignmentStrategy = "optimal"
)

// Options configures a Reconciler.
type Options struct {
	Scoring        ScoringConfig
	Vocabulary     Vocabulary
	DeletionPolicy DeletionPolicy
	Assignment     AssignmentStrategy
}

// DefaultOptions returns the production configuration.
func DefaultOptions() Options {
	return Options{
		Scoring:        DefaultScoringConfig(),
		Vocabulary:     DefaultVocabulary(),
		DeletionPolicy: DeletionCatalogWide,
		Assignment:     AssignmentGreedy,
	}
}

// Reconciler turns an extracted batch and a catalog snapshot into decisions.
// A Reconciler holds only immutable configuration and is safe for concurrent use;
// all per-run state lives inside Reconcile.
type Reconciler struct {
	opts   Options
	specs  *SpecExtractor
	scorer *MatchScorer
}

// NewReconciler creates a Reconciler. Zero-valued option fields take their defaults.
func NewReconciler(opts Options) *Reconciler {
	defaults := DefaultOptions()
	if opts.Scoring == (ScoringConfig{}) {
		opts.Scoring = defaults.Scoring
	}
	if len(opts.Vocabulary.AutomaticTokens) == 0 && len(opts.Vocabulary.ManualTokens) == 0 &&
		len(opts.Vocabulary.DrivetrainTokens) == 0 && len(opts.Vocabulary.PowerUnits) == 0 {
		opts.Vocabulary = defaults.Vocabulary
	}
	if opts.DeletionPolicy == "" {
		opts.DeletionPolicy = defaults.DeletionPolicy
	}
	if opts.Assignment == "" {
		opts.Assignment = defaults.Assignment
	}

	specs := NewSpecExtractor(opts.Vocabulary)
	return &Reconciler{
		opts:   opts,
		specs:  specs,
		scorer: NewMatchScorer(opts.Scoring, specs),
	}
}

// Reconcile runs the engine with default options.
func Reconcile(extracted []ExtractedCar, existing []ExistingListing) *Result {
	return NewReconciler(DefaultOptions()).Reconcile(extracted, existing)
}

// Options returns the effective configuration.
func (r *Reconciler) Options() Options {
	return r.opts
}

// Scorer exposes the confidence scorer used by this reconciler.
func (r *Reconciler) Scorer() *MatchScorer {
	return r.scorer
}

type indexedListing struct {
	listing      *ExistingListing
	profile      scoreProfile
	exactKey     string
	compositeKey string
}

// catalogIndex holds the lookup structures built once per run. Composite and
// make+model keys are multimaps: collisions are expected and resolved by scoring.
type catalogIndex struct {
	entries        []indexedListing
	byExactKey     map[string][]int
	byCompositeKey map[string][]int
	byMakeModel    map[string][]int
}

type extractedProfile struct {
	profile      scoreProfile
	exactKey     string
	compositeKey string
	matchable    bool
}

// assignment pairs an extracted record with a catalog entry; entry is -1 when unmatched.
type assignment struct {
	entry      int
	method     MatchMethod
	confidence float64
}

var unmatched = assignment{entry: -1, method: MatchUnmatched}

func (r *Reconciler) buildIndex(existing []ExistingListing) *catalogIndex {
	idx := &catalogIndex{
		entries:        make([]indexedListing, 0, len(existing)),
		byExactKey:     make(map[string][]int),
		byCompositeKey: make(map[string][]int),
		byMakeModel:    make(map[string][]int),
	}

	seen := make(map[string]bool, len(existing))
	for i := range existing {
		listing := existing[i]
		if listing.ID != "" {
			if seen[listing.ID] {
				continue
			}
			seen[listing.ID] = true
		}

		profile := r.scorer.profile(listing.CarSpec)
		entry := indexedListing{
			listing:      &listing,
			profile:      profile,
			exactKey:     GenerateExactKey(listing.Make, listing.Model, listing.Variant),
			compositeKey: GenerateCompositeKey(listing.Make, listing.Model, profile.specs),
		}
		n := len(idx.entries)
		idx.entries = append(idx.entries, entry)
		idx.byExactKey[entry.exactKey] = append(idx.byExactKey[entry.exactKey], n)
		idx.byCompositeKey[entry.compositeKey] = append(idx.byCompositeKey[entry.compositeKey], n)
		idx.byMakeModel[profile.makeModel] = append(idx.byMakeModel[profile.makeModel], n)
	}
	return idx
}

func (r *Reconciler) profileExtracted(extracted []ExtractedCar) []extractedProfile {
	out := make([]extractedProfile, len(extracted))
	for i, car := range extracted {
		profile := r.scorer.profile(car.CarSpec)
		out[i] = extractedProfile{
			profile:      profile,
			exactKey:     GenerateExactKey(car.Make, car.Model, car.Variant),
			compositeKey: GenerateCompositeKey(car.Make, car.Model, profile.specs),
			matchable:    strings.TrimSpace(car.Make) != "" && strings.TrimSpace(car.Model) != "",
		}
	}
	return out
}

// Reconcile classifies every extracted record and every catalog listing.
// Decisions for extracted records come first, in input order, followed by
// deletes in catalog order. Identical inputs always yield identical results.
func (r *Reconciler) Reconcile(extracted []ExtractedCar, existing []ExistingListing) *Result {
	idx := r.buildIndex(existing)
	cars := r.profileExtracted(extracted)

	var assignments []assignment
	if r.opts.Assignment == AssignmentOptimal {
		assignments = r.assignOptimal(idx, cars)
	} else {
		assignments = r.assignGreedy(idx, cars)
	}

	claimed := make([]bool, len(idx.entries))
	matches := make([]ListingMatch, 0, len(extracted)+len(idx.entries))

	for i, a := range assignments {
		car := extracted[i]
		m := ListingMatch{
			Extracted:      &car,
			ExtractedIndex: i,
			MatchMethod:    MatchUnmatched,
			ChangeType:     ChangeCreate,
		}
		if a.entry >= 0 {
			claimed[a.entry] = true
			listing := idx.entries[a.entry].listing
			m.Existing = listing
			m.MatchMethod = a.method
			m.Confidence = a.confidence
			m.Changes = DetectFieldChanges(car, *listing)
			m.OffersChanged = CompareOfferArrays(car.Offers, listing.Offers)
			if m.Changes == nil && !m.OffersChanged {
				m.ChangeType = ChangeUnchanged
			} else {
				m.ChangeType = ChangeUpdate
				m.ChangeSummary = describeChanges(m.Changes, m.OffersChanged)
			}
		}
		matches = append(matches, m)
	}

	inBatch := make(map[string]bool, len(cars))
	for _, c := range cars {
		if c.matchable {
			inBatch[c.profile.makeModel] = true
		}
	}

	var retained []ExistingListing
	for e, entry := range idx.entries {
		if claimed[e] {
			continue
		}
		if r.opts.DeletionPolicy == DeletionScopedToModels && !inBatch[entry.profile.makeModel] {
			retained = append(retained, *entry.listing)
			continue
		}
		matches = append(matches, ListingMatch{
			Existing:       entry.listing,
			ExtractedIndex: -1,
			MatchMethod:    MatchUnmatched,
			ChangeType:     ChangeDelete,
		})
	}

	return &Result{
		Matches:  matches,
		Retained: retained,
		Summary:  summarize(matches, extracted, len(idx.entries), len(retained)),
	}
}

// assignGreedy walks the batch in order. Each accepted match claims its listing
// immediately, so later records competing for it must find another or become creates.
func (r *Reconciler) assignGreedy(idx *catalogIndex, cars []extractedProfile) []assignment {
	claimed := make([]bool, len(idx.entries))
	out := make([]assignment, len(cars))
	for i, c := range cars {
		a := r.findBestMatch(idx, c, claimed)
		if a.entry >= 0 {
			claimed[a.entry] = true
		}
		out[i] = a
	}
	return out
}

// findBestMatch tries exact key, then composite key, then a make+model scan.
func (r *Reconciler) findBestMatch(idx *catalogIndex, c extractedProfile, claimed []bool) assignment {
	if !c.matchable {
		return unmatched
	}

	// Several listings may share an exact key (same text, different gearbox);
	// the best-scoring unclaimed one wins.
	if e, _ := r.bestCandidate(idx, idx.byExactKey[c.exactKey], c, claimed); e >= 0 {
		return assignment{entry: e, method: MatchExact, confidence: 1.0}
	}

	if e, score := r.bestCandidate(idx, idx.byCompositeKey[c.compositeKey], c, claimed); e >= 0 && r.scorer.Accepts(score) {
		return assignment{entry: e, method: MatchComposite, confidence: score}
	}

	if e, score := r.bestCandidate(idx, idx.byMakeModel[c.profile.makeModel], c, claimed); e >= 0 && r.scorer.Accepts(score) {
		return assignment{entry: e, method: MatchFuzzy, confidence: score}
	}

	return unmatched
}

// bestCandidate returns the highest-scoring unclaimed candidate. Ties go to the
// candidate that appears first in the catalog.
func (r *Reconciler) bestCandidate(idx *catalogIndex, candidates []int, c extractedProfile, claimed []bool) (int, float64) {
	best, bestScore := -1, -1.0
	for _, e := range candidates {
		if claimed[e] {
			continue
		}
		score := r.scorer.score(c.profile, idx.entries[e].profile)
		if score > bestScore {
			best, bestScore = e, score
		}
	}
	return best, bestScore
}

// assignOptimal scores every eligible pair and solves the maximum-weight
// assignment, so one record's early claim cannot starve a better pairing.
func (r *Reconciler) assignOptimal(idx *catalogIndex, cars []extractedProfile) []assignment {
	rows, cols := len(cars), len(idx.entries)
	out := make([]assignment, rows)
	for i := range out {
		out[i] = unmatched
	}
	if rows == 0 || cols == 0 {
		return out
	}

	weights := make([][]float64, rows)
	methods := make([][]MatchMethod, rows)
	for i, c := range cars {
		weights[i] = make([]float64, cols)
		methods[i] = make([]MatchMethod, cols)
		if !c.matchable {
			continue
		}
		for _, e := range idx.byMakeModel[c.profile.makeModel] {
			entry := idx.entries[e]
			score := r.scorer.score(c.profile, entry.profile)
			switch {
			case entry.exactKey == c.exactKey:
				weights[i][e], methods[i][e] = 1.0, MatchExact
			case entry.compositeKey == c.compositeKey && r.scorer.Accepts(score):
				weights[i][e], methods[i][e] = score, MatchComposite
			case r.scorer.Accepts(score):
				weights[i][e], methods[i][e] = score, MatchFuzzy
			}
		}
	}

	for i, e := range maxWeightAssignment(weights, rows, cols) {
		if e < 0 || weights[i][e] <= 0 {
			continue
		}
		out[i] = assignment{entry: e, method: methods[i][e], confidence: weights[i][e]}
	}
	return out
}

// maxWeightAssignment solves the rectangular assignment problem with the
// Hungarian method on a square matrix padded with zero-weight cells.
// It returns, for each row, the assigned column or -1.
func maxWeightAssignment(weights [][]float64, rows, cols int) []int {
	n := rows
	if cols > n {
		n = cols
	}
	cost := func(i, j int) float64 {
		if i <= rows && j <= cols {
			return -weights[i-1][j-1]
		}
		return 0
	}

	inf := math.Inf(1)
	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1)
	way := make([]int, n+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, n+1)
		used := make([]bool, n+1)
		for j := range minv {
			minv[j] = inf
		}
		for {
			used[j0] = true
			i0, delta, j1 := p[j0], inf, 0
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := cost(i0, j) - u[i0] - v[j]
				if cur < minv[j] {
					minv[j], way[j] = cur, j0
				}
				if minv[j] < delta {
					delta, j1 = minv[j], j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	result := make([]int, rows)
	for i := range result {
		result[i] = -1
	}
	for j := 1; j <= n; j++ {
		if p[j] > 0 && p[j] <= rows && j <= cols {
			result[p[j]-1] = j - 1
		}
	}
	return result
}
