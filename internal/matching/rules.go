package matching

// Tier is the confidence tier of a fired rule.
type Tier string

const (
	TierHigh   Tier = "High"
	TierMedium Tier = "Medium"
	TierLow    Tier = "Low"
)

// Config holds the tunable thresholds of the tiered matcher.
type Config struct {
	MediumNameSimilarity float64 // name similarity floor for the medium rule
	LowNameSimilarity    float64 // name similarity floor for the low rule
	AreaOverlap          float64 // bbox overlap ratio floor for property matching
}

func DefaultConfig() Config {
	return Config{
		MediumNameSimilarity: 0.85,
		LowNameSimilarity:    0.60,
		AreaOverlap:          0.70,
	}
}

// PersonCandidate is one side of a person comparison, either a staged row or
// a production record.
type PersonCandidate struct {
	ID         string
	FullName   string
	BirthDate  string
	Gender     string
	NationalID string
	AdminCode  string
	UnitRefs   []string
}

// PropertyCandidate is one side of a property-unit comparison.
type PropertyCandidate struct {
	ID         string
	ParcelID   string
	AdminCode  string
	UnitNumber string
	BBox       string
}

// Match is the outcome of one pairwise comparison. Score is a weighted blend
// of the matched criteria in [0,100]; Tier records which rule fired.
type Match struct {
	Matched bool
	Score   int
	Tier    Tier
}

// MatchPersons applies the tiered person rules in order, strongest first.
func MatchPersons(a, b PersonCandidate, cfg Config) Match {
	// High: exact unique external identifier on both sides.
	if a.NationalID != "" && b.NationalID != "" &&
		NormalizeExternalID(a.NationalID) == NormalizeExternalID(b.NationalID) {
		return Match{Matched: true, Score: 100, Tier: TierHigh}
	}

	na, nb := NormalizeName(a.FullName), NormalizeName(b.FullName)
	sim := NameSimilarity(na, nb)

	// Medium: (near-)equal name plus matching birth year and gender.
	ya, yb := BirthYear(a.BirthDate), BirthYear(b.BirthDate)
	if sim >= cfg.MediumNameSimilarity && ya != "" && ya == yb &&
		a.Gender != "" && a.Gender == b.Gender {
		return Match{Matched: true, Score: clampScore(60*sim + 25 + 15), Tier: TierMedium}
	}

	// Low: partial name similarity alone.
	if sim >= cfg.LowNameSimilarity {
		return Match{Matched: true, Score: clampScore(60 * sim), Tier: TierLow}
	}

	// Low: same administrative area plus overlapping unit references.
	if a.AdminCode != "" && a.AdminCode == b.AdminCode && refsOverlap(a.UnitRefs, b.UnitRefs) {
		return Match{Matched: true, Score: 50, Tier: TierLow}
	}

	return Match{}
}

// MatchProperties applies the tiered property rules in order.
func MatchProperties(a, b PropertyCandidate, cfg Config) Match {
	// High: cadastral parcel identifier present and equal on both sides.
	if a.ParcelID != "" && b.ParcelID != "" &&
		NormalizeExternalID(a.ParcelID) == NormalizeExternalID(b.ParcelID) {
		return Match{Matched: true, Score: 100, Tier: TierHigh}
	}

	// Low: same administrative code plus same unit number.
	if a.AdminCode != "" && a.AdminCode == b.AdminCode &&
		a.UnitNumber != "" && a.UnitNumber == b.UnitNumber {
		return Match{Matched: true, Score: 60, Tier: TierLow}
	}

	// Low: geometric containment/overlap above the configured threshold.
	ba, okA, errA := ParseBBox(a.BBox)
	bb, okB, errB := ParseBBox(b.BBox)
	if errA == nil && errB == nil && okA && okB {
		if ratio := OverlapRatio(ba, bb); ratio >= cfg.AreaOverlap {
			return Match{Matched: true, Score: clampScore(40 + 40*ratio), Tier: TierLow}
		}
	}

	return Match{}
}

func refsOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x != "" && x == y {
				return true
			}
		}
	}
	return false
}

func clampScore(f float64) int {
	s := int(f + 0.5)
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
