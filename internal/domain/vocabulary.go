package domain

import "time"

// VocabularyCode is one enumerated option code within a vocabulary domain
// (e.g. domain "claim_type", code "ownership").
type VocabularyCode struct {
	Domain    string    `json:"domain"`
	Code      string    `json:"code"`
	Label     string    `json:"label"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// VocabularySnapshot is an explicit, loaded-once, read-only view of the
// currently valid codes. The validator receives a snapshot rather than
// consulting ambient global state, so one staging run sees one version.
type VocabularySnapshot struct {
	Version   string                      `json:"version"`
	FetchedAt time.Time                   `json:"fetchedAt"`
	Codes     map[string][]VocabularyCode `json:"codes"` // domain -> codes
}

// Valid reports whether code is an active option in the given domain.
func (s *VocabularySnapshot) Valid(domain, code string) bool {
	if s == nil {
		return false
	}
	for _, c := range s.Codes[domain] {
		if c.Code == code && c.Active {
			return true
		}
	}
	return false
}

// Delta returns the codes updated after since. Used by the sync fetch path to
// bound repeat-sync bandwidth: first sync ships the whole snapshot, later
// syncs only ship changes.
func (s *VocabularySnapshot) Delta(since time.Time) []VocabularyCode {
	var out []VocabularyCode
	for _, codes := range s.Codes {
		for _, c := range codes {
			if c.UpdatedAt.After(since) {
				out = append(out, c)
			}
		}
	}
	return out
}
