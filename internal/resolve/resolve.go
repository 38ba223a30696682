// Package resolve maps free-form member names from input files to member ids
// in the speech corpus, with fuzzy matching and a persistent cache.
package resolve

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
	"golang.org/x/text/unicode/norm"

	"github.com/stancelab/hansard-cli/internal/speech"
)

// autoAcceptScore is the similarity above which the top candidate is
// accepted without confirmation.
const autoAcceptScore = 0.90

// Status classifies the outcome of matching one name.
type Status int

const (
	NotFound Status = iota
	Resolved
	Ambiguous
)

// Candidate is a corpus member scored against an input name.
type Candidate struct {
	Person speech.Person
	Score  float64
}

// Resolution is the outcome of matching a single input name.
type Resolution struct {
	Status     Status
	MemberID   int
	MatchName  string
	Score      float64
	Candidates []Candidate
}

// Normalize standardizes a name for comparison: NFC form, lowercased, with
// whitespace collapsed.
func Normalize(name string) string {
	name = norm.NFC.String(name)
	name = strings.ToLower(name)
	return strings.Join(strings.Fields(name), " ")
}

// similarity scores a name pair in [0, 1], taking the best of a direct
// comparison and a word-order-insensitive comparison.
func similarity(a, b string) float64 {
	direct := levenshtein.Similarity(a, b, nil)

	sortedA := strings.Fields(a)
	sortedB := strings.Fields(b)
	sort.Strings(sortedA)
	sort.Strings(sortedB)
	tokenSort := levenshtein.Similarity(
		strings.Join(sortedA, " "), strings.Join(sortedB, " "), nil)

	if tokenSort > direct {
		return tokenSort
	}
	return direct
}

// Match scores candidates against the input name and decides the outcome.
// It is a pure function: candidate lookup and caching live with the caller.
//
// A single candidate is accepted outright. With several, the top score must
// reach the auto-accept threshold; otherwise the outcome is Ambiguous and
// the scored candidates are returned best first.
func Match(name string, candidates []speech.Person) Resolution {
	if len(candidates) == 0 {
		return Resolution{Status: NotFound}
	}

	if len(candidates) == 1 {
		return Resolution{
			Status:    Resolved,
			MemberID:  candidates[0].ID,
			MatchName: candidates[0].Name,
			Score:     1.0,
		}
	}

	target := Normalize(name)
	scored := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, Candidate{
			Person: c,
			Score:  similarity(target, Normalize(c.Name)),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if scored[0].Score >= autoAcceptScore {
		return Resolution{
			Status:     Resolved,
			MemberID:   scored[0].Person.ID,
			MatchName:  scored[0].Person.Name,
			Score:      scored[0].Score,
			Candidates: scored,
		}
	}

	return Resolution{Status: Ambiguous, Candidates: scored}
}
