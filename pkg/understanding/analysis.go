// Package understanding decides, for each user query, whether its referent
// is clear from context, rewrites it into a self-contained form and selects
// the session memory snippets relevant to answering it.
package understanding

import (
	"time"

	"github.com/google/uuid"
)

// Source tells whether an analysis came from a validated model response or
// from the fallback path.
type Source string

const (
	SourceValidated Source = "validated"
	SourceFallback  Source = "fallback"
)

// MaxSelectedMemory bounds SelectedMemory: one snippet per memory field
// (conversation_state, preferences, constraints, goals, shared_context,
// open_threads).
const MaxSelectedMemory = 6

// QueryAnalysis is the result of analyzing one query. ClarifyingQuestions
// is empty if and only if IsAmbiguous is false, and ClarifiedQuery is never
// empty.
type QueryAnalysis struct {
	QueryID             string    `json:"query_id"`
	OriginalQuery       string    `json:"original_query"`
	Timestamp           time.Time `json:"timestamp"`
	IsAmbiguous         bool      `json:"is_ambiguous"`
	ClarifiedQuery      string    `json:"clarified_query"`
	ClarifyingQuestions []string  `json:"clarifying_questions"`
	SelectedMemory      []string  `json:"selected_memory"`
	Source              Source    `json:"source"`
}

// Fallback returns the analysis used when the model output is unusable:
// the query is treated as unambiguous and answered as asked.
func Fallback(query string, now time.Time) *QueryAnalysis {
	return &QueryAnalysis{
		QueryID:             NewQueryID(),
		OriginalQuery:       query,
		Timestamp:           now,
		IsAmbiguous:         false,
		ClarifiedQuery:      query,
		ClarifyingQuestions: []string{},
		SelectedMemory:      []string{},
		Source:              SourceFallback,
	}
}

// NewQueryID returns a fresh query identifier.
func NewQueryID() string {
	return "query_" + uuid.NewString()
}

// Clone returns a deep copy of a.
func (a *QueryAnalysis) Clone() *QueryAnalysis {
	if a == nil {
		return nil
	}
	c := *a
	c.ClarifyingQuestions = append([]string{}, a.ClarifyingQuestions...)
	c.SelectedMemory = append([]string{}, a.SelectedMemory...)
	return &c
}
