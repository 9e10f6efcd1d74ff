package search

import "github.com/recallkit/recall/internal/knowledge"

// MatchKind records which retrieval path produced a result.
type MatchKind string

// Match kinds.
const (
	MatchVector  MatchKind = "vector"
	MatchLexical MatchKind = "lexical"
)

// Hit is a raw id/score pair from one retrieval path.
type Hit struct {
	ID    string
	Score float64
}

// Filters restricts a query to a slice of the corpus. Zero values mean
// no restriction; Tags requires every listed tag to be present.
type Filters struct {
	Category    string
	ContentType knowledge.ContentType
	Tags        []string
}

// Query is one hybrid search request.
type Query struct {
	Text    string
	Limit   int
	Filters Filters
}

// Result is one ranked entry in a response.
type Result struct {
	Entry *knowledge.Entry
	Score float64
	Match MatchKind
}

// Response is the merged outcome of a hybrid query. Degraded is set when
// the vector path was unavailable and only lexical results are included.
type Response struct {
	Results  []Result
	Degraded bool
}

func (f Filters) empty() bool {
	return f.Category == "" && f.ContentType == "" && len(f.Tags) == 0
}

func (f Filters) matches(e *knowledge.Entry) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.ContentType != "" && e.ContentType != f.ContentType {
		return false
	}
	for _, t := range f.Tags {
		if !e.HasTag(t) {
			return false
		}
	}
	return true
}
