package knowledge

import "time"

// ContentType categorizes a knowledge entry.
type ContentType string

// Known content types.
const (
	ContentTypeText        ContentType = "text"
	ContentTypeCode        ContentType = "code"
	ContentTypeDecision    ContentType = "decision"
	ContentTypeAnalysis    ContentType = "analysis"
	ContentTypeSolution    ContentType = "solution"
	ContentTypeEvaluation  ContentType = "evaluation"
	ContentTypeIntegration ContentType = "integration"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeText, ContentTypeCode, ContentTypeDecision, ContentTypeAnalysis,
		ContentTypeSolution, ContentTypeEvaluation, ContentTypeIntegration:
		return true
	default:
		return false
	}
}

// Entry is a stored knowledge item. Vector is always present for persisted
// entries: creation fails if the embedding cannot be produced, so every
// entry in the corpus is searchable by similarity.
//
// All vectors in one corpus share the dimension fixed by the configured
// embedding model. Changing the model requires re-embedding the full
// corpus; that migration is not automated here.
type Entry struct {
	ID              string
	Title           string
	Content         string
	ContentType     ContentType
	Category        string
	Tags            []string
	Vector          []float32
	SourceReference string
	AccessCount     int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastAccessedAt  time.Time
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	out := *e
	out.Tags = append([]string(nil), e.Tags...)
	out.Vector = append([]float32(nil), e.Vector...)
	return &out
}

// HasTag reports whether the entry carries tag.
func (e *Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// CreateInput is the caller-supplied portion of a new entry.
type CreateInput struct {
	Title           string
	Content         string
	ContentType     ContentType
	Category        string
	Tags            []string
	SourceReference string
}

// Patch is a partial update. Nil fields are unchanged; a non-nil Tags
// replaces the tag set wholesale.
type Patch struct {
	Title           *string
	Content         *string
	ContentType     *ContentType
	Category        *string
	Tags            []string
	SourceReference *string
}

// touchesEmbedding reports whether applying the patch requires
// re-embedding: content, title, and tags all feed the embedded text.
func (p Patch) touchesEmbedding() bool {
	return p.Content != nil || p.Title != nil || p.Tags != nil
}
