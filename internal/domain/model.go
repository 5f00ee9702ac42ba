package domain

import "strings"

// EmbeddingModelInfo identifies the fine-tuned model a collection is bound to.
// Immutable once a collection is created for it.
type EmbeddingModelInfo struct {
	Name string
	ID   string
}

// FullName returns the canonical "name:id" form.
func (m EmbeddingModelInfo) FullName() string {
	return m.Name + ":" + m.ID
}

// CollectionID derives the deterministic collection id for the model.
// The id doubles as the physical table name prefix, so it is restricted
// to [a-z0-9_].
func (m EmbeddingModelInfo) CollectionID() string {
	return "col_" + sanitizeIdentifier(m.Name) + "_" + sanitizeIdentifier(m.ID)
}

// QueryCollectionSuffix distinguishes query-collections from plain ones.
const QueryCollectionSuffix = "_q"

// QueryCollectionID derives the paired query-collection id.
func (m EmbeddingModelInfo) QueryCollectionID() string {
	return m.CollectionID() + QueryCollectionSuffix
}

func sanitizeIdentifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
