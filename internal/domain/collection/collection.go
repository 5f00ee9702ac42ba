// Package collection holds the metadata model for collections and the
// blue pointer that selects the serving one per namespace.
package collection

import (
	"time"

	"github.com/kailas-cloud/vectra/internal/domain"
	"github.com/kailas-cloud/vectra/internal/domain/metric"
)

// WorkState is the serving role of a collection.
type WorkState string

const (
	// WorkStateBlue marks the collection currently serving traffic.
	WorkStateBlue WorkState = "blue"
	// WorkStateGreen marks a staged collection not yet promoted.
	WorkStateGreen WorkState = "green"
)

// Info is the metadata record for one collection. WorkState is derived
// from the blue pointer at read time, never stored.
type Info struct {
	CollectionID         string
	Model                domain.EmbeddingModelInfo
	Spec                 metric.IndexSpec
	CreatedAt            time.Time
	IndexCreated         bool
	ContainsQueries      bool
	WorkState            WorkState
	AppliedOptimizations []string
}

// IsBlue reports whether the collection is currently serving.
func (i Info) IsBlue() bool { return i.WorkState == WorkStateBlue }

// IsQueryCollection reports whether the collection stores past queries
// rather than documents.
func (i Info) IsQueryCollection() bool { return i.ContainsQueries }

// BluePointer is the single source of truth for which collection is
// blue within one logical database namespace.
type BluePointer struct {
	Namespace         string
	CollectionID      string
	QueryCollectionID string
}
