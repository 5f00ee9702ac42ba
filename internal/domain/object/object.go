package object

// Part is one vector representation of (a chunk of) an object.
type Part struct {
	PartID string
	Vector []float32
	// IsAverage marks a pre-aggregated representative vector usable for
	// average-only search shortcuts.
	IsAverage bool
}

// Object is the storable unit: metadata plus one-or-more named vector parts.
// ObjectID is unique within a collection; PartID is unique within the object.
type Object struct {
	ObjectID    string
	Payload     Payload
	StorageMeta Payload
	// UserID scopes a personalized object to one user. Empty means the
	// object is visible to everyone.
	UserID    string
	SessionID string
	// OriginalID links a personalized object to the canonical object it
	// customizes; searches for that user must shadow the canonical one.
	OriginalID string
	Parts      []Part
}

// IsPersonalized reports whether the object customizes a canonical object.
func (o Object) IsPersonalized() bool { return o.OriginalID != "" }

// Part returns the part with the given id.
func (o Object) Part(partID string) (Part, bool) {
	for _, p := range o.Parts {
		if p.PartID == partID {
			return p, true
		}
	}
	return Part{}, false
}

// PartIDs returns the ids of all parts in order.
func (o Object) PartIDs() []string {
	ids := make([]string, len(o.Parts))
	for i, p := range o.Parts {
		ids[i] = p.PartID
	}
	return ids
}

// AveragePart returns the pre-aggregated representative part, if any.
func (o Object) AveragePart() (Part, bool) {
	for _, p := range o.Parts {
		if p.IsAverage {
			return p, true
		}
	}
	return Part{}, false
}

// CommonData is the metadata-only projection used by paginated listings
// (reindexing reads objects without hydrating vectors).
type CommonData struct {
	ObjectID    string
	Payload     Payload
	StorageMeta Payload
	UserID      string
	SessionID   string
	OriginalID  string
	PartCount   int
}
