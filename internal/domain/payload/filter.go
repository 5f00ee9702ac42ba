// Package payload defines the structured, backend-agnostic filter
// expression over object metadata. The filter is a closed tagged union;
// the query compiler pattern-matches it exhaustively.
package payload

import (
	"fmt"

	"github.com/kailas-cloud/vectra/internal/domain/object"
)

// FilterKind discriminates the filter union.
type FilterKind string

// Filter kinds.
const (
	KindMatch       FilterKind = "match"
	KindMatchPhrase FilterKind = "match_phrase"
	KindWildcard    FilterKind = "wildcard"
	KindTerm        FilterKind = "term"
	KindTerms       FilterKind = "terms"
	KindExists      FilterKind = "exists"
	KindRange       FilterKind = "range"
	KindBool        FilterKind = "bool"
)

// Filter is one node of the payload filter tree. Leaves bind a field
// (JSON-embedded in payload or, when ForceNotPayload is set, a raw
// stored column) to a literal or threshold; Bool combines subtrees.
type Filter struct {
	kind            FilterKind
	field           string
	forceNotPayload bool
	value           object.Value
	values          []object.Value
	rng             *RangeBounds
	boolQuery       *BoolQuery
}

// RangeBounds is a conjunction of numeric bounds. Nil bounds are absent.
type RangeBounds struct {
	GTE *float64
	LTE *float64
	GT  *float64
	LT  *float64
	EQ  *float64
}

// IsEmpty reports whether no bound is set.
func (r RangeBounds) IsEmpty() bool {
	return r.GTE == nil && r.LTE == nil && r.GT == nil && r.LT == nil && r.EQ == nil
}

// BoolQuery combines subfilters: must = AND, should = OR, filter = AND
// (non-scoring), mustNot = NOT(AND(...)). All four groups co-occur and
// combine with AND at the top.
type BoolQuery struct {
	Must    []Filter
	Should  []Filter
	Filter  []Filter
	MustNot []Filter
}

// IsEmpty reports whether the bool query has no clauses.
func (b BoolQuery) IsEmpty() bool {
	return len(b.Must) == 0 && len(b.Should) == 0 && len(b.Filter) == 0 && len(b.MustNot) == 0
}

// NewMatch creates a tokenized-contains text predicate.
func NewMatch(field, text string) (Filter, error) {
	if err := checkField(field); err != nil {
		return Filter{}, err
	}
	if text == "" {
		return Filter{}, fmt.Errorf("match text is required for field %q", field)
	}
	return Filter{kind: KindMatch, field: field, value: object.String(text)}, nil
}

// NewMatchPhrase creates a phrase-contains text predicate.
func NewMatchPhrase(field, phrase string) (Filter, error) {
	if err := checkField(field); err != nil {
		return Filter{}, err
	}
	if phrase == "" {
		return Filter{}, fmt.Errorf("phrase is required for field %q", field)
	}
	return Filter{kind: KindMatchPhrase, field: field, value: object.String(phrase)}, nil
}

// NewWildcard creates a glob predicate (* and ? wildcards).
func NewWildcard(field, pattern string) (Filter, error) {
	if err := checkField(field); err != nil {
		return Filter{}, err
	}
	if pattern == "" {
		return Filter{}, fmt.Errorf("wildcard pattern is required for field %q", field)
	}
	return Filter{kind: KindWildcard, field: field, value: object.String(pattern)}, nil
}

// NewTerm creates an exact, type-aware equality predicate.
func NewTerm(field string, value object.Value) (Filter, error) {
	if err := checkField(field); err != nil {
		return Filter{}, err
	}
	return Filter{kind: KindTerm, field: field, value: value}, nil
}

// NewTerms creates a set-membership predicate.
func NewTerms(field string, values ...object.Value) (Filter, error) {
	if err := checkField(field); err != nil {
		return Filter{}, err
	}
	if len(values) == 0 {
		return Filter{}, fmt.Errorf("terms requires at least one value for field %q", field)
	}
	return Filter{kind: KindTerms, field: field, values: values}, nil
}

// NewExists creates a field-presence predicate.
func NewExists(field string) (Filter, error) {
	if err := checkField(field); err != nil {
		return Filter{}, err
	}
	return Filter{kind: KindExists, field: field}, nil
}

// NewRange creates a numeric bounds predicate.
func NewRange(field string, bounds RangeBounds) (Filter, error) {
	if err := checkField(field); err != nil {
		return Filter{}, err
	}
	if bounds.IsEmpty() {
		return Filter{}, fmt.Errorf("range requires at least one bound for field %q", field)
	}
	return Filter{kind: KindRange, field: field, rng: &bounds}, nil
}

// NewBool creates a boolean combination of subfilters.
func NewBool(q BoolQuery) (Filter, error) {
	if q.IsEmpty() {
		return Filter{}, fmt.Errorf("bool filter requires at least one clause")
	}
	return Filter{kind: KindBool, boolQuery: &q}, nil
}

func checkField(field string) error {
	if field == "" {
		return fmt.Errorf("filter field is required")
	}
	return nil
}

// OnStoredColumn returns a copy of the filter targeting a raw stored
// column instead of a payload-embedded field.
func (f Filter) OnStoredColumn() Filter {
	f.forceNotPayload = true
	return f
}

// Kind returns the node discriminator.
func (f Filter) Kind() FilterKind { return f.kind }

// Field returns the bound field name. Empty for bool nodes.
func (f Filter) Field() string { return f.field }

// ForceNotPayload reports whether the field is a raw stored column.
func (f Filter) ForceNotPayload() bool { return f.forceNotPayload }

// Value returns the literal for match/match_phrase/wildcard/term nodes.
func (f Filter) Value() object.Value { return f.value }

// Values returns the literals for terms nodes.
func (f Filter) Values() []object.Value { return f.values }

// Range returns the bounds for range nodes.
func (f Filter) Range() *RangeBounds { return f.rng }

// Bool returns the clauses for bool nodes.
func (f Filter) Bool() *BoolQuery { return f.boolQuery }
