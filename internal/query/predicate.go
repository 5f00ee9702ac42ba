// Package query compiles payload filters into a backend-neutral
// predicate AST. Each backend renders the AST into its native query
// form; Eval provides the in-memory form used by the memory store and
// by tests. No query executes here.
package query

import "github.com/kailas-cloud/vectra/internal/domain/object"

// Op is a leaf comparison operator.
type Op string

// Leaf operators.
const (
	OpEq       Op = "eq"
	OpIn       Op = "in"
	OpContains Op = "contains" // tokenized text match
	OpPhrase   Op = "phrase"   // phrase-contains
	OpWildcard Op = "wildcard" // glob (* and ?)
	OpExists   Op = "exists"
	OpGT       Op = "gt"
	OpGTE      Op = "gte"
	OpLT       Op = "lt"
	OpLTE      Op = "lte"
)

// Node is one predicate AST node: a Cond leaf or an And/Or/Not combinator.
type Node interface {
	isNode()
}

// Cond is a single {field, op, value} comparison.
type Cond struct {
	// Field is the bound field name. Raw selects a stored column over a
	// payload-embedded JSON field.
	Field  string
	Raw    bool
	Op     Op
	Value  object.Value
	Values []object.Value // OpIn only
}

// And matches when every child matches. An empty And matches everything.
type And struct {
	Nodes []Node
}

// Or matches when at least one child matches.
type Or struct {
	Nodes []Node
}

// Not negates its child.
type Not struct {
	Node Node
}

func (Cond) isNode() {}
func (And) isNode()  {}
func (Or) isNode()   {}
func (Not) isNode()  {}
