package query

import (
	"fmt"

	"github.com/kailas-cloud/vectra/internal/domain/object"
	"github.com/kailas-cloud/vectra/internal/domain/payload"
)

// Compile translates a payload filter tree into a predicate AST by
// structural recursion. Compiling the same filter twice yields an
// equivalent predicate.
func Compile(f payload.Filter) (Node, error) {
	switch f.Kind() {
	case payload.KindMatch:
		return Cond{Field: f.Field(), Raw: f.ForceNotPayload(), Op: OpContains, Value: f.Value()}, nil
	case payload.KindMatchPhrase:
		return Cond{Field: f.Field(), Raw: f.ForceNotPayload(), Op: OpPhrase, Value: f.Value()}, nil
	case payload.KindWildcard:
		return Cond{Field: f.Field(), Raw: f.ForceNotPayload(), Op: OpWildcard, Value: f.Value()}, nil
	case payload.KindTerm:
		return Cond{Field: f.Field(), Raw: f.ForceNotPayload(), Op: OpEq, Value: f.Value()}, nil
	case payload.KindTerms:
		return Cond{Field: f.Field(), Raw: f.ForceNotPayload(), Op: OpIn, Values: f.Values()}, nil
	case payload.KindExists:
		return Cond{Field: f.Field(), Raw: f.ForceNotPayload(), Op: OpExists}, nil
	case payload.KindRange:
		return compileRange(f)
	case payload.KindBool:
		return compileBool(f)
	default:
		return nil, fmt.Errorf("unknown filter kind %q", f.Kind())
	}
}

// compileRange expands bounds into a conjunction of comparisons.
func compileRange(f payload.Filter) (Node, error) {
	r := f.Range()
	if r == nil || r.IsEmpty() {
		return nil, fmt.Errorf("range filter on %q has no bounds", f.Field())
	}
	var nodes []Node
	add := func(op Op, v *float64) {
		if v != nil {
			nodes = append(nodes, Cond{
				Field: f.Field(), Raw: f.ForceNotPayload(), Op: op, Value: object.Number(*v),
			})
		}
	}
	add(OpGTE, r.GTE)
	add(OpLTE, r.LTE)
	add(OpGT, r.GT)
	add(OpLT, r.LT)
	add(OpEq, r.EQ)
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	return And{Nodes: nodes}, nil
}

// compileBool maps must/filter to AND, should to OR, mustNot to
// NOT(AND(...)); the four groups combine with AND at the top.
func compileBool(f payload.Filter) (Node, error) {
	q := f.Bool()
	if q == nil || q.IsEmpty() {
		return nil, fmt.Errorf("bool filter has no clauses")
	}

	var top []Node

	must, err := compileGroup(q.Must)
	if err != nil {
		return nil, err
	}
	top = append(top, must...)

	filter, err := compileGroup(q.Filter)
	if err != nil {
		return nil, err
	}
	top = append(top, filter...)

	if len(q.Should) > 0 {
		should, err := compileGroup(q.Should)
		if err != nil {
			return nil, err
		}
		if len(should) == 1 {
			top = append(top, should[0])
		} else {
			top = append(top, Or{Nodes: should})
		}
	}

	if len(q.MustNot) > 0 {
		mustNot, err := compileGroup(q.MustNot)
		if err != nil {
			return nil, err
		}
		var inner Node
		if len(mustNot) == 1 {
			inner = mustNot[0]
		} else {
			inner = And{Nodes: mustNot}
		}
		top = append(top, Not{Node: inner})
	}

	if len(top) == 1 {
		return top[0], nil
	}
	return And{Nodes: top}, nil
}

func compileGroup(fs []payload.Filter) ([]Node, error) {
	nodes := make([]Node, 0, len(fs))
	for _, f := range fs {
		n, err := Compile(f)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}
