package query

import (
	"strings"

	"github.com/kailas-cloud/vectra/internal/domain/object"
)

// Eval applies the predicate to an object in memory. This is the
// reference semantics the backend renderers must agree with; the memory
// store and the test suite both run on it.
func Eval(n Node, obj object.Object) bool {
	switch t := n.(type) {
	case nil:
		return true
	case Cond:
		return evalCond(t, obj)
	case And:
		for _, c := range t.Nodes {
			if !Eval(c, obj) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range t.Nodes {
			if Eval(c, obj) {
				return true
			}
		}
		return false
	case Not:
		return !Eval(t.Node, obj)
	default:
		return false
	}
}

func evalCond(c Cond, obj object.Object) bool {
	v, ok := resolveField(obj, c.Field, c.Raw)
	if c.Op == OpExists {
		return ok && v.Kind() != object.KindNull
	}
	if !ok {
		return false
	}

	// Array fields match when any element matches (set semantics).
	if v.Kind() == object.KindArray && c.Op != OpIn {
		for _, item := range v.Items() {
			if evalScalar(c, item) {
				return true
			}
		}
		return false
	}
	if c.Op == OpIn {
		return evalIn(c, v)
	}
	return evalScalar(c, v)
}

func evalScalar(c Cond, v object.Value) bool {
	switch c.Op {
	case OpEq:
		return v.Equal(c.Value)
	case OpContains:
		return containsTokens(v, c.Value.Str())
	case OpPhrase:
		return containsPhrase(v, c.Value.Str())
	case OpWildcard:
		s, ok := v.AsString()
		return ok && globMatch(strings.ToLower(c.Value.Str()), strings.ToLower(s))
	case OpGT, OpGTE, OpLT, OpLTE:
		return compareNumeric(c.Op, v, c.Value)
	default:
		return false
	}
}

func evalIn(c Cond, v object.Value) bool {
	values := v.Items()
	if v.Kind() != object.KindArray {
		values = []object.Value{v}
	}
	for _, stored := range values {
		for _, want := range c.Values {
			if stored.Equal(want) {
				return true
			}
		}
	}
	return false
}

func compareNumeric(op Op, stored, threshold object.Value) bool {
	sv, ok := stored.AsNumber()
	if !ok {
		return false
	}
	tv, ok := threshold.AsNumber()
	if !ok {
		return false
	}
	switch op {
	case OpGT:
		return sv > tv
	case OpGTE:
		return sv >= tv
	case OpLT:
		return sv < tv
	case OpLTE:
		return sv <= tv
	default:
		return false
	}
}

// containsTokens checks that every query token occurs as a token of the
// stored text, in any order.
func containsTokens(v object.Value, text string) bool {
	s, ok := v.AsString()
	if !ok {
		return false
	}
	stored := tokenize(s)
	for want := range tokenize(text) {
		if !stored[want] {
			return false
		}
	}
	return true
}

func containsPhrase(v object.Value, phrase string) bool {
	s, ok := v.AsString()
	if !ok {
		return false
	}
	return strings.Contains(
		normalizeSpace(strings.ToLower(s)),
		normalizeSpace(strings.ToLower(phrase)),
	)
}

func tokenize(s string) map[string]bool {
	tokens := map[string]bool{}
	for _, t := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		isAlpha := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		return !isAlpha
	}) {
		tokens[t] = true
	}
	return tokens
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// globMatch matches pattern against s where * matches any run and ?
// matches one character. Iterative backtracking, no regexp.
func globMatch(pattern, s string) bool {
	pi, si := 0, 0
	star, match := -1, 0
	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			match = si
			pi++
		case star != -1:
			pi = star + 1
			match++
			si = match
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

// resolveField looks a field up on the object. Payload fields support
// dotted paths into nested maps. Raw fields address stored columns and
// fall back to storage_meta.
func resolveField(obj object.Object, field string, raw bool) (object.Value, bool) {
	if raw {
		switch field {
		case "object_id":
			return object.String(obj.ObjectID), true
		case "user_id":
			return optionalString(obj.UserID)
		case "session_id":
			return optionalString(obj.SessionID)
		case "original_id":
			return optionalString(obj.OriginalID)
		default:
			return lookupPath(obj.StorageMeta, field)
		}
	}
	return lookupPath(obj.Payload, field)
}

func optionalString(s string) (object.Value, bool) {
	if s == "" {
		return object.Null(), false
	}
	return object.String(s), true
}

func lookupPath(p object.Payload, field string) (object.Value, bool) {
	parts := strings.Split(field, ".")
	cur := p
	for i, part := range parts {
		v, ok := cur.Get(part)
		if !ok {
			return object.Value{}, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		if v.Kind() != object.KindMap {
			return object.Value{}, false
		}
		cur = v.MapVal()
	}
	return object.Value{}, false
}
