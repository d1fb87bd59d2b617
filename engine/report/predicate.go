package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/WessleyAI/claimgraph/engine/domain"
	"github.com/WessleyAI/claimgraph/engine/graph"
)

// accessor reads one field from an evaluation environment: a matched row,
// an anchor node or an output row.
type accessor[E any] func(E) graph.Value

type pred[E any] func(E) bool

// scope resolves field references for one kind of environment. temporal
// reports that the field is declared as a date, so string literals compared
// with it are parsed up front.
type scope[E any] interface {
	field(path, ref string) (acc accessor[E], temporal bool, err error)
}

func compilePredicates[E any](sc scope[E], path string, ps []Predicate) (pred[E], error) {
	compiled := make([]pred[E], 0, len(ps))
	for i, p := range ps {
		c, err := compilePredicate(sc, fmt.Sprintf("%s[%d]", path, i), p)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, c)
	}
	return allOf(compiled), nil
}

func allOf[E any](ps []pred[E]) pred[E] {
	return func(e E) bool {
		for _, p := range ps {
			if !p(e) {
				return false
			}
		}
		return true
	}
}

func compilePredicate[E any](sc scope[E], path string, p Predicate) (pred[E], error) {
	forms := 0
	if p.Op != "" || p.Field != "" {
		forms++
	}
	if p.Any != nil {
		forms++
	}
	if p.All != nil {
		forms++
	}
	if p.Not != nil {
		forms++
	}
	if forms != 1 {
		return nil, domain.NewSpecError(path, "predicate must be exactly one of a comparison, any, all or not")
	}

	switch {
	case p.Not != nil:
		inner, err := compilePredicate(sc, path+".not", *p.Not)
		if err != nil {
			return nil, err
		}
		return func(e E) bool { return !inner(e) }, nil
	case p.All != nil:
		if len(p.All) == 0 {
			return nil, domain.NewSpecError(path+".all", "empty group")
		}
		return compilePredicates(sc, path+".all", p.All)
	case p.Any != nil:
		if len(p.Any) == 0 {
			return nil, domain.NewSpecError(path+".any", "empty group")
		}
		compiled := make([]pred[E], len(p.Any))
		for i, q := range p.Any {
			c, err := compilePredicate(sc, fmt.Sprintf("%s.any[%d]", path, i), q)
			if err != nil {
				return nil, err
			}
			compiled[i] = c
		}
		return func(e E) bool {
			for _, c := range compiled {
				if c(e) {
					return true
				}
			}
			return false
		}, nil
	}
	return compileLeaf(sc, path, p)
}

func compileLeaf[E any](sc scope[E], path string, p Predicate) (pred[E], error) {
	if p.Field == "" {
		return nil, domain.NewSpecError(path+".field", "missing field")
	}
	left, temporal, err := sc.field(path+".field", p.Field)
	if err != nil {
		return nil, err
	}

	var right accessor[E]
	var lit graph.Value
	if p.Ref != "" {
		if p.Value != nil {
			return nil, domain.NewSpecError(path, "value and ref are exclusive")
		}
		right, _, err = sc.field(path+".ref", p.Ref)
		if err != nil {
			return nil, err
		}
	} else {
		lit, err = literal(path+".value", p.Value, temporal)
		if err != nil {
			return nil, err
		}
		right = func(E) graph.Value { return lit }
	}

	fold := p.IgnoreCase
	switch p.Op {
	case OpEq, OpNe:
		want := p.Op == OpEq
		return func(e E) bool {
			l := left(e)
			return equal(l, coerce(l, right(e)), fold) == want
		}, nil
	case OpGt, OpGte, OpLt, OpLte:
		op := p.Op
		return func(e E) bool {
			l := left(e)
			c, ok := graph.Compare(l, coerce(l, right(e)))
			if !ok {
				return false
			}
			switch op {
			case OpGt:
				return c > 0
			case OpGte:
				return c >= 0
			case OpLt:
				return c < 0
			default:
				return c <= 0
			}
		}, nil
	case OpBetween:
		if p.Ref == "" {
			if bounds, _ := lit.List(); len(bounds) != 2 {
				return nil, domain.NewSpecError(path+".value", "between needs [low, high]")
			}
		}
		return func(e E) bool {
			bounds, ok := right(e).List()
			if !ok || len(bounds) != 2 {
				return false
			}
			l := left(e)
			lo, ok1 := graph.Compare(l, coerce(l, bounds[0]))
			hi, ok2 := graph.Compare(l, coerce(l, bounds[1]))
			return ok1 && ok2 && lo >= 0 && hi <= 0
		}, nil
	case OpIn, OpContainsAny:
		if p.Ref == "" {
			if _, ok := lit.List(); !ok {
				return nil, domain.NewSpecError(path+".value", "%s needs a list", p.Op)
			}
		}
		in := p.Op == OpIn
		return func(e E) bool {
			set, _ := right(e).List()
			l := left(e)
			for _, r := range set {
				if in && equal(l, coerce(l, r), fold) {
					return true
				}
				if !in && contains(l, r, fold) {
					return true
				}
			}
			return false
		}, nil
	case OpContains:
		return func(e E) bool { return contains(left(e), right(e), fold) }, nil
	case OpStartsWith:
		return func(e E) bool {
			l, ok1 := left(e).Str()
			r, ok2 := right(e).Str()
			if !ok1 || !ok2 {
				return false
			}
			if fold {
				l, r = strings.ToLower(l), strings.ToLower(r)
			}
			return strings.HasPrefix(l, r)
		}, nil
	case OpExists:
		want := true
		if p.Value != nil {
			b, ok := lit.Bool()
			if !ok {
				return nil, domain.NewSpecError(path+".value", "exists takes true or false")
			}
			want = b
		}
		return func(e E) bool { return !left(e).IsNull() == want }, nil
	case OpWithinDistance, OpBeyondDistance:
		if p.Meters < 0 {
			return nil, domain.NewSpecError(path+".meters", "negative distance")
		}
		if p.Ref == "" {
			c, ok := graph.PointFromAny(lit)
			if !ok {
				return nil, domain.NewSpecError(path+".value", "expected a {lat, lon} center")
			}
			lit = graph.PointOf(c)
		}
		within := p.Op == OpWithinDistance
		meters := p.Meters
		return func(e E) bool {
			a, ok1 := graph.PointFromAny(left(e))
			b, ok2 := graph.PointFromAny(right(e))
			if !ok1 || !ok2 {
				return false
			}
			d := graph.Distance(a, b)
			if within {
				return d <= meters
			}
			return d > meters
		}, nil
	case "":
		return nil, domain.NewSpecError(path+".op", "missing operator")
	default:
		return nil, domain.NewSpecError(path+".op", "unknown operator %q", p.Op)
	}
}

// literal converts a spec literal. Strings and years compared with a date
// field become times; unparseable ones are spec errors.
func literal(path string, raw any, temporal bool) (graph.Value, error) {
	v, err := graph.FromAny(raw)
	if err != nil {
		return graph.Null(), domain.NewSpecError(path, "%v", err)
	}
	if !temporal {
		return v, nil
	}
	conv := func(x graph.Value) (graph.Value, error) {
		if x.Kind() != graph.KindString && x.Kind() != graph.KindInt {
			return x, nil
		}
		t, err := domain.ParseTime(x.String())
		if err != nil {
			return graph.Null(), domain.NewSpecError(path, "%v", err)
		}
		return graph.Time(t), nil
	}
	if list, ok := v.List(); ok {
		out := make([]graph.Value, len(list))
		for i, e := range list {
			if out[i], err = conv(e); err != nil {
				return graph.Null(), err
			}
		}
		return graph.List(out...), nil
	}
	return conv(v)
}

// coerce parses r as a date when l is a time, so dates never compare as
// strings.
func coerce(l, r graph.Value) graph.Value {
	if l.Kind() != graph.KindTime {
		return r
	}
	switch r.Kind() {
	case graph.KindString, graph.KindInt:
		if t, err := domain.ParseTime(r.String()); err == nil {
			return graph.Time(t)
		}
	}
	return r
}

func equal(l, r graph.Value, fold bool) bool {
	if fold {
		a, ok1 := l.Str()
		b, ok2 := r.Str()
		if ok1 && ok2 {
			return strings.EqualFold(a, b)
		}
	}
	return graph.Equal(l, r)
}

// contains is substring containment for strings and membership for lists.
func contains(l, r graph.Value, fold bool) bool {
	if list, ok := l.List(); ok {
		for _, e := range list {
			if equal(e, r, fold) {
				return true
			}
		}
		return false
	}
	s, ok1 := l.Str()
	sub, ok2 := r.Str()
	if !ok1 || !ok2 {
		return false
	}
	if fold {
		s, sub = strings.ToLower(s), strings.ToLower(sub)
	}
	return strings.Contains(s, sub)
}

// fieldRefs lists every field a predicate reads.
func fieldRefs(p Predicate) []string {
	var out []string
	if p.Field != "" {
		out = append(out, p.Field)
	}
	if p.Ref != "" {
		out = append(out, p.Ref)
	}
	for _, q := range p.Any {
		out = append(out, fieldRefs(q)...)
	}
	for _, q := range p.All {
		out = append(out, fieldRefs(q)...)
	}
	if p.Not != nil {
		out = append(out, fieldRefs(*p.Not)...)
	}
	return out
}

// splitRef splits "alias.prop.sub" into alias and property path.
func splitRef(ref string) (alias string, path []string) {
	alias, rest, ok := strings.Cut(ref, ".")
	if !ok {
		return alias, nil
	}
	return alias, strings.Split(rest, ".")
}

// descend follows a property path into maps and points.
func descend(v graph.Value, path []string) graph.Value {
	for _, p := range path {
		if m, ok := v.Map(); ok {
			v = m[p]
			continue
		}
		if pt, ok := v.Point(); ok {
			switch p {
			case "lat", "latitude":
				v = graph.Float(pt.Lat)
				continue
			case "lon", "longitude":
				v = graph.Float(pt.Lon)
				continue
			}
		}
		if list, ok := v.List(); ok {
			if i, err := strconv.Atoi(p); err == nil && i >= 0 && i < len(list) {
				v = list[i]
				continue
			}
		}
		return graph.Null()
	}
	return v
}
