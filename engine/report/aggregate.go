package report

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/WessleyAI/claimgraph/engine/graph"
)

// project turns matched rows into output rows: one per row in column mode,
// one per group otherwise. Groups keep first-seen order.
func (p *plan) project(rows []*row) []Row {
	if !p.grouped {
		out := make([]Row, len(rows))
		for i, r := range rows {
			o := make(Row, len(p.columns))
			for _, c := range p.columns {
				o[c.name] = c.value(r)
			}
			out[i] = o
		}
		return out
	}

	type group struct {
		keys []graph.Value
		rows []*row
	}
	var groups []*group
	index := make(map[string]*group)
	for _, r := range rows {
		keys := make([]graph.Value, len(p.keys))
		for i, k := range p.keys {
			keys[i] = k.value(r)
		}
		tok := token(keys...)
		g, ok := index[tok]
		if !ok {
			g = &group{keys: keys}
			index[tok] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, r)
	}

	out := make([]Row, 0, len(groups))
	for _, g := range groups {
		o := make(Row, len(p.outputs))
		for i, k := range p.keys {
			o[k.name] = g.keys[i]
		}
		for _, a := range p.aggs {
			if a.fn == FnTop {
				for i, v := range a.top(g.rows) {
					o[a.outputs[i].name] = v
				}
				continue
			}
			o[a.name] = finish(a.apply(g.rows), a.precision, a.format)
		}
		out = append(out, o)
	}
	return out
}

// value reads the column from r, converting points to meters when the column
// measures a distance.
func (c columnPlan) value(r *row) graph.Value {
	v := c.acc(r)
	if c.center != nil {
		pt, ok := graph.PointFromAny(v)
		if !ok {
			return graph.Null()
		}
		v = graph.Float(graph.Distance(pt, *c.center))
	}
	return finish(v, c.precision, c.format)
}

func (a aggPlan) apply(rows []*row) graph.Value {
	switch a.fn {
	case FnCount:
		if a.acc == nil {
			return graph.Int(int64(len(rows)))
		}
		return graph.Int(int64(len(a.values(rows))))
	case FnSum:
		var isum int64
		var fsum float64
		float := false
		for _, v := range a.values(rows) {
			switch {
			case v.Kind() == graph.KindInt:
				i, _ := v.Int64()
				isum += i
			case v.Kind() == graph.KindFloat:
				f, _ := v.Float64()
				fsum += f
				float = true
			}
		}
		if float {
			return graph.Float(fsum + float64(isum))
		}
		return graph.Int(isum)
	case FnAvg:
		var sum float64
		n := 0
		for _, v := range a.values(rows) {
			if f, ok := v.Float64(); ok && v.IsNumeric() {
				sum += f
				n++
			}
		}
		if n == 0 {
			return graph.Null()
		}
		return graph.Float(sum / float64(n))
	case FnMin, FnMax:
		best := graph.Null()
		for _, v := range a.values(rows) {
			if best.IsNull() {
				best = v
				continue
			}
			c, ok := graph.Compare(v, best)
			if ok && ((a.fn == FnMin && c < 0) || (a.fn == FnMax && c > 0)) {
				best = v
			}
		}
		return best
	case FnCollect:
		return graph.List(a.values(rows)...)
	}
	return graph.Null()
}

// values reads the aggregated field over rows, skipping nulls and, for
// distinct aggregations, repeats.
func (a aggPlan) values(rows []*row) []graph.Value {
	out := make([]graph.Value, 0, len(rows))
	var seen map[string]bool
	if a.distinct {
		seen = make(map[string]bool)
	}
	for _, r := range rows {
		v := a.acc(r)
		if v.IsNull() {
			continue
		}
		if seen != nil {
			tok := token(v)
			if seen[tok] {
				continue
			}
			seen[tok] = true
		}
		out = append(out, v)
	}
	return out
}

// top sorts the group's rows, keeps n and returns one value per output: a
// scalar when n is 1, a list otherwise.
func (a aggPlan) top(rows []*row) []graph.Value {
	sorted := slices.Clone(rows)
	if len(a.sortBy) > 0 {
		slices.SortStableFunc(sorted, compareBy(a.sortBy))
	}
	sorted = sorted[:min(a.n, len(sorted))]

	out := make([]graph.Value, len(a.outputs))
	for i, o := range a.outputs {
		if a.n == 1 {
			if len(sorted) == 0 {
				out[i] = graph.Null()
			} else {
				out[i] = o.value(sorted[0])
			}
			continue
		}
		vals := make([]graph.Value, len(sorted))
		for j, r := range sorted {
			vals[j] = o.value(r)
		}
		out[i] = graph.List(vals...)
	}
	return out
}

// finish applies rounding, then formatting.
func finish(v graph.Value, precision *int, format string) graph.Value {
	if precision != nil {
		v = round(v, *precision)
	}
	if format != "" && !v.IsNull() {
		v = graph.String(fmt.Sprintf(format, v))
	}
	return v
}

// round rounds numbers half away from zero. Non-positive places yield ints.
func round(v graph.Value, places int) graph.Value {
	switch v.Kind() {
	case graph.KindInt:
		if places >= 0 {
			return v
		}
	case graph.KindFloat:
	default:
		return v
	}
	f, _ := v.Float64()
	r := roundHalfAway(f, places)
	if places <= 0 && !math.IsInf(r, 0) && !math.IsNaN(r) {
		return graph.Int(int64(r))
	}
	return graph.Float(r)
}

// roundHalfAway shifts the decimal exponent in text, so 2.675 rounds to 2.68
// even though its binary value sits just below.
func roundHalfAway(f float64, places int) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f == 0 {
		return f
	}
	mant, exp, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
	e, _ := strconv.Atoi(exp)
	shifted, err := strconv.ParseFloat(mant+"e"+strconv.Itoa(e+places), 64)
	if err != nil {
		return math.Round(f*math.Pow10(places)) / math.Pow10(places)
	}
	r := math.Round(shifted)
	back, err := strconv.ParseFloat(strconv.FormatFloat(r, 'f', -1, 64)+"e"+strconv.Itoa(-places), 64)
	if err != nil {
		return f
	}
	return back
}

// token is a grouping key for values: equal values of the same kind share
// it, and numbers that compare equal share it whatever their kind.
func token(vs ...graph.Value) string {
	var b strings.Builder
	for i, v := range vs {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		if f, ok := v.Float64(); ok {
			b.WriteString("n:" + strconv.FormatFloat(f, 'g', -1, 64))
			continue
		}
		b.WriteString(v.Kind().String())
		b.WriteByte(':')
		b.WriteString(v.String())
	}
	return b.String()
}

// compareBy orders by the keys in turn. Nulls sort last in either
// direction.
func compareBy[E any](keys []sortKey[E]) func(a, b E) int {
	return func(a, b E) int {
		for _, k := range keys {
			x, y := k.acc(a), k.acc(b)
			switch {
			case x.IsNull() && y.IsNull():
				continue
			case x.IsNull():
				return 1
			case y.IsNull():
				return -1
			}
			c := graph.SortCompare(x, y)
			if k.desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	}
}

// finalize applies having, order and limit to projected rows.
func (p *plan) finalize(rows []Row) []Row {
	if p.having != nil {
		rows = slices.DeleteFunc(rows, func(r Row) bool { return !p.having(r) })
	}
	if len(p.order) > 0 {
		slices.SortStableFunc(rows, compareBy(p.order))
	}
	if p.limit >= 0 && len(rows) > p.limit {
		rows = rows[:p.limit]
	}
	return rows
}
