package ingest

import (
	"fmt"
	"slices"

	"github.com/WessleyAI/claimgraph/engine/domain"
	"github.com/WessleyAI/claimgraph/engine/graph"
)

// decoded is a record after validation: its identity, stored properties and
// the references still to resolve.
type decoded struct {
	index int
	ref   graph.NodeRef
	props graph.Props
	links []link
}

// link is one reference target. Exactly one of key or lookup is set.
type link struct {
	edge    domain.EdgeType
	target  domain.Label
	inbound bool
	key     string
	// lookup resolves the target by a secondary field.
	lookupField string
	lookup      graph.Value
	props       graph.Props
	field       string
}

// decodeRecord validates rec against def and converts it into stored
// properties. Failures are *domain.RecordError.
func decodeRecord(def domain.LabelDef, index int, rec domain.Record) (decoded, error) {
	key, err := domain.ExtractKey(def, rec)
	if err != nil {
		return decoded{}, err
	}
	nested := make(map[string]bool)
	for _, r := range def.References {
		if r.Nested() {
			nested[r.Field] = true
		}
	}

	props := make(graph.Props, len(rec))
	for field, raw := range rec {
		if nested[field] {
			continue
		}
		name := field
		if to, ok := def.Renames[field]; ok {
			name = to
		}
		if raw == nil {
			continue
		}
		switch {
		case slices.Contains(def.TimeFields, field):
			t, err := decodeTime(raw)
			if err != nil {
				return decoded{}, domain.NewRecordError(def.Label, field, err.Error())
			}
			props[name] = t
		case hasKey(def.PointFields, field):
			p, ok := graph.PointFromAny(raw)
			if !ok {
				return decoded{}, domain.NewRecordError(def.Label, field, "expected {lat, lon} object")
			}
			props[name] = graph.PointOf(p)
			if descProp := def.PointFields[field]; descProp != "" {
				if m, ok := raw.(map[string]any); ok {
					if d, ok := m["description"].(string); ok {
						props[descProp] = graph.String(d)
					}
				}
			}
		default:
			v, err := graph.FromAny(raw)
			if err != nil {
				return decoded{}, domain.NewRecordError(def.Label, field, err.Error())
			}
			props[name] = v
		}
	}

	links, err := referencesOf(def, rec)
	if err != nil {
		return decoded{}, err
	}
	return decoded{
		index: index,
		ref:   graph.NodeRef{Label: def.Label, Key: key},
		props: props,
		links: links,
	}, nil
}

func decodeTime(raw any) (graph.Value, error) {
	s, ok := domain.KeyString(raw)
	if !ok {
		return graph.Null(), fmt.Errorf("expected a date, got %T", raw)
	}
	t, err := domain.ParseTime(s)
	if err != nil {
		return graph.Null(), err
	}
	return graph.Time(t), nil
}

// referencesOf lists the link targets declared by def's references.
func referencesOf(def domain.LabelDef, rec domain.Record) ([]link, error) {
	var out []link
	for _, ref := range def.References {
		raw, ok := rec[ref.Field]
		if !ok || raw == nil {
			continue
		}
		if ref.Nested() {
			items, ok := raw.([]any)
			if !ok {
				return nil, domain.NewRecordError(def.Label, ref.Field, "expected a list of objects")
			}
			for _, it := range items {
				item, ok := it.(map[string]any)
				if !ok {
					return nil, domain.NewRecordError(def.Label, ref.Field, "expected a list of objects")
				}
				if l, ok := nestedLink(ref, item); ok {
					out = append(out, l)
				}
			}
			continue
		}
		keys, err := scalarKeys(raw)
		if err != nil {
			return nil, domain.NewRecordError(def.Label, ref.Field, err.Error())
		}
		for _, k := range keys {
			out = append(out, link{edge: ref.Edge, target: ref.Target, inbound: ref.Inbound, key: k, field: ref.Field})
		}
	}
	return out, nil
}

// nestedLink builds the link for one item of a list-of-objects reference.
// Items that name no target at all are not references.
func nestedLink(ref domain.Reference, item map[string]any) (link, bool) {
	l := link{edge: ref.Edge, target: ref.Target, inbound: ref.Inbound, field: ref.Field}
	for _, f := range ref.EdgeFields {
		if raw, ok := item[f]; ok && raw != nil {
			if v, err := graph.FromAny(raw); err == nil {
				if l.props == nil {
					l.props = graph.Props{}
				}
				l.props[f] = v
			}
		}
	}
	if key, complete := domain.ItemKey(ref, item); complete {
		l.key = key
		return l, true
	}
	if ref.ItemLookup != "" {
		raw := item[ref.ItemLookup]
		if _, ok := domain.KeyString(raw); ok {
			if v, err := graph.FromAny(raw); err == nil {
				l.lookupField = ref.LookupField
				l.lookup = v
				return l, true
			}
		}
	}
	return link{}, false
}

// scalarKeys accepts a scalar key or a list of scalar keys.
func scalarKeys(raw any) ([]string, error) {
	if list, ok := raw.([]any); ok {
		out := make([]string, 0, len(list))
		for _, e := range list {
			k, ok := domain.KeyString(e)
			if !ok {
				return nil, fmt.Errorf("reference list holds %T", e)
			}
			out = append(out, k)
		}
		return out, nil
	}
	k, ok := domain.KeyString(raw)
	if !ok {
		if _, blank := raw.(string); blank {
			return nil, nil
		}
		return nil, fmt.Errorf("reference must be a scalar or a list of scalars, got %T", raw)
	}
	return []string{k}, nil
}

func hasKey(m map[string]string, k string) bool {
	_, ok := m[k]
	return ok
}
