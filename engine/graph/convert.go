package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/WessleyAI/claimgraph/engine/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// wgs84 is the Neo4j spatial reference id for 2D geographic points.
const wgs84 = 4326

// toNeo4jProps flattens nested maps into dotted property names, since Neo4j
// only stores scalars and homogeneous scalar lists.
func toNeo4jProps(p Props) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		flatten(k, v, out)
	}
	return out
}

func flatten(name string, v Value, out map[string]any) {
	if m, ok := v.Map(); ok && len(m) > 0 {
		for k, e := range m {
			flatten(name+"."+k, e, out)
		}
		return
	}
	out[name] = toNeo4jValue(v)
}

func toNeo4jValue(v Value) any {
	switch v.Kind() {
	case KindPoint:
		p, _ := v.Point()
		return dbtype.Point2D{SpatialRefId: wgs84, X: p.Lon, Y: p.Lat}
	case KindTime:
		t, _ := v.Time()
		return t
	case KindMap:
		return nil
	case KindList:
		items, _ := v.List()
		out := make([]any, 0, len(items))
		for _, e := range items {
			if e.Kind() == KindList || e.Kind() == KindMap {
				// Lists of objects have no Neo4j representation.
				b, _ := json.Marshal(v)
				return string(b)
			}
			out = append(out, toNeo4jValue(e))
		}
		return out
	default:
		return v.Any()
	}
}

// fromNeo4jProps rebuilds a bag from stored properties, dropping internal
// fields and nesting dotted names.
func fromNeo4jProps(props map[string]any) Props {
	out := make(Props, len(props))
	keys := make([]string, 0, len(props))
	for k := range props {
		if strings.HasPrefix(k, "_") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fromNeo4jValue(props[k])
		path := strings.Split(k, ".")
		if len(path) == 1 {
			out[k] = v
			continue
		}
		setPath(out, path, v)
	}
	return out
}

func setPath(p Props, path []string, v Value) {
	head := path[0]
	if len(path) == 1 {
		p[head] = v
		return
	}
	var child Props
	if m, ok := p[head].Map(); ok {
		child = Props(m)
	} else {
		child = Props{}
	}
	setPath(child, path[1:], v)
	p[head] = Map(child)
}

func fromNeo4jValue(x any) Value {
	switch t := x.(type) {
	case dbtype.Point2D:
		return PointOf(Point{Lat: t.Y, Lon: t.X})
	case dbtype.Point3D:
		return PointOf(Point{Lat: t.Y, Lon: t.X})
	case dbtype.Date:
		return Time(time.Time(t))
	case dbtype.LocalDateTime:
		return Time(time.Time(t))
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = fromNeo4jValue(e)
		}
		return List(out...)
	}
	v, err := FromAny(x)
	if err != nil {
		return String(fmt.Sprint(x))
	}
	return v
}

func nodeFromNeo4j(n dbtype.Node) Node {
	key, _ := n.Props[FieldKey].(string)
	var label domain.Label
	if len(n.Labels) > 0 {
		label = domain.Label(n.Labels[0])
	}
	return Node{Ref: NodeRef{Label: label, Key: key}, Props: fromNeo4jProps(n.Props)}
}

// sanitizeIdent keeps the identifier characters of a label or relationship
// type so it can be spliced into Cypher.
func sanitizeIdent(s string) string {
	safe := make([]byte, 0, len(s))
	for i := range s {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	return string(safe)
}

// sanitizeRelType ensures the relationship type is a valid upper-case Cypher
// identifier.
func sanitizeRelType(t domain.EdgeType) string {
	safe := strings.ToUpper(sanitizeIdent(string(t)))
	if safe == "" {
		return "RELATED_TO"
	}
	return safe
}
