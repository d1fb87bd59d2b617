package graph

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestFromAny_JSON(t *testing.T) {
	var raw any
	if err := json.Unmarshal([]byte(`{"a":1,"b":2.5,"c":"x","d":[true,null],"e":{"f":3}}`), &raw); err != nil {
		t.Fatal(err)
	}
	v, err := FromAny(raw)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := v.Map()
	if !ok {
		t.Fatalf("kind = %s", v.Kind())
	}
	if m["a"].Kind() != KindInt {
		t.Errorf("whole number should be int, got %s", m["a"].Kind())
	}
	if m["b"].Kind() != KindFloat {
		t.Errorf("fraction should be float, got %s", m["b"].Kind())
	}
	list, _ := m["d"].List()
	if len(list) != 2 || list[0].Kind() != KindBool || !list[1].IsNull() {
		t.Errorf("list = %v", list)
	}
	inner, _ := m["e"].Map()
	if i, _ := inner["f"].Int64(); i != 3 {
		t.Errorf("nested = %v", inner)
	}
}

func TestFromAny_JSONNumber(t *testing.T) {
	tests := []struct {
		in   json.Number
		kind Kind
		want float64
	}{
		{"30", KindInt, 30},
		{"30.0", KindInt, 30},
		{"1e2", KindInt, 100},
		{"30.5", KindFloat, 30.5},
	}
	for _, tt := range tests {
		v, err := FromAny(tt.in)
		if err != nil {
			t.Fatalf("FromAny(%q): %v", tt.in, err)
		}
		if f, _ := v.Float64(); v.Kind() != tt.kind || f != tt.want {
			t.Errorf("FromAny(%q) = %v (%s), want %v (%s)", tt.in, v, v.Kind(), tt.want, tt.kind)
		}
	}
	if _, err := FromAny(json.Number("x")); err == nil {
		t.Error("expected an error for a malformed number")
	}
}

func TestFromAny_Unsupported(t *testing.T) {
	if _, err := FromAny(struct{}{}); err == nil {
		t.Error("expected error for struct")
	}
}

func TestValue_MarshalJSON(t *testing.T) {
	props := map[string]Value{
		"when":  Time(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)),
		"where": PointOf(Point{Lat: 56.95, Lon: 24.1}),
		"n":     Int(3),
		"none":  Null(),
	}
	b, err := json.Marshal(props)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"n":3,"none":null,"when":"2024-05-01T08:00:00Z","where":{"lat":56.95,"lon":24.1}}`
	if string(b) != want {
		t.Errorf("got %s\nwant %s", b, want)
	}
}

func TestValue_Format(t *testing.T) {
	tests := []struct {
		format string
		v      Value
		want   string
	}{
		{"%v kWh", Float(12.5), "12.5 kWh"},
		{"%v kWh", Int(7), "7 kWh"},
		{"%.2f", Float(1.005), "1.00"},
		{"%d items", Int(4), "4 items"},
		{"%v", String("hello"), "hello"},
		{"%v", Null(), "null"},
	}
	for _, tt := range tests {
		if got := fmt.Sprintf(tt.format, tt.v); got != tt.want {
			t.Errorf("Sprintf(%q, %v) = %q, want %q", tt.format, tt.v.Any(), got, tt.want)
		}
	}
}

func TestEqualAndCompare(t *testing.T) {
	if !Equal(Int(3), Float(3)) {
		t.Error("3 == 3.0")
	}
	if Equal(String("3"), Int(3)) {
		t.Error("string and int must differ")
	}
	t1 := Time(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	t2 := Time(time.Date(2023, 1, 1, 2, 0, 0, 0, time.FixedZone("EET", 2*3600)))
	if !Equal(t1, t2) {
		t.Error("same instant in different zones should be equal")
	}

	cases := []struct {
		a, b Value
		want int
		ok   bool
	}{
		{Int(1), Int(2), -1, true},
		{Float(2.5), Int(2), 1, true},
		{String("b"), String("a"), 1, true},
		{t1, Time(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), -1, true},
		{Bool(false), Bool(true), -1, true},
		{String("2023-01-01"), t1, 0, false},
		{Null(), Int(1), 0, false},
	}
	for _, c := range cases {
		got, ok := Compare(c.a, c.b)
		if got != c.want || ok != c.ok {
			t.Errorf("Compare(%v, %v) = (%d, %v), want (%d, %v)", c.a, c.b, got, ok, c.want, c.ok)
		}
	}
}

func TestSortCompare_NullsLast(t *testing.T) {
	if SortCompare(Null(), Int(1)) != 1 || SortCompare(Int(1), Null()) != -1 {
		t.Error("nulls should sort last")
	}
	if SortCompare(Null(), Null()) != 0 {
		t.Error("null == null")
	}
}

func TestDistance(t *testing.T) {
	riga := Point{Lat: 56.951, Lon: 24.113}
	if d := Distance(riga, riga); d != 0 {
		t.Errorf("distance to self = %v", d)
	}
	inside := Point{Lat: 56.951 + 0.179, Lon: 24.113}
	outside := Point{Lat: 56.951 + 0.181, Lon: 24.113}
	if d := Distance(riga, inside); d > 20000 {
		t.Errorf("0.179 deg north = %.1f m, want <= 20000", d)
	}
	if d := Distance(riga, outside); d <= 20000 {
		t.Errorf("0.181 deg north = %.1f m, want > 20000", d)
	}
	// One degree of latitude on the mean sphere.
	want := EarthRadiusMeters * math.Pi / 180
	if d := Distance(Point{0, 0}, Point{1, 0}); math.Abs(d-want) > 1e-6 {
		t.Errorf("1 deg = %v, want %v", d, want)
	}
}

func TestPointFromAny(t *testing.T) {
	tests := []struct {
		in any
		ok bool
	}{
		{map[string]any{"lat": 56.9, "lon": 24.1}, true},
		{map[string]any{"latitude": 56.9, "longitude": 24.1}, true},
		{map[string]any{"lat": 56.9}, false},
		{map[string]any{"lat": 156.9, "lon": 24.1}, false},
		{"56.9,24.1", false},
	}
	for _, tt := range tests {
		if _, ok := PointFromAny(tt.in); ok != tt.ok {
			t.Errorf("PointFromAny(%v) ok = %v", tt.in, ok)
		}
	}
}
