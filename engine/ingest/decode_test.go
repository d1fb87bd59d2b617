package ingest

import (
	"errors"
	"testing"

	"github.com/WessleyAI/claimgraph/engine/domain"
)

func mustDef(t *testing.T, l domain.Label) domain.LabelDef {
	t.Helper()
	def, ok := domain.Insurance.Label(l)
	if !ok {
		t.Fatalf("no label %s", l)
	}
	return def
}

func TestDecodeRecordLinks(t *testing.T) {
	def := mustDef(t, domain.LabelAccident)
	d, err := decodeRecord(def, 0, domain.Record{
		"accident_id": "A1",
		"involved_cars": []any{
			map[string]any{"registration_number": "AB-1", "vin": "V1", "damage_level": "high", "at_fault_party": "P1"},
			map[string]any{"registration_number": "CD-2"},
			map[string]any{"damage_level": "none"},
		},
		"involved_persons": []any{map[string]any{"ssn": "P2", "role": "witness"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	type want struct {
		edge   domain.EdgeType
		target domain.Label
		key    string
		lookup string
	}
	wants := []want{
		{domain.EdgeInvolvedIn, domain.LabelCar, domain.JoinKey("AB-1", "V1"), ""},
		{domain.EdgeInvolvedIn, domain.LabelCar, "", "CD-2"},
		{domain.EdgeCaused, domain.LabelPerson, "P1", ""},
		{domain.EdgeInvolvedIn, domain.LabelPerson, "P2", ""},
	}
	if len(d.links) != len(wants) {
		t.Fatalf("expected %d links, got %d: %+v", len(wants), len(d.links), d.links)
	}
	for i, w := range wants {
		l := d.links[i]
		if l.edge != w.edge || l.target != w.target || l.key != w.key || !l.inbound {
			t.Errorf("link %d: got %+v, want %+v", i, l, w)
		}
		if got, _ := l.lookup.Str(); got != w.lookup {
			t.Errorf("link %d: lookup %q, want %q", i, got, w.lookup)
		}
	}
	if v, _ := d.links[0].props["damage_level"].Str(); v != "high" {
		t.Errorf("edge props not copied: %v", d.links[0].props)
	}
	if _, ok := d.links[2].props["damage_level"]; ok {
		t.Errorf("CAUSED should carry no props: %v", d.links[2].props)
	}
}

func TestScalarKeys(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		want    []string
		wantErr bool
	}{
		{"string", "POL1", []string{"POL1"}, false},
		{"whole number", float64(42), []string{"42"}, false},
		{"list fans out", []any{"POL1", "POL2"}, []string{"POL1", "POL2"}, false},
		{"blank string", "  ", nil, false},
		{"object", map[string]any{"id": 1}, nil, true},
		{"list of objects", []any{map[string]any{}}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := scalarKeys(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestDecodeRecordErrorsAreRecordErrors(t *testing.T) {
	_, err := decodeRecord(mustDef(t, domain.LabelClaim), 3, domain.Record{"claim_id": "C1", "date_filed": true})
	var re *domain.RecordError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RecordError, got %T %v", err, err)
	}
	if re.Field != "date_filed" || !errors.Is(err, domain.ErrMalformedRecord) {
		t.Fatalf("unexpected error: %+v", re)
	}
}

func TestDecodeBareYear(t *testing.T) {
	d, err := decodeRecord(mustDef(t, domain.LabelCar), 0, domain.Record{
		"registration_number": "AB-1", "vin": "V1", "technical_inspection_date": float64(2021),
	})
	if err != nil {
		t.Fatal(err)
	}
	tm, ok := d.props["technical_inspection_date"].Time()
	if !ok || tm.Year() != 2021 || tm.YearDay() != 1 {
		t.Fatalf("expected 2021-01-01, got %v", d.props["technical_inspection_date"])
	}
}
