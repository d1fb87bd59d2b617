package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// orderIndex returns the position of l in ImportOrder, or -1.
func orderIndex(l Label) int {
	for i, o := range ImportOrder {
		if o == l {
			return i
		}
	}
	return -1
}

func TestInsuranceSchema_ReferencesPointBackwards(t *testing.T) {
	for _, l := range Insurance.Labels() {
		def, _ := Insurance.Label(l)
		for _, ref := range def.References {
			if orderIndex(ref.Target) >= orderIndex(l) {
				t.Errorf("%s.%s references %s which is not imported earlier", l, ref.Field, ref.Target)
			}
			if !Insurance.HasEdgeType(ref.Edge) {
				t.Errorf("%s.%s uses undeclared edge %s", l, ref.Field, ref.Edge)
			}
			for _, f := range ref.EdgeFields {
				if !Insurance.HasEdgeField(ref.Edge, f) {
					t.Errorf("%s.%s copies undeclared edge field %s", l, ref.Field, f)
				}
			}
		}
	}
}

func TestInsuranceSchema_KeysAreDeclaredFields(t *testing.T) {
	for _, l := range Insurance.Labels() {
		def, _ := Insurance.Label(l)
		for _, f := range def.KeyFields {
			if !Insurance.HasNodeField(l, f) {
				t.Errorf("%s key %s is not a declared field", l, f)
			}
		}
		for _, f := range def.TimeFields {
			if !Insurance.HasNodeField(l, f) {
				t.Errorf("%s time field %s is not declared", l, f)
			}
		}
	}
}

func TestInsuranceSchema_Lookups(t *testing.T) {
	if got := Insurance.IndexedFields(LabelCar); len(got) != 1 || got[0] != "registration_number" {
		t.Errorf("Car indexed fields = %v", got)
	}
	if !Insurance.ReplacesEdgeProps(EdgeInvolvedIn) {
		t.Error("INVOLVED_IN should replace its props")
	}
	if Insurance.ReplacesEdgeProps(EdgeCovers) {
		t.Error("COVERS should merge its props")
	}
	if Insurance.HasLabel("Boat") || Insurance.HasEdgeType("SANK") {
		t.Error("unknown names must not resolve")
	}
	if Insurance.HasNodeField(LabelAccident, "weather_conditions") {
		t.Error("renamed input field must not be declared")
	}
	if !Insurance.HasNodeField(LabelAccident, "weather") {
		t.Error("weather should be declared on Accident")
	}
}

func TestFixtureBatches_Order(t *testing.T) {
	f := Fixture{
		Claims:             []Record{{"claim_id": "C1"}},
		Cars:               []Record{{"registration_number": "R1", "vin": "V1"}},
		InsuranceCompanies: []Record{{"id": "IC1"}},
	}
	batches := f.Batches()
	var got []string
	for _, b := range batches {
		got = append(got, string(b.Label))
	}
	want := "InsuranceCompany,Car,Claim"
	if strings.Join(got, ",") != want {
		t.Errorf("batch order = %v, want %s", got, want)
	}
}

func TestImportOrder_UnknownLabel(t *testing.T) {
	if orderIndex("Boat") != -1 {
		t.Error("expected -1 for unknown label")
	}
}

func TestErrors_Unwrap(t *testing.T) {
	rec := NewRecordError(LabelPerson, "date_of_birth", "unparseable time")
	if !errors.Is(rec, ErrMalformedRecord) {
		t.Error("RecordError should unwrap to ErrMalformedRecord")
	}
	if !strings.Contains(rec.Error(), "Person.date_of_birth") {
		t.Errorf("unexpected message %q", rec.Error())
	}

	spec := NewSpecError("filters[0].op", "unknown operator %q", "like")
	if !errors.Is(spec, ErrInvalidReportSpec) {
		t.Error("SpecError should unwrap to ErrInvalidReportSpec")
	}

	cause := errors.New("dial tcp: refused")
	err := Unavailable(cause)
	if !errors.Is(err, ErrBackendUnavailable) || !errors.Is(err, cause) {
		t.Errorf("Unavailable should wrap both sentinel and cause: %v", err)
	}
	if Unavailable(nil) != nil {
		t.Error("Unavailable(nil) should be nil")
	}
	wrapped := fmt.Errorf("graph: upsert: %w", err)
	if Unavailable(wrapped) != wrapped {
		t.Error("already-unavailable errors should pass through")
	}
}
