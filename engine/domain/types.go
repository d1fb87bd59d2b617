// Package domain defines the insurance graph schema: node labels, edge types,
// business keys, and the reference fields the importer resolves into edges.
// It is the validation gate at import and report entry points.
package domain

// Label names a node type.
type Label string

// EdgeType names a relationship type.
type EdgeType string

// Node labels of the insurance graph.
const (
	LabelInsuranceCompany Label = "InsuranceCompany"
	LabelPerson           Label = "Person"
	LabelPolicy           Label = "Policy"
	LabelCar              Label = "Car"
	LabelAccident         Label = "Accident"
	LabelClaim            Label = "Claim"
)

// Relationship types of the insurance graph.
const (
	EdgeIssued      EdgeType = "ISSUED"
	EdgeCovers      EdgeType = "COVERS"
	EdgeOwns        EdgeType = "OWNS"
	EdgeInvolvedIn  EdgeType = "INVOLVED_IN"
	EdgeCaused      EdgeType = "CAUSED"
	EdgeFiled       EdgeType = "FILED"
	EdgeFiledUnder  EdgeType = "FILED_UNDER"
	EdgeArisingFrom EdgeType = "ARISING_FROM"
)

// ImportOrder is the dependency order batches must be imported in: every
// reference points at a label that appears earlier in the list.
var ImportOrder = []Label{
	LabelInsuranceCompany,
	LabelPerson,
	LabelPolicy,
	LabelCar,
	LabelAccident,
	LabelClaim,
}

// Record is one JSON-object-shaped input entity.
type Record map[string]any

// Batch is an ordered collection of records sharing one label.
type Batch struct {
	Label   Label    `json:"label"`
	Records []Record `json:"records"`
}

// Fixture mirrors a fixture file holding one collection per entity type.
type Fixture struct {
	InsuranceCompanies []Record `json:"insurance_companies"`
	Persons            []Record `json:"persons"`
	Policies           []Record `json:"policies"`
	Cars               []Record `json:"cars"`
	Accidents          []Record `json:"accidents"`
	Claims             []Record `json:"claims"`
}

// Batches returns the fixture's non-empty collections in ImportOrder.
func (f Fixture) Batches() []Batch {
	collections := map[Label][]Record{
		LabelInsuranceCompany: f.InsuranceCompanies,
		LabelPerson:           f.Persons,
		LabelPolicy:           f.Policies,
		LabelCar:              f.Cars,
		LabelAccident:         f.Accidents,
		LabelClaim:            f.Claims,
	}
	var out []Batch
	for _, l := range ImportOrder {
		if recs := collections[l]; len(recs) > 0 {
			out = append(out, Batch{Label: l, Records: recs})
		}
	}
	return out
}
