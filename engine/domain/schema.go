package domain

import "slices"

// LabelDef declares how records of one label are keyed, decoded and linked.
type LabelDef struct {
	Label Label
	// KeyFields form the business key, in key order.
	KeyFields []string
	// TimeFields are parsed into temporal values at import.
	TimeFields []string
	// PointFields maps a {lat, lon, description} field to the property that
	// receives its description ("" drops it).
	PointFields map[string]string
	// Renames maps input field names to stored property names.
	Renames map[string]string
	// Indexed fields support secondary lookups besides the business key.
	Indexed []string
	// Fields are the declared (queryable) property names after renames.
	Fields []string
	// References are resolved into edges after the node is upserted.
	References []Reference
}

// Reference declares one field that links a record to another node.
//
// A scalar or list-of-scalars field holds target business keys. A
// list-of-objects field (ItemKey set) carries one target per item along with
// per-edge properties.
type Reference struct {
	Field  string
	Target Label
	Edge   EdgeType
	// Inbound edges run from the target to the record.
	Inbound bool
	// ItemKey lists the item fields that form the target key, in key order.
	ItemKey []string
	// ItemLookup is the item field matched against LookupField on the target
	// when the item does not carry a complete key.
	ItemLookup  string
	LookupField string
	// EdgeFields are item fields copied onto the edge.
	EdgeFields []string
}

// Nested reports whether the reference field holds a list of objects.
func (r Reference) Nested() bool { return len(r.ItemKey) > 0 }

// EdgeDef declares a relationship type.
type EdgeDef struct {
	Type   EdgeType
	Fields []string
	// ReplaceProps makes re-upserts replace the property bag instead of
	// merging into it.
	ReplaceProps bool
}

// Schema is the injected description of a property graph.
type Schema struct {
	labels     []LabelDef
	edges      []EdgeDef
	labelIndex map[Label]int
	edgeIndex  map[EdgeType]int
}

// NewSchema builds a Schema from label and edge declarations.
func NewSchema(labels []LabelDef, edges []EdgeDef) *Schema {
	s := &Schema{
		labels:     labels,
		edges:      edges,
		labelIndex: make(map[Label]int, len(labels)),
		edgeIndex:  make(map[EdgeType]int, len(edges)),
	}
	for i, l := range labels {
		s.labelIndex[l.Label] = i
	}
	for i, e := range edges {
		s.edgeIndex[e.Type] = i
	}
	return s
}

// Labels returns the declared labels in declaration order.
func (s *Schema) Labels() []Label {
	out := make([]Label, len(s.labels))
	for i, l := range s.labels {
		out[i] = l.Label
	}
	return out
}

// EdgeTypes returns the declared edge types in declaration order.
func (s *Schema) EdgeTypes() []EdgeType {
	out := make([]EdgeType, len(s.edges))
	for i, e := range s.edges {
		out[i] = e.Type
	}
	return out
}

// Label returns the declaration for l.
func (s *Schema) Label(l Label) (LabelDef, bool) {
	i, ok := s.labelIndex[l]
	if !ok {
		return LabelDef{}, false
	}
	return s.labels[i], true
}

// Edge returns the declaration for t.
func (s *Schema) Edge(t EdgeType) (EdgeDef, bool) {
	i, ok := s.edgeIndex[t]
	if !ok {
		return EdgeDef{}, false
	}
	return s.edges[i], true
}

func (s *Schema) HasLabel(l Label) bool {
	_, ok := s.labelIndex[l]
	return ok
}

func (s *Schema) HasEdgeType(t EdgeType) bool {
	_, ok := s.edgeIndex[t]
	return ok
}

// IndexedFields returns the secondary lookup fields of l.
func (s *Schema) IndexedFields(l Label) []string {
	d, _ := s.Label(l)
	return d.Indexed
}

// ReplacesEdgeProps reports whether re-upserting a t edge replaces its props.
func (s *Schema) ReplacesEdgeProps(t EdgeType) bool {
	d, _ := s.Edge(t)
	return d.ReplaceProps
}

// HasNodeField reports whether field is a declared property of l.
func (s *Schema) HasNodeField(l Label, field string) bool {
	d, ok := s.Label(l)
	return ok && slices.Contains(d.Fields, field)
}

// HasEdgeField reports whether field is a declared property of t.
func (s *Schema) HasEdgeField(t EdgeType, field string) bool {
	d, ok := s.Edge(t)
	return ok && slices.Contains(d.Fields, field)
}

// Insurance is the schema of the insurance graph.
var Insurance = NewSchema(
	[]LabelDef{
		{
			Label:     LabelInsuranceCompany,
			KeyFields: []string{"id"},
			Fields:    []string{"id", "name", "address", "contact_email"},
		},
		{
			Label:      LabelPerson,
			KeyFields:  []string{"social_security_number"},
			TimeFields: []string{"date_of_birth"},
			Fields:     []string{"social_security_number", "full_name", "date_of_birth", "address", "phone_number", "risk_level"},
		},
		{
			Label:      LabelPolicy,
			KeyFields:  []string{"policy_id"},
			TimeFields: []string{"start_date", "end_date"},
			Fields: []string{"policy_id", "policy_type", "type_of_insurance", "start_date", "end_date",
				"insured_person", "insurance_company_id", "deductible_amount", "coverage_amount"},
			References: []Reference{
				{Field: "insured_person", Target: LabelPerson, Edge: EdgeCovers},
				{Field: "insurance_company_id", Target: LabelInsuranceCompany, Edge: EdgeIssued, Inbound: true},
			},
		},
		{
			Label:      LabelCar,
			KeyFields:  []string{"registration_number", "vin"},
			TimeFields: []string{"technical_inspection_date", "technical_inspection_end_date"},
			Indexed:    []string{"registration_number"},
			Fields: []string{"registration_number", "vin", "make", "model", "year", "owner",
				"technical_inspection_date", "technical_inspection_end_date", "policy_number"},
			References: []Reference{
				{Field: "owner", Target: LabelPerson, Edge: EdgeOwns, Inbound: true},
				{Field: "policy_number", Target: LabelPolicy, Edge: EdgeCovers, Inbound: true},
			},
		},
		{
			Label:       LabelAccident,
			KeyFields:   []string{"accident_id"},
			TimeFields:  []string{"date"},
			PointFields: map[string]string{"location": "location_desc"},
			Renames: map[string]string{
				"weather_conditions": "weather",
				"severity_level":     "severity",
			},
			Fields: []string{"accident_id", "date", "weather", "description", "severity", "location", "location_desc"},
			References: []Reference{
				{
					Field:       "involved_cars",
					Target:      LabelCar,
					Edge:        EdgeInvolvedIn,
					Inbound:     true,
					ItemKey:     []string{"registration_number", "vin"},
					ItemLookup:  "registration_number",
					LookupField: "registration_number",
					EdgeFields:  []string{"damage_level", "damage_description"},
				},
				{
					Field:   "involved_cars",
					Target:  LabelPerson,
					Edge:    EdgeCaused,
					Inbound: true,
					ItemKey: []string{"at_fault_party"},
				},
				{
					Field:      "involved_persons",
					Target:     LabelPerson,
					Edge:       EdgeInvolvedIn,
					Inbound:    true,
					ItemKey:    []string{"ssn"},
					EdgeFields: []string{"role", "injuries"},
				},
			},
		},
		{
			Label:      LabelClaim,
			KeyFields:  []string{"claim_id"},
			TimeFields: []string{"date_filed"},
			Fields: []string{"claim_id", "claimant", "policy_number", "accident_id", "claim_amount",
				"status", "date_filed", "description"},
			References: []Reference{
				{Field: "claimant", Target: LabelPerson, Edge: EdgeFiled, Inbound: true},
				{Field: "policy_number", Target: LabelPolicy, Edge: EdgeFiledUnder},
				{Field: "accident_id", Target: LabelAccident, Edge: EdgeArisingFrom},
			},
		},
	},
	[]EdgeDef{
		{Type: EdgeIssued},
		{Type: EdgeCovers},
		{Type: EdgeOwns},
		{Type: EdgeInvolvedIn, Fields: []string{"damage_level", "damage_description", "role", "injuries"}, ReplaceProps: true},
		{Type: EdgeCaused},
		{Type: EdgeFiled},
		{Type: EdgeFiledUnder},
		{Type: EdgeArisingFrom},
	},
)
