package graph

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/WessleyAI/claimgraph/engine/domain"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(domain.Insurance)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestMemoryStore_UpsertNodeMerges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ref, created, err := s.UpsertNode(ctx, domain.LabelPerson, "P1", Props{"full_name": String("Anna"), "risk_level": String("low")})
	if err != nil || !created {
		t.Fatalf("first upsert: created=%v err=%v", created, err)
	}
	_, created, err = s.UpsertNode(ctx, domain.LabelPerson, "P1", Props{"risk_level": String("high"), "phone_number": String("123")})
	if err != nil || created {
		t.Fatalf("second upsert: created=%v err=%v", created, err)
	}

	n, err := s.FindNode(ctx, ref.Label, ref.Key)
	if err != nil {
		t.Fatal(err)
	}
	want := Props{"full_name": String("Anna"), "risk_level": String("high"), "phone_number": String("123")}
	if len(n.Props) != len(want) {
		t.Fatalf("props = %v", n.Props)
	}
	for k, v := range want {
		if !Equal(n.Props[k], v) {
			t.Errorf("%s = %v, want %v", k, n.Props[k], v)
		}
	}
}

func TestMemoryStore_SnapshotIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.UpsertNode(ctx, domain.LabelPerson, "P1", Props{"risk_level": String("low")})

	before, _ := s.FindNode(ctx, domain.LabelPerson, "P1")
	s.UpsertNode(ctx, domain.LabelPerson, "P1", Props{"risk_level": String("high")})

	if got, _ := before.Props["risk_level"].Str(); got != "low" {
		t.Errorf("earlier snapshot changed to %q", got)
	}
}

func TestMemoryStore_FindNodeMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FindNode(context.Background(), domain.LabelClaim, "nope")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_FindByIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.UpsertNode(ctx, domain.LabelCar, domain.JoinKey("AB-1", "V1"), Props{"registration_number": String("AB-1")})
	s.UpsertNode(ctx, domain.LabelCar, domain.JoinKey("CD-2", "V2"), Props{"registration_number": String("CD-2")})

	got, err := s.FindBy(ctx, domain.LabelCar, "registration_number", String("CD-2"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Ref.Key != domain.JoinKey("CD-2", "V2") {
		t.Fatalf("FindBy = %v", got)
	}

	// Re-registration moves the node between index buckets.
	s.UpsertNode(ctx, domain.LabelCar, domain.JoinKey("CD-2", "V2"), Props{"registration_number": String("EF-3")})
	if got, _ := s.FindBy(ctx, domain.LabelCar, "registration_number", String("CD-2")); len(got) != 0 {
		t.Errorf("stale index entry: %v", got)
	}
	if got, _ := s.FindBy(ctx, domain.LabelCar, "registration_number", String("EF-3")); len(got) != 1 {
		t.Errorf("missing index entry: %v", got)
	}
}

func TestMemoryStore_FindByScan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.UpsertNode(ctx, domain.LabelPerson, "P1", Props{"risk_level": String("high")})
	s.UpsertNode(ctx, domain.LabelPerson, "P2", Props{"risk_level": String("low")})
	s.UpsertNode(ctx, domain.LabelPerson, "P3", Props{"risk_level": String("high")})

	got, err := s.FindBy(ctx, domain.LabelPerson, "risk_level", String("high"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Ref.Key != "P1" || got[1].Ref.Key != "P3" {
		t.Errorf("FindBy = %v", got)
	}
}

func TestMemoryStore_UpsertEdge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	company, _, _ := s.UpsertNode(ctx, domain.LabelInsuranceCompany, "IC1", nil)
	policy, _, _ := s.UpsertNode(ctx, domain.LabelPolicy, "POL1", nil)

	_, created, err := s.UpsertEdge(ctx, domain.EdgeIssued, company, policy, Props{"channel": String("web")})
	if err != nil || !created {
		t.Fatalf("first edge: created=%v err=%v", created, err)
	}
	_, created, err = s.UpsertEdge(ctx, domain.EdgeIssued, company, policy, Props{"agent": String("A7")})
	if err != nil || created {
		t.Fatalf("second edge: created=%v err=%v", created, err)
	}

	steps, err := s.Traverse(ctx, company, nil, Out)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 1 {
		t.Fatalf("expected one edge, got %d", len(steps))
	}
	if len(steps[0].Edge.Props) != 2 {
		t.Errorf("ISSUED props should merge, got %v", steps[0].Edge.Props)
	}

	st, _ := s.Stats(ctx)
	if st.Edges[domain.EdgeIssued] != 1 {
		t.Errorf("edge count = %d", st.Edges[domain.EdgeIssued])
	}
}

func TestMemoryStore_UpsertEdgeReplacesInvolvedIn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, _, _ := s.UpsertNode(ctx, domain.LabelPerson, "P1", nil)
	a, _, _ := s.UpsertNode(ctx, domain.LabelAccident, "A1", nil)

	s.UpsertEdge(ctx, domain.EdgeInvolvedIn, p, a, Props{"role": String("driver"), "injuries": String("minor")})
	s.UpsertEdge(ctx, domain.EdgeInvolvedIn, p, a, Props{"role": String("passenger")})

	steps, _ := s.Traverse(ctx, a, []domain.EdgeType{domain.EdgeInvolvedIn}, In)
	if len(steps) != 1 {
		t.Fatalf("steps = %d", len(steps))
	}
	props := steps[0].Edge.Props
	if _, ok := props["injuries"]; ok {
		t.Errorf("INVOLVED_IN should replace props, got %v", props)
	}
	if role, _ := props["role"].Str(); role != "passenger" {
		t.Errorf("role = %q", role)
	}
}

func TestMemoryStore_UpsertEdgeMissingEndpoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, _, _ := s.UpsertNode(ctx, domain.LabelPerson, "P1", nil)

	_, _, err := s.UpsertEdge(ctx, domain.EdgeOwns, p, NodeRef{Label: domain.LabelCar, Key: "ghost"}, nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	st, _ := s.Stats(ctx)
	if len(st.Edges) != 0 {
		t.Errorf("no edge should be stored, got %v", st.Edges)
	}
}

func TestMemoryStore_TraverseDirections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	person, _, _ := s.UpsertNode(ctx, domain.LabelPerson, "P1", nil)
	car, _, _ := s.UpsertNode(ctx, domain.LabelCar, "C1", nil)
	acc, _, _ := s.UpsertNode(ctx, domain.LabelAccident, "A1", nil)
	s.UpsertEdge(ctx, domain.EdgeOwns, person, car, nil)
	s.UpsertEdge(ctx, domain.EdgeInvolvedIn, car, acc, nil)

	tests := []struct {
		name  string
		from  NodeRef
		types []domain.EdgeType
		dir   Direction
		want  []string
	}{
		{"out", car, nil, Out, []string{"A1"}},
		{"in", car, nil, In, []string{"P1"}},
		{"both", car, nil, Both, []string{"A1", "P1"}},
		{"filtered", car, []domain.EdgeType{domain.EdgeOwns}, Both, []string{"P1"}},
		{"none", person, nil, In, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps, err := s.Traverse(ctx, tt.from, tt.types, tt.dir)
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, st := range steps {
				got = append(got, st.Node.Ref.Key)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}

	if _, err := s.Traverse(ctx, NodeRef{Label: domain.LabelCar, Key: "ghost"}, nil, Out); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ScanNodes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, k := range []string{"A1", "A2", "A3", "A4"} {
		s.UpsertNode(ctx, domain.LabelAccident, k, Props{"severity": String(k)})
	}

	var keys []string
	for n, err := range s.ScanNodes(ctx, domain.LabelAccident, func(n Node) bool { return n.Ref.Key != "A2" }) {
		if err != nil {
			t.Fatal(err)
		}
		keys = append(keys, n.Ref.Key)
	}
	if len(keys) != 3 || keys[0] != "A1" || keys[1] != "A3" || keys[2] != "A4" {
		t.Errorf("scan order = %v", keys)
	}

	// Early stop, then a fresh scan starts over.
	count := 0
	for range s.ScanNodes(ctx, domain.LabelAccident, nil) {
		count++
		if count == 2 {
			break
		}
	}
	total := 0
	for range s.ScanNodes(ctx, domain.LabelAccident, nil) {
		total++
	}
	if total != 4 {
		t.Errorf("restarted scan saw %d nodes", total)
	}
}

func TestMemoryStore_ScanCancelled(t *testing.T) {
	s := newTestStore(t)
	s.UpsertNode(context.Background(), domain.LabelAccident, "A1", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, err := range s.ScanNodes(ctx, domain.LabelAccident, nil) {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	}
}

func TestMemoryStore_DropAllAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _, _ := s.UpsertNode(ctx, domain.LabelPerson, "P1", nil)
	b, _, _ := s.UpsertNode(ctx, domain.LabelPerson, "P2", nil)
	s.UpsertNode(ctx, domain.LabelClaim, "C1", nil)
	s.UpsertEdge(ctx, domain.EdgeFiled, a, b, nil)

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Nodes[domain.LabelPerson] != 2 || st.Nodes[domain.LabelClaim] != 1 {
		t.Errorf("node stats = %v", st.Nodes)
	}

	if err := s.DropAll(ctx); err != nil {
		t.Fatal(err)
	}
	st, _ = s.Stats(ctx)
	if len(st.Nodes) != 0 || len(st.Edges) != 0 {
		t.Errorf("stats after drop = %+v", st)
	}
	if _, err := s.FindNode(ctx, domain.LabelPerson, "P1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound after drop, got %v", err)
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore(domain.Insurance)
	s.Close(context.Background())
	_, _, err := s.UpsertNode(context.Background(), domain.LabelPerson, "P1", nil)
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestMemoryStore_ConcurrentUpsertsSameKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, created, err := s.UpsertNode(ctx, domain.LabelPerson, "P1", Props{"n": Int(int64(i))})
			if err != nil {
				t.Error(err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if createdCount != 1 {
		t.Errorf("created reported %d times", createdCount)
	}
	st, _ := s.Stats(ctx)
	if st.Nodes[domain.LabelPerson] != 1 {
		t.Errorf("person count = %d", st.Nodes[domain.LabelPerson])
	}
}
