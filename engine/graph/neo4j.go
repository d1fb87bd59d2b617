package graph

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/claimgraph/engine/domain"
	"github.com/WessleyAI/claimgraph/pkg/fn"
	"github.com/WessleyAI/claimgraph/pkg/resilience"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// CypherResult is the subset of neo4j.ResultWithContext the store reads.
type CypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// CypherRunner runs a single statement.
type CypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
}

// CypherSession is a Neo4j session as seen by the store.
type CypherSession interface {
	CypherRunner
	ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error)
	Close(ctx context.Context) error
}

// SessionOpener opens sessions; tests substitute it to avoid a live server.
type SessionOpener interface {
	OpenSession(ctx context.Context) CypherSession
}

type driverOpener struct {
	driver   neo4j.DriverWithContext
	database string
}

func (o driverOpener) OpenSession(ctx context.Context) CypherSession {
	return driverSession{o.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: o.database})}
}

type driverSession struct {
	sess neo4j.SessionWithContext
}

func (s driverSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return s.sess.Run(ctx, cypher, params)
}

func (s driverSession) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return s.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(txRunner{tx})
	})
}

func (s driverSession) Close(ctx context.Context) error { return s.sess.Close(ctx) }

type txRunner struct {
	tx neo4j.ManagedTransaction
}

func (t txRunner) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return t.tx.Run(ctx, cypher, params)
}

// Neo4jOpts configures a Neo4jStore.
type Neo4jOpts struct {
	Database string
	Breaker  resilience.BreakerOpts
	Retry    fn.RetryOpts
	Logger   *slog.Logger
}

// DefaultNeo4jRetry retries transient driver errors with exponential backoff.
var DefaultNeo4jRetry = fn.RetryOpts{
	MaxAttempts: 4,
	InitialWait: 200 * time.Millisecond,
	MaxWait:     5 * time.Second,
	Jitter:      true,
	Retryable:   isRetryable,
}

// Neo4jStore is a Store backed by Neo4j. Nodes are merged on a derived _key
// property that is unique per label.
type Neo4jStore struct {
	driver  neo4j.DriverWithContext
	opener  SessionOpener
	schema  Schema
	breaker *resilience.Breaker
	retry   fn.RetryOpts
	log     *slog.Logger
}

// NewNeo4jStore creates a store on a connected driver.
func NewNeo4jStore(driver neo4j.DriverWithContext, schema Schema, opts Neo4jOpts) *Neo4jStore {
	s := NewNeo4jStoreWithOpener(driverOpener{driver: driver, database: opts.Database}, schema, opts)
	s.driver = driver
	return s
}

// NewNeo4jStoreWithOpener creates a store over a custom session opener.
func NewNeo4jStoreWithOpener(opener SessionOpener, schema Schema, opts Neo4jOpts) *Neo4jStore {
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultNeo4jRetry
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = isRetryable
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	log := opts.Logger.With("component", "neo4j-store")
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = func(attempt int, err error, wait time.Duration) {
			log.Warn("neo4j: retrying write", "attempt", attempt, "wait", wait, "error", err)
		}
	}
	if opts.Breaker.IsFailure == nil {
		opts.Breaker.IsFailure = isBackendFailure
	}
	if opts.Breaker.OnStateChange == nil {
		opts.Breaker.OnStateChange = func(from, to resilience.State) {
			log.Warn("breaker state changed", "from", from, "to", to)
		}
	}
	return &Neo4jStore{
		opener:  opener,
		schema:  schema,
		breaker: resilience.NewBreaker(opts.Breaker),
		retry:   opts.Retry,
		log:     log,
	}
}

// Connect opens a driver, verifies connectivity and returns a store.
func Connect(ctx context.Context, url, user, pass string, schema Schema, opts Neo4jOpts) (*Neo4jStore, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, pass, "")
	}
	driver, err := neo4j.NewDriverWithContext(url, auth)
	if err != nil {
		return nil, fmt.Errorf("graph: neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("graph: neo4j connect: %w", domain.Unavailable(err))
	}
	return NewNeo4jStore(driver, schema, opts), nil
}

func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	return neo4j.IsRetryable(err) || neo4j.IsConnectivityError(err)
}

// isBackendFailure reports whether err says something about the backend's
// health. Client errors such as syntax or constraint violations do not.
func isBackendFailure(err error) bool {
	var nerr *neo4j.Neo4jError
	if errors.As(err, &nerr) {
		return !strings.HasPrefix(nerr.Code, "Neo.ClientError")
	}
	return true
}

// classify maps driver failures onto the domain error space.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, resilience.ErrCircuitOpen) || neo4j.IsConnectivityError(err) {
		return domain.Unavailable(err)
	}
	return err
}

// write runs work in a write transaction behind the breaker, retrying
// transient failures.
func (s *Neo4jStore) write(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	res := fn.Retry(ctx, s.retry, func(ctx context.Context) fn.Result[any] {
		return resilience.CallResult(s.breaker, ctx, func(ctx context.Context) fn.Result[any] {
			sess := s.opener.OpenSession(ctx)
			defer sess.Close(ctx)
			return fn.FromPair(sess.ExecuteWrite(ctx, work))
		})
	})
	v, err := res.Unwrap()
	return v, classify(err)
}

// read runs a statement in its own session behind the breaker and hands
// each record to each.
func (s *Neo4jStore) read(ctx context.Context, cypher string, params map[string]any, each func(*neo4j.Record) error) error {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	var result CypherResult
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		result, err = sess.Run(ctx, cypher, params)
		return err
	})
	if err != nil {
		return classify(err)
	}
	for result.Next(ctx) {
		if err := each(result.Record()); err != nil {
			return err
		}
	}
	return classify(result.Err())
}

// EnsureSchema creates the per-label key constraints and the secondary
// indexes. Statements are idempotent.
func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	var stmts []string
	for _, l := range s.schema.Labels() {
		label := sanitizeIdent(string(l))
		stmts = append(stmts, fmt.Sprintf(
			"CREATE CONSTRAINT %s_key IF NOT EXISTS FOR (n:%s) REQUIRE n._key IS UNIQUE", label, label))
		for _, f := range s.schema.IndexedFields(l) {
			field := sanitizeIdent(f)
			stmts = append(stmts, fmt.Sprintf(
				"CREATE INDEX %s_%s IF NOT EXISTS FOR (n:%s) ON (n.%s)", label, field, label, field))
		}
	}
	for _, stmt := range stmts {
		if _, err := s.write(ctx, func(tx CypherRunner) (any, error) {
			_, err := tx.Run(ctx, stmt, nil)
			return nil, err
		}); err != nil {
			return fmt.Errorf("graph: ensure schema: %w", err)
		}
	}
	s.log.Info("schema ensured", "statements", len(stmts))
	return nil
}

// UpsertNode implements Store.
func (s *Neo4jStore) UpsertNode(ctx context.Context, label domain.Label, key string, props Props) (NodeRef, bool, error) {
	ref := NodeRef{Label: label, Key: key}
	cypher := fmt.Sprintf(`MERGE (n:%s {_key: $key})
		ON CREATE SET n._created = true
		WITH n, coalesce(n._created, false) AS created
		REMOVE n._created
		SET n += $props
		RETURN created`, sanitizeIdent(string(label)))

	v, err := s.write(ctx, func(tx CypherRunner) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"key": key, "props": toNeo4jProps(props)})
		if err != nil {
			return nil, err
		}
		return singleBool(ctx, result, "created")
	})
	if err != nil {
		return ref, false, fmt.Errorf("graph: upsert %s: %w", ref, err)
	}
	created, _ := v.(bool)
	return ref, created, nil
}

// UpsertEdge implements Store.
func (s *Neo4jStore) UpsertEdge(ctx context.Context, typ domain.EdgeType, from, to NodeRef, props Props) (EdgeRef, bool, error) {
	ref := EdgeRef{Type: typ, From: from, To: to}
	set := "SET r += $props"
	if s.schema != nil && s.schema.ReplacesEdgeProps(typ) {
		set = "SET r = $props"
	}
	cypher := fmt.Sprintf(`MATCH (a:%s {_key: $from}), (b:%s {_key: $to})
		MERGE (a)-[r:%s]->(b)
		ON CREATE SET r._created = true
		WITH r, coalesce(r._created, false) AS created
		REMOVE r._created
		%s
		RETURN created`,
		sanitizeIdent(string(from.Label)), sanitizeIdent(string(to.Label)), sanitizeRelType(typ), set)

	v, err := s.write(ctx, func(tx CypherRunner) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"from":  from.Key,
			"to":    to.Key,
			"props": toNeo4jProps(props),
		})
		if err != nil {
			return nil, err
		}
		return singleBool(ctx, result, "created")
	})
	if err != nil {
		return ref, false, fmt.Errorf("graph: upsert edge %s: %w", typ, err)
	}
	created, ok := v.(bool)
	if !ok {
		return ref, false, fmt.Errorf("graph: edge %s %s->%s: %w", typ, from, to, domain.ErrNotFound)
	}
	return ref, created, nil
}

// singleBool reads field from the only row of result. A result with no rows
// yields nil so that a missing MATCH does not count against the breaker.
func singleBool(ctx context.Context, result CypherResult, field string) (any, error) {
	if !result.Next(ctx) {
		return nil, result.Err()
	}
	v, _ := result.Record().Get(field)
	b, _ := v.(bool)
	return b, nil
}

// FindNode implements Store.
func (s *Neo4jStore) FindNode(ctx context.Context, label domain.Label, key string) (Node, error) {
	cypher := fmt.Sprintf(`MATCH (n:%s {_key: $key}) RETURN n`, sanitizeIdent(string(label)))
	var found *Node
	err := s.read(ctx, cypher, map[string]any{"key": key}, func(rec *neo4j.Record) error {
		n, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
		if err != nil {
			return err
		}
		node := nodeFromNeo4j(n)
		found = &node
		return nil
	})
	if err != nil {
		return Node{}, fmt.Errorf("graph: find %s %q: %w", label, key, err)
	}
	if found == nil {
		return Node{}, fmt.Errorf("graph: find %s %q: %w", label, key, domain.ErrNotFound)
	}
	return *found, nil
}

// FindBy implements Store.
func (s *Neo4jStore) FindBy(ctx context.Context, label domain.Label, field string, value Value) ([]Node, error) {
	cypher := fmt.Sprintf(`MATCH (n:%s) WHERE n[$field] = $value RETURN n`, sanitizeIdent(string(label)))
	var out []Node
	err := s.read(ctx, cypher, map[string]any{"field": field, "value": toNeo4jValue(value)}, func(rec *neo4j.Record) error {
		n, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
		if err != nil {
			return err
		}
		out = append(out, nodeFromNeo4j(n))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: find %s by %s: %w", label, field, err)
	}
	return out, nil
}

// ScanNodes implements Store. Records stream from an open session that is
// closed when iteration ends.
func (s *Neo4jStore) ScanNodes(ctx context.Context, label domain.Label, pred NodePredicate) iter.Seq2[Node, error] {
	cypher := fmt.Sprintf(`MATCH (n:%s) RETURN n`, sanitizeIdent(string(label)))
	return func(yield func(Node, error) bool) {
		sess := s.opener.OpenSession(ctx)
		defer sess.Close(ctx)
		result, err := sess.Run(ctx, cypher, nil)
		if err != nil {
			yield(Node{}, fmt.Errorf("graph: scan %s: %w", label, classify(err)))
			return
		}
		for result.Next(ctx) {
			n, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "n")
			if err != nil {
				yield(Node{}, fmt.Errorf("graph: scan %s: %w", label, err))
				return
			}
			node := nodeFromNeo4j(n)
			if pred != nil && !pred(node) {
				continue
			}
			if !yield(node, nil) {
				return
			}
		}
		if err := result.Err(); err != nil {
			yield(Node{}, fmt.Errorf("graph: scan %s: %w", label, classify(err)))
		}
	}
}

// Traverse implements Store.
func (s *Neo4jStore) Traverse(ctx context.Context, from NodeRef, types []domain.EdgeType, dir Direction) ([]Step, error) {
	pattern := "(a)-[r]->(b)"
	switch dir {
	case In:
		pattern = "(a)<-[r]-(b)"
	case Both:
		pattern = "(a)-[r]-(b)"
	}
	cypher := fmt.Sprintf(`MATCH (a:%s {_key: $key})
		OPTIONAL MATCH %s
		WHERE size($types) = 0 OR type(r) IN $types
		RETURN r, b, r IS NOT NULL AND startNode(r) = a AS outgoing`,
		sanitizeIdent(string(from.Label)), pattern)

	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = sanitizeRelType(t)
	}

	var steps []Step
	matched := false
	seen := make(map[EdgeRef]bool)
	err := s.read(ctx, cypher, map[string]any{"key": from.Key, "types": typeNames}, func(rec *neo4j.Record) error {
		matched = true
		raw, _ := rec.Get("r")
		rel, ok := raw.(dbtype.Relationship)
		if !ok {
			return nil
		}
		bn, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "b")
		if err != nil {
			return err
		}
		other := nodeFromNeo4j(bn)
		outgoing, _ := rec.Get("outgoing")
		ref := EdgeRef{Type: domain.EdgeType(rel.Type), From: from, To: other.Ref}
		if isOut, _ := outgoing.(bool); !isOut {
			ref = EdgeRef{Type: domain.EdgeType(rel.Type), From: other.Ref, To: from}
		}
		if seen[ref] {
			return nil
		}
		seen[ref] = true
		steps = append(steps, Step{Edge: Edge{Ref: ref, Props: fromNeo4jProps(rel.Props)}, Node: other})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: traverse from %s: %w", from, err)
	}
	if !matched {
		return nil, fmt.Errorf("graph: traverse from %s: %w", from, domain.ErrNotFound)
	}
	return steps, nil
}

// DropAll implements Store.
func (s *Neo4jStore) DropAll(ctx context.Context) error {
	_, err := s.write(ctx, func(tx CypherRunner) (any, error) {
		_, err := tx.Run(ctx, `MATCH (n) DETACH DELETE n`, nil)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("graph: drop all: %w", err)
	}
	s.log.Warn("graph dropped")
	return nil
}

// Stats implements Store.
func (s *Neo4jStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Nodes: make(map[domain.Label]int64), Edges: make(map[domain.EdgeType]int64)}
	err := s.read(ctx, `MATCH (n) RETURN labels(n)[0] AS type, count(*) AS count`, nil, func(rec *neo4j.Record) error {
		if t, c, ok := typeCount(rec); ok {
			st.Nodes[domain.Label(t)] = c
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("graph: node counts: %w", err)
	}
	err = s.read(ctx, `MATCH ()-[r]->() RETURN type(r) AS type, count(*) AS count`, nil, func(rec *neo4j.Record) error {
		if t, c, ok := typeCount(rec); ok {
			st.Edges[domain.EdgeType(t)] = c
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("graph: relationship counts: %w", err)
	}
	return st, nil
}

func typeCount(rec *neo4j.Record) (string, int64, bool) {
	typ, _ := rec.Get("type")
	cnt, _ := rec.Get("count")
	t, ok1 := typ.(string)
	c, ok2 := cnt.(int64)
	return t, c, ok1 && ok2
}

// Close closes the underlying driver, if the store owns one.
func (s *Neo4jStore) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

// BreakerState exposes the write circuit breaker state for health checks.
func (s *Neo4jStore) BreakerState() resilience.State { return s.breaker.State() }
