package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/WessleyAI/claimgraph/engine/ingest"
	"github.com/WessleyAI/claimgraph/pkg/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.json")
	fx := `{
		"persons": [{"social_security_number": "P1", "full_name": "Anna"}],
		"cars": [{"registration_number": "AB-1", "vin": "V1", "owner": "P1"}],
		"claims": [{"claim_id": "C1", "claim_amount": 100, "claimant": "P404"}]
	}`
	if err := os.WriteFile(path, []byte(fx), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunImportsIntoMemory(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), config.Default(), options{fixture: writeFixture(t), drop: true}, quiet, &out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var rep ingest.Report
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out.String())
	}
	if len(rep.Batches) != 3 {
		t.Fatalf("expected 3 batches, got %+v", rep.Batches)
	}
	if tot := rep.Totals(); tot.NodesCreated != 3 || tot.Records != 3 {
		t.Fatalf("unexpected totals %+v", tot)
	}
}

func TestRunStrictCountsUnresolved(t *testing.T) {
	cfg := config.Default()
	cfg.Import.StrictReferences = true
	var out bytes.Buffer
	if err := run(context.Background(), cfg, options{fixture: writeFixture(t)}, quiet, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	var rep ingest.Report
	json.Unmarshal(out.Bytes(), &rep)
	if tot := rep.Totals(); tot.Skipped != 1 {
		t.Fatalf("strict mode should skip the claim with an unknown filer, got %+v", tot)
	}
}

func TestRunMissingFixture(t *testing.T) {
	err := run(context.Background(), config.Default(), options{fixture: filepath.Join(t.TempDir(), "none.json")}, quiet, io.Discard)
	if err == nil {
		t.Fatal("expected an error for a missing fixture")
	}
}

func TestRunPublishNeedsURL(t *testing.T) {
	err := run(context.Background(), config.Default(), options{fixture: writeFixture(t), publish: true}, quiet, io.Discard)
	if err == nil {
		t.Fatal("expected an error without a NATS URL")
	}
}

func TestRunPublishesBatches(t *testing.T) {
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	ns.Start()
	t.Cleanup(ns.Shutdown)
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(nc.Close)
	msgs := make(chan *nats.Msg, 8)
	sub, err := nc.ChanSubscribe(ingest.ImportSubject, msgs)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.NATS.URL = ns.ClientURL()
	var out bytes.Buffer
	if err := run(context.Background(), cfg, options{fixture: writeFixture(t), publish: true}, quiet, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	var got struct {
		Published []string `json:"published"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil || len(got.Published) != 3 {
		t.Fatalf("unexpected output %s (%v)", out.String(), err)
	}

	var labels []string
	for range 3 {
		select {
		case m := <-msgs:
			var bm ingest.BatchMessage
			if err := json.Unmarshal(m.Data, &bm); err != nil {
				t.Fatal(err)
			}
			labels = append(labels, string(bm.Batch.Label))
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %v", labels)
		}
	}
	if labels[0] != "Person" || labels[1] != "Car" || labels[2] != "Claim" {
		t.Fatalf("batches out of dependency order: %v", labels)
	}
}
