package natsutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type testMsg struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func TestNatsHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}
	if keys := carrier.Keys(); len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestNewMsgCopiesHeaders(t *testing.T) {
	hdr := nats.Header{}
	hdr.Set("X-Retry-Count", "2")

	msg, err := NewMsg(context.Background(), "subj", hdr, testMsg{Name: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Header.Get("X-Retry-Count") != "2" {
		t.Fatalf("header not copied: %v", msg.Header)
	}
	msg.Header.Set("X-Retry-Count", "3")
	if hdr.Get("X-Retry-Count") != "2" {
		t.Fatal("caller header was mutated")
	}

	if _, err := NewMsg(context.Background(), "subj", nil, make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestTraceContextRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	msg, err := NewMsg(ctx, "subj", nil, testMsg{})
	if err != nil {
		t.Fatal(err)
	}
	got := trace.SpanContextFromContext(Context(msg))
	if got.TraceID() != traceID {
		t.Fatalf("trace id not propagated: %s", got.TraceID())
	}
}

func TestPublishSubscribe(t *testing.T) {
	nc := startTestNATS(t)

	ch := make(chan testMsg, 1)
	sub, err := Subscribe(nc, "test.sub", func(ctx context.Context, m testMsg) {
		ch <- m
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "test.sub", testMsg{Name: "world", Value: 42}); err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-ch:
		if m.Name != "world" || m.Value != 42 {
			t.Fatalf("unexpected: %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestSubscribeMsgHeadersAndMalformed(t *testing.T) {
	nc := startTestNATS(t)

	type seen struct {
		msg   testMsg
		retry string
	}
	ok := make(chan seen, 1)
	bad := make(chan []byte, 1)
	sub, err := SubscribeMsg(nc, "test.msg", func(_ context.Context, m testMsg, raw *nats.Msg) {
		ok <- seen{msg: m, retry: raw.Header.Get("X-Retry-Count")}
	}, func(raw *nats.Msg, err error) {
		bad <- raw.Data
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	nc.Publish("test.msg", []byte("{bad"))
	hdr := nats.Header{}
	hdr.Set("X-Retry-Count", "1")
	if err := PublishHeader(context.Background(), nc, "test.msg", hdr, testMsg{Name: "h"}); err != nil {
		t.Fatal(err)
	}

	select {
	case data := <-bad:
		if string(data) != "{bad" {
			t.Fatalf("unexpected malformed payload %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("malformed callback not called")
	}
	select {
	case s := <-ok:
		if s.msg.Name != "h" || s.retry != "1" {
			t.Fatalf("unexpected: %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestRequest(t *testing.T) {
	nc := startTestNATS(t)

	sub, err := nc.Subscribe("test.req", func(msg *nats.Msg) {
		var req testMsg
		json.Unmarshal(msg.Data, &req)
		data, _ := json.Marshal(testMsg{Name: req.Name + "-resp", Value: req.Value * 2})
		msg.Respond(data)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	resp, err := Request[testMsg, testMsg](context.Background(), nc, "test.req", testMsg{Name: "test", Value: 5}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Name != "test-resp" || resp.Value != 10 {
		t.Fatalf("unexpected resp: %+v", resp)
	}
}

func TestRequestErrors(t *testing.T) {
	nc := startTestNATS(t)

	sub, err := nc.Subscribe("test.badjson", func(msg *nats.Msg) {
		msg.Respond([]byte("{invalid"))
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	tests := []struct {
		name    string
		subject string
	}{
		{"no responder", "test.noreply"},
		{"bad response", "test.badjson"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Request[testMsg, testMsg](context.Background(), nc, tt.subject, testMsg{}, 200*time.Millisecond)
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
