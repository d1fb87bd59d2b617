package fn

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() {
		t.Fatal("Err should be err")
	}
}

func TestErrfWraps(t *testing.T) {
	sentinel := errors.New("gone")
	_, err := Errf[string]("lookup %s: %w", "P1", sentinel).Unwrap()
	if !errors.Is(err, sentinel) || err.Error() != "lookup P1: gone" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestFromPair(t *testing.T) {
	if v, err := FromPair(strconv.Atoi("12")).Unwrap(); v != 12 || err != nil {
		t.Fatalf("got %d, %v", v, err)
	}
	if r := FromPair(strconv.Atoi("x")); r.IsOk() {
		t.Fatal("parse failure should be Err")
	}
}

func TestMap(t *testing.T) {
	got := Map([]int{1, 2, 3}, strconv.Itoa)
	if len(got) != 3 || got[0] != "1" || got[2] != "3" {
		t.Fatalf("unexpected %v", got)
	}
	if out := Map([]int(nil), strconv.Itoa); len(out) != 0 {
		t.Fatalf("expected empty, got %v", out)
	}
}

// --- Stages ---

func parse(_ context.Context, s string) Result[int] { return FromPair(strconv.Atoi(s)) }

func double(_ context.Context, n int) Result[int] { return Ok(n * 2) }

func TestThen(t *testing.T) {
	st := Then(Stage[string, int](parse), Stage[int, int](double))
	if v, err := st(context.Background(), "21").Unwrap(); v != 42 || err != nil {
		t.Fatalf("got %d, %v", v, err)
	}

	called := false
	second := Stage[int, int](func(ctx context.Context, n int) Result[int] {
		called = true
		return Ok(n)
	})
	if r := Then(Stage[string, int](parse), second)(context.Background(), "x"); r.IsOk() {
		t.Fatal("expected failure")
	}
	if called {
		t.Fatal("second stage must not run after a failure")
	}
}

func TestTracedStagePassesThrough(t *testing.T) {
	st := TracedStage("test.parse", Stage[string, int](parse))
	if v, _ := st(context.Background(), "7").Unwrap(); v != 7 {
		t.Fatalf("got %d", v)
	}
	if r := st(context.Background(), "?"); r.IsOk() {
		t.Fatal("expected failure")
	}
}

// --- Retry ---

func TestRetrySucceedsEventually(t *testing.T) {
	calls := 0
	var notified []int
	opts := RetryOpts{
		MaxAttempts: 4,
		InitialWait: time.Millisecond,
		MaxWait:     2 * time.Millisecond,
		OnRetry:     func(attempt int, _ error, _ time.Duration) { notified = append(notified, attempt) },
	}
	r := Retry(context.Background(), opts, func(context.Context) Result[string] {
		calls++
		if calls < 3 {
			return Errf[string]("attempt %d", calls)
		}
		return Ok("done")
	})
	if v, err := r.Unwrap(); v != "done" || err != nil {
		t.Fatalf("got %q, %v", v, err)
	}
	if calls != 3 || len(notified) != 2 || notified[1] != 2 {
		t.Fatalf("calls=%d notified=%v", calls, notified)
	}
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	opts := RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Jitter: true}
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		calls++
		return Err[int](errors.New("down"))
	})
	if r.IsOk() || calls != 3 {
		t.Fatalf("ok=%v calls=%d", r.IsOk(), calls)
	}
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	permanent := errors.New("constraint violated")
	calls := 0
	opts := RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Millisecond,
		MaxWait:     time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		calls++
		return Err[int](permanent)
	})
	if _, err := r.Unwrap(); !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := RetryOpts{MaxAttempts: 5, InitialWait: time.Hour, MaxWait: time.Hour}
	calls := 0
	r := Retry(ctx, opts, func(context.Context) Result[int] {
		calls++
		cancel()
		return Err[int](errors.New("down"))
	})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}
