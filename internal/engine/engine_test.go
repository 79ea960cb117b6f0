package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/osbits/uptimer/internal/checks"
	"github.com/osbits/uptimer/internal/config"
)

type funcChecker func(ctx context.Context, host string) error

func (f funcChecker) Kind() string { return "func" }

func (f funcChecker) Check(ctx context.Context, host string) error { return f(ctx, host) }

func sleepChecker(d time.Duration) funcChecker {
	return func(ctx context.Context, host string) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", checks.ErrTimeout, ctx.Err())
		}
	}
}

func realmOf(checker checks.Checker, hosts ...string) *config.Realm {
	return &config.Realm{Services: []config.Service{{
		Name:   "svc",
		Checks: []config.Check{{Name: "chk", Checker: checker}},
		Hosts:  hosts,
	}}}
}

func mustEngine(t *testing.T, mutate func(*Options)) *Engine {
	t.Helper()
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	eng, err := New(opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng
}

func TestExpandOrderAndCount(t *testing.T) {
	dummy := &checks.Dummy{}
	realm := &config.Realm{Services: []config.Service{
		{
			Name:   "a",
			Checks: []config.Check{{Name: "c1", Checker: dummy}, {Name: "c2", Checker: dummy}},
			Hosts:  []string{"h1", "h2", "h1"},
		},
		{Name: "empty-hosts", Checks: []config.Check{{Name: "c", Checker: dummy}}},
		{Name: "empty-checks", Hosts: []string{"h"}},
		{
			Name:   "a",
			Checks: []config.Check{{Name: "c1", Checker: dummy}},
			Hosts:  []string{"h3"},
		},
	}}
	items := Expand(realm)
	if len(items) != realm.WorkItems() || len(items) != 7 {
		t.Fatalf("expected 7 items, got %d", len(items))
	}
	var got []string
	for i, item := range items {
		if item.Index != i {
			t.Fatalf("item %d has index %d", i, item.Index)
		}
		got = append(got, fmt.Sprintf("%d:%s.%s.%s", item.ServiceIndex, item.Service, item.Check, item.Host))
	}
	want := []string{
		"0:a.c1.h1", "0:a.c1.h2", "0:a.c1.h1",
		"0:a.c2.h1", "0:a.c2.h2", "0:a.c2.h1",
		"3:a.c1.h3",
	}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected expansion\n got: %v\nwant: %v", got, want)
	}
	if items[0].Kind != checks.KindDummy {
		t.Fatalf("expected dummy kind, got %q", items[0].Kind)
	}
	if Expand(nil) != nil || len(Expand(&config.Realm{})) != 0 {
		t.Fatalf("expected no items for empty realm")
	}
}

func TestRunDummy(t *testing.T) {
	eng := mustEngine(t, nil)
	results, err := eng.Run(context.Background(), realmOf(&checks.Dummy{}, "a", "b", "", "c"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for i, res := range results {
		if !res.Outcome.Success {
			t.Fatalf("result %d failed: %s", i, res.Outcome.Reason)
		}
		if res.Item.Index != i || res.Attempts != 1 {
			t.Fatalf("unexpected result %#v", res)
		}
	}
}

func TestResultCountMatchesExpansion(t *testing.T) {
	var calls atomic.Int64
	counter := funcChecker(func(ctx context.Context, host string) error {
		calls.Add(1)
		if strings.HasPrefix(host, "bad") {
			return fmt.Errorf("%w: %s", checks.ErrRefused, host)
		}
		return nil
	})
	realm := &config.Realm{}
	for s := 0; s < 5; s++ {
		svc := config.Service{Name: fmt.Sprintf("s%d", s)}
		for c := 0; c <= s; c++ {
			svc.Checks = append(svc.Checks, config.Check{Name: fmt.Sprintf("c%d", c), Checker: counter})
		}
		for h := 0; h < 4-s%3; h++ {
			prefix := "good"
			if h%2 == 1 {
				prefix = "bad"
			}
			svc.Hosts = append(svc.Hosts, fmt.Sprintf("%s-%d", prefix, h))
		}
		realm.Services = append(realm.Services, svc)
	}
	eng := mustEngine(t, func(o *Options) { o.Concurrency = 3 })
	results, err := eng.Run(context.Background(), realm)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != realm.WorkItems() || int(calls.Load()) != realm.WorkItems() {
		t.Fatalf("expected %d results and calls, got %d results %d calls", realm.WorkItems(), len(results), calls.Load())
	}
	seen := map[int]bool{}
	for _, res := range results {
		if seen[res.Item.Index] {
			t.Fatalf("duplicate result for item %d", res.Item.Index)
		}
		seen[res.Item.Index] = true
		bad := strings.HasPrefix(res.Item.Host, "bad")
		if res.Outcome.Success == bad {
			t.Fatalf("unexpected outcome for %s: %#v", res.Item.Host, res.Outcome)
		}
		if bad && res.Outcome.Class != checks.ClassRefused {
			t.Fatalf("expected refused class, got %q", res.Outcome.Class)
		}
	}
}

func TestConcurrencyBound(t *testing.T) {
	const n = 5
	const delay = 60 * time.Millisecond
	hosts := make([]string, n)
	for i := range hosts {
		hosts[i] = fmt.Sprintf("h%d", i)
	}

	var inFlight, peak atomic.Int64
	tracked := funcChecker(func(ctx context.Context, host string) error {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		return sleepChecker(delay)(ctx, host)
	})

	serial := mustEngine(t, func(o *Options) { o.Concurrency = 1 })
	start := time.Now()
	results, err := serial.Run(context.Background(), realmOf(tracked, hosts...))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, res := range results {
		if res.Latency < delay || res.Attempts != 1 {
			t.Fatalf("expected latency of at least %s and 1 attempt, got %s and %d", delay, res.Latency, res.Attempts)
		}
	}
	if elapsed := time.Since(start); elapsed < n*delay {
		t.Fatalf("expected serialized run to take at least %s, took %s", n*delay, elapsed)
	}
	if peak.Load() != 1 {
		t.Fatalf("expected at most 1 in flight, saw %d", peak.Load())
	}

	peak.Store(0)
	parallel := mustEngine(t, func(o *Options) { o.Concurrency = n })
	start = time.Now()
	if _, err := parallel.Run(context.Background(), realmOf(tracked, hosts...)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= n*delay {
		t.Fatalf("expected parallel run well under %s, took %s", n*delay, elapsed)
	}
	if peak.Load() > n {
		t.Fatalf("in-flight checks exceeded bound: %d", peak.Load())
	}
}

func TestPanicIsolation(t *testing.T) {
	var mu sync.Mutex
	var hooked []string
	panicky := funcChecker(func(ctx context.Context, host string) error {
		if host == "boom" {
			panic("kaboom")
		}
		return nil
	})
	eng := mustEngine(t, func(o *Options) {
		o.Retries = 2
		o.OnPanic = func(item WorkItem, rec any) {
			mu.Lock()
			defer mu.Unlock()
			hooked = append(hooked, fmt.Sprintf("%s:%v", item.Host, rec))
		}
	})
	results, err := eng.Run(context.Background(), realmOf(panicky, "ok", "boom", "fine"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !results[0].Outcome.Success || !results[2].Outcome.Success {
		t.Fatalf("expected healthy hosts to pass: %#v", results)
	}
	failed := results[1]
	if failed.Outcome.Success || failed.Outcome.Class != checks.ClassInternal {
		t.Fatalf("expected internal failure, got %#v", failed.Outcome)
	}
	if !strings.Contains(failed.Outcome.Reason, "kaboom") {
		t.Fatalf("expected panic value in reason, got %q", failed.Outcome.Reason)
	}
	if failed.Attempts != 1 {
		t.Fatalf("internal errors must not be retried, got %d attempts", failed.Attempts)
	}
	if len(hooked) != 1 || hooked[0] != "boom:kaboom" {
		t.Fatalf("unexpected panic hook calls %v", hooked)
	}
}

func TestNilCheckerIsInternalFailure(t *testing.T) {
	eng := mustEngine(t, nil)
	results, err := eng.Run(context.Background(), realmOf(nil, "a"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if results[0].Outcome.Class != checks.ClassInternal {
		t.Fatalf("expected internal failure, got %#v", results[0].Outcome)
	}
}

func TestTimeoutBoundsUncooperativeChecker(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := funcChecker(func(ctx context.Context, host string) error {
		<-release
		return nil
	})
	eng := mustEngine(t, func(o *Options) { o.Timeout = 50 * time.Millisecond })
	start := time.Now()
	results, err := eng.Run(context.Background(), realmOf(stuck, "a", "b"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
	for _, res := range results {
		if res.Outcome.Class != checks.ClassTimeout {
			t.Fatalf("expected timeout, got %#v", res.Outcome)
		}
	}
}

func TestRetriesWithBackoff(t *testing.T) {
	var calls atomic.Int64
	flaky := funcChecker(func(ctx context.Context, host string) error {
		if calls.Add(1) < 3 {
			return fmt.Errorf("%w: reset", checks.ErrIO)
		}
		return nil
	})
	eng := mustEngine(t, func(o *Options) {
		o.Retries = 2
		o.Backoff = 10 * time.Millisecond
	})
	results, err := eng.Run(context.Background(), realmOf(flaky, "a"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !results[0].Outcome.Success || results[0].Attempts != 3 {
		t.Fatalf("expected success on third attempt, got %#v", results[0])
	}
}

func TestCancellationReturnsCompletedOutcomes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	checker := funcChecker(func(cctx context.Context, host string) error {
		if host == "fast" {
			return nil
		}
		once.Do(cancel)
		<-cctx.Done()
		return fmt.Errorf("%w: %v", checks.ErrCanceled, cctx.Err())
	})
	hosts := []string{"fast", "slow", "never-1", "never-2"}
	eng := mustEngine(t, func(o *Options) {
		o.Concurrency = 1
		o.Timeout = 5 * time.Second
	})
	start := time.Now()
	results, err := eng.Run(ctx, realmOf(checker, hosts...))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancellation not prompt, took %s", elapsed)
	}
	if len(results) != len(hosts) {
		t.Fatalf("expected %d results, got %d", len(hosts), len(results))
	}
	if !results[0].Outcome.Success {
		t.Fatalf("completed outcome was discarded: %#v", results[0])
	}
	for _, res := range results[1:] {
		if res.Outcome.Success || res.Outcome.Class != checks.ClassCanceled {
			t.Fatalf("expected canceled outcome for %s, got %#v", res.Item.Host, res.Outcome)
		}
		if res.Item.Host == "" {
			t.Fatalf("canceled result lost its item identity")
		}
	}
}

func TestTCPRefusedThroughEngine(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("loopback unavailable: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	eng := mustEngine(t, func(o *Options) { o.Timeout = 2 * time.Second })
	results, err := eng.Run(context.Background(), realmOf(&checks.TCP{Port: uint16(port)}, "127.0.0.1"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	out := results[0].Outcome
	if out.Success || out.Class != checks.ClassRefused || !strings.HasPrefix(out.Reason, "connection refused") {
		t.Fatalf("expected connection refused, got %#v", out)
	}
}

func TestInvalidOptions(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Options)
		want   error
	}{
		{"zero concurrency", func(o *Options) { o.Concurrency = 0 }, ErrInvalidConcurrency},
		{"negative concurrency", func(o *Options) { o.Concurrency = -2 }, ErrInvalidConcurrency},
		{"zero timeout", func(o *Options) { o.Timeout = 0 }, ErrInvalidTimeout},
		{"negative retries", func(o *Options) { o.Retries = -1 }, nil},
		{"negative backoff", func(o *Options) { o.Backoff = -time.Second }, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := DefaultOptions()
			tc.mutate(&opts)
			_, err := New(opts)
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
