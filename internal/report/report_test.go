package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/common/expfmt"

	"github.com/osbits/uptimer/internal/checks"
	"github.com/osbits/uptimer/internal/config"
	"github.com/osbits/uptimer/internal/engine"
)

func service(name string, checker checks.Checker, checkNames []string, hosts ...string) config.Service {
	svc := config.Service{Name: name, Hosts: hosts}
	for _, c := range checkNames {
		svc.Checks = append(svc.Checks, config.Check{Name: c, Checker: checker})
	}
	return svc
}

// resultsFor expands the realm and assigns outcomes by host name.
func resultsFor(realm *config.Realm, outcome func(engine.WorkItem) engine.Outcome) []engine.Result {
	items := engine.Expand(realm)
	results := make([]engine.Result, len(items))
	for i, item := range items {
		results[i] = engine.Result{Item: item, Outcome: outcome(item), Attempts: 1}
	}
	return results
}

func TestBuildRefusedExample(t *testing.T) {
	realm := &config.Realm{Services: []config.Service{
		service("web", &checks.TCP{Port: 22}, []string{"reachability"}, "localhost"),
	}}
	results := resultsFor(realm, func(engine.WorkItem) engine.Outcome {
		return engine.Failed(fmt.Errorf("%w: 127.0.0.1:22", checks.ErrRefused))
	})
	rep := Build(realm, results)

	if rep.Summary != (Summary{Total: 1, Success: 0, Failure: 1}) {
		t.Fatalf("unexpected summary %+v", rep.Summary)
	}
	if rep.Status != StatusUnhealthy || rep.Healthy() {
		t.Fatalf("expected unhealthy realm, got %s", rep.Status)
	}
	out, ok := rep.Lookup("web", "reachability", "localhost")
	if !ok || out.Success || !strings.HasPrefix(out.Reason, "connection refused") {
		t.Fatalf("unexpected lookup %#v %v", out, ok)
	}
	want := []Failure{{
		Service: "web", Check: "reachability", Host: "localhost", Kind: "tcp",
		Reason: "connection refused: 127.0.0.1:22", Class: checks.ClassRefused,
	}}
	if !reflect.DeepEqual(rep.Failures, want) {
		t.Fatalf("unexpected failures %#v", rep.Failures)
	}
}

func TestBuildDummyExample(t *testing.T) {
	realm := &config.Realm{Services: []config.Service{
		service("placeholder", &checks.Dummy{}, []string{"noop"}, "a", "b", "c"),
	}}
	rep := Build(realm, resultsFor(realm, func(engine.WorkItem) engine.Outcome { return engine.Succeeded() }))
	if rep.Summary != (Summary{Total: 3, Success: 3, Failure: 0}) {
		t.Fatalf("unexpected summary %+v", rep.Summary)
	}
	if rep.Status != StatusHealthy || len(rep.Failures) != 0 {
		t.Fatalf("expected healthy report, got %s with %d failures", rep.Status, len(rep.Failures))
	}
	hosts := rep.Services[0].Checks[0].Hosts
	if len(hosts) != 3 || hosts[0].Host != "a" || hosts[2].Host != "c" {
		t.Fatalf("unexpected hosts %#v", hosts)
	}
}

func TestBuildEmptyRealm(t *testing.T) {
	rep := Build(&config.Realm{}, nil)
	if rep.Summary != (Summary{}) || len(rep.Services) != 0 || rep.Status != StatusHealthy {
		t.Fatalf("unexpected empty report %+v", rep)
	}
	if Build(nil, nil).Status != StatusHealthy {
		t.Fatalf("nil realm should be healthy")
	}
}

func mixedRealm() *config.Realm {
	dummy := &checks.Dummy{}
	return &config.Realm{Services: []config.Service{
		service("api", dummy, []string{"http", "tcp"}, "h1", "h2", "h3"),
		service("db", dummy, []string{"tcp"}, "d1", "d2"),
		service("api", dummy, []string{"http"}, "h9"),
	}}
}

func failOdd(item engine.WorkItem) engine.Outcome {
	if item.Index%2 == 1 {
		return engine.Failed(fmt.Errorf("%w: item %d", checks.ErrTimeout, item.Index))
	}
	return engine.Succeeded()
}

func TestFailureOrderIsDeterministic(t *testing.T) {
	realm := mixedRealm()
	results := resultsFor(realm, failOdd)
	first := Build(realm, results)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]engine.Result(nil), results...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		again := Build(realm, shuffled)
		if !reflect.DeepEqual(first.Failures, again.Failures) {
			t.Fatalf("failure order changed:\n%v\n%v", first.Failures, again.Failures)
		}
		if !reflect.DeepEqual(first.Services, again.Services) {
			t.Fatalf("service grouping changed")
		}
	}

	var got []string
	for _, f := range first.Failures {
		got = append(got, f.Service+"."+f.Check+"."+f.Host)
	}
	want := []string{"api.http.h2", "api.tcp.h1", "api.tcp.h3", "db.tcp.d2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected failure order %v", got)
	}
	if first.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", first.Status)
	}
	if first.Services[1].Status != StatusDegraded || first.Services[2].Status != StatusHealthy {
		t.Fatalf("unexpected service statuses %s %s", first.Services[1].Status, first.Services[2].Status)
	}
}

// jitterChecker fails hosts prefixed with "down" and sleeps a host-dependent
// amount so completion order differs from expansion order.
type jitterChecker struct{}

func (jitterChecker) Kind() string { return "jitter" }

func (jitterChecker) Check(ctx context.Context, host string) error {
	delay := time.Duration(len(host)%4) * 5 * time.Millisecond
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if strings.HasPrefix(host, "down") {
		return fmt.Errorf("%w: %s", checks.ErrRefused, host)
	}
	return nil
}

func shape(r *Report) []string {
	var out []string
	for _, sr := range r.Services {
		for _, cr := range sr.Checks {
			for _, hr := range cr.Hosts {
				out = append(out, fmt.Sprintf("%s/%s/%s/%t", sr.Name, cr.Name, hr.Host, hr.Outcome.Success))
			}
		}
	}
	for _, f := range r.Failures {
		out = append(out, "failure:"+f.Service+"."+f.Check+"."+f.Host)
	}
	return out
}

func TestRepeatedRunsProduceSameShape(t *testing.T) {
	checker := jitterChecker{}
	realm := &config.Realm{Services: []config.Service{
		service("api", checker, []string{"http", "tcp"}, "a", "down-b", "a", "cccc"),
		service("db", checker, []string{"tcp"}, "down-d1", "dd2"),
		service("api", checker, []string{"http"}, "down-h9", "h"),
	}}
	eng, err := engine.New(engine.Options{Concurrency: 8, Timeout: time.Second})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	var first []string
	for i := 0; i < 3; i++ {
		results, err := eng.Run(context.Background(), realm)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		rep := Build(realm, results)
		got := shape(rep)
		if i == 0 {
			first = got
			if rep.Summary != (Summary{Total: 12, Success: 8, Failure: 4}) {
				t.Fatalf("unexpected summary %+v", rep.Summary)
			}
			continue
		}
		if !reflect.DeepEqual(first, got) {
			t.Fatalf("run %d differs:\n%v\n%v", i, first, got)
		}
	}
}

func TestDuplicateServicesStayDistinct(t *testing.T) {
	realm := mixedRealm()
	rep := Build(realm, resultsFor(realm, failOdd))
	if len(rep.Services) != 3 || rep.Services[0].Name != "api" || rep.Services[2].Name != "api" {
		t.Fatalf("duplicate services were merged: %d groups", len(rep.Services))
	}
	if len(rep.Ambiguities) != 1 || !strings.Contains(rep.Ambiguities[0], `duplicate service name "api" at positions 0, 2`) {
		t.Fatalf("unexpected ambiguities %v", rep.Ambiguities)
	}
}

func TestAmbiguousChecksAndHosts(t *testing.T) {
	dummy := &checks.Dummy{}
	realm := &config.Realm{Services: []config.Service{
		service("web", dummy, []string{"ping", "ping"}, "a", "b", "a"),
	}}
	rep := Build(realm, resultsFor(realm, func(engine.WorkItem) engine.Outcome { return engine.Succeeded() }))
	if rep.Summary.Total != 6 {
		t.Fatalf("duplicates must be reported independently, got %d", rep.Summary.Total)
	}
	want := []string{
		`duplicate check name "ping" in service "web" at positions 0, 1`,
		`duplicate host "a" in service "web" at positions 0, 2`,
	}
	if !reflect.DeepEqual(rep.Ambiguities, want) {
		t.Fatalf("unexpected ambiguities %v", rep.Ambiguities)
	}
}

func TestMissingResultsAreCanceled(t *testing.T) {
	realm := &config.Realm{Services: []config.Service{
		service("web", &checks.Dummy{}, []string{"noop"}, "a", "b"),
	}}
	results := resultsFor(realm, func(engine.WorkItem) engine.Outcome { return engine.Succeeded() })
	rep := Build(realm, results[:1])
	if rep.Summary != (Summary{Total: 2, Success: 1, Failure: 1}) {
		t.Fatalf("unexpected summary %+v", rep.Summary)
	}
	if rep.Failures[0].Class != checks.ClassCanceled {
		t.Fatalf("expected canceled class, got %q", rep.Failures[0].Class)
	}
}

func TestWriteText(t *testing.T) {
	realm := mixedRealm()
	rep := Build(realm, resultsFor(realm, failOdd))
	var buf bytes.Buffer
	if err := WriteText(&buf, rep); err != nil {
		t.Fatalf("write text: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"realm degraded: 9 checks, 5 ok, 4 failing",
		"SERVICE",
		"FAIL",
		"timeout: item 1",
		"warning: duplicate service name",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	realm := &config.Realm{Services: []config.Service{
		service("web", &checks.TCP{Port: 22}, []string{"reachability"}, "localhost"),
	}}
	rep := Build(realm, resultsFor(realm, func(engine.WorkItem) engine.Outcome {
		return engine.Failed(checks.ErrRefused)
	}))
	var buf bytes.Buffer
	if err := WriteJSON(&buf, rep); err != nil {
		t.Fatalf("write json: %v", err)
	}
	var decoded struct {
		Status   string  `json:"status"`
		Summary  Summary `json:"summary"`
		Failures []struct {
			Service string `json:"service"`
			Checker string `json:"checker"`
			Class   string `json:"class"`
		} `json:"failures"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if decoded.Status != "unhealthy" || decoded.Summary.Failure != 1 {
		t.Fatalf("unexpected json %s", buf.String())
	}
	if len(decoded.Failures) != 1 || decoded.Failures[0].Checker != "tcp" || decoded.Failures[0].Class != "refused" {
		t.Fatalf("unexpected failures %s", buf.String())
	}
}

func TestWriteProm(t *testing.T) {
	realm := &config.Realm{Services: []config.Service{
		service("web", &checks.TCP{Port: 22}, []string{"reachability"}, "localhost", "db\"1"),
	}}
	rep := Build(realm, resultsFor(realm, func(item engine.WorkItem) engine.Outcome {
		if item.HostIndex == 0 {
			return engine.Succeeded()
		}
		return engine.Failed(checks.ErrRefused)
	}))
	var buf bytes.Buffer
	if err := WriteProm(&buf, rep); err != nil {
		t.Fatalf("write prom: %v", err)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("parse exposition: %v\n%s", err, buf.String())
	}
	up, ok := families["uptimer_check_up"]
	if !ok || len(up.GetMetric()) != 2 {
		t.Fatalf("expected 2 uptimer_check_up samples:\n%s", buf.String())
	}
	values := map[string]float64{}
	for _, m := range up.GetMetric() {
		labels := map[string]string{}
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		if labels["service"] != "web" || labels["check"] != "reachability" || labels["checker"] != "tcp" {
			t.Fatalf("unexpected labels %v", labels)
		}
		values[labels["host"]] = m.GetGauge().GetValue()
	}
	if values["localhost"] != 1 || values[`db"1`] != 0 {
		t.Fatalf("unexpected values %v", values)
	}
	if got := families["uptimer_checks_failing"].GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Fatalf("expected 1 failing check, got %v", got)
	}
	if got := families["uptimer_realm_healthy"].GetMetric()[0].GetGauge().GetValue(); got != 0 {
		t.Fatalf("expected unhealthy realm, got %v", got)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "TEXT": FormatText, "json": FormatJSON, " prom ": FormatProm} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
