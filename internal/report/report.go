package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/osbits/uptimer/internal/checks"
	"github.com/osbits/uptimer/internal/config"
	"github.com/osbits/uptimer/internal/engine"
)

// Status summarises a set of outcomes.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func statusOf(s Summary) Status {
	switch {
	case s.Failure == 0:
		return StatusHealthy
	case s.Success == 0:
		return StatusUnhealthy
	default:
		return StatusDegraded
	}
}

// Summary holds outcome counts.
type Summary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failure int `json:"failure"`
}

func (s *Summary) add(o engine.Outcome) {
	s.Total++
	if o.Success {
		s.Success++
	} else {
		s.Failure++
	}
}

// Failure identifies a failing (service, check, host) triple.
type Failure struct {
	Service string       `json:"service"`
	Check   string       `json:"check"`
	Host    string       `json:"host"`
	Kind    string       `json:"checker"`
	Reason  string       `json:"reason"`
	Class   checks.Class `json:"class"`
}

// Key identifies the triple independent of its reason.
func (f Failure) Key() string {
	return f.Service + "\x00" + f.Check + "\x00" + f.Host
}

func (f Failure) String() string {
	return fmt.Sprintf("%s.%s.%s: %s", f.Service, f.Check, f.Host, f.Reason)
}

// HostResult is the outcome of one check against one host.
type HostResult struct {
	Host     string         `json:"host"`
	Outcome  engine.Outcome `json:"outcome"`
	Attempts int            `json:"attempts,omitempty"`
	Latency  time.Duration  `json:"latency_ns,omitempty"`
}

// CheckReport groups host results under a check.
type CheckReport struct {
	Name  string       `json:"name"`
	Kind  string       `json:"checker"`
	Hosts []HostResult `json:"hosts"`
}

// ServiceReport groups checks under a service. Services sharing a name are
// kept as separate entries.
type ServiceReport struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	Status      Status        `json:"status"`
	Summary     Summary       `json:"summary"`
	Checks      []CheckReport `json:"checks"`
}

// Report is the immutable result of one execution pass.
type Report struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Status      Status          `json:"status"`
	Summary     Summary         `json:"summary"`
	Services    []ServiceReport `json:"services"`
	Failures    []Failure       `json:"failures"`
	Ambiguities []string        `json:"ambiguities,omitempty"`
}

// Build reduces engine results into a report shaped after the realm.
// Results are placed by their positional indexes, so completion order does
// not affect the output. Slots with no result are reported as canceled.
func Build(realm *config.Realm, results []engine.Result) *Report {
	rep := &Report{
		GeneratedAt: time.Now().UTC(),
		Services:    []ServiceReport{},
		Failures:    []Failure{},
	}
	if realm == nil {
		rep.Status = StatusHealthy
		return rep
	}

	filled := make([][][]bool, len(realm.Services))
	for si, svc := range realm.Services {
		sr := ServiceReport{
			Name:        svc.Name,
			Description: svc.Description,
			Tags:        svc.Tags,
			Checks:      make([]CheckReport, len(svc.Checks)),
		}
		filled[si] = make([][]bool, len(svc.Checks))
		for ci, chk := range svc.Checks {
			cr := CheckReport{Name: chk.Name, Hosts: make([]HostResult, len(svc.Hosts))}
			if chk.Checker != nil {
				cr.Kind = chk.Checker.Kind()
			}
			for hi, host := range svc.Hosts {
				cr.Hosts[hi] = HostResult{Host: host}
			}
			sr.Checks[ci] = cr
			filled[si][ci] = make([]bool, len(svc.Hosts))
		}
		rep.Services = append(rep.Services, sr)
	}

	for _, res := range results {
		si, ci, hi := res.Item.ServiceIndex, res.Item.CheckIndex, res.Item.HostIndex
		if si < 0 || si >= len(filled) || ci < 0 || ci >= len(filled[si]) || hi < 0 || hi >= len(filled[si][ci]) {
			continue
		}
		slot := &rep.Services[si].Checks[ci].Hosts[hi]
		slot.Outcome = res.Outcome
		slot.Attempts = res.Attempts
		slot.Latency = res.Latency
		filled[si][ci][hi] = true
	}

	for si := range rep.Services {
		sr := &rep.Services[si]
		for ci := range sr.Checks {
			cr := &sr.Checks[ci]
			for hi := range cr.Hosts {
				hr := &cr.Hosts[hi]
				if !filled[si][ci][hi] {
					hr.Outcome = engine.Failed(fmt.Errorf("%w: no outcome recorded", checks.ErrCanceled))
				}
				sr.Summary.add(hr.Outcome)
				rep.Summary.add(hr.Outcome)
				if !hr.Outcome.Success {
					rep.Failures = append(rep.Failures, Failure{
						Service: sr.Name,
						Check:   cr.Name,
						Host:    hr.Host,
						Kind:    cr.Kind,
						Reason:  hr.Outcome.Reason,
						Class:   hr.Outcome.Class,
					})
				}
			}
		}
		sr.Status = statusOf(sr.Summary)
	}
	rep.Status = statusOf(rep.Summary)
	rep.Ambiguities = Ambiguities(realm)
	return rep
}

// Healthy reports whether every outcome succeeded.
func (r *Report) Healthy() bool {
	return r.Summary.Failure == 0
}

// Lookup returns the outcome of the first triple matching the given names.
func (r *Report) Lookup(service, check, host string) (engine.Outcome, bool) {
	for _, sr := range r.Services {
		if sr.Name != service {
			continue
		}
		for _, cr := range sr.Checks {
			if cr.Name != check {
				continue
			}
			for _, hr := range cr.Hosts {
				if hr.Host == host {
					return hr.Outcome, true
				}
			}
		}
	}
	return engine.Outcome{}, false
}

// Ambiguities lists duplicate service names, and duplicate check names and
// hosts within a service.
func Ambiguities(realm *config.Realm) []string {
	var out []string
	services := positions(len(realm.Services), func(i int) string { return realm.Services[i].Name })
	out = append(out, describe("service name", "", services)...)
	for _, svc := range realm.Services {
		names := positions(len(svc.Checks), func(i int) string { return svc.Checks[i].Name })
		out = append(out, describe("check name", svc.Name, names)...)
		hosts := positions(len(svc.Hosts), func(i int) string { return svc.Hosts[i] })
		out = append(out, describe("host", svc.Name, hosts)...)
	}
	return out
}

type dup struct {
	value string
	at    []int
}

// positions returns values seen more than once, in order of first occurrence.
func positions(n int, value func(int) string) []dup {
	index := map[string]int{}
	var all []dup
	for i := 0; i < n; i++ {
		v := value(i)
		if j, ok := index[v]; ok {
			all[j].at = append(all[j].at, i)
			continue
		}
		index[v] = len(all)
		all = append(all, dup{value: v, at: []int{i}})
	}
	var out []dup
	for _, d := range all {
		if len(d.at) > 1 {
			out = append(out, d)
		}
	}
	return out
}

func describe(what, service string, dups []dup) []string {
	out := make([]string, 0, len(dups))
	for _, d := range dups {
		at := make([]string, len(d.at))
		for i, p := range d.at {
			at[i] = fmt.Sprint(p)
		}
		scope := ""
		if service != "" {
			scope = fmt.Sprintf(" in service %q", service)
		}
		out = append(out, fmt.Sprintf("duplicate %s %q%s at positions %s", what, d.value, scope, strings.Join(at, ", ")))
	}
	return out
}
