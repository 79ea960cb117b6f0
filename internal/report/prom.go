package report

import (
	"io"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const metricPrefix = "uptimer_"

// WriteProm renders the report in the Prometheus text exposition format.
func WriteProm(w io.Writer, r *Report) error {
	for _, mf := range Families(r) {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// Families converts the report into metric families. Triples that share a
// service, check and host name produce samples with identical label sets.
func Families(r *Report) []*dto.MetricFamily {
	up := family("check_up", "Whether the last check of a host succeeded (1) or failed (0).")
	latency := family("check_latency_seconds", "Duration of the last check of a host, including retries.")
	for _, sr := range r.Services {
		for _, cr := range sr.Checks {
			for _, hr := range cr.Hosts {
				labels := []*dto.LabelPair{
					label("service", sr.Name),
					label("check", cr.Name),
					label("host", hr.Host),
					label("checker", cr.Kind),
				}
				v := 0.0
				if hr.Outcome.Success {
					v = 1
				}
				up.Metric = append(up.Metric, gauge(v, labels))
				latency.Metric = append(latency.Metric, gauge(hr.Latency.Seconds(), labels))
			}
		}
	}

	total := family("checks_total", "Number of checks in the last run.")
	total.Metric = []*dto.Metric{gauge(float64(r.Summary.Total), nil)}
	failing := family("checks_failing", "Number of failing checks in the last run.")
	failing.Metric = []*dto.Metric{gauge(float64(r.Summary.Failure), nil)}

	healthy := family("realm_healthy", "Whether every check in the last run succeeded.")
	h := 0.0
	if r.Healthy() {
		h = 1
	}
	healthy.Metric = []*dto.Metric{gauge(h, nil)}

	out := []*dto.MetricFamily{total, failing, healthy}
	if len(up.Metric) > 0 {
		out = append([]*dto.MetricFamily{up, latency}, out...)
	}
	return out
}

func family(name, help string) *dto.MetricFamily {
	fullName := metricPrefix + name
	return &dto.MetricFamily{
		Name: &fullName,
		Help: &help,
		Type: dto.MetricType_GAUGE.Enum(),
	}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: &name, Value: &value}
}

func gauge(v float64, labels []*dto.LabelPair) *dto.Metric {
	return &dto.Metric{
		Label: labels,
		Gauge: &dto.Gauge{Value: &v},
	}
}
