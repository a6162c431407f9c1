package scrape

import (
	"io"
	"strconv"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/cuemby/burrow/pkg/types"
)

// ParseExposition parses Prometheus text exposition format into samples.
// Target labels are attached to every sample but never override labels the
// metric itself carries. Histograms and summaries are flattened into their
// component series.
func ParseExposition(r io.Reader, targetLabels map[string]string, now time.Time) ([]types.Sample, error) {
	parser := expfmt.TextParser{}
	families, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, err
	}

	var samples []types.Sample
	for name, family := range families {
		for _, m := range family.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel())+len(targetLabels))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range targetLabels {
				if _, ok := labels[k]; !ok {
					labels[k] = v
				}
			}

			ts := now
			if m.GetTimestampMs() > 0 {
				ts = time.UnixMilli(m.GetTimestampMs())
			}

			switch family.GetType() {
			case dto.MetricType_COUNTER:
				samples = append(samples, sample(name, labels, m.GetCounter().GetValue(), ts))
			case dto.MetricType_GAUGE:
				samples = append(samples, sample(name, labels, m.GetGauge().GetValue(), ts))
			case dto.MetricType_UNTYPED:
				samples = append(samples, sample(name, labels, m.GetUntyped().GetValue(), ts))
			case dto.MetricType_SUMMARY:
				s := m.GetSummary()
				samples = append(samples, sample(name+"_sum", labels, s.GetSampleSum(), ts))
				samples = append(samples, sample(name+"_count", labels, float64(s.GetSampleCount()), ts))
				for _, q := range s.GetQuantile() {
					ql := withLabel(labels, "quantile", formatFloat(q.GetQuantile()))
					samples = append(samples, sample(name, ql, q.GetValue(), ts))
				}
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				samples = append(samples, sample(name+"_sum", labels, h.GetSampleSum(), ts))
				samples = append(samples, sample(name+"_count", labels, float64(h.GetSampleCount()), ts))
				for _, b := range h.GetBucket() {
					bl := withLabel(labels, "le", formatFloat(b.GetUpperBound()))
					samples = append(samples, sample(name+"_bucket", bl, float64(b.GetCumulativeCount()), ts))
				}
			}
		}
	}
	return samples, nil
}

func sample(name string, labels map[string]string, value float64, ts time.Time) types.Sample {
	return types.Sample{
		Name:      name,
		Labels:    labels,
		Value:     value,
		Timestamp: ts,
	}
}

func withLabel(labels map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[key] = value
	return out
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
