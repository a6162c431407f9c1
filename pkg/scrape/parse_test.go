package scrape

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/types"
)

func bySeries(samples []types.Sample) map[string]types.Sample {
	out := make(map[string]types.Sample, len(samples))
	for _, s := range samples {
		out[s.Name+"|"+types.LabelsKey(s.Labels)] = s
	}
	return out
}

func TestParseCounterAndGauge(t *testing.T) {
	input := `# HELP http_requests_total Total requests.
# TYPE http_requests_total counter
http_requests_total{method="get",code="200"} 1027
http_requests_total{method="post",code="200"} 3
# TYPE process_open_fds gauge
process_open_fds 12
`
	now := time.Now()
	samples, err := ParseExposition(strings.NewReader(input), nil, now)
	require.NoError(t, err)
	require.Len(t, samples, 3)

	got := bySeries(samples)
	s, ok := got["http_requests_total|"+types.LabelsKey(map[string]string{"method": "get", "code": "200"})]
	require.True(t, ok)
	assert.Equal(t, 1027.0, s.Value)
	assert.Equal(t, now, s.Timestamp)

	s, ok = got["process_open_fds|"]
	require.True(t, ok)
	assert.Equal(t, 12.0, s.Value)
}

func TestParseUntyped(t *testing.T) {
	samples, err := ParseExposition(strings.NewReader("some_metric 42\n"), nil, time.Now())
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, "some_metric", samples[0].Name)
	assert.Equal(t, 42.0, samples[0].Value)
}

func TestParseTargetLabelsNeverOverrideMetricLabels(t *testing.T) {
	input := `# TYPE up gauge
up{instance="exposed"} 1
`
	target := map[string]string{
		"instance": "10.0.0.1:9100",
		"service":  "web",
	}
	samples, err := ParseExposition(strings.NewReader(input), target, time.Now())
	require.NoError(t, err)
	require.Len(t, samples, 1)

	assert.Equal(t, "exposed", samples[0].Labels["instance"], "metric label wins")
	assert.Equal(t, "web", samples[0].Labels["service"], "missing target labels are added")
}

func TestParseHistogramFlattening(t *testing.T) {
	input := `# TYPE request_duration_seconds histogram
request_duration_seconds_bucket{le="0.1"} 5
request_duration_seconds_bucket{le="0.5"} 8
request_duration_seconds_bucket{le="+Inf"} 10
request_duration_seconds_sum 4.2
request_duration_seconds_count 10
`
	samples, err := ParseExposition(strings.NewReader(input), nil, time.Now())
	require.NoError(t, err)

	got := bySeries(samples)
	assert.Equal(t, 4.2, got["request_duration_seconds_sum|"].Value)
	assert.Equal(t, 10.0, got["request_duration_seconds_count|"].Value)
	assert.Equal(t, 5.0, got["request_duration_seconds_bucket|"+types.LabelsKey(map[string]string{"le": "0.1"})].Value)
	assert.Equal(t, 10.0, got["request_duration_seconds_bucket|"+types.LabelsKey(map[string]string{"le": "+Inf"})].Value)
}

func TestParseSummaryFlattening(t *testing.T) {
	input := `# TYPE rpc_duration_seconds summary
rpc_duration_seconds{quantile="0.5"} 0.05
rpc_duration_seconds{quantile="0.99"} 0.2
rpc_duration_seconds_sum 17.5
rpc_duration_seconds_count 200
`
	samples, err := ParseExposition(strings.NewReader(input), nil, time.Now())
	require.NoError(t, err)

	got := bySeries(samples)
	assert.Equal(t, 17.5, got["rpc_duration_seconds_sum|"].Value)
	assert.Equal(t, 200.0, got["rpc_duration_seconds_count|"].Value)
	assert.Equal(t, 0.05, got["rpc_duration_seconds|"+types.LabelsKey(map[string]string{"quantile": "0.5"})].Value)
	assert.Equal(t, 0.2, got["rpc_duration_seconds|"+types.LabelsKey(map[string]string{"quantile": "0.99"})].Value)
}

func TestParseExplicitTimestamp(t *testing.T) {
	input := "clock_metric 1 1700000000000\n"
	samples, err := ParseExposition(strings.NewReader(input), nil, time.Now())
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, time.UnixMilli(1700000000000), samples[0].Timestamp)
}

func TestParseMalformedInput(t *testing.T) {
	_, err := ParseExposition(strings.NewReader("this is { not exposition\n"), nil, time.Now())
	assert.Error(t, err)
}
