package metrics

import (
	"sort"
	"time"

	"github.com/prometheus/prometheus/prompb"

	"github.com/mjasion/glucose-tray/glucose"
)

// TimeSeriesBuilder converts buffered readings to remote-write series
type TimeSeriesBuilder func(readings []*glucose.Reading) []prompb.TimeSeries

// BuildGlucoseTimeSeries returns a builder emitting metricName{unit,trend} samples. Empty
// readings are skipped, and a reading seen on several polls is sent once per series.
func BuildGlucoseTimeSeries(metricName string) TimeSeriesBuilder {
	return func(readings []*glucose.Reading) []prompb.TimeSeries {
		type seriesKey struct {
			unit  glucose.Unit
			trend glucose.Trend
		}

		series := make(map[seriesKey]*prompb.TimeSeries)
		seen := make(map[seriesKey]map[int64]bool)
		var order []seriesKey

		for _, r := range readings {
			if r == nil || r.IsEmpty() {
				continue
			}

			key := seriesKey{unit: r.Unit, trend: r.Trend}
			ts, ok := series[key]
			if !ok {
				// label names must be sorted
				ts = &prompb.TimeSeries{Labels: []prompb.Label{
					{Name: "__name__", Value: metricName},
					{Name: "trend", Value: r.Trend.String()},
					{Name: "unit", Value: string(r.Unit)},
				}}
				series[key] = ts
				seen[key] = make(map[int64]bool)
				order = append(order, key)
			}

			ms := r.Timestamp.UnixMilli()
			if seen[key][ms] {
				continue
			}
			seen[key][ms] = true
			ts.Samples = append(ts.Samples, prompb.Sample{
				Value:     r.Value.InexactFloat64(),
				Timestamp: ms,
			})
		}

		out := make([]prompb.TimeSeries, 0, len(order))
		for _, key := range order {
			ts := series[key]
			sort.Slice(ts.Samples, func(i, j int) bool {
				return ts.Samples[i].Timestamp < ts.Samples[j].Timestamp
			})
			out = append(out, *ts)
		}
		return out
	}
}

// sampleCount totals the samples across series
func sampleCount(series []prompb.TimeSeries) int {
	n := 0
	for _, ts := range series {
		n += len(ts.Samples)
	}
	return n
}

// oldestSample returns the earliest sample time, or zero when there are none
func oldestSample(series []prompb.TimeSeries) time.Time {
	var oldest int64
	for _, ts := range series {
		for _, s := range ts.Samples {
			if oldest == 0 || s.Timestamp < oldest {
				oldest = s.Timestamp
			}
		}
	}
	if oldest == 0 {
		return time.Time{}
	}
	return time.UnixMilli(oldest)
}
