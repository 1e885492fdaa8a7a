// Package metrics holds the Prometheus collectors for the chart pipeline.
// Collectors are registered on a caller-provided registry; nothing here
// serves them over the network.
package metrics

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"chartcore/internal/marketdata/agg"
	"chartcore/internal/marketdata/tfbuilder"
	"chartcore/internal/model"
	"chartcore/internal/ringbuf"
)

// Metrics holds all Prometheus metrics for one chart session.
type Metrics struct {
	TicksTotal      prometheus.Counter
	BarsCompleted   prometheus.Counter
	OutOfOrderTicks prometheus.Counter
	RejectedTicks   prometheus.Counter

	// TF resampler metrics
	TFBarsTotal *prometheus.CounterVec // labels: tf
	StaleBars   prometheus.Counter

	// Indicator engine metrics
	IndicatorComputeDur prometheus.Histogram
	IndicatorsTotal     prometheus.Counter

	// Render path
	DownsampleDur *prometheus.HistogramVec // labels: algorithm
	RenderedBars  prometheus.Gauge

	reg prometheus.Registerer
}

var fastBuckets = []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartcore_ticks_total",
			Help: "Ticks folded into bars",
		}),
		BarsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartcore_bars_completed_total",
			Help: "Bars closed by bucket rollover",
		}),
		OutOfOrderTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartcore_out_of_order_ticks_total",
			Help: "Ticks rejected because their bucket precedes the open bar",
		}),
		RejectedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartcore_rejected_ticks_total",
			Help: "Ticks rejected for any reason",
		}),
		TFBarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartcore_tf_bars_total",
			Help: "Resampled bars finalized (by timeframe)",
		}, []string{"tf"}),
		StaleBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartcore_stale_bars_rejected_total",
			Help: "Bars rejected by the resampler for arriving behind the forming bucket",
		}),
		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartcore_indicator_compute_duration_seconds",
			Help:    "Indicator engine latency per completed bar",
			Buckets: fastBuckets,
		}),
		IndicatorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartcore_indicators_total",
			Help: "Indicator values computed",
		}),
		DownsampleDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chartcore_downsample_duration_seconds",
			Help:    "Viewport reduction latency (by algorithm)",
			Buckets: fastBuckets,
		}, []string{"algorithm"}),
		RenderedBars: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartcore_rendered_bars",
			Help: "Bars handed to the renderer by the last Render call",
		}),
		reg: reg,
	}

	reg.MustRegister(
		m.TicksTotal,
		m.BarsCompleted,
		m.OutOfOrderTicks,
		m.RejectedTicks,
		m.TFBarsTotal,
		m.StaleBars,
		m.IndicatorComputeDur,
		m.IndicatorsTotal,
		m.DownsampleDur,
		m.RenderedBars,
	)
	return m
}

// BindAggregator counts completed bars and out-of-order ticks through the
// aggregator's hooks. Existing hooks keep running.
func (m *Metrics) BindAggregator(a *agg.Aggregator) {
	prevDone, prevLate := a.OnBarCompleted, a.OnOutOfOrderTick
	a.OnBarCompleted = func(b model.Bar) {
		m.BarsCompleted.Inc()
		if prevDone != nil {
			prevDone(b)
		}
	}
	a.OnOutOfOrderTick = func(t model.Tick) {
		m.OutOfOrderTicks.Inc()
		if prevLate != nil {
			prevLate(t)
		}
	}
}

// BindBuilder counts finalized and stale bars through the resampler's hooks.
func (m *Metrics) BindBuilder(b *tfbuilder.Builder) {
	prevBar, prevStale := b.OnBar, b.OnStaleBar
	b.OnBar = func(u tfbuilder.Update) {
		m.TFBarsTotal.WithLabelValues(u.TF.String()).Inc()
		if prevBar != nil {
			prevBar(u)
		}
	}
	b.OnStaleBar = func(bar model.Bar) {
		m.StaleBars.Inc()
		if prevStale != nil {
			prevStale(bar)
		}
	}
}

// BindRing exposes the ring's overflow count as a counter. The ring must
// outlive the registry.
func (m *Metrics) BindRing(r *ringbuf.Ring) error {
	return m.reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "chartcore_ringbuf_overflow_total",
		Help: "Ticks dropped because the hand-off ring was full",
	}, func() float64 { return float64(r.Overflow()) }))
}

// Flatten gathers g and returns one value per series. Histograms report
// their sample count under name_count. Keys carry labels as name{k="v"}.
func Flatten(g prometheus.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			var pairs []string
			for _, lp := range metric.GetLabel() {
				pairs = append(pairs, lp.GetName()+"=\""+lp.GetValue()+"\"")
			}
			sort.Strings(pairs)
			labels := ""
			if len(pairs) > 0 {
				labels = "{" + strings.Join(pairs, ",") + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				out[mf.GetName()+labels] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				out[mf.GetName()+labels] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				out[mf.GetName()+"_count"+labels] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}
