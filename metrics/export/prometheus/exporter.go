package prometheus

import (
	"net/http"

	"github.com/MrEthical07/tokenguard"
	"github.com/MrEthical07/tokenguard/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Source is satisfied by *tokenguard.Engine.
type Source interface {
	MetricsSnapshot() tokenguard.MetricsSnapshot
	AuditDropped() uint64
}

type histogramDesc struct {
	id   tokenguard.MetricID
	desc *prometheus.Desc
}

// Collector reads a fresh snapshot on every scrape.
type Collector struct {
	source       Source
	counters     map[tokenguard.MetricID]*prometheus.Desc
	order        []tokenguard.MetricID
	histograms   []histogramDesc
	auditDropped *prometheus.Desc
	bounds       []float64
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector reading from source on every scrape.
func NewCollector(source Source) *Collector {
	c := &Collector{
		source:       source,
		counters:     make(map[tokenguard.MetricID]*prometheus.Desc, len(internaldefs.CounterDefs)),
		auditDropped: prometheus.NewDesc(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, nil, nil),
		bounds:       internaldefs.UpperBoundsSeconds(),
	}
	for _, def := range internaldefs.CounterDefs {
		c.counters[def.ID] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
		c.order = append(c.order, def.ID)
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histograms = append(c.histograms, histogramDesc{
			id:   def.ID,
			desc: prometheus.NewDesc(def.Name, def.Help, nil, nil),
		})
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, id := range c.order {
		ch <- c.counters[id]
	}
	for _, h := range c.histograms {
		ch <- h.desc
	}
	ch <- c.auditDropped
}

// Collect emits only what the snapshot carries, so disabled metrics produce
// no series.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()

	for _, id := range c.order {
		v, ok := snapshot.Counters[id]
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.counters[id], prometheus.CounterValue, float64(v))
	}

	for _, h := range c.histograms {
		raw, ok := snapshot.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(c.bounds))
		for i, bound := range c.bounds {
			buckets[bound] = cumulative[i]
		}
		// Sample durations are not retained, only bucket counts.
		ch <- prometheus.MustNewConstHistogram(h.desc, cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(c.auditDropped, prometheus.CounterValue, float64(c.source.AuditDropped()))
}

// Handler serves source on a private registry in text exposition format.
func Handler(source Source) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(source))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
