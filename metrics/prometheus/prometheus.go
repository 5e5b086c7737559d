// Package prometheus exports store metrics through prometheus/client_golang.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/vecmem"
	"github.com/hupe1980/vecmem/model"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "vecmem"

var latencyBuckets = []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// Options configures a Collector.
type Options struct {
	// Registerer receives the metrics. Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	Namespace  string
	// ConstLabels are attached to every metric, e.g. a store name.
	ConstLabels prometheus.Labels
}

// Collector implements vecmem.MetricsCollector.
type Collector struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	gets       *prometheus.CounterVec
	results    prometheus.Histogram
	moved      *prometheus.CounterVec
	promotions *prometheus.CounterVec
	absorbed   prometheus.Counter
}

var _ vecmem.MetricsCollector = (*Collector)(nil)

// New registers the store metrics and returns a collector for them. It
// panics if the metrics are already registered with the registerer.
func New(optFns ...func(o *Options)) *Collector {
	opts := Options{
		Registerer: prometheus.DefaultRegisterer,
		Namespace:  DefaultNamespace,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	f := promauto.With(opts.Registerer)
	ns, cl := opts.Namespace, opts.ConstLabels

	return &Collector{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "operations_total",
			Help:        "Total number of store operations by kind and outcome",
			ConstLabels: cl,
		}, []string{"op", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "operation_duration_seconds",
			Help:        "Duration of store operations in seconds",
			Buckets:     latencyBuckets,
			ConstLabels: cl,
		}, []string{"op"}),
		gets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "get_total",
			Help:        "Point lookups by serving tier and outcome",
			ConstLabels: cl,
		}, []string{"tier", "result"}),
		results: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "search_results",
			Help:        "Number of results returned per search",
			Buckets:     prometheus.ExponentialBuckets(1, 2, 10),
			ConstLabels: cl,
		}),
		moved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "demoted_nodes_total",
			Help:        "Nodes moved to a colder tier",
			ConstLabels: cl,
		}, []string{"from", "to"}),
		promotions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "promoted_nodes_total",
			Help:        "Nodes copied into the hot tier by source tier",
			ConstLabels: cl,
		}, []string{"from"}),
		absorbed: f.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "sync_absorbed_entries_total",
			Help:        "WAL entries applied during syncs",
			ConstLabels: cl,
		}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *Collector) observe(op string, d time.Duration, err error) {
	c.operations.WithLabelValues(op, status(err)).Inc()
	c.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (c *Collector) RecordInsert(d time.Duration, err error) { c.observe("insert", d, err) }

func (c *Collector) RecordGet(tier model.StorageTier, hit bool, d time.Duration) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.gets.WithLabelValues(tier.String(), result).Inc()
	c.duration.WithLabelValues("get").Observe(d.Seconds())
}

func (c *Collector) RecordSearch(_, results int, d time.Duration, err error) {
	c.observe("search", d, err)
	if err == nil {
		c.results.Observe(float64(results))
	}
}

func (c *Collector) RecordDelete(d time.Duration, err error) { c.observe("delete", d, err) }

func (c *Collector) RecordWALAppend(d time.Duration, err error) { c.observe("wal_append", d, err) }

func (c *Collector) RecordDemotion(from, to model.StorageTier, count int) {
	c.moved.WithLabelValues(from.String(), to.String()).Add(float64(count))
}

func (c *Collector) RecordPromotion(from model.StorageTier) {
	c.promotions.WithLabelValues(from.String()).Inc()
}

func (c *Collector) RecordSync(d time.Duration, absorbed int, err error) {
	c.observe("sync", d, err)
	c.absorbed.Add(float64(absorbed))
}
