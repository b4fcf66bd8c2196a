package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/tutoreval/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource reports task queue depth.
type StatsSource interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

type queueCollector struct {
	src    StatsSource
	logger *slog.Logger
	depth  *prometheus.Desc
}

func newQueueCollector(src StatsSource, logger *slog.Logger) *queueCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &queueCollector{
		src:    src,
		logger: logger,
		depth: prometheus.NewDesc(
			namespace+"_queue_depth",
			"Current task queue depth by state.",
			[]string{"state"},
			nil,
		),
	}
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depth
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	// Keep reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stats, err := c.src.Stats(ctx)
	if err != nil {
		c.logger.Warn("prometheus queue collector failed", "error", err)
		return
	}
	emitGauge(ch, c.depth, float64(stats.Pending), "pending")
	emitGauge(ch, c.depth, float64(stats.InFlight), "in_flight")
	emitGauge(ch, c.depth, float64(stats.Dead), "dead")
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerQueueCollectorOnce sync.Once

// RegisterQueueCollector exposes queue depth gauges. Only the first call registers.
func RegisterQueueCollector(src StatsSource, logger *slog.Logger) {
	registerQueueCollectorOnce.Do(func() {
		prometheus.MustRegister(newQueueCollector(src, logger))
	})
}

// NewQueueCollector returns an unregistered collector, for custom registries.
func NewQueueCollector(src StatsSource, logger *slog.Logger) prometheus.Collector {
	return newQueueCollector(src, logger)
}
