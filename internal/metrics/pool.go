package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

type poolStat struct {
	desc  *prometheus.Desc
	value func(*pgxpool.Stat) float64
}

// PoolCollector implements prometheus.Collector for pgxpool statistics.
// Stats are read on demand during each scrape.
type PoolCollector struct {
	pools map[string]*pgxpool.Pool
	stats []poolStat
}

func poolDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pgxpool", name),
		help,
		[]string{"backend"}, nil,
	)
}

// NewPoolCollector creates a collector that exports pgxpool stats per named pool.
func NewPoolCollector(pools map[string]*pgxpool.Pool) *PoolCollector {
	return &PoolCollector{
		pools: pools,
		stats: []poolStat{
			{poolDesc("acquire_count", "Cumulative count of successful connection acquires."),
				func(s *pgxpool.Stat) float64 { return float64(s.AcquireCount()) }},
			{poolDesc("acquire_duration_seconds", "Cumulative time spent acquiring connections."),
				func(s *pgxpool.Stat) float64 { return s.AcquireDuration().Seconds() }},
			{poolDesc("acquired_conns", "Number of currently acquired connections."),
				func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }},
			{poolDesc("canceled_acquire_count", "Cumulative count of acquires canceled by context."),
				func(s *pgxpool.Stat) float64 { return float64(s.CanceledAcquireCount()) }},
			{poolDesc("constructing_conns", "Number of connections currently being constructed."),
				func(s *pgxpool.Stat) float64 { return float64(s.ConstructingConns()) }},
			{poolDesc("empty_acquire_count", "Cumulative count of acquires from an empty pool."),
				func(s *pgxpool.Stat) float64 { return float64(s.EmptyAcquireCount()) }},
			{poolDesc("idle_conns", "Number of idle connections in the pool."),
				func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }},
			{poolDesc("max_conns", "Maximum number of connections allowed."),
				func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }},
			{poolDesc("max_idle_destroy_count", "Cumulative count of connections destroyed due to idle timeout."),
				func(s *pgxpool.Stat) float64 { return float64(s.MaxIdleDestroyCount()) }},
			{poolDesc("max_lifetime_destroy_count", "Cumulative count of connections destroyed due to max lifetime."),
				func(s *pgxpool.Stat) float64 { return float64(s.MaxLifetimeDestroyCount()) }},
			{poolDesc("new_conns_count", "Cumulative count of new connections created."),
				func(s *pgxpool.Stat) float64 { return float64(s.NewConnsCount()) }},
			{poolDesc("total_conns", "Total number of connections in the pool."),
				func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }},
		},
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, s := range c.stats {
		ch <- s.desc
	}
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	for name, pool := range c.pools {
		stat := pool.Stat()
		for _, s := range c.stats {
			ch <- prometheus.MustNewConstMetric(s.desc, prometheus.GaugeValue, s.value(stat), name)
		}
	}
}
