package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineStats provides the metrics collector access to live pipeline state.
type PipelineStats interface {
	DeviceCount() int
	ModuleCount() int
	BroadcastClientCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	stats PipelineStats

	devicesCached    *prometheus.Desc
	modulesCached    *prometheus.Desc
	broadcastClients *prometheus.Desc
	dbTotalConns     *prometheus.Desc
	dbAcquiredConns  *prometheus.Desc
	dbIdleConns      *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool may be nil (storage disabled); stats may be nil if no pipeline is running.
func NewCollector(pool *pgxpool.Pool, stats PipelineStats) *Collector {
	return &Collector{
		pool:  pool,
		stats: stats,
		devicesCached: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "devices_cached"),
			"Devices currently held in the state cache.",
			nil, nil,
		),
		modulesCached: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "modules_cached"),
			"Modules currently held in the state cache.",
			nil, nil,
		),
		broadcastClients: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "broadcast_clients_active"),
			"Currently connected websocket push clients.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.devicesCached
	ch <- c.modulesCached
	ch <- c.broadcastClients
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats != nil {
		ch <- prometheus.MustNewConstMetric(c.devicesCached, prometheus.GaugeValue, float64(c.stats.DeviceCount()))
		ch <- prometheus.MustNewConstMetric(c.modulesCached, prometheus.GaugeValue, float64(c.stats.ModuleCount()))
		ch <- prometheus.MustNewConstMetric(c.broadcastClients, prometheus.GaugeValue, float64(c.stats.BroadcastClientCount()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.devicesCached, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.modulesCached, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.broadcastClients, prometheus.GaugeValue, 0)
	}

	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
