package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolStats is a snapshot of the Postgres pool shared by ingestion and the
// rating queries. A long COPY merge holds a connection for the whole batch,
// so waits on an exhausted pool show up in EmptyAcquires and AcquireWait.
type PoolStats struct {
	Total         int32
	Idle          int32
	Acquired      int32
	Max           int32
	EmptyAcquires int64
	AcquireWait   time.Duration
}

// DBPoolStatFunc returns pool statistics without importing pgxpool.
type DBPoolStatFunc func() PoolStats

type dbPoolCollector struct {
	statFunc DBPoolStatFunc

	totalDesc         *prometheus.Desc
	idleDesc          *prometheus.Desc
	acquiredDesc      *prometheus.Desc
	maxDesc           *prometheus.Desc
	emptyAcquiresDesc *prometheus.Desc
	acquireWaitDesc   *prometheus.Desc
}

// NewDBPoolCollector exposes the pool snapshot as ratekeeper_db_pool_*
// gauges and counters.
func NewDBPoolCollector(statFunc DBPoolStatFunc) prometheus.Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("ratekeeper_db_pool_"+name, help, nil, nil)
	}
	return &dbPoolCollector{
		statFunc:          statFunc,
		totalDesc:         desc("total_conns", "Total number of connections in the DB pool."),
		idleDesc:          desc("idle_conns", "Number of idle connections in the DB pool."),
		acquiredDesc:      desc("acquired_conns", "Number of connections held by ingestion or queries."),
		maxDesc:           desc("max_conns", "Configured maximum size of the DB pool."),
		emptyAcquiresDesc: desc("empty_acquires_total", "Acquires that waited because the pool was exhausted."),
		acquireWaitDesc:   desc("acquire_wait_seconds_total", "Cumulative time spent acquiring connections."),
	}
}

func (c *dbPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalDesc
	ch <- c.idleDesc
	ch <- c.acquiredDesc
	ch <- c.maxDesc
	ch <- c.emptyAcquiresDesc
	ch <- c.acquireWaitDesc
}

func (c *dbPoolCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.statFunc()
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(st.Total))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(st.Idle))
	ch <- prometheus.MustNewConstMetric(c.acquiredDesc, prometheus.GaugeValue, float64(st.Acquired))
	ch <- prometheus.MustNewConstMetric(c.maxDesc, prometheus.GaugeValue, float64(st.Max))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquiresDesc, prometheus.CounterValue, float64(st.EmptyAcquires))
	ch <- prometheus.MustNewConstMetric(c.acquireWaitDesc, prometheus.CounterValue, st.AcquireWait.Seconds())
}
