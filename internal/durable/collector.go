package durable

import (
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector returns a Prometheus collector for the store's backend, or nil
// when the store exposes nothing worth scraping.
func Collector(s Store) prometheus.Collector {
	if ls, ok := s.(*lockedStore); ok {
		s = ls.Store
	}
	switch st := s.(type) {
	case *SQLiteStore:
		return collectors.NewDBStatsCollector(st.db, "annworker_durable")
	case *PebbleStore:
		return newPebbleCollector(st.db)
	default:
		return nil
	}
}

// pebbleCollector exports LSM health from db.Metrics().
type pebbleCollector struct {
	db *pebble.DB

	compactionCount         *prometheus.Desc
	compactionEstimatedDebt *prometheus.Desc
	compactionInProgress    *prometheus.Desc
	memtableSize            *prometheus.Desc
	memtableCount           *prometheus.Desc
	walFiles                *prometheus.Desc
	walSize                 *prometheus.Desc
	walBytesWritten         *prometheus.Desc
}

func newPebbleCollector(db *pebble.DB) *pebbleCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("annworker_durable_pebble_"+name, help, nil, nil)
	}
	return &pebbleCollector{
		db:                      db,
		compactionCount:         desc("compaction_count_total", "Total number of compactions performed"),
		compactionEstimatedDebt: desc("compaction_estimated_debt_bytes", "Estimated bytes left to compact to reach a stable state"),
		compactionInProgress:    desc("compaction_in_progress_bytes", "Bytes present in sstables being written by in-progress compactions"),
		memtableSize:            desc("memtable_size_bytes", "Current size of the memtable in bytes"),
		memtableCount:           desc("memtable_count", "Current number of memtables"),
		walFiles:                desc("wal_files", "Number of live WAL files"),
		walSize:                 desc("wal_size_bytes", "Size of the live WAL data in bytes"),
		walBytesWritten:         desc("wal_bytes_written_total", "Total physical bytes written to the WAL"),
	}
}

func (pc *pebbleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pc.compactionCount
	ch <- pc.compactionEstimatedDebt
	ch <- pc.compactionInProgress
	ch <- pc.memtableSize
	ch <- pc.memtableCount
	ch <- pc.walFiles
	ch <- pc.walSize
	ch <- pc.walBytesWritten
}

func (pc *pebbleCollector) Collect(ch chan<- prometheus.Metric) {
	m := pc.db.Metrics()

	ch <- prometheus.MustNewConstMetric(pc.compactionCount, prometheus.CounterValue, float64(m.Compact.Count))
	ch <- prometheus.MustNewConstMetric(pc.compactionEstimatedDebt, prometheus.GaugeValue, float64(m.Compact.EstimatedDebt))
	ch <- prometheus.MustNewConstMetric(pc.compactionInProgress, prometheus.GaugeValue, float64(m.Compact.InProgressBytes))
	ch <- prometheus.MustNewConstMetric(pc.memtableSize, prometheus.GaugeValue, float64(m.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(pc.memtableCount, prometheus.GaugeValue, float64(m.MemTable.Count))
	ch <- prometheus.MustNewConstMetric(pc.walFiles, prometheus.GaugeValue, float64(m.WAL.Files))
	ch <- prometheus.MustNewConstMetric(pc.walSize, prometheus.GaugeValue, float64(m.WAL.Size))
	ch <- prometheus.MustNewConstMetric(pc.walBytesWritten, prometheus.CounterValue, float64(m.WAL.BytesWritten))
}
