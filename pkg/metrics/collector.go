package metrics

import (
	"time"

	"github.com/cuemby/backupd/internal/backup"
)

// Collector periodically samples a Manager's job status into the
// package-level gauges so a Prometheus scrape always reflects
// reasonably fresh state without the manager having to push metrics
// on every state transition.
type Collector struct {
	manager *backup.Manager
	stopCh  chan struct{}
}

// NewCollector creates a new metrics collector for the given manager.
func NewCollector(mgr *backup.Manager) *Collector {
	return &Collector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics on a ticker, sampling immediately
// before the first tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	statuses := c.manager.GetStatus()

	stateCounts := make(map[string]int, 4)
	mounted := 0

	for _, s := range statuses {
		stateCounts[string(s.State.Kind)]++
		if s.IsMounted {
			mounted++
		}
		if s.LastBackup != nil {
			RepositorySizeBytes.WithLabelValues(s.Name).Set(float64(s.LastBackup.AddedBytes))
		}
	}

	for _, kind := range []string{"idle", "debouncing", "running", "error"} {
		JobsByState.WithLabelValues(kind).Set(float64(stateCounts[kind]))
	}

	MountsActive.Set(float64(mounted))
}
