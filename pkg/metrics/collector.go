package metrics

import (
	"time"

	"github.com/coldstore/coldstore/pkg/storage"
	"github.com/coldstore/coldstore/pkg/types"
)

// Collector refreshes the fleet gauges from the origin store.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
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

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectMirrorMetrics()
	c.collectCatalogMetrics()
}

func (c *Collector) collectMirrorMetrics() {
	mirrors, err := c.store.ListMirrors()
	if err != nil {
		return
	}

	counts := map[types.MirrorStatus]int{
		types.MirrorStatusPending:  0,
		types.MirrorStatusApproved: 0,
		types.MirrorStatusOnline:   0,
		types.MirrorStatusOffline:  0,
		types.MirrorStatusRejected: 0,
	}
	for _, m := range mirrors {
		counts[m.Status]++
	}
	for status, n := range counts {
		MirrorsTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}

func (c *Collector) collectCatalogMetrics() {
	entries, err := c.store.ListCatalogEntries()
	if err != nil {
		return
	}

	counts := map[types.EntryStatus]int{
		types.EntryStatusPending:  0,
		types.EntryStatusApproved: 0,
		types.EntryStatusRejected: 0,
	}
	for _, e := range entries {
		counts[e.Status]++
	}
	for status, n := range counts {
		CatalogEntriesTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}
