package metrics

import (
	"time"

	"github.com/cuemby/dxsync/pkg/types"
)

// knownPathsSource is the subset of *hashstore.Store a Collector
// samples from — narrow so callers can register any per-kind source
// (the CLI registers a per-kind view over its shared store) without
// this package importing hashstore.
type knownPathsSource interface {
	ListKnownPaths() []string
}

// Collector periodically samples each registered kind's Hash Store and
// publishes KnownArtifactsTotal, the way the reference samples cluster
// state into gauges on a fixed tick.
type Collector struct {
	sources map[types.Kind]knownPathsSource
	stopCh  chan struct{}
}

// NewCollector returns a Collector with no sources registered yet.
func NewCollector() *Collector {
	return &Collector{
		sources: make(map[types.Kind]knownPathsSource),
		stopCh:  make(chan struct{}),
	}
}

// Register adds a kind's Hash Store to the sampling set.
func (c *Collector) Register(kind types.Kind, store knownPathsSource) {
	c.sources[kind] = store
}

// Start begins sampling every 15 seconds until Stop is called.
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
	for kind, store := range c.sources {
		KnownArtifactsTotal.WithLabelValues(string(kind)).Set(float64(len(store.ListKnownPaths())))
	}
}
