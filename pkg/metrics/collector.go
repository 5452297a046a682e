package metrics

import "time"

// raftNode is the subset of pkg/raftstore.Node the collector needs. Defined
// here instead of imported directly to avoid a pkg/metrics -> pkg/raftstore
// dependency. The Raft gauges are set only by ReportMetrics, so this
// collector is what keeps them current: it calls ReportMetrics once on
// Start and then on every tick.
type raftNode interface {
	ReportMetrics()
}

// Collector periodically refreshes the Raft gauges from a running replica.
type Collector struct {
	node   raftNode
	stopCh chan struct{}
}

// NewCollector creates a metrics collector for node.
func NewCollector(node raftNode) *Collector {
	return &Collector{
		node:   node,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15-second tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.node.ReportMetrics()

		for {
			select {
			case <-ticker.C:
				c.node.ReportMetrics()
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
