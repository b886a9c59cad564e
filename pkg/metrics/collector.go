package metrics

import "time"

// PoolStats is the subset of pkg/pool.Pool the collector depends on,
// declared locally so this package never imports pkg/pool.
type PoolStats interface {
	Stats() (idle, inUse int64)
}

// Collector periodically samples pool occupancy into the
// proxy_connection_pool_size gauge. Connection, auth, and byte counters are
// updated inline by the engines that observe them; pool occupancy is the
// one series better sampled on a ticker than on every idle-queue mutation.
type Collector struct {
	pool     PoolStats
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector builds a Collector sampling pool on interval.
func NewCollector(pool PoolStats, interval time.Duration) *Collector {
	return &Collector{
		pool:     pool,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins sampling in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
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

// Stop halts sampling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.pool == nil {
		return
	}
	idle, inUse := c.pool.Stats()
	ConnectionPoolSize.WithLabelValues("idle").Set(float64(idle))
	ConnectionPoolSize.WithLabelValues("in_use").Set(float64(inUse))
}
