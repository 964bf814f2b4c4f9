package storage

import (
	"context"
	"time"

	"github.com/kwgt/luwiki-sub000/pkg/metrics"
)

// DefaultCollectInterval is how often Collector polls the store for its
// gauge metrics, absent an explicit interval.
const DefaultCollectInterval = 30 * time.Second

// Collector periodically polls a Manager's read-side operations and
// updates the package-level Prometheus gauges in pkg/metrics. It lives
// here, not in pkg/metrics, because it needs to read *Manager state and
// pkg/metrics must stay a dependency-free leaf (see pkg/metrics's package
// doc).
type Collector struct {
	mgr      *Manager
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCollector builds a Collector over mgr. A non-positive interval falls
// back to DefaultCollectInterval.
func NewCollector(mgr *Manager, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	return &Collector{mgr: mgr, interval: interval}
}

// Start begins polling on a ticker until the context is cancelled or Stop
// is called. Start is not safe to call twice without an intervening Stop.
func (c *Collector) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.collectOnce()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.collectOnce()
			}
		}
	}()
}

// Stop cancels the polling loop and waits for it to exit.
func (c *Collector) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

func (c *Collector) collectOnce() {
	pages, err := c.mgr.ListPages()
	if err != nil {
		c.mgr.log.Warn().Err(err).Msg("collector: list pages failed")
	} else {
		var live, draft, tombstoned float64
		for _, p := range pages {
			switch {
			case p.IsDraft:
				draft++
			case p.Deleted:
				tombstoned++
			default:
				live++
			}
		}
		metrics.PagesTotal.WithLabelValues("live").Set(live)
		metrics.PagesTotal.WithLabelValues("draft").Set(draft)
		metrics.PagesTotal.WithLabelValues("tombstoned").Set(tombstoned)
	}

	assets, err := c.mgr.ListAssets()
	if err != nil {
		c.mgr.log.Warn().Err(err).Msg("collector: list assets failed")
	} else {
		var live, zombie, deleted float64
		for _, a := range assets {
			switch {
			case a.Deleted:
				deleted++
			case a.IsZombie():
				zombie++
			default:
				live++
			}
		}
		metrics.AssetsTotal.WithLabelValues("live").Set(live)
		metrics.AssetsTotal.WithLabelValues("zombie").Set(zombie)
		metrics.AssetsTotal.WithLabelValues("deleted").Set(deleted)
	}

	locks, err := c.mgr.ListLocks()
	if err != nil {
		c.mgr.log.Warn().Err(err).Msg("collector: list locks failed")
	} else {
		metrics.LocksActiveTotal.Set(float64(len(locks)))
	}

	users, err := c.mgr.UserCount()
	if err != nil {
		c.mgr.log.Warn().Err(err).Msg("collector: user count failed")
	} else {
		metrics.UsersTotal.Set(float64(users))
	}
}
