package workload

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hostclub/serverpool/internal/common/logger"
	"github.com/hostclub/serverpool/internal/gateway"
)

// Monitor reclaims idle workloads. On a fixed interval it checks every
// RUNNING workload's occupancy with the gateway: occupied workloads get
// their last-active refreshed, workloads empty past the threshold are
// stopped through the normal stop path.
type Monitor struct {
	manager   *Manager
	gateway   gateway.Gateway
	interval  time.Duration
	threshold time.Duration
	logger    *logger.Logger

	// now is replaceable in tests
	now func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor creates an inactivity monitor.
func NewMonitor(manager *Manager, gw gateway.Gateway, interval, threshold time.Duration, log *logger.Logger) *Monitor {
	return &Monitor{
		manager:   manager,
		gateway:   gw,
		interval:  interval,
		threshold: threshold,
		logger:    log.WithFields(zap.String("component", "inactivity-monitor")),
		now:       func() time.Time { return time.Now().UTC() },
		stopCh:    make(chan struct{}),
	}
}

// Start launches the scan loop.
func (mon *Monitor) Start() {
	mon.wg.Add(1)
	go mon.loop()
	mon.logger.Info("Inactivity monitor started",
		zap.Duration("interval", mon.interval),
		zap.Duration("threshold", mon.threshold))
}

// Stop terminates the scan loop and waits for an in-flight sweep.
func (mon *Monitor) Stop() {
	close(mon.stopCh)
	mon.wg.Wait()
}

func (mon *Monitor) loop() {
	defer mon.wg.Done()

	ticker := time.NewTicker(mon.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mon.sweep(context.Background())
		case <-mon.stopCh:
			return
		}
	}
}

// sweep checks every RUNNING workload concurrently so one blocking stop
// cannot stall the rest of the scan.
func (mon *Monitor) sweep(ctx context.Context) {
	running := mon.manager.Running()
	if len(running) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range running {
		w := w
		g.Go(func() error {
			mon.check(ctx, w.TenantID, w.Name, w.LastActiveAt)
			return nil
		})
	}
	_ = g.Wait()
}

func (mon *Monitor) check(ctx context.Context, tenantID, name string, lastActive time.Time) {
	occupants, err := mon.gateway.OccupantCount(ctx, name)
	if err != nil {
		mon.logger.Warn("Occupancy check failed",
			zap.String("workload", name), zap.Error(err))
		return
	}

	if occupants > 0 {
		if err := mon.manager.Touch(ctx, tenantID); err != nil {
			mon.logger.Warn("Failed to refresh last active",
				zap.String("workload", name), zap.Error(err))
		}
		return
	}

	idle := mon.now().Sub(lastActive)
	if idle < mon.threshold {
		return
	}

	mon.logger.Info("Stopping idle workload",
		zap.String("workload", name),
		zap.Duration("idle", idle))
	if err := mon.manager.Stop(ctx, tenantID); err != nil {
		mon.logger.Error("Failed to stop idle workload",
			zap.String("workload", name), zap.Error(err))
	}
}
