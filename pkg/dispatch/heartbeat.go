package dispatch

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskforge/dispatchd/pkg/log"
	"github.com/taskforge/dispatchd/pkg/metrics"
)

// HeartbeatMonitor evicts worker handles that have gone silent past their
// liveness timeout.
type HeartbeatMonitor struct {
	ctx      *Context
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
}

// NewHeartbeatMonitor returns a monitor checking every interval for
// handles idle (silent) longer than timeout.
func NewHeartbeatMonitor(ctx *Context, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		ctx:      ctx,
		interval: interval,
		timeout:  timeout,
		log:      log.WithComponent("heartbeat-monitor"),
	}
}

// Start launches the monitor's ticker loop in a new goroutine.
func (m *HeartbeatMonitor) Start() {
	m.mu.Lock()
	m.stopCh = make(chan struct{})
	stop := m.stopCh
	m.mu.Unlock()

	go m.run(stop)
}

// Stop signals the loop to exit.
func (m *HeartbeatMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
}

func (m *HeartbeatMonitor) run(stop chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-stop:
			return
		}
	}
}

func (m *HeartbeatMonitor) sweep() {
	for _, h := range m.ctx.Registry.Snapshot() {
		handle, ok := h.(*Handle)
		if !ok {
			continue
		}
		if !handle.IsAlive(m.timeout) {
			m.log.Warn().Str("worker_id", handle.ID()).Msg("evicting unresponsive worker")
			handle.Dispose()
			metrics.HeartbeatEvictionsTotal.Inc()
		}
	}
}
