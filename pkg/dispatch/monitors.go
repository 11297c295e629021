package dispatch

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskforge/dispatchd/pkg/log"
	"github.com/taskforge/dispatchd/pkg/metrics"
)

// tickerMonitor is the shared start/stop/ticker shape both monitors below
// use; it is not exported since neither monitor differs in how it runs,
// only in what it does each tick.
type tickerMonitor struct {
	interval time.Duration
	tick     func()

	mu     sync.Mutex
	stopCh chan struct{}
}

func (m *tickerMonitor) Start() {
	m.mu.Lock()
	m.stopCh = make(chan struct{})
	stop := m.stopCh
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.tick()
			case <-stop:
				return
			}
		}
	}()
}

func (m *tickerMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
}

// DeadLetterMonitor periodically reports the dead-letter queue's size and
// the delta since its last report, via metrics gauges and logs.
type DeadLetterMonitor struct {
	tickerMonitor
	ctx      *Context
	log      zerolog.Logger
	lastSize int
}

// NewDeadLetterMonitor returns a monitor reporting every interval.
func NewDeadLetterMonitor(ctx *Context, interval time.Duration) *DeadLetterMonitor {
	m := &DeadLetterMonitor{ctx: ctx, log: log.WithComponent("dead-letter-monitor")}
	m.tickerMonitor = tickerMonitor{interval: interval, tick: m.report}
	return m
}

func (m *DeadLetterMonitor) report() {
	size := m.ctx.DeadLetter.Len()
	metrics.DeadLetterDepth.Set(float64(size))
	metrics.QueueDepth.Set(float64(m.ctx.Ready.Len()))
	m.refreshWorkerGauge()
	m.refreshTaskGauge()
	if size != m.lastSize {
		m.log.Info().Int("dead_letter_depth", size).Int("delta", size-m.lastSize).Msg("dead-letter queue size changed")
		m.lastSize = size
	}
}

func (m *DeadLetterMonitor) refreshTaskGauge() {
	stats, err := m.ctx.Store.Statistics()
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to refresh task gauge from store statistics")
		return
	}
	metrics.TasksTotal.WithLabelValues("pending").Set(float64(stats.Pending))
	metrics.TasksTotal.WithLabelValues("in_progress").Set(float64(stats.InProgress))
	metrics.TasksTotal.WithLabelValues("completed").Set(float64(stats.Completed))
	metrics.TasksTotal.WithLabelValues("failed").Set(float64(stats.Failed))
	metrics.TasksTotal.WithLabelValues("dead_letter").Set(float64(stats.DeadLetter))
}

func (m *DeadLetterMonitor) refreshWorkerGauge() {
	idle, busy := 0, 0
	for _, h := range m.ctx.Registry.Snapshot() {
		if h.IsIdle() {
			idle++
		} else {
			busy++
		}
	}
	metrics.WorkersTotal.WithLabelValues("idle").Set(float64(idle))
	metrics.WorkersTotal.WithLabelValues("busy").Set(float64(busy))
}

// CleanupMonitor periodically purges terminal persisted records older
// than the configured retention window.
type CleanupMonitor struct {
	tickerMonitor
	ctx       *Context
	retention time.Duration
	log       zerolog.Logger
}

// NewCleanupMonitor returns a monitor running every interval, deleting
// terminal records older than retention.
func NewCleanupMonitor(ctx *Context, interval, retention time.Duration) *CleanupMonitor {
	m := &CleanupMonitor{ctx: ctx, retention: retention, log: log.WithComponent("cleanup-monitor")}
	m.tickerMonitor = tickerMonitor{interval: interval, tick: m.cleanup}
	return m
}

func (m *CleanupMonitor) cleanup() {
	cutoff := time.Now().Add(-m.retention)
	timer := metrics.NewTimer()
	removed, err := m.ctx.Store.CleanupOld(cutoff)
	timer.ObserveDurationVec(metrics.PersistenceOpDuration, "cleanup")
	if err != nil {
		m.log.Error().Err(err).Msg("persistence cleanup failed")
		return
	}
	if removed > 0 {
		m.log.Info().Int("removed", removed).Msg("persistence cleanup removed stale records")
	}
}
