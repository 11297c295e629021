package dispatch

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskforge/dispatchd/pkg/events"
	"github.com/taskforge/dispatchd/pkg/log"
	"github.com/taskforge/dispatchd/pkg/metrics"
	"github.com/taskforge/dispatchd/pkg/types"
)

// Dispatcher is the single long-running loop that pairs the ready queue's
// head task with an idle, capable worker handle.
type Dispatcher struct {
	ctx      *Context
	interval time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
}

// NewDispatcher returns a dispatcher that ticks every interval once started.
func NewDispatcher(ctx *Context, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		ctx:      ctx,
		interval: interval,
		log:      log.WithComponent("dispatcher"),
	}
}

// Start launches the dispatcher's ticker loop in a new goroutine.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	d.stopCh = make(chan struct{})
	stop := d.stopCh
	d.mu.Unlock()

	go d.run(stop)
}

// Stop signals the loop to exit. Safe to call once per Start.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopCh != nil {
		close(d.stopCh)
		d.stopCh = nil
	}
}

func (d *Dispatcher) run(stop chan struct{}) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.tick()
		case <-stop:
			return
		}
	}
}

// tick implements one dispatcher iteration per the fixed algorithm: peek,
// find an eligible idle worker, try-dequeue (re-peeking if the head moved
// underneath us), send; or drain an unroutable head straight to the
// dead-letter queue.
func (d *Dispatcher) tick() {
	head := d.ctx.Ready.Peek()
	if head == nil {
		return
	}

	handle, ok := d.ctx.Registry.FindIdleFor(head.Kind)
	if ok {
		task, dequeued := d.ctx.Ready.TryPop(head.ID)
		if !dequeued {
			// head moved since Peek; resume on the next tick rather than
			// racing to re-peek within this one.
			return
		}

		timer := metrics.NewTimer()
		if err := handle.SendTask(task); err != nil {
			d.log.Warn().Err(err).Str("task_id", task.ID).Msg("send task failed")
		}
		timer.ObserveDuration(metrics.DispatchDuration)
		return
	}

	if !d.ctx.Registry.AnyClaims(head.Kind) {
		task, dequeued := d.ctx.Ready.TryPop(head.ID)
		if !dequeued {
			return
		}
		d.deadLetterUnroutable(task)
	}
}

// deadLetterUnroutable drains a task straight to the dead-letter queue
// because no registered worker claims its kind — retrying it would only
// head-of-line-block every task behind it.
func (d *Dispatcher) deadLetterUnroutable(task *types.Task) {
	now := time.Now()
	task.Status = types.StatusDeadLetter
	task.StatusUpdatedAt = now
	task.ErrorMessage = "no registered worker claims kind " + string(task.Kind)

	if err := d.ctx.Store.UpdateStatus(task.ID, types.StatusDeadLetter, false, task.ErrorMessage); err != nil {
		d.log.Error().Err(err).Str("task_id", task.ID).Msg("persist unroutable dead-letter failed")
	}
	if d.ctx.AuditLog != nil {
		if err := d.ctx.AuditLog.Append(task); err != nil {
			d.log.Warn().Err(err).Str("task_id", task.ID).Msg("dead-letter audit log append failed")
		}
	}
	d.ctx.DeadLetter.Push(task)
	metrics.TasksDeadLetteredTotal.Inc()
	d.ctx.Events.Publish(&events.Event{Type: events.EventTaskDeadLettered, TaskID: task.ID, Message: task.ErrorMessage})
	d.log.Info().Str("task_id", task.ID).Str("kind", string(task.Kind)).Msg("unroutable task moved to dead-letter")
}
