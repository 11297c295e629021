// Package dispatch implements the server-side worker handle, the
// dispatcher loop, and the background monitors that evict dead workers,
// report dead-letter growth, and prune old persisted records.
package dispatch

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/taskforge/dispatchd/pkg/codec"
	"github.com/taskforge/dispatchd/pkg/events"
	"github.com/taskforge/dispatchd/pkg/log"
	"github.com/taskforge/dispatchd/pkg/metrics"
	"github.com/taskforge/dispatchd/pkg/queue"
	"github.com/taskforge/dispatchd/pkg/registry"
	"github.com/taskforge/dispatchd/pkg/storage"
	"github.com/taskforge/dispatchd/pkg/types"
)

// Context bundles the shared mutable state every handle and background
// loop needs. It is constructed once by the server and threaded through
// rather than reached for via package-level singletons.
type Context struct {
	Store       storage.Store
	Registry    *registry.Registry
	Ready       *queue.Queue
	DeadLetter  *queue.DeadLetterQueue
	Events      *events.Broker
	AuditLog    *storage.DeadLetterAuditLog
	MaxRetries  int
	ReadBufSize int
}

// Handle is a single worker connection: its socket, its liveness and
// dispatch state, and the goroutine reading frames off it.
type Handle struct {
	id   string
	conn net.Conn
	ctx  *Context
	log  zerolog.Logger

	sendMu sync.Mutex

	mu              sync.Mutex
	name            string
	capabilities    map[types.Kind]bool
	registered      bool
	status          types.WorkerStatus
	lastHeartbeatAt time.Time
	inFlight        *types.Task

	disposed bool
}

// NewHandle wraps a freshly-accepted connection in a Handle, minting a
// fresh id and marking it idle from the moment it is registered.
func NewHandle(conn net.Conn, ctx *Context) *Handle {
	id := uuid.New().String()
	return &Handle{
		id:              id,
		conn:            conn,
		ctx:             ctx,
		log:             log.WithWorkerID(id),
		capabilities:    make(map[types.Kind]bool),
		status:          types.WorkerIdle,
		lastHeartbeatAt: time.Now(),
	}
}

// ID returns the handle's server-minted identifier.
func (h *Handle) ID() string { return h.id }

// IsIdle reports whether the handle is currently eligible for dispatch.
func (h *Handle) IsIdle() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status == types.WorkerIdle && !h.disposed
}

// CanHandle reports whether kind is among the handle's declared
// capabilities. A handle that never sent a Register frame is treated as
// unrestricted, per the legacy-worker compatibility rule.
func (h *Handle) CanHandle(kind types.Kind) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.registered {
		return true
	}
	return h.capabilities[kind]
}

// Info returns a diagnostic snapshot safe to print or serialize without
// holding the handle's lock.
func (h *Handle) Info() types.WorkerInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	kinds := make([]types.Kind, 0, len(h.capabilities))
	for k := range h.capabilities {
		kinds = append(kinds, k)
	}
	info := types.WorkerInfo{
		ID:              h.id,
		Name:            h.name,
		Capabilities:    kinds,
		Status:          h.status,
		LastHeartbeatAt: h.lastHeartbeatAt,
		Registered:      h.registered,
	}
	if h.inFlight != nil {
		info.InFlightTaskID = h.inFlight.ID
	}
	return info
}

// IsAlive reports whether the handle has heartbeated within timeout.
func (h *Handle) IsAlive(timeout time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Since(h.lastHeartbeatAt) <= timeout
}

// touchHeartbeat records a liveness signal.
func (h *Handle) touchHeartbeat() {
	h.mu.Lock()
	h.lastHeartbeatAt = time.Now()
	h.mu.Unlock()
}

// writeFrame serializes data under the send lock so concurrent writers
// (the dispatcher's SendTask and the read loop's ping/register replies)
// never interleave bytes on the same socket.
func (h *Handle) writeFrame(data []byte) error {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	_, err := h.conn.Write(data)
	return err
}

// SendTask marks the handle Busy, records task as in-flight, persists it
// as InProgress, and writes the task frame. A write failure applies the
// retry-on-failure policy to the in-flight task and disposes the handle.
func (h *Handle) SendTask(task *types.Task) error {
	h.mu.Lock()
	h.status = types.WorkerBusy
	h.inFlight = task
	h.mu.Unlock()

	if err := h.ctx.Store.UpdateStatus(task.ID, types.StatusInProgress, false, ""); err != nil {
		h.log.Error().Err(err).Str("task_id", task.ID).Msg("persist in-progress failed")
	}

	frame := codec.TaskFrameFrom(task)
	data, err := codec.EncodeTask(frame)
	if err != nil {
		return fmt.Errorf("encode task frame: %w", err)
	}

	if err := h.writeFrame(data); err != nil {
		h.log.Error().Err(err).Str("task_id", task.ID).Msg("send task failed, disposing handle")
		h.disposeLocked(err)
		return fmt.Errorf("write task frame: %w", err)
	}
	return nil
}

// Dispose closes the socket, removes the handle from the registry, and
// applies the retry-on-failure policy to any in-flight task. Safe to call
// more than once; only the first call has effect.
func (h *Handle) Dispose() {
	h.disposeLocked(nil)
}

func (h *Handle) disposeLocked(cause error) {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return
	}
	h.disposed = true
	h.status = types.WorkerBusy
	inFlight := h.inFlight
	h.mu.Unlock()

	_ = h.conn.Close()
	h.ctx.Registry.Remove(h.id)

	if inFlight != nil {
		h.applyRetryPolicy(inFlight)
		h.mu.Lock()
		h.inFlight = nil
		h.mu.Unlock()
	}

	h.ctx.Events.Publish(&events.Event{
		Type:     events.EventWorkerEvicted,
		WorkerID: h.id,
		Message:  causeMessage(cause),
	})
}

func causeMessage(err error) string {
	if err == nil {
		return "disposed"
	}
	return err.Error()
}

// applyRetryPolicy increments retry_count and last_retry_at, then either
// re-queues the task as Pending or moves it to the dead-letter queue. The
// disposal path clears the in-flight slot only after this returns, so no
// observer ever sees the slot empty and the task absent from both queues.
func (h *Handle) applyRetryPolicy(task *types.Task) {
	task.RetryCount++
	now := time.Now()
	task.LastRetryAt = &now

	if task.RetryCount < h.ctx.MaxRetries {
		task.Status = types.StatusPending
		task.StatusUpdatedAt = now
		if err := h.ctx.Store.UpdateStatus(task.ID, types.StatusPending, true, ""); err != nil {
			h.log.Error().Err(err).Str("task_id", task.ID).Msg("persist retry failed")
		}
		h.ctx.Ready.Push(task)
		metrics.TasksRetriedTotal.Inc()
		h.ctx.Events.Publish(&events.Event{Type: events.EventTaskFailed, TaskID: task.ID, WorkerID: h.id})
		return
	}

	task.Status = types.StatusDeadLetter
	task.StatusUpdatedAt = now
	if err := h.ctx.Store.UpdateStatus(task.ID, types.StatusDeadLetter, true, "max retries exceeded"); err != nil {
		h.log.Error().Err(err).Str("task_id", task.ID).Msg("persist dead-letter failed")
	}
	if h.ctx.AuditLog != nil {
		if err := h.ctx.AuditLog.Append(task); err != nil {
			h.log.Warn().Err(err).Str("task_id", task.ID).Msg("dead-letter audit log append failed")
		}
	}
	h.ctx.DeadLetter.Push(task)
	metrics.TasksDeadLetteredTotal.Inc()
	h.ctx.Events.Publish(&events.Event{Type: events.EventTaskDeadLettered, TaskID: task.ID, WorkerID: h.id})
}

// Run drives the blocking read loop for this connection until EOF or a
// read error, then executes the shared cleanup path.
func (h *Handle) Run() {
	buf := make([]byte, h.ctx.ReadBufSize)
	for {
		n, err := h.conn.Read(buf)
		if n > 0 {
			h.handleFrame(buf[:n])
		}
		if err != nil {
			break
		}
	}
	h.Dispose()
}

func (h *Handle) handleFrame(data []byte) {
	env, err := codec.Decode(data)
	if err != nil {
		h.log.Warn().Err(err).Msg("dropping unparseable frame")
		return
	}

	switch env.Type {
	case codec.TypeResult:
		h.handleResult(env.Result)
	case codec.TypePingRequest:
		h.handlePing(env.PingRequest)
	case codec.TypeRegister:
		h.handleRegister(env.Register)
	default:
		h.log.Warn().Str("type", string(env.Type)).Msg("dropping unrecognized frame type")
	}
}

func (h *Handle) handleResult(result *codec.ResultFrame) {
	if result == nil {
		return
	}

	h.mu.Lock()
	inFlight := h.inFlight
	matches := inFlight != nil && inFlight.ID == result.TaskId
	if matches {
		h.inFlight = nil
		h.status = types.WorkerIdle
	}
	h.mu.Unlock()

	if !matches {
		// A Result for a task this handle no longer holds in-flight: the
		// task was already retried or dead-lettered elsewhere. Accept it
		// if it still names a real task id, but do not touch this
		// handle's state further.
		h.log.Warn().Str("task_id", result.TaskId).Msg("result for task not in-flight on this handle")
	}

	status := types.StatusFailed
	if result.Success {
		status = types.StatusCompleted
	}
	if err := h.ctx.Store.UpdateStatus(result.TaskId, status, false, resultErrorMessage(result)); err != nil {
		h.log.Error().Err(err).Str("task_id", result.TaskId).Msg("persist result failed")
	}

	eventType := events.EventTaskCompleted
	if !result.Success {
		eventType = events.EventTaskFailed
	}
	h.ctx.Events.Publish(&events.Event{Type: eventType, TaskID: result.TaskId, WorkerID: h.id})
}

func resultErrorMessage(result *codec.ResultFrame) string {
	if result.Success {
		return ""
	}
	return result.ResultData
}

func (h *Handle) handlePing(req *codec.PingRequestFrame) {
	h.touchHeartbeat()
	if req != nil && req.ClientId != "" {
		h.mu.Lock()
		if h.name == "" {
			h.name = req.ClientId
		}
		h.mu.Unlock()
	}

	data, err := codec.EncodePingResponse(codec.PingResponseFrame{ServerId: "dispatchd"})
	if err != nil {
		h.log.Error().Err(err).Msg("encode ping response failed")
		return
	}
	if err := h.writeFrame(data); err != nil {
		h.log.Warn().Err(err).Msg("write ping response failed")
	}
}

func (h *Handle) handleRegister(reg *codec.RegisterFrame) {
	if reg == nil {
		return
	}

	h.mu.Lock()
	h.registered = true
	h.name = reg.ClientName
	h.capabilities = make(map[types.Kind]bool, len(reg.Capabilities))
	for _, kind := range reg.Capabilities {
		h.capabilities[kind] = true
	}
	h.lastHeartbeatAt = time.Now()
	h.mu.Unlock()

	h.log.Info().Str("client_id", reg.ClientId).Strs("capabilities", kindsToStrings(reg.Capabilities)).Msg("worker registered")

	resp := codec.RegisterResponseFrame{
		Success:              true,
		Message:              "registered",
		ServerId:             "dispatchd",
		AcceptedCapabilities: reg.Capabilities,
	}
	data, err := codec.EncodeRegisterResponse(resp)
	if err != nil {
		h.log.Error().Err(err).Msg("encode register response failed")
		return
	}
	if err := h.writeFrame(data); err != nil {
		h.log.Warn().Err(err).Msg("write register response failed")
	}

	h.ctx.Events.Publish(&events.Event{Type: events.EventWorkerJoined, WorkerID: h.id, Message: reg.ClientName})
}

func kindsToStrings(kinds []types.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
