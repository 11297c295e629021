// Package console implements the operator's line-based command loop,
// the one component built directly on the standard library: no REPL
// framework in the retrieved pack fits a single-session stdin loop this
// small without dragging in an unrelated TUI dependency.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/taskforge/dispatchd/pkg/types"
)

// Server is the subset of *server.Server the console drives. Declared
// here, not imported from pkg/server, so the console can be unit tested
// against a fake without constructing a real server.
type Server interface {
	Submit(kind types.Kind, payload string) (*types.Task, error)
	Workers() []types.WorkerInfo
	QueueDepths() (ready, deadLetter int)
	Statistics() (types.Statistics, error)
	ClearDeadLetter() int
	ReprocessDeadLetter() int
}

// Console reads commands from in and writes responses to out until it
// reads "exit" or the input stream ends.
type Console struct {
	srv Server
	in  *bufio.Scanner
	out io.Writer
}

// New returns a console wired to srv, reading from in and writing to out.
func New(srv Server, in io.Reader, out io.Writer) *Console {
	return &Console{srv: srv, in: bufio.NewScanner(in), out: out}
}

// Run processes commands until exit or EOF, returning the process exit
// code the "exit" command names (always 0, per the command's contract).
func (c *Console) Run() int {
	for c.in.Scan() {
		line := strings.TrimSpace(c.in.Text())
		if line == "" {
			continue
		}
		if code, done := c.dispatch(line); done {
			return code
		}
	}
	return 0
}

func (c *Console) dispatch(line string) (code int, done bool) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "create":
		c.handleCreate(args)
	case "status":
		c.handleStatus()
	case "stats":
		c.handleStats()
	case "clients":
		c.handleClients()
	case "queue":
		c.handleQueue()
	case "clear-deadletter":
		c.handleClearDeadLetter()
	case "reprocess-deadletter":
		c.handleReprocessDeadLetter()
	case "exit":
		return 0, true
	default:
		fmt.Fprintf(c.out, "unrecognized command: %s\n", cmd)
	}
	return 0, false
}

// handleCreate implements both "create <kind> <data>" and
// "create batch <kind> <count> <data>".
func (c *Console) handleCreate(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.out, "usage: create <kind> <data> | create batch <kind> <count> <data>")
		return
	}

	if args[0] == "batch" {
		c.handleCreateBatch(args[1:])
		return
	}

	if len(args) < 2 {
		fmt.Fprintln(c.out, "usage: create <kind> <data>")
		return
	}
	kind := types.Kind(args[0])
	data := strings.Join(args[1:], " ")

	task, err := c.srv.Submit(kind, data)
	if err != nil {
		fmt.Fprintf(c.out, "create failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "created %s (%s)\n", task.ID, task.Kind)
}

func (c *Console) handleCreateBatch(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(c.out, "usage: create batch <kind> <count> <data>")
		return
	}
	kind := types.Kind(args[0])
	count, err := strconv.Atoi(args[1])
	if err != nil || count <= 0 {
		fmt.Fprintf(c.out, "invalid count: %s\n", args[1])
		return
	}
	data := strings.Join(args[2:], " ")

	created := 0
	for i := 0; i < count; i++ {
		if _, err := c.srv.Submit(kind, data); err != nil {
			fmt.Fprintf(c.out, "create failed at %d/%d: %v\n", i+1, count, err)
			break
		}
		created++
	}
	fmt.Fprintf(c.out, "created %d/%d tasks of kind %s\n", created, count, kind)
}

func (c *Console) handleStatus() {
	ready, deadLetter := c.srv.QueueDepths()
	workers := c.srv.Workers()
	idle, busy := 0, 0
	for _, w := range workers {
		if w.Status == types.WorkerIdle {
			idle++
		} else {
			busy++
		}
	}
	fmt.Fprintf(c.out, "workers: %d (idle=%d busy=%d) ready_queue=%d dead_letter=%d\n",
		len(workers), idle, busy, ready, deadLetter)
}

func (c *Console) handleStats() {
	stats, err := c.srv.Statistics()
	if err != nil {
		fmt.Fprintf(c.out, "stats failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "pending=%d in_progress=%d completed=%d failed=%d dead_letter=%d total=%d\n",
		stats.Pending, stats.InProgress, stats.Completed, stats.Failed, stats.DeadLetter, stats.Total)
}

func (c *Console) handleClients() {
	workers := c.srv.Workers()
	if len(workers) == 0 {
		fmt.Fprintln(c.out, "no workers connected")
		return
	}
	for _, w := range workers {
		caps := make([]string, len(w.Capabilities))
		for i, k := range w.Capabilities {
			caps[i] = string(k)
		}
		fmt.Fprintf(c.out, "%s name=%q status=%s capabilities=[%s] in_flight=%s\n",
			w.ID, w.Name, w.Status, strings.Join(caps, ","), w.InFlightTaskID)
	}
}

func (c *Console) handleQueue() {
	ready, deadLetter := c.srv.QueueDepths()
	fmt.Fprintf(c.out, "ready=%d dead_letter=%d\n", ready, deadLetter)
}

func (c *Console) handleClearDeadLetter() {
	n := c.srv.ClearDeadLetter()
	fmt.Fprintf(c.out, "cleared %d dead-letter tasks\n", n)
}

func (c *Console) handleReprocessDeadLetter() {
	n := c.srv.ReprocessDeadLetter()
	fmt.Fprintf(c.out, "reprocessed %d dead-letter tasks back to pending\n", n)
}
