package console

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/dispatchd/pkg/types"
)

type fakeServer struct {
	submitted      []types.Kind
	clearedCount   int
	reprocessCount int
	stats          types.Statistics
	workers        []types.WorkerInfo
	ready, dead    int
	submitErr      error
}

func (f *fakeServer) Submit(kind types.Kind, payload string) (*types.Task, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, kind)
	return &types.Task{ID: "Task-0", Kind: kind, Payload: payload}, nil
}

func (f *fakeServer) Workers() []types.WorkerInfo                { return f.workers }
func (f *fakeServer) QueueDepths() (int, int)                    { return f.ready, f.dead }
func (f *fakeServer) Statistics() (types.Statistics, error)       { return f.stats, nil }
func (f *fakeServer) ClearDeadLetter() int                       { f.clearedCount = f.dead; return f.dead }
func (f *fakeServer) ReprocessDeadLetter() int                   { f.reprocessCount = f.dead; return f.dead }

func runConsole(t *testing.T, srv Server, input string) string {
	t.Helper()
	var out bytes.Buffer
	c := New(srv, strings.NewReader(input), &out)
	code := c.Run()
	assert.Equal(t, 0, code)
	return out.String()
}

func TestConsoleCreateSubmitsTask(t *testing.T) {
	srv := &fakeServer{}
	out := runConsole(t, srv, "create CheckPrime 7\nexit\n")

	require.Len(t, srv.submitted, 1)
	assert.Equal(t, types.KindCheckPrime, srv.submitted[0])
	assert.Contains(t, out, "created Task-0")
}

func TestConsoleCreateBatchSubmitsMultiple(t *testing.T) {
	srv := &fakeServer{}
	out := runConsole(t, srv, "create batch CheckPrime 3 7\nexit\n")

	assert.Len(t, srv.submitted, 3)
	assert.Contains(t, out, "created 3/3")
}

func TestConsoleStatusReportsQueuesAndWorkers(t *testing.T) {
	srv := &fakeServer{ready: 2, dead: 1, workers: []types.WorkerInfo{{ID: "w1", Status: types.WorkerIdle}}}
	out := runConsole(t, srv, "status\nexit\n")

	assert.Contains(t, out, "ready_queue=2")
	assert.Contains(t, out, "dead_letter=1")
}

func TestConsoleClearDeadLetter(t *testing.T) {
	srv := &fakeServer{dead: 4}
	out := runConsole(t, srv, "clear-deadletter\nexit\n")
	assert.Contains(t, out, "cleared 4")
}

func TestConsoleReprocessDeadLetter(t *testing.T) {
	srv := &fakeServer{dead: 2}
	out := runConsole(t, srv, "reprocess-deadletter\nexit\n")
	assert.Contains(t, out, "reprocessed 2")
}

func TestConsoleUnknownCommand(t *testing.T) {
	srv := &fakeServer{}
	out := runConsole(t, srv, "frobnicate\nexit\n")
	assert.Contains(t, out, "unrecognized command")
}

func TestConsoleExitStopsBeforeEOF(t *testing.T) {
	srv := &fakeServer{}
	out := runConsole(t, srv, "exit\ncreate CheckPrime 7\n")
	assert.Empty(t, srv.submitted, "commands after exit must not run")
	assert.Empty(t, out)
}
