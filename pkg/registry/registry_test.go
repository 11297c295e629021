package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/dispatchd/pkg/types"
)

type fakeHandle struct {
	id           string
	idle         bool
	capabilities map[types.Kind]bool
}

func (f *fakeHandle) ID() string { return f.id }
func (f *fakeHandle) Info() types.WorkerInfo {
	return types.WorkerInfo{ID: f.id}
}
func (f *fakeHandle) CanHandle(kind types.Kind) bool { return f.capabilities[kind] }
func (f *fakeHandle) IsIdle() bool                   { return f.idle }
func (f *fakeHandle) SendTask(*types.Task) error     { return nil }

func newFake(id string, idle bool, kinds ...types.Kind) *fakeHandle {
	caps := make(map[types.Kind]bool, len(kinds))
	for _, k := range kinds {
		caps[k] = true
	}
	return &fakeHandle{id: id, idle: idle, capabilities: caps}
}

func TestAddGetRemove(t *testing.T) {
	r := New()
	h := newFake("w1", true, types.KindCheckPrime)
	r.Add(h)

	got, ok := r.Get("w1")
	require.True(t, ok)
	assert.Equal(t, "w1", got.ID())

	r.Remove("w1")
	_, ok = r.Get("w1")
	assert.False(t, ok)
}

func TestFindIdleForRequiresBothIdleAndCapable(t *testing.T) {
	r := New()
	r.Add(newFake("busy-capable", false, types.KindCheckPrime))
	r.Add(newFake("idle-incapable", true, types.KindHashText))
	r.Add(newFake("idle-capable", true, types.KindCheckPrime))

	h, ok := r.FindIdleFor(types.KindCheckPrime)
	require.True(t, ok)
	assert.Equal(t, "idle-capable", h.ID())
}

func TestFindIdleForNoMatch(t *testing.T) {
	r := New()
	r.Add(newFake("w1", true, types.KindHashText))

	_, ok := r.FindIdleFor(types.KindCheckPrime)
	assert.False(t, ok)
}

func TestAnyClaimsIgnoresBusyStatus(t *testing.T) {
	r := New()
	r.Add(newFake("w1", false, types.KindCheckPrime))

	assert.True(t, r.AnyClaims(types.KindCheckPrime))
	assert.False(t, r.AnyClaims(types.KindHashText))
}

func TestSnapshotToleratesConcurrentMutation(t *testing.T) {
	r := New()
	for i := 0; i < 50; i++ {
		r.Add(newFake(string(rune('a'+i%26))+"-worker", true, types.KindCheckPrime))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			r.Remove(string(rune('a'+i%26)) + "-worker")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = r.Snapshot()
			_ = r.Count()
		}
	}()
	wg.Wait()
}
