package dispatch

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raphaottoni/camps-dct/internal/filters"
	"github.com/raphaottoni/camps-dct/internal/persistence"
	"github.com/raphaottoni/camps-dct/internal/registry"
	"github.com/raphaottoni/camps-dct/internal/wire"
)

// fakeStore is a minimal, goroutine-safe persistence.Store for dispatcher
// tests that does not need gormstore/memstore's full behavior.
type fakeStore struct {
	mu        sync.Mutex
	resources map[string]persistence.Status
	responses map[string]string
	collected int
}

func newFakeStore(ids ...string) *fakeStore {
	s := &fakeStore{resources: map[string]persistence.Status{}, responses: map[string]string{}}
	for _, id := range ids {
		s.resources[id] = persistence.Available
	}
	return s
}

func (s *fakeStore) SelectResource(context.Context) (persistence.Candidate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, status := range s.resources {
		if status == persistence.Available {
			return persistence.Candidate{ID: id}, true, nil
		}
	}
	return persistence.Candidate{}, false, nil
}

func (s *fakeStore) UpdateResource(_ context.Context, id string, status persistence.Status, responseCode, annotation, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasSucceeded := s.resources[id] == persistence.Succeeded
	s.resources[id] = status
	s.responses[id] = responseCode
	if status == persistence.Succeeded && !wasSucceeded {
		s.collected++
	}
	return nil
}

func (s *fakeStore) TotalResourcesCount(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.resources)), nil
}

func (s *fakeStore) ResourcesCollectedCount(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(s.collected), nil
}

func (s *fakeStore) status(id string) persistence.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources[id]
}

// testHarness wires a Coordinator to an in-memory listener substitute: each
// dial creates a net.Pipe pair and serves one end with a Dispatcher, so tests
// can exercise the real wire.Channel framing without opening a TCP socket.
type testHarness struct {
	coordinator *Coordinator
	store       *fakeStore
	stopped     chan struct{}
	stopOnce    sync.Once
}

func newHarness(store *fakeStore) *testHarness {
	reg := registry.New(zap.NewNop())
	alloc := registry.NewIDAllocator()
	coord := New(store, reg, alloc, filters.Pipeline{}, zap.NewNop(), "127.0.0.1", 9000)

	h := &testHarness{coordinator: coord, store: store, stopped: make(chan struct{})}
	coord.SetStopListening(func() {
		h.stopOnce.Do(func() { close(h.stopped) })
	})
	return h
}

// dial returns a client-side *wire.Channel connected to a freshly spawned
// Dispatcher goroutine serving the other end.
func (h *testHarness) dial(t *testing.T) *wire.Channel {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	d := NewDispatcher(h.coordinator, wire.NewChannel(serverConn), zap.NewNop())
	go d.Serve(context.Background())
	return wire.NewChannel(clientConn)
}

func login(t *testing.T, ch *wire.Channel, name string, pid int) int {
	t.Helper()
	require.NoError(t, ch.Send(&wire.Envelope{Command: wire.CmdGetLogin, Name: name, ProcessID: pid}))
	reply, err := ch.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.CmdGiveLogin, reply.Command)
	return reply.ClientID
}

func TestGetLoginIDsStrictlyIncreasing(t *testing.T) {
	h := newHarness(newFakeStore("a", "b", "c"))

	ch1 := h.dial(t)
	id1 := login(t, ch1, "worker-1", 100)

	ch2 := h.dial(t)
	id2 := login(t, ch2, "worker-2", 200)

	require.Equal(t, 1, id1)
	require.Equal(t, 2, id2)
}

func TestHappyPathLoginGetIDDoneFinish(t *testing.T) {
	store := newFakeStore("a", "b")
	h := newHarness(store)
	ch := h.dial(t)
	login(t, ch, "worker-1", 1)

	require.NoError(t, ch.Send(&wire.Envelope{Command: wire.CmdGetID}))
	first, err := ch.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.CmdGiveID, first.Command)

	require.NoError(t, ch.Send(&wire.Envelope{Command: wire.CmdDoneID, ResourceID: first.ResourceID, ResponseCode: "200", Annotation: "ok"}))
	ack, err := ch.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.CmdDIDOk, ack.Command)
	require.Equal(t, persistence.Succeeded, store.status(first.ResourceID))

	require.NoError(t, ch.Send(&wire.Envelope{Command: wire.CmdGetID}))
	second, err := ch.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.CmdGiveID, second.Command)
	require.NotEqual(t, first.ResourceID, second.ResourceID)

	require.NoError(t, ch.Send(&wire.Envelope{Command: wire.CmdDoneID, ResourceID: second.ResourceID, ResponseCode: "200", Annotation: "ok"}))
	_, err = ch.Recv()
	require.NoError(t, err)

	require.NoError(t, ch.Send(&wire.Envelope{Command: wire.CmdGetID}))
	third, err := ch.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.CmdFinish, third.Command)

	select {
	case <-h.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("expected auto-shutdown after registry drained to empty")
	}
}

func TestConcurrentGetIDHandsOutExactlyOnce(t *testing.T) {
	h := newHarness(newFakeStore("a"))
	ch1 := h.dial(t)
	login(t, ch1, "worker-1", 1)
	ch2 := h.dial(t)
	login(t, ch2, "worker-2", 2)

	type result struct {
		cmd string
		rid string
	}
	results := make(chan result, 2)
	for _, ch := range []*wire.Channel{ch1, ch2} {
		ch := ch
		go func() {
			require.NoError(t, ch.Send(&wire.Envelope{Command: wire.CmdGetID}))
			reply, err := ch.Recv()
			require.NoError(t, err)
			results <- result{cmd: reply.Command, rid: reply.ResourceID}
		}()
	}

	r1 := <-results
	r2 := <-results

	gotIDs := 0
	for _, r := range []result{r1, r2} {
		if r.cmd == wire.CmdGiveID {
			gotIDs++
			require.Equal(t, "a", r.rid)
		} else {
			require.Equal(t, wire.CmdFinish, r.cmd)
		}
	}
	require.Equal(t, 1, gotIDs)
}

func TestRMClientLiveWorkerKillsOnNextGetID(t *testing.T) {
	h := newHarness(newFakeStore("a", "b"))
	ch := h.dial(t)
	id := login(t, ch, "worker-1", 1)

	admin := h.dial(t)
	require.NoError(t, admin.Send(&wire.Envelope{Command: wire.CmdRMClient, ClientID: id}))

	// RM_CLIENT blocks until the target observes the stop signal, so drive
	// the target's next GET_ID concurrently.
	killDone := make(chan *wire.Envelope, 1)
	go func() {
		require.NoError(t, ch.Send(&wire.Envelope{Command: wire.CmdGetID}))
		reply, err := ch.Recv()
		require.NoError(t, err)
		killDone <- reply
	}()

	reply := <-killDone
	require.Equal(t, wire.CmdKill, reply.Command)

	rmReply, err := admin.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.CmdRMOk, rmReply.Command)

	_, found := h.coordinator.Registry.Info(id)
	require.False(t, found)
}

func TestRMClientDeadWorkerReclaimsResource(t *testing.T) {
	store := newFakeStore("a")
	h := newHarness(store)
	ch := h.dial(t)
	id := login(t, ch, "worker-1", 1)

	require.NoError(t, ch.Send(&wire.Envelope{Command: wire.CmdGetID}))
	reply, err := ch.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.CmdGiveID, reply.Command)
	require.Equal(t, persistence.InProgress, store.status(reply.ResourceID))

	// Simulate the worker dying without a graceful teardown.
	ctl, found := h.coordinator.Registry.Control(id)
	require.True(t, found)
	ctl.MarkDone()

	admin := h.dial(t)
	require.NoError(t, admin.Send(&wire.Envelope{Command: wire.CmdRMClient, ClientID: id}))
	rmReply, err := admin.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.CmdRMOk, rmReply.Command)

	require.Equal(t, persistence.Available, store.status(reply.ResourceID))
	_, found = h.coordinator.Registry.Info(id)
	require.False(t, found)
}

func TestRMClientUnknownReturnsError(t *testing.T) {
	h := newHarness(newFakeStore("a"))
	admin := h.dial(t)
	require.NoError(t, admin.Send(&wire.Envelope{Command: wire.CmdRMClient, ClientID: 99}))
	reply, err := admin.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.CmdRMError, reply.Command)
}

func TestGetStatusReportsConnectedClients(t *testing.T) {
	h := newHarness(newFakeStore("a", "b"))
	ch1 := h.dial(t)
	login(t, ch1, "worker-1", 1)
	ch2 := h.dial(t)
	login(t, ch2, "worker-2", 2)

	admin := h.dial(t)
	require.NoError(t, admin.Send(&wire.Envelope{Command: wire.CmdGetStatus}))
	reply, err := admin.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.CmdGiveStatus, reply.Command)
	require.Contains(t, reply.Status, "#1")
	require.Contains(t, reply.Status, "#2")
	require.Contains(t, reply.Status, "collected")
}

func TestShutdownWithMixedLivenessReclaimsDeadAndStopsListener(t *testing.T) {
	store := newFakeStore("a", "b")
	h := newHarness(store)

	aliveCh := h.dial(t)
	login(t, aliveCh, "worker-alive", 1)

	deadCh := h.dial(t)
	deadID := login(t, deadCh, "worker-dead", 2)
	require.NoError(t, deadCh.Send(&wire.Envelope{Command: wire.CmdGetID}))
	heldReply, err := deadCh.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.CmdGiveID, heldReply.Command)

	ctl, found := h.coordinator.Registry.Control(deadID)
	require.True(t, found)
	ctl.MarkDone()
	// A dead worker's connection loop has ended too; close it so its
	// dispatcher detaches and SHUTDOWN's drain does not wait on it.
	require.NoError(t, deadCh.Close())

	admin := h.dial(t)
	shutdownAck := make(chan *wire.Envelope, 1)
	go func() {
		require.NoError(t, admin.Send(&wire.Envelope{Command: wire.CmdShutdown}))
		reply, err := admin.Recv()
		require.NoError(t, err)
		shutdownAck <- reply
	}()

	// The alive worker only notices the stop signal at its next GET_ID.
	require.NoError(t, aliveCh.Send(&wire.Envelope{Command: wire.CmdGetID}))
	aliveReply, err := aliveCh.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.CmdKill, aliveReply.Command)

	reply := <-shutdownAck
	require.Equal(t, wire.CmdSDOk, reply.Command)
	require.Equal(t, persistence.Available, store.status(heldReply.ResourceID))

	select {
	case <-h.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("expected listener to be stopped after SHUTDOWN")
	}
}
