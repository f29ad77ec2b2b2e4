package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raphaottoni/camps-dct/internal/dispatch"
	"github.com/raphaottoni/camps-dct/internal/filters"
	"github.com/raphaottoni/camps-dct/internal/persistence/memstore"
	"github.com/raphaottoni/camps-dct/internal/registry"
	"github.com/raphaottoni/camps-dct/internal/wire"
)

func newTestCoordinator() *dispatch.Coordinator {
	store := memstore.New()
	store.Add("a")
	store.Add("b")
	reg := registry.New(zap.NewNop())
	alloc := registry.NewIDAllocator()
	return dispatch.New(store, reg, alloc, filters.Pipeline{}, zap.NewNop(), "127.0.0.1", 0)
}

func TestListenAndServeAcceptsConnectionsAndStopIsIdempotent(t *testing.T) {
	coord := newTestCoordinator()
	srv := New(coord, zap.NewNop())
	coord.SetStopListening(srv.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	var addr net.Addr
	for i := 0; i < 50; i++ {
		if addr = srv.Addr(); addr != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotNil(t, addr, "server never bound a listener")

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)

	ch := wire.NewChannel(conn)
	require.NoError(t, ch.Send(&wire.Envelope{Command: wire.CmdGetLogin, Name: "worker-1", ProcessID: 1}))
	reply, err := ch.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.CmdGiveLogin, reply.Command)

	srv.Stop()
	srv.Stop() // idempotent: must not panic or block

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return after Stop")
	}
}

func TestListenAndServeStopsOnContextCancel(t *testing.T) {
	coord := newTestCoordinator()
	srv := New(coord, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return after context cancellation")
	}
}
