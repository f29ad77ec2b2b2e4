package registry

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRegistry() *Registry {
	return New(zap.NewNop())
}

func TestIDAllocatorStrictlyIncreasing(t *testing.T) {
	alloc := NewIDAllocator()
	last := 0
	for i := 0; i < 100; i++ {
		id := alloc.Next()
		require.Greater(t, id, last)
		last = id
	}
	require.Equal(t, 1, last-99)
}

func TestRegisterInstallsBothTables(t *testing.T) {
	r := testRegistry()
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5555}

	ctl := r.Register(1, "worker-a", addr, 4242)
	require.NotNil(t, ctl)

	info, ok := r.Info(1)
	require.True(t, ok)
	require.Equal(t, "worker-a", info.Name)
	require.Equal(t, "127.0.0.1", info.Host)
	require.Equal(t, 4242, info.ProcessID)

	_, ok = r.Control(1)
	require.True(t, ok)
}

func TestControlStopIsIdempotentAndObservable(t *testing.T) {
	r := testRegistry()
	ctl := r.Register(1, "worker-a", &net.TCPAddr{}, 1)

	require.False(t, ctl.Stopped())
	ctl.Stop()
	ctl.Stop() // must not panic
	require.True(t, ctl.Stopped())
}

func TestControlDoneUnblocksJoiners(t *testing.T) {
	r := testRegistry()
	ctl := r.Register(1, "worker-a", &net.TCPAddr{}, 1)

	require.True(t, ctl.Alive())
	done := make(chan struct{})
	go func() {
		<-ctl.Done()
		close(done)
	}()

	ctl.MarkDone()
	<-done
	require.False(t, ctl.Alive())
}

func TestRemoveDeletesBothTablesAndReportsPriorState(t *testing.T) {
	r := testRegistry()
	r.Register(1, "worker-a", &net.TCPAddr{}, 1)
	r.UpdateCheckout(1, "res-1")

	info, ok := r.Remove(1)
	require.True(t, ok)
	require.Equal(t, "res-1", info.CurrentResourceID)

	_, ok = r.Info(1)
	require.False(t, ok)
	_, ok = r.Control(1)
	require.False(t, ok)

	_, ok = r.Remove(1)
	require.False(t, ok)
}

func TestSnapshotOrderedByIDAndReflectsLiveness(t *testing.T) {
	r := testRegistry()
	ctl1 := r.Register(3, "c", &net.TCPAddr{}, 1)
	r.Register(1, "a", &net.TCPAddr{}, 1)
	r.Register(2, "b", &net.TCPAddr{}, 1)
	ctl1.MarkDone()

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, []int{1, 2, 3}, []int{snap[0].Info.ID, snap[1].Info.ID, snap[2].Info.ID})
	require.True(t, snap[0].Alive)
	require.False(t, snap[2].Alive)
}

func TestClearCurrentResource(t *testing.T) {
	r := testRegistry()
	r.Register(1, "a", &net.TCPAddr{}, 1)
	r.UpdateCheckout(1, "res-1")
	r.ClearCurrentResource(1)

	info, ok := r.Info(1)
	require.True(t, ok)
	require.Empty(t, info.CurrentResourceID)
	require.Equal(t, 1, info.CollectedCount)
}
