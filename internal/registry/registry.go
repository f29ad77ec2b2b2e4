// Package registry is the process-wide client registry and id allocator.
// It is deliberately not a package-level global — callers construct one
// *Registry (and one *IDAllocator) at startup and pass it down to whatever
// needs it.
package registry

import (
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnknownClient is returned when a lookup or admin operation names a
// client-id the registry has no record of.
var ErrUnknownClient = errors.New("registry: unknown client")

// Info is a connected client's record. Fields mutate only on the worker
// serving that client, except that RM_CLIENT/SHUTDOWN may read it to
// decide whether/what to reclaim.
type Info struct {
	ID                int
	Name              string
	Host              string
	Port              int
	ProcessID         int
	CurrentResourceID string // empty between a DONE and the next GET_ID
	CollectedCount    int
	StartTime         time.Time
	LastUpdateTime    time.Time
}

// Control is a per-client control handle: a liveness marker and a one-shot
// stop signal, in place of a busy-wait. Done is closed by the dispatcher's
// own goroutine when its loop ends (the "join" point RM_CLIENT / SHUTDOWN
// block on), and Stop is safe to call any number of times from any
// goroutine.
type Control struct {
	stopOnce sync.Once
	stopCh   chan struct{}

	doneOnce sync.Once
	doneCh   chan struct{}
}

func newControl() *Control {
	return &Control{
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Stop sets the stop signal. Idempotent.
func (c *Control) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Stopped reports whether Stop has been called.
func (c *Control) Stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// MarkDone closes the liveness channel. Called exactly once, by the
// dispatcher goroutine itself, on every exit path from its connection loop.
func (c *Control) MarkDone() {
	c.doneOnce.Do(func() { close(c.doneCh) })
}

// Alive reports whether the worker serving this client is still running.
func (c *Control) Alive() bool {
	select {
	case <-c.doneCh:
		return false
	default:
		return true
	}
}

// Done returns a channel closed once the worker's connection loop has
// exited — RM_CLIENT joins on this instead of busy-waiting on Alive.
func (c *Control) Done() <-chan struct{} {
	return c.doneCh
}

// Registry holds the two process-wide tables: the info table and the
// control table, both keyed by client-id, under a single reader-writer
// lock.
type Registry struct {
	mu      sync.RWMutex
	info    map[int]*Info
	control map[int]*Control
	logger  *zap.Logger
}

// New returns an empty Registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		info:    make(map[int]*Info),
		control: make(map[int]*Control),
		logger:  logger.Named("registry"),
	}
}

// Register installs a new client record and control handle atomically,
// as part of GET_LOGIN.
func (r *Registry) Register(id int, name string, addr net.Addr, processID int) *Control {
	host, port := splitAddr(addr)

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.info[id] = &Info{
		ID:             id,
		Name:           name,
		Host:           host,
		Port:           port,
		ProcessID:      processID,
		StartTime:      now,
		LastUpdateTime: now,
	}
	ctl := newControl()
	r.control[id] = ctl

	r.logger.Info("client registered",
		zap.Int("client_id", id),
		zap.String("name", name),
		zap.String("host", host),
		zap.Int("port", port),
	)
	return ctl
}

// Control returns the control handle for id.
func (r *Registry) Control(id int) (*Control, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctl, ok := r.control[id]
	return ctl, ok
}

// Info returns a copy of the info record for id.
func (r *Registry) Info(id int) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.info[id]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// UpdateCheckout records a successful handout: sets CurrentResourceID,
// bumps CollectedCount, and refreshes LastUpdateTime, as part of GET_ID.
func (r *Registry) UpdateCheckout(id int, resourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.info[id]
	if !ok {
		return
	}
	info.CurrentResourceID = resourceID
	info.CollectedCount++
	info.LastUpdateTime = time.Now()
}

// ClearCurrentResource clears CurrentResourceID after a DONE_ID, per spec
// §3 ("nil between a DONE and the next GET_ID").
func (r *Registry) ClearCurrentResource(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.info[id]; ok {
		info.CurrentResourceID = ""
	}
}

// Remove deletes both the info and control entries for id and reports
// whether it existed, returning the last-known info for reclaim purposes.
func (r *Registry) Remove(id int) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.info[id]
	if !ok {
		return Info{}, false
	}
	delete(r.info, id)
	delete(r.control, id)

	r.logger.Info("client removed", zap.Int("client_id", id))
	return *info, true
}

// Len reports the number of clients currently tracked in the info table.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.info)
}

// Snapshot returns every info record and whether its worker is alive,
// ordered by ascending client-id, for the GET_STATUS report and for
// SHUTDOWN's sweep over live/dead clients. The snapshot is taken under the
// read lock but the slice itself is safe to range over after release.
func (r *Registry) Snapshot() []SnapshotEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]SnapshotEntry, 0, len(r.info))
	for id, info := range r.info {
		ctl := r.control[id]
		entries = append(entries, SnapshotEntry{Info: *info, Alive: ctl == nil || ctl.Alive()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Info.ID < entries[j].Info.ID })
	return entries
}

// SnapshotEntry pairs an Info with its control handle's liveness at the
// moment of the snapshot.
type SnapshotEntry struct {
	Info  Info
	Alive bool
}

func splitAddr(addr net.Addr) (string, int) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port := 0
	for _, c := range portStr {
		if c < '0' || c > '9' {
			port = 0
			break
		}
		port = port*10 + int(c-'0')
	}
	return host, port
}
