// Package dispatch implements the request dispatcher state machine and the
// admin-lifecycle operations it drives: GET_LOGIN, GET_ID, DONE_ID,
// GET_STATUS, RM_CLIENT, and SHUTDOWN. One Coordinator is shared
// process-wide; one Dispatcher runs per connection.
package dispatch

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/raphaottoni/camps-dct/internal/filters"
	"github.com/raphaottoni/camps-dct/internal/persistence"
	"github.com/raphaottoni/camps-dct/internal/registry"
)

// Coordinator holds every piece of process-wide mutable state the
// dispatcher needs, as a single owner value passed to each dispatcher with
// internal locks, rather than as package-level globals.
type Coordinator struct {
	Store     persistence.Store
	Registry  *registry.Registry
	Allocator *registry.IDAllocator
	Pipeline  filters.Pipeline
	Logger    *zap.Logger

	// Host/Port/PID identify this coordinator process in the GET_STATUS
	// header.
	Host string
	Port int
	PID  int

	// selectionMu serializes selectResource + mark-INPROGRESS.
	selectionMu sync.Mutex

	// clientsWG tracks every *logged-in* connection — admin one-shot
	// connections (GET_STATUS/RM_CLIENT/SHUTDOWN) never call GET_LOGIN and
	// so are never counted, which is what lets SHUTDOWN's own connection
	// wait on this WaitGroup without waiting on itself.
	clientsWG sync.WaitGroup

	shutdownOnce  sync.Once
	shutdownErr   error
	stopListening func()
}

// New constructs a Coordinator. Call SetStopListening before serving any
// connections — SHUTDOWN is a no-op on the listener until it is set.
func New(store persistence.Store, reg *registry.Registry, alloc *registry.IDAllocator, pipeline filters.Pipeline, logger *zap.Logger, host string, port int) *Coordinator {
	return &Coordinator{
		Store:     store,
		Registry:  reg,
		Allocator: alloc,
		Pipeline:  pipeline,
		Logger:    logger.Named("dispatch"),
		Host:      host,
		Port:      port,
		PID:       os.Getpid(),
	}
}

// SetStopListening installs the callback SHUTDOWN invokes once every
// logged-in client has drained. Idempotent on the caller's part — the
// listener's own Stop should tolerate repeated calls.
func (c *Coordinator) SetStopListening(fn func()) {
	c.stopListening = fn
}

// Login allocates a client-id and installs it in the registry as part of
// GET_LOGIN. The returned Control must be Detach-ed exactly once, by the
// dispatcher handling this connection, when its loop ends.
func (c *Coordinator) Login(addr net.Addr, name string, processID int) (int, *registry.Control) {
	id := c.Allocator.Next()
	ctl := c.Registry.Register(id, name, addr, processID)
	c.clientsWG.Add(1)
	return id, ctl
}

// Detach marks a logged-in client's worker as no longer running. Safe to
// call with a nil ctl (a connection that never completed GET_LOGIN).
func (c *Coordinator) Detach(ctl *registry.Control) {
	if ctl == nil {
		return
	}
	ctl.MarkDone()
	c.clientsWG.Done()
}

// Checkout runs the GET_ID happy path: select-then-mark-INPROGRESS under
// the selection lock, then record the handout in the registry. ok=false
// means no more work will ever be available.
func (c *Coordinator) Checkout(ctx context.Context, clientID int) (resourceID, responseCode, annotation string, ok bool, err error) {
	clientName := ""
	if info, found := c.Registry.Info(clientID); found {
		clientName = info.Name
	}

	c.selectionMu.Lock()
	cand, found, err := c.Store.SelectResource(ctx)
	if err != nil {
		c.selectionMu.Unlock()
		return "", "", "", false, err
	}
	if !found {
		c.selectionMu.Unlock()
		return "", "", "", false, nil
	}
	err = c.Store.UpdateResource(ctx, cand.ID, persistence.InProgress, cand.ResponseCode, cand.Annotation, clientName)
	c.selectionMu.Unlock()
	if err != nil {
		return "", "", "", false, err
	}

	c.Registry.UpdateCheckout(clientID, cand.ID)
	return cand.ID, cand.ResponseCode, cand.Annotation, true, nil
}

// Done records a DONE_ID: the resource transitions INPROGRESS -> SUCCEEDED
// carrying the client's response code and annotation.
func (c *Coordinator) Done(ctx context.Context, clientID int, resourceID, responseCode, annotation string) error {
	clientName := ""
	if info, found := c.Registry.Info(clientID); found {
		clientName = info.Name
	}
	if err := c.Store.UpdateResource(ctx, resourceID, persistence.Succeeded, responseCode, annotation, clientName); err != nil {
		return err
	}
	c.Registry.ClearCurrentResource(clientID)
	return nil
}

// Finish handles the "no work left" branch of GET_ID: the client's info
// entry is deleted and, if the registry is now empty, shutdown begins.
func (c *Coordinator) Finish(ctx context.Context, clientID int) {
	c.Registry.Remove(clientID)
	c.triggerShutdownIfEmpty(ctx)
}

// Kill handles the stop-signaled branch of GET_ID: the client's info entry
// is deleted; no shutdown trigger fires from this path (only FINISH and
// RM_CLIENT do — see DESIGN.md).
func (c *Coordinator) Kill(clientID int) {
	c.Registry.Remove(clientID)
}

// RMClient implements admin removal (RM_CLIENT). A target id the registry
// has no record of is reported via an error wrapping registry.ErrUnknownClient
// (errors.Is-checkable), not a backend error.
func (c *Coordinator) RMClient(ctx context.Context, targetID int) error {
	ctl, found := c.Registry.Control(targetID)
	if !found {
		return fmt.Errorf("%w: client %d", registry.ErrUnknownClient, targetID)
	}

	if ctl.Alive() {
		// Do not touch current-resource-id: the target's own GET_ID path
		// discovers the stop signal and tears itself down.
		ctl.Stop()
		<-ctl.Done()
	} else if info, found := c.Registry.Info(targetID); found && info.CurrentResourceID != "" {
		if rerr := c.Store.UpdateResource(ctx, info.CurrentResourceID, persistence.Available, "", "", info.Name); rerr != nil {
			return rerr
		}
	}

	c.Registry.Remove(targetID)
	c.triggerShutdownIfEmpty(ctx)
	return nil
}

// Shutdown runs the admin SHUTDOWN sequence synchronously: every live
// client is stop-signaled, every already-dead client's in-flight resource
// is reclaimed, then it waits for the live clients to drain before halting
// the listener. Safe to call more than once — only the first call does
// anything, so two workers racing to shut down concurrently is harmless.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.shutdownErr = c.doShutdown(ctx)
	})
	return c.shutdownErr
}

func (c *Coordinator) doShutdown(ctx context.Context) error {
	var errs error
	for _, entry := range c.Registry.Snapshot() {
		if entry.Alive {
			if ctl, found := c.Registry.Control(entry.Info.ID); found {
				ctl.Stop()
			}
			continue
		}
		if entry.Info.CurrentResourceID != "" {
			if err := c.Store.UpdateResource(ctx, entry.Info.CurrentResourceID, persistence.Available, "", "", entry.Info.Name); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("reclaim client %d: %w", entry.Info.ID, err))
			}
		}
		c.Registry.Remove(entry.Info.ID)
	}

	c.clientsWG.Wait()

	if c.stopListening != nil {
		c.stopListening()
	}

	c.Logger.Info("coordinator shut down", zap.Error(errs))
	return errs
}

// triggerShutdownIfEmpty fires Shutdown in the background the first time
// the registry becomes empty, regardless of which goroutine observes it.
// It must run asynchronously: the caller is very likely the very
// connection whose removal just emptied the registry, and Shutdown blocks
// on clientsWG — which that connection has not yet Detach-ed from.
func (c *Coordinator) triggerShutdownIfEmpty(ctx context.Context) {
	if c.Registry.Len() != 0 {
		return
	}
	go func() {
		if err := c.Shutdown(ctx); err != nil {
			c.Logger.Error("shutdown after drain failed", zap.Error(err))
		}
	}()
}
