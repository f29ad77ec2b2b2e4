package dispatch

import (
	"context"
	"errors"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/raphaottoni/camps-dct/internal/filters"
	"github.com/raphaottoni/camps-dct/internal/registry"
	"github.com/raphaottoni/camps-dct/internal/wire"
)

// Channel is the subset of *wire.Channel the dispatcher needs; tests pass a
// *wire.Channel over one end of a net.Pipe.
type Channel interface {
	Recv() (*wire.Envelope, error)
	Send(*wire.Envelope) error
	RemoteAddr() net.Addr
	Close() error
}

// Dispatcher is the per-connection state machine. Local
// state — clientID and the registry Control it was issued — lives only in
// this goroutine; every other piece of shared state is reached through the
// Coordinator.
type Dispatcher struct {
	coordinator *Coordinator
	channel     Channel
	logger      *zap.Logger

	clientID int
	control  *registry.Control
}

// NewDispatcher returns a Dispatcher ready to Serve one connection.
func NewDispatcher(c *Coordinator, ch Channel, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{coordinator: c, channel: ch, logger: logger}
}

// Serve runs the connection loop until peer close, a protocol violation, a
// backend/filter failure, or a terminal reply (FINISH/KILL/RM_OK/RM_ERROR/
// SD_OK/GIVE_STATUS). It always closes the channel and detaches any
// registry Control it was issued on the way out.
func (d *Dispatcher) Serve(ctx context.Context) {
	defer func() {
		d.coordinator.Detach(d.control)
		_ = d.channel.Close()
	}()

	for {
		msg, err := d.channel.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			d.logger.Warn("recv error, ending connection", zap.Error(err))
			return
		}

		done := d.handle(ctx, msg)
		if done {
			return
		}
	}
}

// handle processes one request and reports whether the connection loop
// should end after it.
func (d *Dispatcher) handle(ctx context.Context, msg *wire.Envelope) bool {
	switch msg.Command {
	case wire.CmdGetLogin:
		return d.handleGetLogin(msg)
	case wire.CmdGetID:
		return d.handleGetID(ctx)
	case wire.CmdDoneID:
		return d.handleDoneID(ctx, msg)
	case wire.CmdGetStatus:
		return d.handleGetStatus()
	case wire.CmdRMClient:
		return d.handleRMClient(ctx, msg)
	case wire.CmdShutdown:
		return d.handleShutdown(ctx)
	default:
		d.logger.Warn("protocol violation: unknown command", zap.String("command", msg.Command))
		return true
	}
}

func (d *Dispatcher) handleGetLogin(msg *wire.Envelope) bool {
	if d.clientID != 0 {
		d.logger.Warn("protocol violation: duplicate GET_LOGIN")
		return true
	}
	id, ctl := d.coordinator.Login(d.channel.RemoteAddr(), msg.Name, msg.ProcessID)
	d.clientID, d.control = id, ctl
	d.logger = d.logger.With(zap.Int("client_id", id), zap.String("client_name", msg.Name))

	if err := d.channel.Send(&wire.Envelope{Command: wire.CmdGiveLogin, ClientID: id}); err != nil {
		d.logger.Warn("send failed after GET_LOGIN", zap.Error(err))
		return true
	}
	return false
}

func (d *Dispatcher) handleGetID(ctx context.Context) bool {
	if d.clientID == 0 {
		d.logger.Warn("protocol violation: GET_ID before GET_LOGIN")
		return true
	}

	if d.control.Stopped() {
		if err := d.channel.Send(&wire.Envelope{Command: wire.CmdKill}); err != nil {
			d.logger.Warn("send failed delivering KILL", zap.Error(err))
		}
		d.coordinator.Kill(d.clientID)
		return true
	}

	resourceID, responseCode, annotation, ok, err := d.coordinator.Checkout(ctx, d.clientID)
	if err != nil {
		d.logger.Error("backend failure during checkout", zap.Error(err))
		return true
	}
	if !ok {
		if sendErr := d.channel.Send(&wire.Envelope{Command: wire.CmdFinish}); sendErr != nil {
			d.logger.Warn("send failed delivering FINISH", zap.Error(sendErr))
		}
		d.coordinator.Finish(ctx, d.clientID)
		return true
	}

	results, err := filters.Run(ctx, d.coordinator.Pipeline, resourceID, responseCode, annotation)
	if err != nil {
		d.logger.Error("filter pipeline failure", zap.String("resource_id", resourceID), zap.Error(err))
		return true
	}

	reply := &wire.Envelope{
		Command:      wire.CmdGiveID,
		ResourceID:   resourceID,
		ResponseCode: responseCode,
		Annotation:   annotation,
		Filters:      results,
	}
	if err := d.channel.Send(reply); err != nil {
		d.logger.Warn("send failed delivering GIVE_ID", zap.Error(err))
		return true
	}
	return false
}

func (d *Dispatcher) handleDoneID(ctx context.Context, msg *wire.Envelope) bool {
	if d.clientID == 0 || msg.ResourceID == "" {
		d.logger.Warn("protocol violation: malformed DONE_ID")
		return true
	}
	if err := d.coordinator.Done(ctx, d.clientID, msg.ResourceID, msg.ResponseCode, msg.Annotation); err != nil {
		d.logger.Error("backend failure during DONE_ID", zap.String("resource_id", msg.ResourceID), zap.Error(err))
		return true
	}
	if err := d.channel.Send(&wire.Envelope{Command: wire.CmdDIDOk}); err != nil {
		d.logger.Warn("send failed delivering DID_OK", zap.Error(err))
		return true
	}
	return false
}

func (d *Dispatcher) handleGetStatus() bool {
	status := d.coordinator.Status()
	if err := d.channel.Send(&wire.Envelope{Command: wire.CmdGiveStatus, Status: status}); err != nil {
		d.logger.Warn("send failed delivering GIVE_STATUS", zap.Error(err))
	}
	return true
}

func (d *Dispatcher) handleRMClient(ctx context.Context, msg *wire.Envelope) bool {
	if err := d.coordinator.RMClient(ctx, msg.ClientID); err != nil {
		if !errors.Is(err, registry.ErrUnknownClient) {
			d.logger.Error("backend failure during RM_CLIENT", zap.Int("target_id", msg.ClientID), zap.Error(err))
		}
		_ = d.channel.Send(&wire.Envelope{Command: wire.CmdRMError, Reason: err.Error()})
		return true
	}
	if err := d.channel.Send(&wire.Envelope{Command: wire.CmdRMOk}); err != nil {
		d.logger.Warn("send failed delivering RM_OK", zap.Error(err))
	}
	return true
}

func (d *Dispatcher) handleShutdown(ctx context.Context) bool {
	if err := d.coordinator.Shutdown(ctx); err != nil {
		d.logger.Error("shutdown reported reclaim errors", zap.Error(err))
	}
	if err := d.channel.Send(&wire.Envelope{Command: wire.CmdSDOk}); err != nil {
		d.logger.Warn("send failed delivering SD_OK", zap.Error(err))
	}
	return true
}
