// Command campsworker is a reference client for the dispatch protocol: it
// logs in, loops GET_ID/DONE_ID until FINISH or KILL, and exits. It exists
// to exercise the wire protocol end to end and as a template for real
// clients.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raphaottoni/camps-dct/internal/wire"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var serverAddr, name string
	var verbose bool

	root := &cobra.Command{
		Use:   "campsworker",
		Short: "campsworker — reference client for the campsd dispatch protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(verbose)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck
			return run(serverAddr, name, logger)
		},
	}

	root.PersistentFlags().StringVar(&serverAddr, "server-addr", envOrDefault("CAMPSWORKER_SERVER", "127.0.0.1:9000"), "campsd dispatch address (host:port)")
	root.PersistentFlags().StringVar(&name, "name", envOrDefault("CAMPSWORKER_NAME", defaultName()), "client name reported at GET_LOGIN")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "log every request/reply")

	return root
}

func run(serverAddr, name string, logger *zap.Logger) error {
	conn, err := net.Dial("tcp", serverAddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", serverAddr, err)
	}
	defer conn.Close()

	channel := wire.NewChannel(conn)
	processID := os.Getpid()

	if err := channel.Send(&wire.Envelope{Command: wire.CmdGetLogin, Name: name, ProcessID: processID}); err != nil {
		return fmt.Errorf("send GET_LOGIN: %w", err)
	}
	loginReply, err := channel.Recv()
	if err != nil {
		return fmt.Errorf("recv GIVE_LOGIN: %w", err)
	}
	if loginReply.Command != wire.CmdGiveLogin {
		return fmt.Errorf("unexpected reply to GET_LOGIN: %s", loginReply.Command)
	}
	clientID := loginReply.ClientID
	logger.Info("logged in", zap.Int("client_id", clientID), zap.String("name", name))

	collected := 0
	for {
		if err := channel.Send(&wire.Envelope{Command: wire.CmdGetID}); err != nil {
			return fmt.Errorf("send GET_ID: %w", err)
		}
		reply, err := channel.Recv()
		if err != nil {
			return fmt.Errorf("recv reply to GET_ID: %w", err)
		}

		switch reply.Command {
		case wire.CmdGiveID:
			logger.Info("received resource",
				zap.String("resource_id", reply.ResourceID),
				zap.String("response_code", reply.ResponseCode),
				zap.Int("filter_results", len(reply.Filters)),
			)

			// Simulate work: echo the response code back as the outcome.
			if err := channel.Send(&wire.Envelope{
				Command:      wire.CmdDoneID,
				ResourceID:   reply.ResourceID,
				ResponseCode: reply.ResponseCode,
				Annotation:   reply.Annotation,
			}); err != nil {
				return fmt.Errorf("send DONE_ID: %w", err)
			}
			ack, err := channel.Recv()
			if err != nil {
				return fmt.Errorf("recv DID_OK: %w", err)
			}
			if ack.Command != wire.CmdDIDOk {
				return fmt.Errorf("unexpected reply to DONE_ID: %s", ack.Command)
			}
			collected++

		case wire.CmdFinish:
			logger.Info("no more work, exiting", zap.Int("collected", collected))
			return nil

		case wire.CmdKill:
			logger.Info("removed by admin, exiting", zap.Int("collected", collected))
			return nil

		default:
			return fmt.Errorf("unexpected reply to GET_ID: %s", reply.Command)
		}
	}
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func defaultName() string {
	host, err := os.Hostname()
	if err != nil {
		return fmt.Sprintf("worker-%d-%d", os.Getpid(), time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
