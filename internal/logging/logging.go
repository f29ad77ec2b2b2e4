// Package logging builds the process-wide *zap.Logger, threaded through
// every component via constructor injection rather than a package global.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls which cores Build wires up, mirroring the
// server.logging / server.verbose flags.
type Options struct {
	// Verbose mirrors log output to stdout at debug level.
	Verbose bool
	// LogFile enables a file core at server[<host><port>].log, an optional
	// log file. Empty disables the file core regardless of LogFile.
	LogFile string
}

// Build assembles a *zap.Logger from zero or more cores depending on opts.
// At least a stdout core is always present at info level so startup/shutdown
// events are never silently dropped; Verbose lowers that core to debug.
func Build(opts Options) (*zap.Logger, error) {
	consoleLevel := zapcore.InfoLevel
	if opts.Verbose {
		consoleLevel = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("02/01/2006 15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), consoleLevel),
	}

	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file %s: %w", opts.LogFile, err)
		}
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.AddSync(f), zapcore.DebugLevel))
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core, zap.AddCaller()), nil
}

// LogFileName builds the log file name server[<host><port>].log for the
// given bind address.
func LogFileName(host string, port int) string {
	return fmt.Sprintf("server[%s%d].log", host, port)
}
