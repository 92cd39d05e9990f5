package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/corymhall/proofsync/debug"
	"github.com/corymhall/proofsync/lsp"
)

var ProgramLevel = new(slog.LevelVar)

// New builds the program logger. An empty filename logs to w.
func New(filename string, w io.Writer) (*slog.Logger, io.Closer, error) {
	out, closer := w, io.Closer(nopCloser{})
	if filename != "" {
		logfile, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o666)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file %s: %w", filename, err)
		}
		out, closer = logfile, logfile
	}
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level:     ProgramLevel,
		AddSource: true,
	})
	return slog.New(handler).With(slog.String("app", "proofsync")), closer, nil
}

// ParseLevel sets ProgramLevel from a name such as "debug" or "trace".
func ParseLevel(name string) error {
	if name == "trace" {
		ProgramLevel.Set(debug.LevelTrace)
		return nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	ProgramLevel.Set(l)
	return nil
}

// LogMessage records a window/logMessage or window/showMessage received from
// the analysis process at the matching level.
func LogMessage(ctx context.Context, params *lsp.LogMessageParams) {
	debug.Logger(ctx).Log(ctx, convertMessageType(params.MessageType), params.Message, slog.String("source", "analysis"))
}

func convertMessageType(mt lsp.MessageType) slog.Level {
	switch mt {
	case lsp.MessageTypeError:
		return slog.LevelError
	case lsp.MessageTypeWarning:
		return slog.LevelWarn
	case lsp.MessageTypeInfo:
		return slog.LevelInfo
	case lsp.MessageTypeDebug:
		return slog.LevelDebug
	default:
		return debug.LevelTrace
	}
}

func convertLevel(level slog.Level) lsp.MessageType {
	switch {
	case level >= slog.LevelError:
		return lsp.MessageTypeError
	case level >= slog.LevelWarn:
		return lsp.MessageTypeWarning
	case level >= slog.LevelInfo:
		return lsp.MessageTypeInfo
	case level >= slog.LevelDebug:
		return lsp.MessageTypeDebug
	default:
		return lsp.MessageTypeLog
	}
}

// MessageType returns the LSP message type the program level maps to; the
// bridge advertises it as the trace setting of the analysis process.
func MessageType() lsp.MessageType {
	return convertLevel(ProgramLevel.Level())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
