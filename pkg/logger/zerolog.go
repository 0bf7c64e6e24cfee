package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	permission = 0664
)

// ZerologHandler adapts a zerolog.Logger to Logger.
type ZerologHandler struct {
	logger zerolog.Logger
}

func NewZerolog(l zerolog.Logger) *ZerologHandler {
	return &ZerologHandler{logger: l}
}

// NewZerologWriter builds a timestamped zerolog logger on w.
// console selects the human readable ConsoleWriter.
func NewZerologWriter(w io.Writer, level string, console bool) (*ZerologHandler, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if console {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true}
	}
	l := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &ZerologHandler{logger: l}, nil
}

// OpenZerologFile appends JSON records to the file at path, creating it if needed.
// The returned closer closes the file.
func OpenZerologFile(path, level string) (*ZerologHandler, io.Closer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
	if err != nil {
		return nil, nil, err
	}
	h, err := NewZerologWriter(zerolog.SyncWriter(f), level, false)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return h, f, nil
}

// ParseLevel maps debug|info|warn|error onto zerolog levels. Empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

func (z *ZerologHandler) Error(msg string, args ...any) {
	withFields(z.logger.Error(), args).Msg(msg)
}

func (z *ZerologHandler) Warn(msg string, args ...any) {
	withFields(z.logger.Warn(), args).Msg(msg)
}

func (z *ZerologHandler) Info(msg string, args ...any) {
	withFields(z.logger.Info(), args).Msg(msg)
}

func (z *ZerologHandler) Debug(msg string, args ...any) {
	withFields(z.logger.Debug(), args).Msg(msg)
}

func withFields(e *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 >= len(args) {
			e = e.Interface("!BADKEY", key)
			break
		}
		if err, ok := args[i+1].(error); ok {
			e = e.AnErr(key, err)
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	return e
}
