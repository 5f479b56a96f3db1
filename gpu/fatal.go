package gpu

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"golang.org/x/exp/slog"
)

// FatalError marks every error raised through Fatalf and CheckResult. The resource core never
// returns these: they are raised as panics because the renderer cannot continue safely after a
// resource bookkeeping bug or a driver failure. Use errors.Is(recovered, FatalError) to
// recognize them.
var FatalError = errors.New("fatal resource error")

// DiscardLogger returns logger, or a logger that drops every record if logger is nil
func DiscardLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.NewTextHandler(io.Discard))
}

// Fatalf logs the formatted message at error level and panics with an error carrying a stack trace
func Fatalf(logger *slog.Logger, format string, args ...any) {
	err := errors.Mark(errors.Newf(format, args...), FatalError)
	DiscardLogger(logger).LogAttrs(context.Background(), slog.LevelError, err.Error(), slog.Any("error", err))
	panic(err)
}

// CheckResult is the single chokepoint for driver calls: a non-nil error is logged with the
// result code and the call site, then raised as a fatal panic.
func CheckResult(logger *slog.Logger, res common.VkResult, err error, call string) {
	if err == nil {
		return
	}

	wrapped := errors.Mark(errors.Wrapf(err, "%s failed", call), FatalError)
	DiscardLogger(logger).LogAttrs(context.Background(), slog.LevelError, "driver call failed",
		slog.String("call", call),
		slog.Any("result", res),
		slog.Any("error", err),
	)
	panic(wrapped)
}

// Check is CheckResult for calls that report only an error, such as command recording
func Check(logger *slog.Logger, err error, call string) {
	if err == nil {
		return
	}

	wrapped := errors.Mark(errors.Wrapf(err, "%s failed", call), FatalError)
	DiscardLogger(logger).LogAttrs(context.Background(), slog.LevelError, "driver call failed",
		slog.String("call", call),
		slog.Any("error", err),
	)
	panic(wrapped)
}
