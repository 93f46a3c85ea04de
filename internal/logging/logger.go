package logging

import (
	"io"
	"log/slog"
	"os"
)

// Setup installs a JSON slog logger on stdout. Extra handlers, such as the
// database sink, receive the same records.
func Setup(extra ...slog.Handler) {
	slog.SetDefault(slog.New(newHandler(os.Stdout, extra...)))
}

func newHandler(w io.Writer, extra ...slog.Handler) slog.Handler {
	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	if len(extra) > 0 {
		handler = NewMultiHandler(append([]slog.Handler{handler}, extra...)...)
	}
	return handler
}
