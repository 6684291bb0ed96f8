package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// setupLogging installs the process-wide slog default handler: a
// terminal-aware colorized handler (tint) when stderr is a TTY, plain text
// otherwise, matching the teacher's dev-vs-production log shape. w, when
// non-nil, additionally receives every record (the daemon's log file).
func setupLogging(level slog.Level, w io.Writer) {
	var out io.Writer = os.Stderr
	isTTY := isatty.IsTerminal(os.Stderr.Fd())
	if isTTY {
		out = colorable.NewColorable(os.Stderr.(*os.File))
	}
	if w != nil {
		out = io.MultiWriter(out, w)
	}
	handler := tint.NewHandler(out, &tint.Options{
		Level:      level,
		NoColor:    !isTTY,
		TimeFormat: "15:04:05",
	})
	slog.SetDefault(slog.New(handler))
}
