package logger

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// NewDiagnostics returns the stderr logger used for operational messages.
// Verdicts never go through it. Unknown levels fall back to warn.
func NewDiagnostics(w io.Writer, level string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.WarnLevel
	}
	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Prefix:          "bashguard",
		ReportTimestamp: lvl <= log.DebugLevel,
	})
}
