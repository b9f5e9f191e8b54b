package shell

import (
	"fmt"
	"io"

	"github.com/atinyakov/buildsite/internal/notify"
)

// Printer writes notifications as lines, prefixed with their level.
type Printer struct {
	W io.Writer
}

// Notify prints msg.
func (p Printer) Notify(level notify.Level, msg string) {
	fmt.Fprintf(p.W, "[%s] %s\n", level, msg)
}
