// Command buildsite-admin is the back-office console for the construction
// site: login, projects and their photo galleries.
package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/atinyakov/buildsite/internal/client/cli"
	"github.com/charmbracelet/fang"
)

var (
	version   string
	buildDate string
)

// shutdownSignals cancel the running command.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

func main() {
	if version == "" {
		version = "dev"
	}
	v := version
	if buildDate != "" {
		v = fmt.Sprintf("%s (built %s)", version, buildDate)
	}

	if err := fang.Execute(
		context.Background(),
		cli.NewRootCmd(),
		fang.WithVersion(v),
		fang.WithNotifySignal(shutdownSignals...),
	); err != nil {
		os.Exit(1)
	}
}
