// Package main writes a self-signed development certificate and key for the
// buildsite server under the "certs" directory.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/atinyakov/buildsite/internal/certgen"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("certgen", flag.ContinueOnError)
	flags.SetOutput(stderr)
	dir := flags.String("dir", "certs", "output directory")
	hosts := flags.String("hosts", "localhost,127.0.0.1", "comma separated hosts and IPs")
	force := flags.Bool("force", false, "replace an existing pair")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	certPath := filepath.Join(*dir, "dev.crt")
	keyPath := filepath.Join(*dir, "dev.key")
	if *force {
		_ = os.Remove(certPath)
		_ = os.Remove(keyPath)
	}

	created, err := certgen.EnsureSelfSigned(certPath, keyPath, strings.Split(*hosts, ","))
	if err != nil {
		fmt.Fprintln(stderr, "certgen:", err)
		return 1
	}
	if !created {
		fmt.Fprintf(stdout, "Existing certificate in %s is still valid\n", *dir)
		return 0
	}
	fmt.Fprintf(stdout, "Certificate generated into %s\n", *dir)
	return 0
}
