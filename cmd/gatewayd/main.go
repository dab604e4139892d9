// Command gatewayd is the multi-tenant reverse-proxy gateway for LLM
// provider APIs: authentication, per-tenant budget enforcement, fixed
// endpoint-family routing, streaming usage metering, and billing.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("gatewayd", version)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
