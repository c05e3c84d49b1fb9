// Command saltyrtc-server runs the SaltyRTC signalling server.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "saltyrtc-server",
		Short: "SaltyRTC signalling server",
	}

	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, errConfig):
		return 2
	case errors.Is(err, errUnsupportedRuntime):
		return 3
	default:
		return 1
	}
}
