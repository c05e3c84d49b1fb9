package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"saltyrtc.io/server/internal/signaling"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Version: %s\n", version)
			fmt.Printf("Protocols: %s\n", strings.Join(signaling.Subprotocols, ", "))
			return nil
		},
	}
}
