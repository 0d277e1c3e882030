package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information, set with -ldflags at build time.
var (
	Version   = "dev"
	GitHash   = "none"
	BuildTime = "unknown"
)

func getVersion() string {
	h := GitHash
	if len(h) > 7 {
		h = h[:7]
	}
	return fmt.Sprintf("%s-%s", Version, h)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Skip configuration loading
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Version:    ", getVersion())
			fmt.Fprintln(out, "Git Commit: ", GitHash)
			fmt.Fprintln(out, "Build Time: ", BuildTime)
		},
	}
}
