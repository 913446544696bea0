package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the daemon version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("bridged %s (%s)\n", version, commit)
		},
	}
}
