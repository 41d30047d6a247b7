package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/muxrun/internal/version"
)

func newVersionCmd() *cobra.Command {
	var dirty bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Read(dirty).String())
			return err
		},
	}
	cmd.Flags().BoolVar(&dirty, "dirty", false, "mark builds from a modified tree")
	return cmd
}
