package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove worker rows stuck in created that never activated",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := cliContextFrom(cmd.Context())
			if err != nil {
				return err
			}

			d, err := newDriver(cmd.Context(), cc)
			if err != nil {
				return err
			}
			defer d.Close()

			ctx := d.Shutdown.Context(cmd.Context())

			if err := d.CleanupStale(ctx); err != nil {
				return err
			}

			fmt.Println("cleanup complete")

			return nil
		},
	}
}
