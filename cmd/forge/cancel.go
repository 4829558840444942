package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <input-file>",
		Short: "Cancel any pending or processing job for an input file",
		Args:  cobra.ExactArgs(1),
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

			ids, err := d.CancelForInput(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("cancelled %d job(s)\n", len(ids))

			return nil
		},
	}
}
