package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print worker and job row counts by status",
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

			report, err := d.Status(ctx)
			if err != nil {
				return err
			}

			fmt.Println("workers:")

			for status, count := range report.Workers {
				fmt.Printf("  %-10s %d\n", status, count)
			}

			fmt.Println("jobs:")

			for status, count := range report.Jobs {
				fmt.Printf("  %-10s %d\n", status, count)
			}

			return nil
		},
	}
}
