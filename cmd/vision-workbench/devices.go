package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vision-workbench/internal/app"
)

func newDevicesCommand(c *cli) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Probe the configured devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(c.cfg, app.NewLogger(c.cfg, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer a.Shutdown()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var rows [][]string
			for _, info := range a.Devices.DetectDevices(ctx) {
				rows = append(rows, []string{info.ID, info.Type, info.Name, info.Model, info.Description})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, table([]string{"ID", "TYPE", "NAME", "MODEL", "DESCRIPTION"}, rows))

			if missing := len(a.Devices.Devices()) - len(rows); missing > 0 {
				fmt.Fprintln(out, warnStyle.Render(fmt.Sprintf("%d configured device(s) did not respond", missing)))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "probe timeout")
	return cmd
}
