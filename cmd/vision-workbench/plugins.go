package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"vision-workbench/internal/plugin"
)

func newPluginsCommand(c *cli) *cobra.Command {
	var show string

	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Load every plugin and list its state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, stop, err := c.start(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()

			out := cmd.OutOrStdout()
			if show != "" {
				for _, tool := range a.Plugins.Tools() {
					if tool.Descriptor.ID == show {
						fmt.Fprintln(out, describeTool(tool))
						return nil
					}
				}
				return fmt.Errorf("plugin %q is not registered", show)
			}

			var rows [][]string
			for _, info := range a.Plugins.Plugins() {
				state := okStyle.Render(info.State.String())
				if info.Failure != "" {
					state = errorStyle.Render("failed")
				}
				caps := make([]string, len(info.Capabilities))
				for i, cp := range info.Capabilities {
					caps[i] = string(cp)
				}
				rows = append(rows, []string{info.Descriptor.ID, info.Descriptor.Version, state,
					strings.Join(caps, ","), info.Descriptor.Name})
			}
			fmt.Fprintln(out, table([]string{"ID", "VERSION", "STATE", "CAPABILITIES", "NAME"}, rows))

			for _, info := range a.Plugins.Plugins() {
				if info.Failure != "" {
					fmt.Fprintln(out, warnStyle.Render(info.Descriptor.ID+": ")+info.Failure)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&show, "show", "", "describe the parameters and ports of one plugin")
	return cmd
}

func describeTool(t plugin.Tool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render(t.Descriptor.Name), dimStyle.Render(t.Descriptor.ID+" "+t.Descriptor.Version))
	if t.Descriptor.Description != "" {
		fmt.Fprintln(&b, t.Descriptor.Description)
	}

	if len(t.Parameters) > 0 {
		var rows [][]string
		for _, p := range t.Parameters {
			rng := ""
			if p.MinValue != nil || p.MaxValue != nil {
				rng = fmt.Sprintf("%v..%v", p.MinValue, p.MaxValue)
			}
			if len(p.Options) > 0 {
				rng = fmt.Sprint(p.Options)
			}
			rows = append(rows, []string{p.Name, p.Type.String(), fmt.Sprint(p.DefaultValue), rng, p.Description})
		}
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, table([]string{"PARAMETER", "TYPE", "DEFAULT", "RANGE", "DESCRIPTION"}, rows))
	}

	if len(t.InputPorts)+len(t.OutputPorts) > 0 {
		var rows [][]string
		for _, p := range t.InputPorts {
			rows = append(rows, []string{"in", p.ID, p.DataType, fmt.Sprint(p.Required)})
		}
		for _, p := range t.OutputPorts {
			rows = append(rows, []string{"out", p.ID, p.DataType, ""})
		}
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, table([]string{"DIR", "PORT", "DATA", "REQUIRED"}, rows))
	}
	return strings.TrimRight(b.String(), "\n")
}
