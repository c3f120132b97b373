package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate NETWORK.yaml",
		Short: "Check a network file without solving it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			net, err := a.loadNetwork(args[0])
			if err != nil {
				return err
			}
			if err := net.Validate(); err != nil {
				return fmt.Errorf("validate %s: %w", args[0], err)
			}
			var junctions, reservoirs, tanks int
			for _, n := range net.Nodes {
				switch n.Kind {
				case model.Junction:
					junctions++
				case model.Reservoir:
					reservoirs++
				case model.Tank:
					tanks++
				}
			}
			var pipes, pumps, valves int
			for _, l := range net.Links {
				switch {
				case l.Kind.IsValve():
					valves++
				case l.Kind == model.Pump:
					pumps++
				default:
					pipes++
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok\n", args[0])
			fmt.Fprintf(out, "  nodes: %d junctions, %d reservoirs, %d tanks\n", junctions, reservoirs, tanks)
			fmt.Fprintf(out, "  links: %d pipes, %d pumps, %d valves\n", pipes, pumps, valves)
			fmt.Fprintf(out, "  %d patterns, %d curves, %d controls, %d rules\n",
				len(net.Patterns), len(net.Curves), len(net.Controls), len(net.Rules))
			return nil
		},
	}
}
