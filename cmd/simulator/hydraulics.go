package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/pipenet-simulator/internal/logging"
)

func newHydraulicsCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "hydraulics NETWORK.yaml",
		Short: "Solve hydraulics only and save them to a hydraulics file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			net, err := a.loadNetwork(args[0])
			if err != nil {
				return err
			}
			ctx, sess, err := a.newSession(ctx, net)
			if err != nil {
				return err
			}
			defer sess.Close()
			if err := sess.SolveH(ctx); err != nil {
				return fmt.Errorf("hydraulics: %w", err)
			}
			if err := sess.SaveHydFile(out); err != nil {
				return err
			}
			a.log.Debug(ctx, "hydraulics saved", logging.String("path", out))
			fmt.Fprintf(cmd.OutOrStdout(), "hydraulics for %s saved to %s\n", clock(sess.Clock().Duration()), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "network.hyd", "hydraulics file to write")
	return cmd
}
