package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/pipenet-simulator/core"
	"github.com/signalsfoundry/pipenet-simulator/internal/config"
	"github.com/signalsfoundry/pipenet-simulator/internal/logging"
	"github.com/signalsfoundry/pipenet-simulator/kb"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

// app carries what every subcommand needs after configuration is loaded.
type app struct {
	cfgFile   string
	logLevel  string
	logFormat string

	cfg *config.Config
	log logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "simulator",
		Short: "Hydraulic and water quality simulator for pressurized pipe networks",
		Long: `simulator solves extended-period hydraulics and water quality transport
for networks described in YAML: junctions, reservoirs, tanks, pipes,
pumps and valves with patterns, curves, controls and rules.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format (json, text)")
	root.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "%s" .Version}}
`)

	root.AddCommand(newRunCmd(a), newHydraulicsCmd(a), newValidateCmd(a), newVersionCmd())
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	lc := cfg.LoggingOptions()
	lc.Output = cmd.ErrOrStderr()
	a.cfg, a.log = cfg, logging.New(lc)
	return nil
}

// loadNetwork reads a network file and applies the engine overrides.
func (a *app) loadNetwork(path string) (*kb.Network, error) {
	net, err := core.LoadNetworkFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	a.cfg.Engine.Apply(&net.Options)
	return net, nil
}

// newSession creates a session tagged with a fresh run id.
func (a *app) newSession(ctx context.Context, net *kb.Network, opts ...core.Option) (context.Context, *core.Session, error) {
	ctx, log := logging.WithRunLogger(ctx, a.log)
	opts = append([]core.Option{core.WithLogger(log)}, opts...)
	sess, err := core.NewSession(net, opts...)
	if err != nil {
		return ctx, nil, err
	}
	return ctx, sess, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Skip configuration loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "simulator %s (commit %s)\n", version, commit)
		},
	}
}
