package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/pipenet-simulator/core"
	"github.com/signalsfoundry/pipenet-simulator/internal/logging"
	"github.com/signalsfoundry/pipenet-simulator/internal/observability"
	"github.com/signalsfoundry/pipenet-simulator/internal/publish"
	"github.com/signalsfoundry/pipenet-simulator/model"
)

type runOptions struct {
	reportPath string
	useHyd     string
	saveHyd    string
	publishURL string
	noQuality  bool
}

func newRunCmd(a *app) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run NETWORK.yaml",
		Short: "Run a full hydraulic and water quality analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, args[0], o)
		},
	}
	cmd.Flags().StringVar(&o.reportPath, "report", "", "write the report as JSON to this file")
	cmd.Flags().StringVar(&o.useHyd, "hyd-file", "", "replay hydraulics from a saved hydraulics file instead of solving")
	cmd.Flags().StringVar(&o.saveHyd, "save-hyd", "", "save the solved hydraulics to this file")
	cmd.Flags().StringVar(&o.publishURL, "publish", "", "publish step events on this mangos URL (overrides publish.url)")
	cmd.Flags().BoolVar(&o.noQuality, "no-quality", false, "skip the water quality analysis")
	return cmd
}

func (a *app) run(cmd *cobra.Command, path string, o *runOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	net, err := a.loadNetwork(path)
	if err != nil {
		return err
	}

	shutdown, err := observability.InitTracing(ctx, a.cfg.TracingOptions(), a.log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, a.log)

	ctx, sess, err := a.newSession(ctx, net, core.WithTracer(observability.EngineTracer()))
	if err != nil {
		return err
	}
	defer sess.Close()

	url := o.publishURL
	if url == "" && a.cfg.Publish.Enabled {
		url = a.cfg.Publish.URL
	}
	if url != "" {
		pub, err := publish.New(url, publish.Options{Logger: a.log})
		if err != nil {
			return err
		}
		defer pub.Close()
		sess.AddListener(pub.Listener())
	}

	if o.useHyd != "" {
		if err := sess.UseHydFile(o.useHyd); err != nil {
			return fmt.Errorf("use hydraulics file: %w", err)
		}
		if err := sess.SaveH(); err != nil {
			return err
		}
	} else if err := sess.SolveH(ctx); err != nil {
		if !errors.Is(err, core.ErrUnbalancedHalt) {
			return fmt.Errorf("hydraulics: %w", err)
		}
		a.log.Warn(ctx, "hydraulic run halted on an unbalanced step", logging.Err(err))
	}
	if o.saveHyd != "" {
		if err := sess.SaveHydFile(o.saveHyd); err != nil {
			return err
		}
	}

	if qt, _ := sess.QualityType(); qt != model.QualNone && !o.noQuality {
		if err := sess.SolveQ(ctx); err != nil {
			return fmt.Errorf("quality: %w", err)
		}
	}

	rep, err := sess.Report()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printSummary(out, sess, rep)
	if o.useHyd == "" {
		if energy, err := sess.Energy(); err == nil && len(energy.Pumps) > 0 {
			printEnergy(out, energy)
		}
	}

	if o.reportPath != "" {
		if err := writeReport(o.reportPath, sess, rep); err != nil {
			return err
		}
		a.log.Info(ctx, "report written", logging.String("path", o.reportPath))
	}
	return nil
}

type reportJSON struct {
	Title     string       `json:"title,omitempty"`
	Units     string       `json:"units"`
	Statistic string       `json:"statistic"`
	Periods   []periodJSON `json:"periods"`
}

type periodJSON struct {
	Time  int64                      `json:"time"`
	Nodes map[string]nodeJSON `json:"nodes"`
	Links map[string]linkJSON        `json:"links"`
}

type nodeJSON struct {
	Demand   float64 `json:"demand"`
	Head     float64 `json:"head"`
	Pressure float64 `json:"pressure"`
	Quality  float64 `json:"quality"`
}

type linkJSON struct {
	Flow     float64 `json:"flow"`
	Velocity float64 `json:"velocity"`
	Headloss float64 `json:"headloss"`
	Quality  float64 `json:"quality"`
	Status   string  `json:"status"`
	Setting  float64 `json:"setting"`
}

func writeReport(path string, sess *core.Session, rep core.Report) error {
	net := sess.Network()
	doc := reportJSON{
		Title:     net.Title,
		Units:     net.Options.Units.String(),
		Statistic: rep.Statistic.String(),
		Periods:   make([]periodJSON, 0, len(rep.Periods)),
	}
	for _, p := range rep.Periods {
		pj := periodJSON{
			Time:  p.Time,
			Nodes: make(map[string]nodeJSON, len(p.Nodes)),
			Links: make(map[string]linkJSON, len(p.Links)),
		}
		for i, nv := range p.Nodes {
			pj.Nodes[net.Nodes[i].ID] = nodeJSON(nv)
		}
		for k, lv := range p.Links {
			pj.Links[net.Links[k].ID] = linkJSON{
				Flow:     lv.Flow,
				Velocity: lv.Velocity,
				Headloss: lv.Headloss,
				Quality:  lv.Quality,
				Status:   lv.Status.String(),
				Setting:  lv.Setting,
			}
		}
		doc.Periods = append(doc.Periods, pj)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
