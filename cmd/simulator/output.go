package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/signalsfoundry/pipenet-simulator/core"
)

func clock(t int64) string {
	return fmt.Sprintf("%d:%02d:%02d", t/3600, t/60%60, t%60)
}

// printSummary writes node and link tables for the last reporting period.
func printSummary(w io.Writer, sess *core.Session, rep core.Report) {
	net := sess.Network()
	fmt.Fprintf(w, "%d nodes, %d links, %d reporting periods (%s)\n",
		len(net.Nodes), len(net.Links), len(rep.Periods), rep.Statistic)
	if len(rep.Periods) == 0 {
		return
	}
	last := rep.Periods[len(rep.Periods)-1]
	fmt.Fprintf(w, "\nNode results at %s\n", clock(last.Time))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Node\tDemand\tHead\tPressure\tQuality\t")
	for i, nv := range last.Nodes {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%.2f\t\n", net.Nodes[i].ID, nv.Demand, nv.Head, nv.Pressure, nv.Quality)
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\nLink results at %s\n", clock(last.Time))
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Link\tFlow\tVelocity\tHeadloss\tStatus\t")
	for k, lv := range last.Links {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.3f\t%s\t\n", net.Links[k].ID, lv.Flow, lv.Velocity, lv.Headloss, lv.Status)
	}
	_ = tw.Flush()
}

func printEnergy(w io.Writer, rep core.EnergyReport) {
	fmt.Fprintln(w, "\nPump energy")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Pump\tUtil%\tEff%\tkWh/vol\tAvg kW\tPeak kW\tCost/day\t")
	for _, p := range rep.Pumps {
		fmt.Fprintf(tw, "%s\t%.1f\t%.1f\t%.2f\t%.2f\t%.2f\t%.2f\t\n",
			p.ID, p.Utilization, p.Efficiency, p.KWhPerVol, p.AverageKW, p.PeakKW, p.CostPerDay)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "Demand charge %.2f, total cost %.2f\n", rep.DemandCharge, rep.TotalCost)
}
