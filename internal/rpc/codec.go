package rpc

import (
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/pipenet-simulator/core"
	"github.com/signalsfoundry/pipenet-simulator/internal/sim/state"
)

// Request documents are structpb.Struct values; these helpers pull typed
// fields out of them and report missing or mistyped ones as
// ErrInvalidRequest.

func sessionIDOf(req any) string {
	in, ok := req.(*structpb.Struct)
	if !ok || in == nil {
		return ""
	}
	return in.GetFields()["session_id"].GetStringValue()
}

func requireString(in *structpb.Struct, key string) (string, error) {
	v, ok := in.GetFields()[key]
	if !ok {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidRequest, key)
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok || strings.TrimSpace(sv.StringValue) == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidRequest, key)
	}
	return sv.StringValue, nil
}

func optionalString(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

func requireNumber(in *structpb.Struct, key string) (float64, error) {
	v, ok := in.GetFields()[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidRequest, key)
	}
	nv, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || math.IsNaN(nv.NumberValue) || math.IsInf(nv.NumberValue, 0) {
		return 0, fmt.Errorf("%w: %s must be a finite number", ErrInvalidRequest, key)
	}
	return nv.NumberValue, nil
}

func requireInt(in *structpb.Struct, key string) (int, error) {
	f, err := requireNumber(in, key)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidRequest, key)
	}
	return int(f), nil
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}

func intsToList(xs []int) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

func stepResultFields(res core.StepResult) map[string]any {
	return map[string]any{
		"time":       res.Time,
		"iterations": res.Iterations,
		"rel_err":    res.RelErr,
		"warnings":   intsToList(res.Warnings),
		"controls":   res.Controls,
	}
}

func summaryFields(sum state.Summary) map[string]any {
	return map[string]any{
		"session_id": sum.ID,
		"name":       sum.Name,
		"created":    sum.Created.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		"nodes":      sum.Nodes,
		"links":      sum.Links,
	}
}

// reportFields renders a report with node and link values keyed by id.
func reportFields(s *core.Session, rep core.Report) (map[string]any, error) {
	net := s.Network()
	periods := make([]any, 0, len(rep.Periods))
	for _, p := range rep.Periods {
		nodes := make(map[string]any, len(p.Nodes))
		for i, nv := range p.Nodes {
			nodes[net.Nodes[i].ID] = map[string]any{
				"demand":   nv.Demand,
				"head":     nv.Head,
				"pressure": nv.Pressure,
				"quality":  nv.Quality,
			}
		}
		links := make(map[string]any, len(p.Links))
		for k, lv := range p.Links {
			links[net.Links[k].ID] = map[string]any{
				"flow":     lv.Flow,
				"velocity": lv.Velocity,
				"headloss": lv.Headloss,
				"quality":  lv.Quality,
				"status":   lv.Status.String(),
				"setting":  lv.Setting,
			}
		}
		periods = append(periods, map[string]any{
			"time":  p.Time,
			"nodes": nodes,
			"links": links,
		})
	}
	return map[string]any{
		"statistic": rep.Statistic.String(),
		"periods":   periods,
	}, nil
}

func energyFields(rep core.EnergyReport) map[string]any {
	pumps := make([]any, 0, len(rep.Pumps))
	for _, p := range rep.Pumps {
		pumps = append(pumps, map[string]any{
			"link":         p.ID,
			"utilization":  p.Utilization,
			"efficiency":   p.Efficiency,
			"kwh_per_vol":  p.KWhPerVol,
			"average_kw":   p.AverageKW,
			"peak_kw":      p.PeakKW,
			"cost_per_day": p.CostPerDay,
		})
	}
	return map[string]any{
		"pumps":         pumps,
		"demand_charge": rep.DemandCharge,
		"total_cost":    rep.TotalCost,
	}
}
