package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

// Client is a thin typed wrapper over SimulationService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Step is the outcome of a StepHydraulics or StepQuality call.
type Step struct {
	Time       int64
	Step       int64
	Done       bool
	Iterations int
	RelErr     float64
	Warnings   []int
}

func (c *Client) call(ctx context.Context, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) callEmpty(ctx context.Context, method string, in map[string]any) error {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return err
	}
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, &emptypb.Empty{})
}

// OpenSession registers a session for the YAML network document.
func (c *Client) OpenSession(ctx context.Context, networkYAML, name string) (string, error) {
	out, err := c.call(ctx, MethodOpenSession, map[string]any{"network_yaml": networkYAML, "name": name})
	if err != nil {
		return "", err
	}
	return out.GetFields()["session_id"].GetStringValue(), nil
}

// CloseSession closes a session.
func (c *Client) CloseSession(ctx context.Context, id string) error {
	return c.callEmpty(ctx, MethodCloseSession, map[string]any{"session_id": id})
}

// ListSessions returns the raw session summaries.
func (c *Client) ListSessions(ctx context.Context) ([]map[string]any, error) {
	out := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+MethodListSessions, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	var sessions []map[string]any
	for _, v := range out.GetFields()["sessions"].GetListValue().GetValues() {
		sessions = append(sessions, v.GetStructValue().AsMap())
	}
	return sessions, nil
}

// SolveHydraulics runs a complete hydraulic analysis remotely.
func (c *Client) SolveHydraulics(ctx context.Context, id string) error {
	_, err := c.call(ctx, MethodSolveHydraulics, map[string]any{"session_id": id})
	return err
}

// SolveQuality runs a complete quality analysis remotely.
func (c *Client) SolveQuality(ctx context.Context, id string) error {
	_, err := c.call(ctx, MethodSolveQuality, map[string]any{"session_id": id})
	return err
}

// StepHydraulics solves one hydraulic step.
func (c *Client) StepHydraulics(ctx context.Context, id string) (Step, error) {
	out, err := c.call(ctx, MethodStepHydraulics, map[string]any{"session_id": id})
	if err != nil {
		return Step{}, err
	}
	return stepFrom(out), nil
}

// StepQuality advances quality by one event.
func (c *Client) StepQuality(ctx context.Context, id string) (Step, error) {
	out, err := c.call(ctx, MethodStepQuality, map[string]any{"session_id": id})
	if err != nil {
		return Step{}, err
	}
	return stepFrom(out), nil
}

// NodeValue reads a node parameter.
func (c *Client) NodeValue(ctx context.Context, id, node string, p model.NodeParam) (float64, error) {
	out, err := c.call(ctx, MethodGetNodeValue, map[string]any{"session_id": id, "node": node, "param": int(p)})
	if err != nil {
		return 0, err
	}
	return out.GetFields()["value"].GetNumberValue(), nil
}

// SetNodeValue writes a node parameter.
func (c *Client) SetNodeValue(ctx context.Context, id, node string, p model.NodeParam, v float64) error {
	return c.callEmpty(ctx, MethodSetNodeValue, map[string]any{"session_id": id, "node": node, "param": int(p), "value": v})
}

// LinkValue reads a link parameter.
func (c *Client) LinkValue(ctx context.Context, id, link string, p model.LinkParam) (float64, error) {
	out, err := c.call(ctx, MethodGetLinkValue, map[string]any{"session_id": id, "link": link, "param": int(p)})
	if err != nil {
		return 0, err
	}
	return out.GetFields()["value"].GetNumberValue(), nil
}

// SetLinkValue writes a link parameter.
func (c *Client) SetLinkValue(ctx context.Context, id, link string, p model.LinkParam, v float64) error {
	return c.callEmpty(ctx, MethodSetLinkValue, map[string]any{"session_id": id, "link": link, "param": int(p), "value": v})
}

// Report fetches the reporting periods as a generic document.
func (c *Client) Report(ctx context.Context, id string) (map[string]any, error) {
	out, err := c.call(ctx, MethodGetReport, map[string]any{"session_id": id})
	if err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Energy fetches the pump energy summary.
func (c *Client) Energy(ctx context.Context, id string) (map[string]any, error) {
	out, err := c.call(ctx, MethodGetEnergy, map[string]any{"session_id": id})
	if err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// ErrorMessage looks up the text of an engine code.
func (c *Client) ErrorMessage(ctx context.Context, code int) (string, error) {
	out, err := c.call(ctx, MethodErrorMessage, map[string]any{"code": code})
	if err != nil {
		return "", err
	}
	return out.GetFields()["message"].GetStringValue(), nil
}

func stepFrom(out *structpb.Struct) Step {
	f := out.GetFields()
	st := Step{
		Time:       int64(f["time"].GetNumberValue()),
		Step:       int64(f["step"].GetNumberValue()),
		Done:       f["done"].GetBoolValue(),
		Iterations: int(f["iterations"].GetNumberValue()),
		RelErr:     f["rel_err"].GetNumberValue(),
	}
	for _, w := range f["warnings"].GetListValue().GetValues() {
		st.Warnings = append(st.Warnings, int(w.GetNumberValue()))
	}
	return st
}
