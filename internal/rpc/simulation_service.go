package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/pipenet-simulator/core"
	"github.com/signalsfoundry/pipenet-simulator/internal/logging"
	sim "github.com/signalsfoundry/pipenet-simulator/internal/sim/state"
	"github.com/signalsfoundry/pipenet-simulator/model"
)

// SimulationService implements SimulationServer over a session registry.
//
// Semantics:
//   - OpenSession parses network_yaml and registers a new session.
//   - StepHydraulics opens and initialises the hydraulic solver on first use
//     (saving results for quality), then solves one step and advances; the
//     solver closes itself when the run ends.
//   - StepQuality does the same for quality over saved hydraulics.
//   - Calls on one session are serialised by the registry.
type SimulationService struct {
	registry *sim.Registry
	log      logging.Logger
}

// NewSimulationService constructs a SimulationService bound to registry.
func NewSimulationService(registry *sim.Registry, log logging.Logger) *SimulationService {
	if log == nil {
		log = logging.Noop()
	}
	return &SimulationService{registry: registry, log: log}
}

var _ SimulationServer = (*SimulationService)(nil)

func (s *SimulationService) ensureReady() error {
	if s == nil || s.registry == nil {
		return status.Error(codes.Unavailable, "session registry is not configured")
	}
	return nil
}

// withSession resolves session_id and runs fn under the session lock.
func (s *SimulationService) withSession(in *structpb.Struct, fn func(*core.Session) error) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	id, err := requireString(in, "session_id")
	if err != nil {
		return ToStatusError(err)
	}
	return ToStatusError(s.registry.With(id, fn))
}

// OpenSession loads a network and registers a session for it.
func (s *SimulationService) OpenSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	doc, err := requireString(in, "network_yaml")
	if err != nil {
		return nil, ToStatusError(err)
	}
	net, err := core.LoadNetwork(strings.NewReader(doc))
	if err != nil {
		return nil, ToStatusError(err)
	}
	e, err := s.registry.Open(ctx, net, optionalString(in, "name"))
	if err != nil {
		loggerFrom(ctx, s.log).Warn(ctx, "open session failed", logging.Err(err))
		return nil, ToStatusError(err)
	}
	return toStruct(map[string]any{
		"session_id": e.ID,
		"nodes":      len(net.Nodes),
		"links":      len(net.Links),
		"units":      net.Options.Units.String(),
	})
}

// CloseSession closes and forgets a session.
func (s *SimulationService) CloseSession(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	id, err := requireString(in, "session_id")
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := s.registry.Close(ctx, id); err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

// ListSessions summarises the open sessions.
func (s *SimulationService) ListSessions(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	list := s.registry.List()
	sessions := make([]any, 0, len(list))
	for _, sum := range list {
		sessions = append(sessions, summaryFields(sum))
	}
	return toStruct(map[string]any{"sessions": sessions})
}

// SolveHydraulics runs a complete hydraulic analysis.
func (s *SimulationService) SolveHydraulics(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var out map[string]any
	err := s.withSession(in, func(sess *core.Session) error {
		if err := sess.SolveH(ctx); err != nil {
			return err
		}
		iters, _ := sess.Statistic(model.StatIterations)
		relErr, _ := sess.Statistic(model.StatRelativeError)
		out = map[string]any{
			"duration":   sess.Clock().Duration(),
			"iterations": float64(iters),
			"rel_err":    float64(relErr),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toStruct(out)
}

// SolveQuality runs a complete quality analysis over saved hydraulics.
func (s *SimulationService) SolveQuality(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var out map[string]any
	err := s.withSession(in, func(sess *core.Session) error {
		if err := sess.SolveQ(ctx); err != nil {
			return err
		}
		qt, _ := sess.QualityType()
		out = map[string]any{"qtime": sess.Clock().Qtime(), "quality": qt.String()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toStruct(out)
}

// StepHydraulics solves the current hydraulic step and advances the clock.
func (s *SimulationService) StepHydraulics(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var out map[string]any
	err := s.withSession(in, func(sess *core.Session) error {
		if !sess.HydraulicsOpen() {
			if err := sess.OpenH(); err != nil {
				return err
			}
			if err := sess.InitH(model.Save); err != nil {
				_ = sess.CloseH()
				return err
			}
		}
		res, runErr := sess.RunH(ctx)
		out = stepResultFields(res)
		if runErr != nil {
			if errors.Is(runErr, core.ErrUnbalancedHalt) {
				_ = sess.CloseH()
			}
			return runErr
		}
		step, err := sess.NextH(ctx)
		if err != nil {
			return err
		}
		out["step"] = step
		out["done"] = step == 0
		if step == 0 {
			return sess.CloseH()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toStruct(out)
}

// StepQuality transports quality over the next quality event.
func (s *SimulationService) StepQuality(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var out map[string]any
	err := s.withSession(in, func(sess *core.Session) error {
		if !sess.QualityOpen() {
			if err := sess.OpenQ(); err != nil {
				return err
			}
			if err := sess.InitQ(model.Save); err != nil {
				_ = sess.CloseQ()
				return err
			}
		}
		t, err := sess.RunQ(ctx)
		if err != nil {
			return err
		}
		step, err := sess.NextQ(ctx)
		if err != nil {
			return err
		}
		out = map[string]any{"time": t, "step": step, "done": step == 0}
		if step == 0 {
			return sess.CloseQ()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toStruct(out)
}

// GetNodeValue reads one node parameter in user units.
func (s *SimulationService) GetNodeValue(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var v model.Real
	err := s.withSession(in, func(sess *core.Session) error {
		idx, param, err := nodeRef(sess, in)
		if err != nil {
			return err
		}
		v, err = sess.NodeValue(idx, param)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toStruct(map[string]any{"value": float64(v)})
}

// SetNodeValue writes one node parameter in user units.
func (s *SimulationService) SetNodeValue(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	err := s.withSession(in, func(sess *core.Session) error {
		idx, param, err := nodeRef(sess, in)
		if err != nil {
			return err
		}
		v, err := requireNumber(in, "value")
		if err != nil {
			return err
		}
		return sess.SetNodeValue(idx, param, model.Real(v))
	})
	if err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

// GetLinkValue reads one link parameter in user units.
func (s *SimulationService) GetLinkValue(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var v model.Real
	err := s.withSession(in, func(sess *core.Session) error {
		idx, param, err := linkRef(sess, in)
		if err != nil {
			return err
		}
		v, err = sess.LinkValue(idx, param)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toStruct(map[string]any{"value": float64(v)})
}

// SetLinkValue writes one link parameter in user units.
func (s *SimulationService) SetLinkValue(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	err := s.withSession(in, func(sess *core.Session) error {
		idx, param, err := linkRef(sess, in)
		if err != nil {
			return err
		}
		v, err := requireNumber(in, "value")
		if err != nil {
			return err
		}
		return sess.SetLinkValue(idx, param, model.Real(v))
	})
	if err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

// GetReport returns the reporting periods of the session.
func (s *SimulationService) GetReport(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var out map[string]any
	err := s.withSession(in, func(sess *core.Session) error {
		rep, err := sess.Report()
		if err != nil {
			return err
		}
		out, err = reportFields(sess, rep)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toStruct(out)
}

// GetEnergy returns the pump energy summary of the last hydraulic run.
func (s *SimulationService) GetEnergy(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var out map[string]any
	err := s.withSession(in, func(sess *core.Session) error {
		rep, err := sess.Energy()
		if err != nil {
			return err
		}
		out = energyFields(rep)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toStruct(out)
}

// ErrorMessage returns the text of an engine error or warning code.
func (s *SimulationService) ErrorMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	code, err := requireInt(in, "code")
	if err != nil {
		return nil, ToStatusError(err)
	}
	return toStruct(map[string]any{"code": code, "message": core.ErrorMessage(code)})
}

func nodeRef(sess *core.Session, in *structpb.Struct) (int, model.NodeParam, error) {
	id, err := requireString(in, "node")
	if err != nil {
		return 0, 0, err
	}
	param, err := requireInt(in, "param")
	if err != nil {
		return 0, 0, err
	}
	idx, err := sess.NodeIndex(id)
	if err != nil {
		return 0, 0, fmt.Errorf("node %q: %w", id, err)
	}
	return idx, model.NodeParam(param), nil
}

func linkRef(sess *core.Session, in *structpb.Struct) (int, model.LinkParam, error) {
	id, err := requireString(in, "link")
	if err != nil {
		return 0, 0, err
	}
	param, err := requireInt(in, "param")
	if err != nil {
		return 0, 0, err
	}
	idx, err := sess.LinkIndex(id)
	if err != nil {
		return 0, 0, fmt.Errorf("link %q: %w", id, err)
	}
	return idx, model.LinkParam(param), nil
}
