package kb

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

// Validate checks the structural invariants of the network and derives
// tank and pump terms. It must succeed before a solver is opened.
func (n *Network) Validate() error {
	if err := validate.Struct(n.Options); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, formatValidationError(err))
	}
	if err := validate.Struct(n.Times); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, formatValidationError(err))
	}
	if len(n.Nodes) < 2 {
		return ErrTooFewNodes
	}

	fixed := 0
	for _, node := range n.Nodes {
		if node.IsFixedGrade() {
			fixed++
		}
		if err := n.checkNodeRefs(node); err != nil {
			return err
		}
		if err := n.DeriveTank(node); err != nil {
			return err
		}
	}
	if fixed == 0 {
		return ErrNoFixedGrade
	}

	degree := make([]int, len(n.Nodes))
	for _, link := range n.Links {
		degree[link.From]++
		degree[link.To]++
		if err := n.checkLink(link); err != nil {
			return err
		}
	}
	for i, d := range degree {
		if d == 0 {
			return fmt.Errorf("node %q: %w", n.Nodes[i].ID, ErrUnconnectedNode)
		}
	}

	if n.Options.DefaultPattern != model.NoIndex {
		if _, err := n.Pattern(n.Options.DefaultPattern); err != nil {
			return err
		}
	}
	if n.Options.GlobalPattern != model.NoIndex {
		if _, err := n.Pattern(n.Options.GlobalPattern); err != nil {
			return err
		}
	}
	if n.Options.Quality.Type == model.QualTrace && !n.validNode(n.Options.Quality.TraceNode) {
		return ErrUnknownTraceNode
	}
	for _, c := range n.Controls {
		if err := n.checkControl(c); err != nil {
			return err
		}
	}
	return nil
}

func (n *Network) checkNodeRefs(node *model.Node) error {
	for _, d := range node.Demands {
		if d.Pattern != model.NoIndex {
			if _, err := n.Pattern(d.Pattern); err != nil {
				return fmt.Errorf("node %q: %w", node.ID, err)
			}
		}
	}
	if node.Source != nil && node.Source.Pattern != model.NoIndex {
		if _, err := n.Pattern(node.Source.Pattern); err != nil {
			return fmt.Errorf("node %q source: %w", node.ID, err)
		}
	}
	if node.Emitter < 0 {
		return fmt.Errorf("node %q emitter: %w", node.ID, ErrInvalidValue)
	}
	if node.Kind == model.Reservoir && node.Storage.HeadPattern != model.NoIndex {
		if _, err := n.Pattern(node.Storage.HeadPattern); err != nil {
			return fmt.Errorf("reservoir %q: %w", node.ID, err)
		}
	}
	return nil
}

func (n *Network) checkLink(link *model.Link) error {
	switch link.Kind {
	case model.CVPipe, model.Pipe:
		if link.Length <= 0 || link.Diameter <= 0 || link.Roughness <= 0 {
			return fmt.Errorf("pipe %q: %w", link.ID, ErrInvalidValue)
		}
	case model.Pump:
		p := link.Pump
		for _, pat := range []int{p.SpeedPattern, p.PricePattern} {
			if pat != model.NoIndex {
				if _, err := n.Pattern(pat); err != nil {
					return fmt.Errorf("pump %q: %w", link.ID, err)
				}
			}
		}
		if p.EffCurve != model.NoIndex {
			if _, err := n.Curve(p.EffCurve); err != nil {
				return fmt.Errorf("pump %q: %w", link.ID, err)
			}
		}
		if err := n.DerivePump(link); err != nil {
			return err
		}
	case model.PRV, model.PSV, model.FCV:
		if link.Diameter <= 0 {
			return fmt.Errorf("valve %q: %w", link.ID, ErrInvalidValue)
		}
		if n.Nodes[link.From].IsFixedGrade() || n.Nodes[link.To].IsFixedGrade() {
			return fmt.Errorf("valve %q: %w", link.ID, ErrValveConnection)
		}
		if err := n.checkValvePair(link); err != nil {
			return err
		}
	case model.GPV:
		if !model.IsMissing(link.InitSetting) {
			if _, err := n.Curve(int(link.InitSetting)); err != nil {
				return fmt.Errorf("valve %q: %w", link.ID, err)
			}
		}
	case model.PBV, model.TCV:
		if link.Diameter <= 0 {
			return fmt.Errorf("valve %q: %w", link.ID, ErrInvalidValue)
		}
	default:
		return fmt.Errorf("link %q kind %d: %w", link.ID, link.Kind, ErrInvalidValue)
	}
	return nil
}

// checkValvePair rejects pressure valves that share a regulated node with
// another pressure or flow valve.
func (n *Network) checkValvePair(v *model.Link) error {
	for _, other := range n.Links {
		if other == v || !(other.Kind == model.PRV || other.Kind == model.PSV || other.Kind == model.FCV) {
			continue
		}
		switch {
		case v.Kind == model.PRV && other.Kind == model.PRV && v.To == other.To:
		case v.Kind == model.PSV && other.Kind == model.PSV && v.From == other.From:
		case v.Kind == model.PRV && other.Kind == model.PSV && v.To == other.From:
		case v.Kind == model.PSV && other.Kind == model.PRV && v.From == other.To:
		default:
			continue
		}
		return fmt.Errorf("valve %q and %q: %w", v.ID, other.ID, ErrValveToValve)
	}
	return nil
}

// formatValidationError renders the first failed field constraint.
func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("%s failed on '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
	}
	return err.Error()
}
