package rpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/pipenet-simulator/core"
	sim "github.com/signalsfoundry/pipenet-simulator/internal/sim/state"
)

// ErrInvalidRequest marks malformed request documents.
var ErrInvalidRequest = errors.New("invalid request")

// ToStatusError maps registry and engine errors onto gRPC status codes.
// Engine errors keep their numeric code in the message.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, sim.ErrSessionNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, sim.ErrTooManySessions):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, sim.ErrRegistryClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	code := core.CodeOf(err)
	if code == 0 {
		return status.Error(codes.Internal, err.Error())
	}
	return status.Error(engineCode(code), fmt.Sprintf("engine error %d: %v", code, err))
}

func engineCode(code int) codes.Code {
	switch code {
	case core.ErrUndefinedNode.Code, core.ErrUndefinedLink.Code, core.ErrUndefinedPattern.Code,
		core.ErrUndefinedCurve.Code, core.ErrNoControl.Code, core.ErrNoDemandCategory.Code,
		core.ErrNoSource.Code, core.ErrHydFileOpen.Code:
		return codes.NotFound
	case core.ErrCanceled.Code:
		return codes.Canceled
	case core.ErrUnbalancedHalt.Code, core.ErrHydSolve.Code, core.ErrQualSolve.Code:
		return codes.Aborted
	case core.ErrOutOfMemory.Code:
		return codes.ResourceExhausted
	}
	switch {
	case code >= 200 && code < 300:
		return codes.InvalidArgument
	case code >= 100 && code < 200:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// CodeFromStatus extracts the engine code from a status produced by
// ToStatusError, or 0.
func CodeFromStatus(err error) int {
	st, ok := status.FromError(err)
	if !ok {
		return 0
	}
	var code int
	if _, scanErr := fmt.Sscanf(st.Message(), "engine error %d:", &code); scanErr != nil {
		return 0
	}
	return code
}
