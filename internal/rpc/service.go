// Package rpc exposes simulation sessions over gRPC.
//
// The service is defined in api/proto/pipenet/engine/v1/simulation.proto
// over protobuf well-known types: every request and response is a
// google.protobuf.Struct (or Empty), so clients need no generated stubs.
// Field names follow snake_case; node and link values are addressed by
// element id and accessor parameter code.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "pipenet.engine.v1.SimulationService"

// Method names.
const (
	MethodOpenSession     = "OpenSession"
	MethodCloseSession    = "CloseSession"
	MethodListSessions    = "ListSessions"
	MethodSolveHydraulics = "SolveHydraulics"
	MethodSolveQuality    = "SolveQuality"
	MethodStepHydraulics  = "StepHydraulics"
	MethodStepQuality     = "StepQuality"
	MethodGetNodeValue    = "GetNodeValue"
	MethodSetNodeValue    = "SetNodeValue"
	MethodGetLinkValue    = "GetLinkValue"
	MethodSetLinkValue    = "SetLinkValue"
	MethodGetReport       = "GetReport"
	MethodGetEnergy       = "GetEnergy"
	MethodErrorMessage    = "ErrorMessage"
)

// SimulationServer is the server API for SimulationService.
type SimulationServer interface {
	OpenSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CloseSession(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ListSessions(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SolveHydraulics(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SolveQuality(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StepHydraulics(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StepQuality(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetNodeValue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetNodeValue(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	GetLinkValue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetLinkValue(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	GetReport(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetEnergy(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ErrorMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterSimulationServer registers srv on s.
func RegisterSimulationServer(s grpc.ServiceRegistrar, srv SimulationServer) {
	s.RegisterService(&SimulationServiceDesc, srv)
}

func newStruct() *structpb.Struct { return &structpb.Struct{} }
func newEmpty() *emptypb.Empty    { return &emptypb.Empty{} }

// unary builds the method handler for one RPC.
func unary[Req proto.Message, Resp proto.Message](
	method string,
	newReq func() Req,
	call func(SimulationServer, context.Context, Req) (Resp, error),
) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SimulationServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SimulationServer), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// SimulationServiceDesc describes SimulationService for grpc.Server.
var SimulationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SimulationServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodOpenSession, newStruct, SimulationServer.OpenSession),
		unary(MethodCloseSession, newStruct, SimulationServer.CloseSession),
		unary(MethodListSessions, newEmpty, SimulationServer.ListSessions),
		unary(MethodSolveHydraulics, newStruct, SimulationServer.SolveHydraulics),
		unary(MethodSolveQuality, newStruct, SimulationServer.SolveQuality),
		unary(MethodStepHydraulics, newStruct, SimulationServer.StepHydraulics),
		unary(MethodStepQuality, newStruct, SimulationServer.StepQuality),
		unary(MethodGetNodeValue, newStruct, SimulationServer.GetNodeValue),
		unary(MethodSetNodeValue, newStruct, SimulationServer.SetNodeValue),
		unary(MethodGetLinkValue, newStruct, SimulationServer.GetLinkValue),
		unary(MethodSetLinkValue, newStruct, SimulationServer.SetLinkValue),
		unary(MethodGetReport, newStruct, SimulationServer.GetReport),
		unary(MethodGetEnergy, newStruct, SimulationServer.GetEnergy),
		unary(MethodErrorMessage, newStruct, SimulationServer.ErrorMessage),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: ProtoFile,
}
