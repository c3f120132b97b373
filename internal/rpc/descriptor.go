package rpc

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoFile is the path of the service definition under api/proto. The
// descriptor built from it is registered in protoregistry.GlobalFiles so
// that server reflection can describe the service.
const ProtoFile = "pipenet/engine/v1/simulation.proto"

type methodSignature struct {
	name    string
	in, out proto.Message
}

// signatures lists the request and response message of each method, in
// declaration order.
var signatures = []methodSignature{
	{MethodOpenSession, newStruct(), newStruct()},
	{MethodCloseSession, newStruct(), newEmpty()},
	{MethodListSessions, newEmpty(), newStruct()},
	{MethodSolveHydraulics, newStruct(), newStruct()},
	{MethodSolveQuality, newStruct(), newStruct()},
	{MethodStepHydraulics, newStruct(), newStruct()},
	{MethodStepQuality, newStruct(), newStruct()},
	{MethodGetNodeValue, newStruct(), newStruct()},
	{MethodSetNodeValue, newStruct(), newEmpty()},
	{MethodGetLinkValue, newStruct(), newStruct()},
	{MethodSetLinkValue, newStruct(), newEmpty()},
	{MethodGetReport, newStruct(), newStruct()},
	{MethodGetEnergy, newStruct(), newStruct()},
	{MethodErrorMessage, newStruct(), newStruct()},
}

func init() {
	fd, err := buildFileDescriptor()
	if err != nil {
		panic(fmt.Sprintf("rpc: build %s: %v", ProtoFile, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("rpc: register %s: %v", ProtoFile, err))
	}
}

func messageName(m proto.Message) *string {
	return proto.String("." + string(m.ProtoReflect().Descriptor().FullName()))
}

func buildFileDescriptor() (protoreflect.FileDescriptor, error) {
	svc := &descriptorpb.ServiceDescriptorProto{Name: proto.String("SimulationService")}
	for _, sig := range signatures {
		svc.Method = append(svc.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(sig.name),
			InputType:  messageName(sig.in),
			OutputType: messageName(sig.out),
		})
	}
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String(ProtoFile),
		Package: proto.String("pipenet.engine.v1"),
		Dependency: []string{
			emptypb.File_google_protobuf_empty_proto.Path(),
			structpb.File_google_protobuf_struct_proto.Path(),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{svc},
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String("github.com/signalsfoundry/pipenet-simulator/internal/rpc"),
		},
		Syntax: proto.String("proto3"),
	}
	return protodesc.NewFile(file, protoregistry.GlobalFiles)
}

// ServiceDescriptor returns the registered descriptor of SimulationService.
func ServiceDescriptor() (protoreflect.ServiceDescriptor, error) {
	d, err := protoregistry.GlobalFiles.FindDescriptorByName(ServiceName)
	if err != nil {
		return nil, err
	}
	sd, ok := d.(protoreflect.ServiceDescriptor)
	if !ok {
		return nil, fmt.Errorf("%s is a %T, not a service", ServiceName, d)
	}
	return sd, nil
}
