package rpc

import (
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

func fullName(t reflect.Type) protoreflect.FullName {
	m := reflect.New(t.Elem()).Interface().(proto.Message)
	return m.ProtoReflect().Descriptor().FullName()
}

func TestServiceDescriptorMatchesServer(t *testing.T) {
	sd, err := ServiceDescriptor()
	require.NoError(t, err)
	assert.Equal(t, protoreflect.FullName(ServiceName), sd.FullName())
	assert.Equal(t, ProtoFile, sd.ParentFile().Path())
	assert.Equal(t, ProtoFile, SimulationServiceDesc.Metadata)

	methods := sd.Methods()
	require.Equal(t, len(SimulationServiceDesc.Methods), methods.Len())
	server := reflect.TypeOf((*SimulationServer)(nil)).Elem()
	for i, md := range SimulationServiceDesc.Methods {
		m := methods.Get(i)
		assert.Equal(t, md.MethodName, string(m.Name()))

		fn, ok := server.MethodByName(md.MethodName)
		require.True(t, ok, "SimulationServer lacks %s", md.MethodName)
		assert.Equal(t, fullName(fn.Type.In(1)), m.Input().FullName(), "%s request", md.MethodName)
		assert.Equal(t, fullName(fn.Type.Out(0)), m.Output().FullName(), "%s response", md.MethodName)
	}
}

func TestProtoFileMatchesDescriptor(t *testing.T) {
	src, err := os.ReadFile(filepath.Join("..", "..", "api", "proto", filepath.FromSlash(ProtoFile)))
	require.NoError(t, err)

	rpcLine := regexp.MustCompile(`rpc (\w+)\(([\w.]+)\) returns \(([\w.]+)\);`)
	found := rpcLine.FindAllStringSubmatch(string(src), -1)

	sd, err := ServiceDescriptor()
	require.NoError(t, err)
	methods := sd.Methods()
	require.Len(t, found, methods.Len())
	for i, f := range found {
		m := methods.Get(i)
		assert.Equal(t, string(m.Name()), f[1])
		assert.Equal(t, string(m.Input().FullName()), f[2], "%s request", f[1])
		assert.Equal(t, string(m.Output().FullName()), f[3], "%s response", f[1])
	}
	assert.Contains(t, string(src), "package "+string(sd.ParentFile().Package())+";")
}
