package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/signalsfoundry/pipenet-simulator/internal/logging"
	sim "github.com/signalsfoundry/pipenet-simulator/internal/sim/state"
	"github.com/signalsfoundry/pipenet-simulator/model"
)

const twoHourNet = `
options:
  units: cfs
times:
  duration: "2:00"
  hydraulic_step: "1:00"
junctions:
  - {id: J1, elevation: 0, demand: 1}
reservoirs:
  - {id: R1, head: 100}
pipes:
  - {id: P1, from: R1, to: J1, length: 1000, diameter: 12, roughness: 100}
`

const traceNet = `
options:
  units: cfs
  quality:
    type: trace
    trace_node: R1
times:
  duration: "6:00"
  hydraulic_step: "1:00"
  quality_step: 60s
junctions:
  - {id: J1, elevation: 0}
  - {id: J2, elevation: 0, demand: 3}
reservoirs:
  - {id: R1, head: 100}
  - {id: R2, head: 100}
pipes:
  - {id: P1, from: R1, to: J1, length: 1000, diameter: 12, roughness: 100}
  - {id: P2, from: R2, to: J1, length: 3000, diameter: 10, roughness: 100}
  - {id: P3, from: J1, to: J2, length: 500, diameter: 12, roughness: 100}
`

type rpcTestEnv struct {
	ctx      context.Context
	registry *sim.Registry
	client   *Client
	conn     *grpc.ClientConn
}

func newRPCTestEnv(t *testing.T, opts ...sim.Option) *rpcTestEnv {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	registry := sim.NewRegistry(logging.Noop(), opts...)
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RequestIDUnaryServerInterceptor(logging.Noop()),
		TracingUnaryServerInterceptor(),
	))
	RegisterSimulationServer(server, NewSimulationService(registry, logging.Noop()))
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &rpcTestEnv{ctx: ctx, registry: registry, client: NewClient(conn), conn: conn}
}

func requireCode(t *testing.T, err error, code codes.Code, engine int) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, status.Code(err), "status: %v", err)
	assert.Equal(t, engine, CodeFromStatus(err), "engine code: %v", err)
}

func TestSessionLifecycleOverGRPC(t *testing.T) {
	env := newRPCTestEnv(t)

	id, err := env.client.OpenSession(env.ctx, twoHourNet, "tiny")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sessions, err := env.client.ListSessions(env.ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0]["session_id"])
	assert.Equal(t, "tiny", sessions[0]["name"])

	require.NoError(t, env.client.CloseSession(env.ctx, id))
	assert.Zero(t, env.registry.Len())

	err = env.client.CloseSession(env.ctx, id)
	requireCode(t, err, codes.NotFound, 0)
}

func TestStepHydraulicsWalksTheRun(t *testing.T) {
	env := newRPCTestEnv(t)
	id, err := env.client.OpenSession(env.ctx, twoHourNet, "")
	require.NoError(t, err)

	var times []int64
	for i := 0; i < 10; i++ {
		st, err := env.client.StepHydraulics(env.ctx, id)
		require.NoError(t, err)
		assert.Positive(t, st.Iterations)
		times = append(times, st.Time)
		if st.Done {
			break
		}
		assert.EqualValues(t, 3600, st.Step)
	}
	assert.Equal(t, []int64{0, 3600, 7200}, times)

	flow, err := env.client.LinkValue(env.ctx, id, "P1", model.LinkFlow)
	require.NoError(t, err)
	assert.InDelta(t, 1, flow, 1e-6)

	report, err := env.client.Report(env.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "series", report["statistic"])
	assert.Len(t, report["periods"], 3)
}

func TestSolveQualityAndReport(t *testing.T) {
	env := newRPCTestEnv(t)
	id, err := env.client.OpenSession(env.ctx, traceNet, "trace")
	require.NoError(t, err)

	require.NoError(t, env.client.SolveHydraulics(env.ctx, id))
	require.NoError(t, env.client.SolveQuality(env.ctx, id))

	q, err := env.client.NodeValue(env.ctx, id, "J2", model.NodeQuality)
	require.NoError(t, err)
	assert.Greater(t, q, 0.0)
	assert.LessOrEqual(t, q, 100.0+1e-9)

	report, err := env.client.Report(env.ctx, id)
	require.NoError(t, err)
	periods := report["periods"].([]any)
	last := periods[len(periods)-1].(map[string]any)
	assert.EqualValues(t, 6*3600, last["time"])
	j2 := last["nodes"].(map[string]any)["J2"].(map[string]any)
	assert.InDelta(t, q, j2["quality"], 1e-6)
}

func TestStepQualityAfterSavedHydraulics(t *testing.T) {
	env := newRPCTestEnv(t)
	id, err := env.client.OpenSession(env.ctx, traceNet, "")
	require.NoError(t, err)

	_, err = env.client.StepQuality(env.ctx, id)
	requireCode(t, err, codes.FailedPrecondition, 104)

	require.NoError(t, env.client.SolveHydraulics(env.ctx, id))
	var last Step
	for i := 0; i < 100; i++ {
		last, err = env.client.StepQuality(env.ctx, id)
		require.NoError(t, err)
		if last.Done {
			break
		}
	}
	assert.True(t, last.Done)
	assert.EqualValues(t, 6*3600, last.Time)
}

func TestValueAccessorsAndErrors(t *testing.T) {
	env := newRPCTestEnv(t)
	id, err := env.client.OpenSession(env.ctx, twoHourNet, "")
	require.NoError(t, err)

	require.NoError(t, env.client.SetNodeValue(env.ctx, id, "J1", model.NodeBaseDemand, 2))
	d, err := env.client.NodeValue(env.ctx, id, "J1", model.NodeBaseDemand)
	require.NoError(t, err)
	assert.InDelta(t, 2, d, 1e-9)

	require.NoError(t, env.client.SetLinkValue(env.ctx, id, "P1", model.LinkDiameter, 10))
	dia, err := env.client.LinkValue(env.ctx, id, "P1", model.LinkDiameter)
	require.NoError(t, err)
	assert.InDelta(t, 10, dia, 1e-9)

	_, err = env.client.NodeValue(env.ctx, id, "nope", model.NodeElevation)
	requireCode(t, err, codes.NotFound, 203)
	_, err = env.client.NodeValue(env.ctx, id, "J1", model.NodeHead)
	requireCode(t, err, codes.FailedPrecondition, 104)
	err = env.client.SetLinkValue(env.ctx, id, "P1", model.LinkLength, 0)
	requireCode(t, err, codes.InvalidArgument, 202)
	_, err = env.client.Report(env.ctx, id)
	requireCode(t, err, codes.FailedPrecondition, 106)

	_, err = env.client.StepHydraulics(env.ctx, "missing")
	requireCode(t, err, codes.NotFound, 0)
	_, err = env.client.OpenSession(env.ctx, "junctions: [", "")
	requireCode(t, err, codes.InvalidArgument, 200)

	msg, err := env.client.ErrorMessage(env.ctx, 203)
	require.NoError(t, err)
	assert.NotEmpty(t, msg)
}

func TestMalformedRequests(t *testing.T) {
	env := newRPCTestEnv(t)

	_, err := env.client.call(env.ctx, MethodGetNodeValue, map[string]any{"node": "J1", "param": 0})
	requireCode(t, err, codes.InvalidArgument, 0)

	id, err := env.client.OpenSession(env.ctx, twoHourNet, "")
	require.NoError(t, err)
	_, err = env.client.call(env.ctx, MethodGetNodeValue, map[string]any{"session_id": id, "node": "J1", "param": 1.5})
	requireCode(t, err, codes.InvalidArgument, 0)
	_, err = env.client.call(env.ctx, MethodGetNodeValue, map[string]any{"session_id": id, "node": "J1"})
	requireCode(t, err, codes.InvalidArgument, 0)
}

func TestSessionLimitOverGRPC(t *testing.T) {
	env := newRPCTestEnv(t, sim.WithLimit(1))
	_, err := env.client.OpenSession(env.ctx, twoHourNet, "")
	require.NoError(t, err)
	_, err = env.client.OpenSession(env.ctx, twoHourNet, "")
	requireCode(t, err, codes.ResourceExhausted, 0)
}

func TestRequestIDFromMetadata(t *testing.T) {
	var seen string
	interceptor := RequestIDUnaryServerInterceptor(logging.Noop())
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-request-id", "req-42"))
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/" + MethodListSessions},
		func(ctx context.Context, req any) (any, error) {
			seen = logging.RequestIDFromContext(ctx)
			if logging.LoggerFromContext(ctx) == nil {
				t.Fatalf("no request logger on context")
			}
			return nil, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "req-42", seen)
}
