package main

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"

	"github.com/signalsfoundry/pipenet-simulator/internal/config"
	"github.com/signalsfoundry/pipenet-simulator/internal/logging"
	"github.com/signalsfoundry/pipenet-simulator/internal/publish"
	"github.com/signalsfoundry/pipenet-simulator/internal/rpc"
	"github.com/signalsfoundry/pipenet-simulator/kb"
	"github.com/signalsfoundry/pipenet-simulator/model"
)

const smokeNetwork = `
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

func startServer(t *testing.T, cfg *config.Config) (context.Context, *grpc.ClientConn, <-chan error, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	serverCtx, stopServer := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(serverCtx, cfg, logging.Noop(), lis)
	}()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return ctx, conn, errCh, stopServer
}

func waitStopped(t *testing.T, errCh <-chan error) {
	t.Helper()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}
}

func TestEngineServerStartupSmoke(t *testing.T) {
	cfg := config.Default()
	cfg.Server.MaxSessions = 1
	ctx, conn, errCh, stop := startServer(t, cfg)

	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: rpc.ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if health.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health status = %v", health.GetStatus())
	}

	client := rpc.NewClient(conn)
	id, err := client.OpenSession(ctx, smokeNetwork, "smoke")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if _, err := client.OpenSession(ctx, smokeNetwork, "second"); err == nil {
		t.Fatalf("second session opened past the limit")
	}
	if err := client.SolveHydraulics(ctx, id); err != nil {
		t.Fatalf("SolveHydraulics: %v", err)
	}
	p, err := client.NodeValue(ctx, id, "J1", model.NodePressure)
	if err != nil {
		t.Fatalf("NodeValue: %v", err)
	}
	if p <= 0 || p >= 100 {
		t.Fatalf("J1 pressure = %v, want between 0 and 100", p)
	}

	stop()
	waitStopped(t, errCh)
}

func TestEngineServerPublishesSteps(t *testing.T) {
	url := "inproc://engine-server-steps"
	cfg := config.Default()
	cfg.Publish.Enabled = true
	cfg.Publish.URL = url
	ctx, conn, errCh, stop := startServer(t, cfg)
	client := rpc.NewClient(conn)

	// The publisher binds once run has started; retry until it is up.
	var sub *publish.Subscriber
	deadline := time.Now().Add(5 * time.Second)
	for {
		var err error
		sub, err = publish.Subscribe(url, "")
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Subscribe: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	defer sub.Close()
	// Wait for the server to accept calls so the subscription is settled.
	if _, err := client.ListSessions(ctx); err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	id, err := client.OpenSession(ctx, smokeNetwork, "published")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	step, err := client.StepHydraulics(ctx, id)
	if err != nil {
		t.Fatalf("StepHydraulics: %v", err)
	}
	if step.Iterations == 0 {
		t.Fatalf("step = %+v, want a solved step", step)
	}

	ev, err := sub.Recv(2 * time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if ev.Session != id || ev.Phase != "hydraulic" {
		t.Fatalf("event = %+v, want a hydraulic step of %s", ev, id)
	}

	stop()
	waitStopped(t, errCh)
}

func TestEngineHookAppliesOverrides(t *testing.T) {
	hook := engineHook(config.EngineConfig{
		Trials:          7,
		Accuracy:        0.01,
		Unbalanced:      "continue",
		ExtraTrials:     3,
		SegmentCapacity: 64,
	})
	nw := kb.NewNetwork()
	hook(nw)

	if nw.Options.Trials != 7 || nw.Options.Accuracy != 0.01 {
		t.Fatalf("trials/accuracy = %d/%g, want 7/0.01", nw.Options.Trials, nw.Options.Accuracy)
	}
	if nw.Options.ExtraTrials != 3 {
		t.Fatalf("ExtraTrials = %d, want 3", nw.Options.ExtraTrials)
	}
	if nw.Options.Quality.SegmentCapacity != 64 {
		t.Fatalf("SegmentCapacity = %d, want 64", nw.Options.Quality.SegmentCapacity)
	}

	untouched := kb.NewNetwork()
	engineHook(config.EngineConfig{})(untouched)
	if untouched.Options.Trials != model.DefaultOptions().Trials {
		t.Fatalf("zero config changed Trials to %d", untouched.Options.Trials)
	}
}

func TestEngineServerDescribesServiceByReflection(t *testing.T) {
	ctx, conn, errCh, stop := startServer(t, config.Default())

	stream, err := reflectionpb.NewServerReflectionClient(conn).ServerReflectionInfo(ctx)
	if err != nil {
		t.Fatalf("ServerReflectionInfo: %v", err)
	}
	if err := stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_ListServices{},
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	resp, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	listed := false
	for _, svc := range resp.GetListServicesResponse().GetService() {
		if svc.GetName() == rpc.ServiceName {
			listed = true
		}
	}
	if !listed {
		t.Fatalf("services %v do not include %s", resp.GetListServicesResponse().GetService(), rpc.ServiceName)
	}

	if err := stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: rpc.ServiceName},
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	resp, err = stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if len(resp.GetFileDescriptorResponse().GetFileDescriptorProto()) == 0 {
		t.Fatalf("no descriptor for %s: %v", rpc.ServiceName, resp.GetErrorResponse())
	}
	_ = stream.CloseSend()

	stop()
	waitStopped(t, errCh)
}
