package server

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func testServer(t *testing.T, cfg Config) (*Server, healthpb.HealthClient) {
	t.Helper()
	srv := New(cfg)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, healthpb.NewHealthClient(conn)
}

func status(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func waitFor(t *testing.T, c healthpb.HealthClient, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		return err == nil && resp.GetStatus() == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServingWhenChecksPass(t *testing.T) {
	_, client := testServer(t, Config{Checks: map[string]Check{
		"audit": func(context.Context) error { return nil },
	}})

	waitFor(t, client, healthpb.HealthCheckResponse_SERVING)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, client, ""))
}

func TestNotServingWhenCheckFails(t *testing.T) {
	srv, client := testServer(t, Config{Checks: map[string]Check{
		"audit":      func(context.Context) error { return nil },
		"credential": func(context.Context) error { return errors.New("installation token unavailable") },
	}})

	waitFor(t, client, healthpb.HealthCheckResponse_NOT_SERVING)
	assert.Equal(t, map[string]string{"audit": "ok", "credential": "installation token unavailable"}, srv.Results())
}

func TestProbeRecovers(t *testing.T) {
	var healthy atomic.Bool
	_, client := testServer(t, Config{
		Interval: 20 * time.Millisecond,
		Checks: map[string]Check{
			"credential": func(context.Context) error {
				if healthy.Load() {
					return nil
				}
				return errors.New("not primed")
			},
		},
	})

	waitFor(t, client, healthpb.HealthCheckResponse_NOT_SERVING)
	healthy.Store(true)
	waitFor(t, client, healthpb.HealthCheckResponse_SERVING)
}

func TestProbeWithoutChecksIsServing(t *testing.T) {
	srv := New(Config{})
	assert.True(t, srv.Probe(context.Background()))
	assert.Empty(t, srv.Results())
}
