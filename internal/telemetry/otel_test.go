package telemetry

import (
	"context"
	"testing"
)

func TestSetupIsNoopWithoutEndpoint(t *testing.T) {
	t.Setenv(EnvEndpoint, "")
	t.Setenv(EnvEnabled, "")

	shutdown, err := Setup(context.Background(), "agentcoord-test")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}

func TestSetupIsNoopWhenDisabled(t *testing.T) {
	t.Setenv(EnvEndpoint, "http://localhost:4318")
	t.Setenv(EnvEnabled, "false")

	shutdown, err := Setup(context.Background(), "agentcoord-test")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupInstallsProvider(t *testing.T) {
	// 192.0.2.0/24 is reserved for documentation and never routes.
	t.Setenv(EnvEndpoint, "http://192.0.2.1:4318")
	t.Setenv(EnvEnabled, "")

	shutdown, err := Setup(context.Background(), "agentcoord-test")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
