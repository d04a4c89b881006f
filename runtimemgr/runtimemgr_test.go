package runtimemgr

import (
	"context"
	"testing"
	"time"

	"github.com/outline-sdk-contrib/ostrich-gateway/config"
	"github.com/outline-sdk-contrib/ostrich-gateway/inbound"
	"github.com/stretchr/testify/require"
)

// blockingInbound is a fake inbound.Handler whose Serve loop just waits
// for cancellation, standing in for a real listener socket so the
// runtime stays "running" until Shutdown, rather than finishing
// instantly the way a config with zero inbounds would.
type blockingInbound struct {
	tag string
}

func (h *blockingInbound) Tag() string      { return h.tag }
func (h *blockingInbound) Protocol() string { return "runtimemgrtest" }
func (h *blockingInbound) Serve(ctx context.Context, acc inbound.Acceptor) error {
	<-ctx.Done()
	return nil
}

func init() {
	inbound.Register("runtimemgrtest", func(tag string, settings map[string]any, deps inbound.Deps) (inbound.Handler, error) {
		return &blockingInbound{tag: tag}, nil
	})
}

func testConfig() *config.Config {
	return &config.Config{
		Log: config.LogConfig{Level: "error"},
		Inbounds: []config.HandlerConfig{
			{Tag: "in", Protocol: "runtimemgrtest"},
		},
		Router: config.RouterConfig{
			Default: "direct",
		},
	}
}

func TestStartRejectsDuplicateID(t *testing.T) {
	m := New()
	cfg := testConfig()

	rt, err := m.Start(context.Background(), "a", cfg)
	require.NoError(t, err)
	defer m.Shutdown("a")

	_, err = m.Start(context.Background(), "a", cfg)
	require.Error(t, err)
	require.True(t, m.IsRunning("a"))
	require.NotNil(t, rt)
}

func TestShutdownUnknownIDReturnsFalse(t *testing.T) {
	m := New()
	require.False(t, m.Shutdown("nonexistent"))
}

func TestShutdownStopsRuntimeAndFreesID(t *testing.T) {
	m := New()
	cfg := testConfig()

	_, err := m.Start(context.Background(), "b", cfg)
	require.NoError(t, err)
	require.True(t, m.IsRunning("b"))

	require.True(t, m.Shutdown("b"))
	require.False(t, m.IsRunning("b"))

	// Restarting under the same id should now succeed.
	_, err = m.Start(context.Background(), "b", cfg)
	require.NoError(t, err)
	require.True(t, m.Shutdown("b"))
}

func TestDefaultInstanceIDUsedWhenEmpty(t *testing.T) {
	m := New()
	cfg := testConfig()

	_, err := m.Start(context.Background(), "", cfg)
	require.NoError(t, err)
	require.True(t, m.IsRunning(DefaultInstanceID))
	require.True(t, m.Shutdown(""))
}

func TestRuntimeDoneClosesAfterShutdown(t *testing.T) {
	m := New()
	cfg := testConfig()

	rt, err := m.Start(context.Background(), "c", cfg)
	require.NoError(t, err)
	m.Shutdown("c")

	select {
	case <-rt.Done():
	case <-time.After(time.Second):
		t.Fatal("runtime did not finish after shutdown")
	}
}
