package router_test

import (
	"context"
	"net"
	"testing"

	"github.com/outline-sdk-contrib/ostrich-gateway/config"
	"github.com/outline-sdk-contrib/ostrich-gateway/geoip"
	"github.com/outline-sdk-contrib/ostrich-gateway/router"
	"github.com/outline-sdk-contrib/ostrich-gateway/session"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	ips map[string][]net.IP
	err error
}

func (f *fakeResolver) LookupHost(ctx context.Context, host string) ([]net.IP, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ips[host], nil
}

func TestRouteDomainSuffix(t *testing.T) {
	r, err := router.New(config.RouterConfig{
		Default: "direct",
		Rules: []config.RuleConfig{
			{Type: "domain-suffix", Values: []string{"example.com"}, Outbound: "proxy"},
		},
	}, nil, geoip.New())
	require.NoError(t, err)

	sess := session.New(context.Background(), "in", "www.example.com:443", nil)
	tag, err := r.Route(context.Background(), sess)
	require.NoError(t, err)
	require.Equal(t, "proxy", tag)
}

func TestRouteFallsBackToDefault(t *testing.T) {
	r, err := router.New(config.RouterConfig{
		Default: "direct",
		Rules: []config.RuleConfig{
			{Type: "domain-suffix", Values: []string{"example.com"}, Outbound: "proxy"},
		},
	}, nil, geoip.New())
	require.NoError(t, err)

	sess := session.New(context.Background(), "in", "other.org:443", nil)
	tag, err := r.Route(context.Background(), sess)
	require.NoError(t, err)
	require.Equal(t, "direct", tag)
}

func TestRouteIPCIDRNeedsResolution(t *testing.T) {
	resolver := &fakeResolver{ips: map[string][]net.IP{"blocked.test": {net.ParseIP("10.0.0.5")}}}
	r, err := router.New(config.RouterConfig{
		Default: "direct",
		Rules: []config.RuleConfig{
			{Type: "ip-cidr", Values: []string{"10.0.0.0/8"}, Outbound: "blackhole"},
		},
	}, resolver, geoip.New())
	require.NoError(t, err)

	sess := session.New(context.Background(), "in", "blocked.test:80", nil)
	tag, err := r.Route(context.Background(), sess)
	require.NoError(t, err)
	require.Equal(t, "blackhole", tag)
}

func TestRouteFallsThroughOnResolutionFailure(t *testing.T) {
	resolver := &fakeResolver{err: net.UnknownNetworkError("no such host")}
	r, err := router.New(config.RouterConfig{
		Default: "direct",
		Rules: []config.RuleConfig{
			{Type: "ip-cidr", Values: []string{"10.0.0.0/8"}, Outbound: "blackhole"},
		},
	}, resolver, geoip.New())
	require.NoError(t, err)

	sess := session.New(context.Background(), "in", "unresolvable.test:80", nil)
	tag, err := r.Route(context.Background(), sess)
	require.NoError(t, err)
	require.Equal(t, "direct", tag)
}

func TestRouteNoDefaultErrors(t *testing.T) {
	r, err := router.New(config.RouterConfig{}, nil, geoip.New())
	require.NoError(t, err)

	sess := session.New(context.Background(), "in", "anything.test:80", nil)
	_, err = r.Route(context.Background(), sess)
	require.Error(t, err)
}

func TestRouteInboundTag(t *testing.T) {
	r, err := router.New(config.RouterConfig{
		Default: "direct",
		Rules: []config.RuleConfig{
			{Type: "inbound-tag", Values: []string{"tun-in"}, Outbound: "vpn-exit"},
		},
	}, nil, geoip.New())
	require.NoError(t, err)

	sess := session.New(context.Background(), "tun-in", "anything.test:80", nil)
	tag, err := r.Route(context.Background(), sess)
	require.NoError(t, err)
	require.Equal(t, "vpn-exit", tag)
}
