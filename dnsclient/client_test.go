package dnsclient_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/outline-sdk-contrib/ostrich-gateway/dnsclient"
	"github.com/stretchr/testify/require"
)

func TestLookupHostIPLiteral(t *testing.T) {
	c, err := dnsclient.New(nil, nil, 0, 0)
	require.NoError(t, err)
	ips, err := c.LookupHost(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	require.Equal(t, net.ParseIP("127.0.0.1"), ips[0])
}

func TestLookupHostStaticOverride(t *testing.T) {
	c, err := dnsclient.New(nil, map[string]string{"router.local": "192.168.1.1"}, 0, 0)
	require.NoError(t, err)
	ips, err := c.LookupHost(context.Background(), "Router.Local")
	require.NoError(t, err)
	require.Equal(t, net.ParseIP("192.168.1.1"), ips[0])
}

func TestLookupHostNoServersErrors(t *testing.T) {
	c, err := dnsclient.New(nil, nil, 0, 50*time.Millisecond)
	require.NoError(t, err)
	_, err = c.LookupHost(context.Background(), "example.com")
	require.Error(t, err)
}

func TestSetDispatcherNilClears(t *testing.T) {
	c, err := dnsclient.New(nil, nil, 0, 0)
	require.NoError(t, err)
	// Should not panic even with nothing installed yet.
	c.SetDispatcher(nil)
}
