package shadowsocks

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeAddrThenReadAddrRoundTripsIPv4(t *testing.T) {
	b, err := encodeAddr("1.2.3.4:53")
	require.NoError(t, err)

	dest, payload, err := parseAddrFromBytes(append(b, []byte("payload")...))
	require.NoError(t, err)
	require.Equal(t, "1.2.3.4:53", dest)
	require.Equal(t, "payload", string(payload))
}

func TestEncodeAddrThenReadAddrRoundTripsDomainName(t *testing.T) {
	b, err := encodeAddr("example.com:443")
	require.NoError(t, err)

	dest, payload, err := parseAddrFromBytes(append(b, []byte("req")...))
	require.NoError(t, err)
	require.Equal(t, "example.com:443", dest)
	require.Equal(t, "req", string(payload))
}

func TestEncodeAddrThenReadAddrRoundTripsIPv6(t *testing.T) {
	b, err := encodeAddr("[::1]:8080")
	require.NoError(t, err)

	dest, _, err := parseAddrFromBytes(b)
	require.NoError(t, err)
	require.Equal(t, "[::1]:8080", dest)
}

func TestEncodeAddrRejectsMissingPort(t *testing.T) {
	_, err := encodeAddr("example.com")
	require.Error(t, err)
}
