package trojan

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteHeaderThenReadHeaderRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeHeader(&buf, "hunter2", cmdConnect, "example.com:443"))

	cmd, dest, err := readHeader(bufio.NewReader(&buf), hashPassword("hunter2"))
	require.NoError(t, err)
	require.Equal(t, byte(cmdConnect), cmd)
	require.Equal(t, "example.com:443", dest)
}

func TestReadHeaderRejectsWrongPassword(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeHeader(&buf, "hunter2", cmdConnect, "example.com:443"))

	_, _, err := readHeader(bufio.NewReader(&buf), hashPassword("wrong"))
	require.Error(t, err)
}

func TestWriteHeaderEncodesIPv4Destination(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeHeader(&buf, "p", cmdUDP, "1.2.3.4:53"))

	cmd, dest, err := readHeader(bufio.NewReader(&buf), hashPassword("p"))
	require.NoError(t, err)
	require.Equal(t, byte(cmdUDP), cmd)
	require.Equal(t, "1.2.3.4:53", dest)
}

func TestUDPRecordRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeUDPRecord(&buf, "8.8.8.8:53", []byte("query")))

	dest, payload, err := readUDPRecord(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, "8.8.8.8:53", dest)
	require.Equal(t, "query", string(payload))
}

func TestUDPRecordRoundTripsDomainName(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeUDPRecord(&buf, "example.com:80", []byte("req")))

	dest, payload, err := readUDPRecord(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, "example.com:80", dest)
	require.Equal(t, "req", string(payload))
}

func TestHashPasswordIsHex56Chars(t *testing.T) {
	h := hashPassword("secret")
	require.Len(t, h, 56)
	for _, c := range h {
		require.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'))
	}
}
