package natmanager_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/outline-sdk-contrib/ostrich-gateway/natmanager"
	"github.com/stretchr/testify/require"
)

// fakeUplink is an in-memory Uplink that echoes back whatever is written
// to it, letting tests exercise the downlink goroutine without a socket.
type fakeUplink struct {
	mu     sync.Mutex
	closed bool
	inbox  chan []byte
	peer   net.Addr
}

func newFakeUplink(peer net.Addr) *fakeUplink {
	return &fakeUplink{inbox: make(chan []byte, 8), peer: peer}
}

func (f *fakeUplink) WriteTo(payload []byte, dest net.Addr) (int, error) {
	cp := append([]byte(nil), payload...)
	f.inbox <- cp
	return len(payload), nil
}

func (f *fakeUplink) ReadFrom(buf []byte) (int, net.Addr, error) {
	pkt, ok := <-f.inbox
	if !ok {
		return 0, nil, net.ErrClosed
	}
	n := copy(buf, pkt)
	return n, f.peer, nil
}

func (f *fakeUplink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbox)
	}
	return nil
}

func TestGetOrCreateReusesEntry(t *testing.T) {
	m := natmanager.New(context.Background(), time.Minute)
	client := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1111}
	dest := &net.UDPAddr{IP: net.ParseIP("8.8.8.8"), Port: 53}

	var calls int
	newUplink := func(context.Context) (natmanager.Uplink, error) {
		calls++
		return newFakeUplink(dest), nil
	}
	write := func(payload []byte, from net.Addr) error { return nil }

	u1, err := m.GetOrCreate(context.Background(), client, dest, newUplink, write)
	require.NoError(t, err)
	u2, err := m.GetOrCreate(context.Background(), client, dest, newUplink, write)
	require.NoError(t, err)

	require.Equal(t, 1, calls)
	require.Same(t, u1, u2)
	require.Equal(t, 1, m.Len())
}

func TestDownlinkRelaysReplies(t *testing.T) {
	m := natmanager.New(context.Background(), time.Minute)
	client := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2222}
	dest := &net.UDPAddr{IP: net.ParseIP("8.8.8.8"), Port: 53}

	received := make(chan []byte, 1)
	newUplink := func(context.Context) (natmanager.Uplink, error) {
		return newFakeUplink(dest), nil
	}
	write := func(payload []byte, from net.Addr) error {
		received <- payload
		return nil
	}

	uplink, err := m.GetOrCreate(context.Background(), client, dest, newUplink, write)
	require.NoError(t, err)

	_, err = uplink.WriteTo([]byte("hello"), dest)
	require.NoError(t, err)

	select {
	case got := <-received:
		require.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for downlink relay")
	}
}

func TestRemoveEvictsEntry(t *testing.T) {
	m := natmanager.New(context.Background(), time.Minute)
	client := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 3333}
	dest := &net.UDPAddr{IP: net.ParseIP("8.8.8.8"), Port: 53}

	newUplink := func(context.Context) (natmanager.Uplink, error) {
		return newFakeUplink(dest), nil
	}
	write := func(payload []byte, from net.Addr) error { return nil }

	_, err := m.GetOrCreate(context.Background(), client, dest, newUplink, write)
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())

	m.Remove(client, dest)
	require.Equal(t, 0, m.Len())
}
