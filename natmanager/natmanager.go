// Package natmanager implements the gateway's UDP NAT table: a
// (client-addr, dest-addr) keyed map to an outbound datagram endpoint,
// with idle eviction and a per-entry downlink reader goroutine that
// relays replies back to the client.
//
// Grounded on the teacher's transport/socks5/packet_listener.go, which
// owns a PacketConn, reads from it in a loop and writes what comes back
// to a fixed peer — generalized here from a single flow to a keyed table
// of many concurrent flows, each with its own cancellable downlink task.
package natmanager

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultIdleTimeout is the idle eviction window spec.md names (2 min).
const DefaultIdleTimeout = 2 * time.Minute

// Uplink is a minimal net.PacketConn-like surface the outbound handler
// provides for a single NAT entry: write a datagram to dest, read
// whatever comes back.
type Uplink interface {
	WriteTo(payload []byte, dest net.Addr) (int, error)
	ReadFrom(buf []byte) (int, net.Addr, error)
	Close() error
}

// DownlinkWriter sends a datagram back to the original client; from is
// the upstream address the reply was read from.
type DownlinkWriter func(payload []byte, from net.Addr) error

type entryKey struct {
	client string
	dest   string
}

type entry struct {
	uplink     Uplink
	lastActive atomic.Int64 // UnixNano, updated on every packet
	cancel     context.CancelFunc
}

func (e *entry) touch() {
	e.lastActive.Store(time.Now().UnixNano())
}

func (e *entry) lastActiveTime() time.Time {
	return time.Unix(0, e.lastActive.Load())
}

// Manager owns the NAT table. Reads/writes to the table go through a
// sync.Map as spec.md §4.5/§5 specifies, since entries churn often enough
// that a single RWMutex would serialize unrelated flows.
type Manager struct {
	table       sync.Map // entryKey -> *entry
	idleTimeout time.Duration
	reaperDone  chan struct{}
}

// New builds a Manager and starts its background reaper goroutine, tied
// to ctx's cancellation for shutdown.
func New(ctx context.Context, idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	m := &Manager{idleTimeout: idleTimeout, reaperDone: make(chan struct{})}
	go m.reap(ctx)
	return m
}

// GetOrCreate returns the existing entry's uplink for (client, dest), or
// calls newUplink to create one and starts its downlink reader goroutine
// writing replies back via write.
func (m *Manager) GetOrCreate(ctx context.Context, client, dest net.Addr, newUplink func(context.Context) (Uplink, error), write DownlinkWriter) (Uplink, error) {
	key := entryKey{client: client.String(), dest: dest.String()}
	if v, ok := m.table.Load(key); ok {
		e := v.(*entry)
		e.touch()
		return e.uplink, nil
	}

	uplink, err := newUplink(ctx)
	if err != nil {
		return nil, err
	}
	entryCtx, cancel := context.WithCancel(ctx)
	e := &entry{uplink: uplink, cancel: cancel}
	e.touch()

	actual, loaded := m.table.LoadOrStore(key, e)
	if loaded {
		// Lost the race; discard our uplink and use the winner's.
		cancel()
		uplink.Close()
		winner := actual.(*entry)
		winner.touch()
		return winner.uplink, nil
	}

	go m.downlink(entryCtx, key, e, write)
	return uplink, nil
}

// Remove evicts the entry for (client, dest), closing its uplink.
func (m *Manager) Remove(client, dest net.Addr) {
	key := entryKey{client: client.String(), dest: dest.String()}
	if v, ok := m.table.LoadAndDelete(key); ok {
		e := v.(*entry)
		e.cancel()
		e.uplink.Close()
	}
}

// Len reports the current number of live NAT entries, used by tests and
// the resource-exhaustion guard.
func (m *Manager) Len() int {
	n := 0
	m.table.Range(func(_, _ any) bool { n++; return true })
	return n
}

func (m *Manager) downlink(ctx context.Context, key entryKey, e *entry, write DownlinkWriter) {
	buf := make([]byte, 16*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, from, err := e.uplink.ReadFrom(buf)
		if err != nil {
			m.table.CompareAndDelete(key, e)
			e.uplink.Close()
			return
		}
		e.touch()
		if werr := write(buf[:n], from); werr != nil {
			m.table.CompareAndDelete(key, e)
			e.uplink.Close()
			return
		}
	}
}

func (m *Manager) reap(ctx context.Context) {
	ticker := time.NewTicker(m.idleTimeout / 2)
	defer ticker.Stop()
	defer close(m.reaperDone)
	for {
		select {
		case <-ctx.Done():
			m.table.Range(func(k, v any) bool {
				e := v.(*entry)
				e.cancel()
				e.uplink.Close()
				m.table.Delete(k)
				return true
			})
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-m.idleTimeout)
			m.table.Range(func(k, v any) bool {
				e := v.(*entry)
				if e.lastActiveTime().Before(cutoff) {
					e.cancel()
					e.uplink.Close()
					m.table.Delete(k)
				}
				return true
			})
		}
	}
}
