// Package amux implements the AMux composite inbound handler: it
// multiplexes many logical streams over one physical connection,
// rather than giving each session its own socket (SPEC_FULL.md
// §4.1). Each muxed message is CBOR-framed as {K: key, D: hex payload}
// and delimiter-terminated, exactly the wire format the pack repo
// nabbar-golib's encoding/mux package uses for its Multiplexer/
// DeMultiplexer pair (grounded on its mux.go/demux.go); we adopt that
// format and its fxamacker/cbor/v2 dependency directly, but reimplement
// the read loop here rather than importing nabbar-golib's
// DeMultiplexer, since DeMultiplexer.NewChannel requires every
// destination channel to be registered before Copy starts, while AMux
// must discover a brand-new logical stream (a brand-new key) at any
// point during the physical connection's lifetime.
//
// The first frame seen for a given key carries, as its payload, the
// UTF-8 destination the new logical stream should be routed to (or is
// empty, in which case next_hop is used); every later frame for that
// key is stream payload, and an empty-payload frame closes it.
package amux

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/outline-sdk-contrib/ostrich-gateway/inbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/session"
	"github.com/outline-sdk-contrib/ostrich-gateway/transport"
)

func init() {
	inbound.Register("amux", newInboundHandler)
}

// frame mirrors nabbar-golib/encoding/mux's wire struct field-for-field:
// K the logical-stream key, D its payload hex-encoded.
type frame struct {
	K rune   `cbor:"K"`
	D string `cbor:"D"`
}

type inboundHandler struct {
	tag     string
	listen  string
	nextHop string
	delim   byte
}

var _ inbound.Handler = (*inboundHandler)(nil)

func newInboundHandler(tag string, settings map[string]any, _ inbound.Deps) (inbound.Handler, error) {
	listen, _ := settings["listen"].(string)
	if listen == "" {
		return nil, fmt.Errorf("amux inbound %q: missing \"listen\"", tag)
	}
	nextHop, _ := settings["next_hop"].(string)

	delim := byte('\n')
	if d, ok := settings["delim"].(string); ok && len(d) == 1 {
		delim = d[0]
	}

	return &inboundHandler{tag: tag, listen: listen, nextHop: nextHop, delim: delim}, nil
}

func (h *inboundHandler) Tag() string      { return h.tag }
func (h *inboundHandler) Protocol() string { return "amux" }

func (h *inboundHandler) Serve(ctx context.Context, acc inbound.Acceptor) error {
	ln, err := net.Listen("tcp", h.listen)
	if err != nil {
		return fmt.Errorf("amux inbound %q: listen: %w", h.tag, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("amux inbound %q: accept: %w", h.tag, err)
		}
		go h.serveConn(ctx, conn, acc)
	}
}

// serveConn runs the demultiplexer loop for one physical connection.
// Frames are dispatched one at a time, so a logical stream whose
// consumer falls behind will block delivery for every other stream
// sharing this connection; a real deployment would give each logical
// stream its own bounded outgoing buffer, but in-order, back-pressured
// delivery is the simpler and safer default here.
func (h *inboundHandler) serveConn(ctx context.Context, raw net.Conn, acc inbound.Acceptor) {
	m := &muxConn{conn: raw, delim: h.delim, streams: make(map[rune]*muxStream)}
	defer m.closeAll()
	defer raw.Close()

	br := bufio.NewReader(raw)
	for {
		line, err := br.ReadBytes(h.delim)
		if err != nil {
			return
		}
		line = line[:len(line)-1]

		var f frame
		if err := cbor.Unmarshal(line, &f); err != nil {
			continue
		}
		payload, err := hex.DecodeString(f.D)
		if err != nil {
			continue
		}
		m.dispatch(ctx, h, f.K, payload, acc)
	}
}

// muxConn owns the physical connection's write path (guarded by mu,
// since logical streams write concurrently) and the table of currently
// open logical streams.
type muxConn struct {
	conn  net.Conn
	delim byte

	mu      sync.Mutex
	streams map[rune]*muxStream
}

func (m *muxConn) dispatch(ctx context.Context, h *inboundHandler, key rune, payload []byte, acc inbound.Acceptor) {
	m.mu.Lock()
	st, open := m.streams[key]
	m.mu.Unlock()

	if !open {
		dest := string(payload)
		if dest == "" {
			dest = h.nextHop
		}
		if dest == "" {
			return
		}

		pr, pw := io.Pipe()
		st = &muxStream{key: key, m: m, pr: pr, pw: pw}
		m.mu.Lock()
		m.streams[key] = st
		m.mu.Unlock()

		sess := session.New(ctx, h.tag, dest, m.conn.RemoteAddr())
		go acc.AcceptStream(sess, st)
		return
	}

	if len(payload) == 0 {
		st.pw.CloseWithError(io.EOF)
		m.mu.Lock()
		delete(m.streams, key)
		m.mu.Unlock()
		return
	}

	st.pw.Write(payload)
}

func (m *muxConn) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.streams {
		st.pw.CloseWithError(io.ErrClosedPipe)
	}
}

// writeFrame CBOR-encodes and hex-wraps payload under key and writes it
// to the shared physical connection; concurrent logical streams all
// fall through this one lock.
func (m *muxConn) writeFrame(key rune, payload []byte) error {
	b, err := cbor.Marshal(frame{K: key, D: hex.EncodeToString(payload)})
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.conn.Write(b); err != nil {
		return err
	}
	_, err = m.conn.Write([]byte{m.delim})
	return err
}

// muxStream is one logical stream's transport.StreamConn: reads come
// off a pipe fed by the connection's single demux loop, writes go
// straight back out through the shared physical connection framed
// under this stream's key.
type muxStream struct {
	key rune
	m   *muxConn
	pr  *io.PipeReader
	pw  *io.PipeWriter
}

var _ transport.StreamConn = (*muxStream)(nil)

func (s *muxStream) Read(b []byte) (int, error) { return s.pr.Read(b) }

func (s *muxStream) Write(b []byte) (int, error) {
	if err := s.m.writeFrame(s.key, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (s *muxStream) Close() error {
	s.pr.Close()
	s.m.mu.Lock()
	delete(s.m.streams, s.key)
	s.m.mu.Unlock()
	return s.m.writeFrame(s.key, nil)
}

func (s *muxStream) CloseRead() error  { return s.pr.Close() }
func (s *muxStream) CloseWrite() error { return s.m.writeFrame(s.key, nil) }

func (s *muxStream) LocalAddr() net.Addr  { return s.m.conn.LocalAddr() }
func (s *muxStream) RemoteAddr() net.Addr { return s.m.conn.RemoteAddr() }

// Deadlines apply to the whole physical connection in a true mux, not
// to one logical stream; these are no-ops rather than claiming a
// precision this transport doesn't have.
func (s *muxStream) SetDeadline(t time.Time) error      { return nil }
func (s *muxStream) SetReadDeadline(t time.Time) error  { return nil }
func (s *muxStream) SetWriteDeadline(t time.Time) error { return nil }
