// Package chain implements the Chain composite inbound handler, which
// folds a list of other already-built inbound protocols into a single
// listener instead of giving each its own port: each "layers" entry
// names the tag of an inbound.StreamLayer (proxy/tls, proxy/websocket,
// proxy/trojan) and is applied in order to the raw accepted
// connection, the inner stream of one layer becoming the raw input of
// the next — e.g. layers: [tls, websocket, trojan] terminates TLS,
// then a WebSocket upgrade, then a trojan header, over one socket.
//
// This mirrors the sing-box "Detour" idea of naming a chain of actors
// by tag (see the pack's xray-knife reference), adapted here to this
// module's existing tag-resolution/bounded-fixed-point build mechanism
// (inbound.Deps.ByTag, inbound.Build's maxBuildPasses) rather than a
// dedicated chaining library, since Chain only needs to resolve
// sibling handlers already in this process, not dial out to one.
package chain

import (
	"context"
	"fmt"
	"net"

	"github.com/outline-sdk-contrib/ostrich-gateway/inbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/session"
	"github.com/outline-sdk-contrib/ostrich-gateway/transport"
)

func init() {
	inbound.Register("chain", newInboundHandler)
}

type inboundHandler struct {
	tag     string
	listen  string
	layers  []inbound.StreamLayer
	nextHop string
}

var _ inbound.Handler = (*inboundHandler)(nil)

func newInboundHandler(tag string, settings map[string]any, deps inbound.Deps) (inbound.Handler, error) {
	listen, _ := settings["listen"].(string)
	if listen == "" {
		return nil, fmt.Errorf("chain inbound %q: missing \"listen\"", tag)
	}
	rawLayers, _ := settings["layers"].([]any)
	if len(rawLayers) == 0 {
		return nil, fmt.Errorf("chain inbound %q: missing \"layers\"", tag)
	}
	nextHop, _ := settings["next_hop"].(string)

	layers := make([]inbound.StreamLayer, 0, len(rawLayers))
	for _, v := range rawLayers {
		layerTag, _ := v.(string)
		if layerTag == "" {
			return nil, fmt.Errorf("chain inbound %q: \"layers\" entries must be tag strings", tag)
		}
		h, ok := deps.ByTag(layerTag)
		if !ok {
			return nil, fmt.Errorf("chain inbound %q: layer %q not yet built", tag, layerTag)
		}
		sl, ok := h.(inbound.StreamLayer)
		if !ok {
			return nil, fmt.Errorf("chain inbound %q: layer %q (protocol %q) cannot be chained", tag, layerTag, h.Protocol())
		}
		layers = append(layers, sl)
	}

	return &inboundHandler{tag: tag, listen: listen, layers: layers, nextHop: nextHop}, nil
}

func (h *inboundHandler) Tag() string      { return h.tag }
func (h *inboundHandler) Protocol() string { return "chain" }

func (h *inboundHandler) Serve(ctx context.Context, acc inbound.Acceptor) error {
	ln, err := net.Listen("tcp", h.listen)
	if err != nil {
		return fmt.Errorf("chain inbound %q: listen: %w", h.tag, err)
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
			return fmt.Errorf("chain inbound %q: accept: %w", h.tag, err)
		}
		go h.serveConn(ctx, conn, acc)
	}
}

// serveConn runs every configured layer's Handshake in order over the
// accepted connection. A layer whose wire format carries its own
// destination (trojan) overrides dest for the layers applied after it
// and for the final session; if no layer supplies one, next_hop is
// used, and if that's empty too the connection is dropped.
func (h *inboundHandler) serveConn(ctx context.Context, raw net.Conn, acc inbound.Acceptor) {
	tcpConn, ok := raw.(*net.TCPConn)
	if !ok {
		raw.Close()
		return
	}

	var cur transport.StreamConn = tcpConn
	dest := h.nextHop
	for _, layer := range h.layers {
		inner, layerDest, err := layer.Handshake(ctx, cur)
		if err != nil {
			return
		}
		cur = inner
		if layerDest != "" {
			dest = layerDest
		}
	}

	if dest == "" {
		cur.Close()
		return
	}

	sess := session.New(ctx, h.tag, dest, tcpConn.RemoteAddr())
	acc.AcceptStream(sess, cur)
}
