// Copyright 2025 The Outline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package websocket

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/outline-sdk-contrib/ostrich-gateway/inbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/session"
	"github.com/outline-sdk-contrib/ostrich-gateway/transport"
)

func init() {
	inbound.Register("websocket", newInboundHandler)
}

// inboundHandler terminates a WebSocket connection into a binary
// duplex stream, via Upgrade. Unlike proxy/httpconnect's inbound,
// Upgrade needs the http.ResponseWriter/*http.Request pair from a
// served request, so this handler runs a plain net/http.Server rather
// than hand-parsing the request off a raw net.Conn; path and next_hop
// mirror proxy/tls's inbound, since WebSocket framing carries no
// destination of its own.
type inboundHandler struct {
	tag     string
	listen  string
	path    string
	nextHop string
}

var _ inbound.Handler = (*inboundHandler)(nil)

func newInboundHandler(tag string, settings map[string]any, _ inbound.Deps) (inbound.Handler, error) {
	listen, _ := settings["listen"].(string)
	if listen == "" {
		return nil, fmt.Errorf("websocket inbound %q: missing \"listen\"", tag)
	}
	nextHop, _ := settings["next_hop"].(string)
	if nextHop == "" {
		return nil, fmt.Errorf("websocket inbound %q: missing \"next_hop\"", tag)
	}
	path, _ := settings["path"].(string)
	if path == "" {
		path = "/"
	}

	return &inboundHandler{tag: tag, listen: listen, path: path, nextHop: nextHop}, nil
}

func (h *inboundHandler) Tag() string      { return h.tag }
func (h *inboundHandler) Protocol() string { return "websocket" }

type connCtxKeyType struct{}

var connCtxKey connCtxKeyType

func (h *inboundHandler) Serve(ctx context.Context, acc inbound.Acceptor) error {
	mux := http.NewServeMux()
	mux.HandleFunc(h.path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r, nil)
		if err != nil {
			return
		}
		srcAddr, _ := r.Context().Value(connCtxKey).(net.Addr)
		sess := session.New(ctx, h.tag, h.nextHop, srcAddr)
		acc.AcceptStream(sess, conn)
	})

	srv := &http.Server{
		Addr:    h.listen,
		Handler: mux,
		ConnContext: func(connCtx context.Context, c net.Conn) context.Context {
			return context.WithValue(connCtx, connCtxKey, c.RemoteAddr())
		},
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket inbound %q: %w", h.tag, err)
	}
	return nil
}

// Handshake implements inbound.StreamLayer, letting proxy/chain fold a
// WebSocket upgrade in as one layer of a composite instead of owning
// its own net/http.Server. Upgrade still needs an http.ResponseWriter,
// so hijackResponseWriter fakes one directly over raw, the same way a
// hijacked net/http connection would. WebSocket framing carries no
// destination of its own, so dest is always empty.
func (h *inboundHandler) Handshake(ctx context.Context, raw transport.StreamConn) (transport.StreamConn, string, error) {
	br := bufio.NewReader(raw)
	req, err := http.ReadRequest(br)
	if err != nil {
		raw.Close()
		return nil, "", fmt.Errorf("websocket inbound %q: %w", h.tag, err)
	}
	req = req.WithContext(ctx)

	w := &hijackResponseWriter{conn: raw, buf: bufio.NewReadWriter(br, bufio.NewWriter(raw))}
	conn, err := Upgrade(w, req, nil)
	if err != nil {
		raw.Close()
		return nil, "", err
	}
	return conn, "", nil
}

var _ inbound.StreamLayer = (*inboundHandler)(nil)

// hijackResponseWriter is a minimal http.ResponseWriter/http.Hijacker
// pair over an already-accepted connection, standing in for the one
// net/http.Server would normally hand a handler; gorilla's Upgrader
// only knows how to hijack a ResponseWriter, not take a raw conn
// directly.
type hijackResponseWriter struct {
	conn   net.Conn
	buf    *bufio.ReadWriter
	header http.Header
}

var _ http.Hijacker = (*hijackResponseWriter)(nil)

func (w *hijackResponseWriter) Header() http.Header {
	if w.header == nil {
		w.header = make(http.Header)
	}
	return w.header
}

func (w *hijackResponseWriter) Write(b []byte) (int, error) { return w.buf.Write(b) }

func (w *hijackResponseWriter) WriteHeader(int) {}

func (w *hijackResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.conn, w.buf, nil
}
