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
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"

	"github.com/outline-sdk-contrib/ostrich-gateway/outbound"
	"github.com/outline-sdk-contrib/ostrich-gateway/transport"
)

func init() {
	outbound.Register("websocket", newOutboundHandler)
}

// outboundHandler wraps NewStreamEndpoint's client dialer: the
// WebSocket URL (and TLS server name for wss://) is fixed at
// construction, since the WebSocket framing carries no destination of
// its own; unlike proxy/tls's outbound, which dials the addr it is
// given, every stream goes to that URL's host. DialStream's addr is
// ignored; a protocol layered on top via proxy/chain is responsible
// for writing its own destination once the duplex stream is open.
type outboundHandler struct {
	tag     string
	connect func(context.Context) (transport.StreamConn, error)
}

var _ outbound.Handler = (*outboundHandler)(nil)

func newOutboundHandler(tag string, settings map[string]any, _ outbound.Deps) (outbound.Handler, error) {
	wsURL, _ := settings["url"].(string)
	if wsURL == "" {
		return nil, fmt.Errorf("websocket outbound %q: missing \"url\"", tag)
	}
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("websocket outbound %q: invalid \"url\": %w", tag, err)
	}

	var opts []Option
	var tlsConfig *tls.Config
	if parsed.Scheme == "wss" {
		tlsConfig = &tls.Config{}
		if serverName, _ := settings["server_name"].(string); serverName != "" {
			tlsConfig.ServerName = serverName
		}
		opts = append(opts, WithTLSConfig(tlsConfig))
	}

	host := parsed.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		if parsed.Scheme == "wss" {
			host = net.JoinHostPort(host, "443")
		} else {
			host = net.JoinHostPort(host, "80")
		}
	}
	tcpEndpoint := &transport.TCPEndpoint{Address: host}

	connect, err := NewStreamEndpoint(wsURL, tcpEndpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("websocket outbound %q: %w", tag, err)
	}
	return &outboundHandler{tag: tag, connect: connect}, nil
}

func (h *outboundHandler) Tag() string      { return h.tag }
func (h *outboundHandler) Protocol() string { return "websocket" }

func (h *outboundHandler) Capabilities() outbound.Capability {
	return outbound.CapStream
}

func (h *outboundHandler) DialStream(ctx context.Context, _ string) (transport.StreamConn, error) {
	return h.connect(ctx)
}

func (h *outboundHandler) DialPacket(ctx context.Context, addr string) (net.Conn, error) {
	return nil, fmt.Errorf("websocket outbound %q: datagrams not supported", h.tag)
}
