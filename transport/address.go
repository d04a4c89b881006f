// Copyright 2023 The Outline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import "net"

// domainAddr is a [net.Addr] whose host is a domain name rather than a
// resolved IP address. Sessions that route to an outbound handler needing
// the original hostname (SNI, Host header, domain-suffix rules) rely on
// this instead of forcing an early resolution.
type domainAddr struct {
	network string
	address string
}

var _ net.Addr = (*domainAddr)(nil)

func (a *domainAddr) Network() string { return a.network }
func (a *domainAddr) String() string  { return a.address }

// MakeNetAddr builds a [net.Addr] for the given network ("tcp" or "udp")
// and address ("host:port"). If host is an IP literal, it returns the
// corresponding [net.TCPAddr]/[net.UDPAddr]. Otherwise it returns a
// [domainAddr] that preserves the hostname verbatim, resolving a
// symbolic port (e.g. "domain") via [net.LookupPort].
func MakeNetAddr(network, address string) (net.Addr, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	portNum, err := net.LookupPort(network, port)
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return &domainAddr{network: network, address: net.JoinHostPort(host, itoa(portNum))}, nil
	}
	switch network {
	case "tcp":
		return &net.TCPAddr{IP: ip, Port: portNum}, nil
	case "udp":
		return &net.UDPAddr{IP: ip, Port: portNum}, nil
	default:
		return nil, &net.AddrError{Err: "unsupported network", Addr: network}
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
