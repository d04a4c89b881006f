// Package dnsclient implements the gateway's DNS client: a caching
// resolver that can optionally route its own upstream queries back
// through the dispatcher, the way a "dns" outbound tag lets DNS traffic
// itself be proxied.
//
// The wire codec is github.com/miekg/dns, grounded on the same
// "encode a *dns.Msg, write it, read the reply" shape used throughout
// the bassosimone-nop corpus entry's DNS transports, and independently
// imported by the teacher's own x/connectivity package. The cache is
// github.com/hashicorp/golang-lru's classic (non-generic) Cache API,
// the same API the kryptco-kr and nabbar-golib corpus entries use.
package dnsclient

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/miekg/dns"
)

// Dispatcher is the minimal surface the DNS client needs from the
// session dispatcher in order to route its own upstream queries through
// the gateway instead of dialing the network directly. Implemented by
// dispatcher.Dispatcher.
type Dispatcher interface {
	DialUpstream(ctx context.Context, network, addr string) (net.Conn, error)
}

// Client is a caching DNS resolver.
type Client struct {
	servers []string
	hosts   map[string]string
	cache   *lru.Cache
	timeout time.Duration

	// dispatcher is a weak-reference stand-in: the runtime installs it
	// after both the DNS client and the dispatcher exist (they are
	// mutually referential — the dispatcher calls the DNS client to
	// resolve destinations, and the DNS client may call back into the
	// dispatcher to route its own upstream queries through a proxied
	// outbound). Go has no language-level weak reference, so an atomic
	// pointer that the runtime clears on shutdown gives the same
	// "upgrade may fail, fall back to a direct dial" semantics.
	dispatcher atomic.Pointer[Dispatcher]
}

const defaultCacheSize = 4096

// New builds a Client. servers is tried in order for each query; hosts
// is a static name -> IP override map consulted before the cache and
// upstream servers.
func New(servers []string, hosts map[string]string, cacheSize int, timeout time.Duration) (*Client, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create dns cache: %w", err)
	}
	normalizedHosts := make(map[string]string, len(hosts))
	for k, v := range hosts {
		normalizedHosts[strings.ToLower(k)] = v
	}
	return &Client{servers: servers, hosts: normalizedHosts, cache: cache, timeout: timeout}, nil
}

// SetDispatcher installs the dispatcher backref. Passing nil clears it,
// which is what the runtime does on shutdown so no goroutine can resolve
// a stale dispatcher pointer after teardown.
func (c *Client) SetDispatcher(d Dispatcher) {
	if d == nil {
		c.dispatcher.Store(nil)
		return
	}
	c.dispatcher.Store(&d)
}

// dispatcherRef attempts to upgrade the weak backref, mirroring a
// Weak::upgrade() call in the original Rust source: it may legitimately
// return ok=false if the runtime has shut down or never installed one.
func (c *Client) dispatcherRef() (Dispatcher, bool) {
	p := c.dispatcher.Load()
	if p == nil {
		var zero Dispatcher
		return zero, false
	}
	return *p, true
}

type cacheEntry struct {
	ips     []net.IP
	expires time.Time
}

// LookupHost resolves host to a list of IPs, consulting the static hosts
// map, then the cache, then the configured upstream servers in order.
func (c *Client) LookupHost(ctx context.Context, host string) ([]net.IP, error) {
	lower := strings.ToLower(host)
	if literal := net.ParseIP(host); literal != nil {
		return []net.IP{literal}, nil
	}
	if ipStr, ok := c.hosts[lower]; ok {
		if ip := net.ParseIP(ipStr); ip != nil {
			return []net.IP{ip}, nil
		}
	}
	if v, ok := c.cache.Get(lower); ok {
		entry := v.(cacheEntry)
		if time.Now().Before(entry.expires) {
			return entry.ips, nil
		}
		c.cache.Remove(lower)
	}

	ips, ttl, err := c.queryUpstream(ctx, dns.Fqdn(host))
	if err != nil {
		return nil, err
	}
	c.cache.Add(lower, cacheEntry{ips: ips, expires: time.Now().Add(ttl)})
	return ips, nil
}

func (c *Client) queryUpstream(ctx context.Context, fqdn string) ([]net.IP, time.Duration, error) {
	if len(c.servers) == 0 {
		return nil, 0, fmt.Errorf("dns: no upstream servers configured for %q", fqdn)
	}
	var lastErr error
	for _, server := range c.servers {
		ips, ttl, err := c.exchange(ctx, server, fqdn)
		if err == nil && len(ips) > 0 {
			return ips, ttl, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("dns: no records found for %q", fqdn)
	}
	return nil, 0, lastErr
}

func (c *Client) exchange(ctx context.Context, server, fqdn string) ([]net.IP, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dial(ctx, server)
	if err != nil {
		return nil, 0, fmt.Errorf("dial dns server %s: %w", server, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if ok {
		conn.SetDeadline(deadline)
	}

	dnsConn := &dns.Conn{Conn: conn}
	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, dns.TypeA)
	msg.RecursionDesired = true

	if err := dnsConn.WriteMsg(msg); err != nil {
		return nil, 0, fmt.Errorf("write dns query to %s: %w", server, err)
	}
	resp, err := dnsConn.ReadMsg()
	if err != nil {
		return nil, 0, fmt.Errorf("read dns response from %s: %w", server, err)
	}

	var ips []net.IP
	var minTTL uint32 = 300
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			ips = append(ips, a.A)
			if a.Hdr.Ttl < minTTL {
				minTTL = a.Hdr.Ttl
			}
		}
	}
	return ips, time.Duration(minTTL) * time.Second, nil
}

// dial opens the transport to server, routing through the dispatcher's
// proxied outbound when one is installed, falling back to a direct UDP
// dial otherwise.
func (c *Client) dial(ctx context.Context, server string) (net.Conn, error) {
	if d, ok := c.dispatcherRef(); ok {
		return d.DialUpstream(ctx, "udp", server)
	}
	var dialer net.Dialer
	return dialer.DialContext(ctx, "udp", server)
}
