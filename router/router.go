// Package router implements the gateway's ordered rule engine: the
// first rule whose predicate matches a session decides its outbound tag,
// falling back to the configured default if none match, and falling
// through to the next rule when a rule needs DNS resolution that fails.
//
// Shaped after the teacher's x/config.go per-scheme dispatch switch
// (one typed matcher per rule kind, tried in order), generalized from
// "build a dialer" to "pick an outbound tag".
package router

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/outline-sdk-contrib/ostrich-gateway/config"
	"github.com/outline-sdk-contrib/ostrich-gateway/geoip"
	"github.com/outline-sdk-contrib/ostrich-gateway/session"
)

// Resolver is the minimal DNS lookup surface the router needs. The
// concrete dnsclient.Client satisfies this.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]net.IP, error)
}

// Router holds the ordered rule list behind a RWMutex, since config
// reload replaces the whole rule set at once while many goroutines read
// it concurrently to classify sessions — the same reader-many/writer-one
// policy spec.md specifies for the outbound catalog.
type Router struct {
	mu       sync.RWMutex
	rules    []Rule
	dflt     string
	resolver Resolver
	db       *geoip.DB
}

// New builds a Router from config, wiring it to resolver for rules that
// need DNS resolution (ip-cidr, geoip on a domain destination) and db
// for geoip lookups.
func New(cfg config.RouterConfig, resolver Resolver, db *geoip.DB) (*Router, error) {
	r := &Router{dflt: cfg.Default, resolver: resolver, db: db}
	rules := make([]Rule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		rule, err := buildRule(rc, db)
		if err != nil {
			return nil, fmt.Errorf("router rule for outbound %q: %w", rc.Outbound, err)
		}
		rules = append(rules, rule)
	}
	r.rules = rules
	return r, nil
}

// Replace atomically swaps in a new rule set, used by full config-reload.
func (r *Router) Replace(other *Router) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = other.rules
	r.dflt = other.dflt
}

// Route classifies sess and returns the outbound tag that should handle
// it. A rule that needs a resolved IP and cannot get one (resolution
// fails, or no resolver is configured) is skipped, continuing to the
// next rule, per spec's "unresolved domain falls through" resolution.
func (r *Router) Route(ctx context.Context, sess *session.Session) (string, error) {
	r.mu.RLock()
	rules := r.rules
	dflt := r.dflt
	r.mu.RUnlock()

	mctx := &matchContext{sess: sess}
	resolveAttempted := false

	for _, rule := range rules {
		matched, needsResolution := rule.match(mctx)
		if needsResolution && !resolveAttempted {
			resolveAttempted = true
			if ip, ok := r.tryResolve(ctx, sess.Host()); ok {
				mctx.ip = ip
				matched, needsResolution = rule.match(mctx)
			}
		}
		if needsResolution && mctx.ip == nil {
			// Resolution failed or unavailable; this rule can't decide,
			// fall through to the next one.
			continue
		}
		if matched {
			return rule.Outbound(), nil
		}
	}
	if dflt == "" {
		return "", fmt.Errorf("no router rule matched %q and no default outbound is configured", sess.Destination)
	}
	return dflt, nil
}

func (r *Router) tryResolve(ctx context.Context, host string) (net.IP, bool) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, true
	}
	if r.resolver == nil {
		return nil, false
	}
	ips, err := r.resolver.LookupHost(ctx, host)
	if err != nil || len(ips) == 0 {
		return nil, false
	}
	return ips[0], true
}
