package router

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/outline-sdk-contrib/ostrich-gateway/config"
	"github.com/outline-sdk-contrib/ostrich-gateway/geoip"
	"github.com/outline-sdk-contrib/ostrich-gateway/session"
)

// matchContext is the per-lookup state a rule predicate may need:
// the session being classified, plus a lazily resolved IP (nil if
// resolution hasn't been attempted, or failed).
type matchContext struct {
	sess *session.Session
	ip   net.IP // nil if the host is an IP literal but unparsed, or resolution failed
}

// Rule is one ordered predicate -> outbound-tag pair. match returns
// (matched, needsResolution): needsResolution is true when the rule
// could not decide without a resolved IP that matchContext doesn't have
// yet, signalling the router to resolve and retry this rule once.
type Rule interface {
	match(ctx *matchContext) (matched bool, needsResolution bool)
	Outbound() string
}

type baseRule struct {
	outbound string
}

func (r baseRule) Outbound() string { return r.outbound }

// domainSuffixRule matches when the session host ends with one of the
// configured suffixes (e.g. "example.com" matches "www.example.com").
type domainSuffixRule struct {
	baseRule
	suffixes []string
}

func (r *domainSuffixRule) match(ctx *matchContext) (bool, bool) {
	host := strings.ToLower(ctx.sess.Host())
	for _, suf := range r.suffixes {
		suf = strings.ToLower(suf)
		if host == suf || strings.HasSuffix(host, "."+suf) {
			return true, false
		}
	}
	return false, false
}

// domainKeywordRule matches when the session host contains a substring.
type domainKeywordRule struct {
	baseRule
	keywords []string
}

func (r *domainKeywordRule) match(ctx *matchContext) (bool, bool) {
	host := strings.ToLower(ctx.sess.Host())
	for _, kw := range r.keywords {
		if strings.Contains(host, strings.ToLower(kw)) {
			return true, false
		}
	}
	return false, false
}

// domainFullRule matches on an exact host string.
type domainFullRule struct {
	baseRule
	hosts map[string]bool
}

func (r *domainFullRule) match(ctx *matchContext) (bool, bool) {
	return r.hosts[strings.ToLower(ctx.sess.Host())], false
}

// ipCIDRRule matches when the resolved destination IP falls in one of
// the configured ranges. If the host is a domain name, this rule
// requires resolution before it can decide.
type ipCIDRRule struct {
	baseRule
	nets []*net.IPNet
}

func (r *ipCIDRRule) match(ctx *matchContext) (bool, bool) {
	ip := resolvedIP(ctx)
	if ip == nil {
		return false, true
	}
	for _, n := range r.nets {
		if n.Contains(ip) {
			return true, false
		}
	}
	return false, false
}

// geoIPRule matches when the resolved destination IP's country code is
// one of the configured codes.
type geoIPRule struct {
	baseRule
	db        *geoip.DB
	countries map[string]bool
}

func (r *geoIPRule) match(ctx *matchContext) (bool, bool) {
	ip := resolvedIP(ctx)
	if ip == nil {
		return false, true
	}
	return r.countries[r.db.Lookup(ip)], false
}

// portRangeRule matches when the session's destination port falls in
// [low, high].
type portRangeRule struct {
	baseRule
	low, high int
}

func (r *portRangeRule) match(ctx *matchContext) (bool, bool) {
	p := ctx.sess.Port()
	return p >= r.low && p <= r.high, false
}

// networkRule matches on the session's transport shape (stream/datagram).
type networkRule struct {
	baseRule
	network session.Network
}

func (r *networkRule) match(ctx *matchContext) (bool, bool) {
	return ctx.sess.Network == r.network, false
}

// inboundTagRule matches on the tag of the inbound handler that accepted
// the session.
type inboundTagRule struct {
	baseRule
	tags map[string]bool
}

func (r *inboundTagRule) match(ctx *matchContext) (bool, bool) {
	return r.tags[ctx.sess.InboundTag], false
}

func resolvedIP(ctx *matchContext) net.IP {
	if ctx.ip != nil {
		return ctx.ip
	}
	return net.ParseIP(ctx.sess.Host())
}

// buildRule translates a config.RuleConfig into a concrete Rule.
func buildRule(rc config.RuleConfig, db *geoip.DB) (Rule, error) {
	base := baseRule{outbound: rc.Outbound}
	switch rc.Type {
	case "domain-suffix":
		return &domainSuffixRule{base, rc.Values}, nil
	case "domain-keyword":
		return &domainKeywordRule{base, rc.Values}, nil
	case "domain-full":
		set := make(map[string]bool, len(rc.Values))
		for _, h := range rc.Values {
			set[strings.ToLower(h)] = true
		}
		return &domainFullRule{base, set}, nil
	case "ip-cidr":
		nets := make([]*net.IPNet, 0, len(rc.Values))
		for _, v := range rc.Values {
			_, n, err := net.ParseCIDR(v)
			if err != nil {
				return nil, err
			}
			nets = append(nets, n)
		}
		return &ipCIDRRule{base, nets}, nil
	case "geoip":
		set := make(map[string]bool, len(rc.Values))
		for _, c := range rc.Values {
			set[strings.ToUpper(c)] = true
		}
		return &geoIPRule{base, db, set}, nil
	case "port-range":
		if len(rc.Values) != 1 {
			return nil, fmt.Errorf("port-range rule wants exactly one value, got %v", rc.Values)
		}
		low, high, err := parsePortRange(rc.Values[0])
		if err != nil {
			return nil, err
		}
		return &portRangeRule{base, low, high}, nil
	case "network":
		if len(rc.Values) != 1 {
			return nil, fmt.Errorf("network rule wants exactly one value, got %v", rc.Values)
		}
		kind := session.NetworkStream
		if rc.Values[0] == "datagram" {
			kind = session.NetworkDatagram
		}
		return &networkRule{base, kind}, nil
	case "inbound-tag":
		set := make(map[string]bool, len(rc.Values))
		for _, t := range rc.Values {
			set[t] = true
		}
		return &inboundTagRule{base, set}, nil
	default:
		return nil, fmt.Errorf("unknown router rule type %q", rc.Type)
	}
}

func parsePortRange(s string) (int, int, error) {
	parts := strings.SplitN(s, "-", 2)
	low, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	if len(parts) == 1 {
		return low, low, nil
	}
	high, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return low, high, nil
}
