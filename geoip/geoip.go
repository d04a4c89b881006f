// Package geoip resolves an IP address to a two-letter country code for
// the router's GEO-IP predicate.
//
// No MMDB/GeoIP reader library appears anywhere in the retrieved corpus
// (confirmed by a corpus-wide search for maxminddb/geoip/mmdb importers),
// so this package is the repository's one standard-library-only
// component: a list of CIDR ranges sorted longest prefix first and
// scanned in order, loaded from a small embedded seed table plus an optional on-disk CIDR
// list override. See DESIGN.md for the justification this is required to
// carry.
package geoip

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
)

type entry struct {
	network *net.IPNet
	country string
}

// DB is a table of CIDR ranges to country codes, sorted by prefix length
// (longest first) and scanned linearly.
type DB struct {
	mu      sync.RWMutex
	entries []entry
}

// New returns a DB seeded with the built-in range table.
func New() *DB {
	db := &DB{}
	db.entries = append(db.entries, seedTable()...)
	db.sort()
	return db
}

// LoadFile merges additional "CIDR,COUNTRY" lines from path into db,
// overriding the seed table for any overlapping range order (entries
// loaded later are searched first on a tie, since sort is stable and
// LoadFile places them ahead of the existing entries before re-sorting
// by prefix length descending).
func (db *DB) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open geoip file: %w", err)
	}
	defer f.Close()

	var loaded []entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			return fmt.Errorf("malformed geoip line %q", line)
		}
		_, ipnet, err := net.ParseCIDR(strings.TrimSpace(parts[0]))
		if err != nil {
			return fmt.Errorf("malformed CIDR in geoip line %q: %w", line, err)
		}
		loaded = append(loaded, entry{network: ipnet, country: strings.ToUpper(strings.TrimSpace(parts[1]))})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read geoip file: %w", err)
	}

	db.mu.Lock()
	db.entries = append(loaded, db.entries...)
	db.sort()
	db.mu.Unlock()
	return nil
}

func (db *DB) sort() {
	sort.SliceStable(db.entries, func(i, j int) bool {
		si, _ := db.entries[i].network.Mask.Size()
		sj, _ := db.entries[j].network.Mask.Size()
		return si > sj
	})
}

// Lookup returns the upper-case two-letter country code for ip, or ""
// if no range matches. The most specific (longest prefix) match wins.
func (db *DB) Lookup(ip net.IP) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, e := range db.entries {
		if e.network.Contains(ip) {
			return e.country
		}
	}
	return ""
}

// seedTable returns a small built-in set of well-known ranges, enough to
// exercise GEO-IP rules in tests and examples without requiring an
// external database download at build or run time.
func seedTable() []entry {
	raw := []struct {
		cidr    string
		country string
	}{
		{"10.0.0.0/8", "ZZ"},       // RFC1918 private, tagged as unroutable
		{"172.16.0.0/12", "ZZ"},
		{"192.168.0.0/16", "ZZ"},
		{"127.0.0.0/8", "ZZ"},
		{"8.8.8.0/24", "US"},
		{"1.1.1.0/24", "US"},
		{"223.5.5.0/24", "CN"},
		{"114.114.114.0/24", "CN"},
	}
	entries := make([]entry, 0, len(raw))
	for _, r := range raw {
		_, ipnet, err := net.ParseCIDR(r.cidr)
		if err != nil {
			panic(fmt.Sprintf("geoip: invalid seed CIDR %q: %v", r.cidr, err))
		}
		entries = append(entries, entry{network: ipnet, country: r.country})
	}
	return entries
}
