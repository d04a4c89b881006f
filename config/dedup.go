package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// CanonicalKey produces the byte-for-byte dedup key for a HandlerConfig's
// settings blob, per spec's "handler deduplication" resolution: the key
// is (protocol, canonicalized-settings), where canonicalization is a
// stable-key-order re-encode, not a deep semantic diff. Two settings
// blobs that decode to the same map but were written with different key
// order or whitespace in the source YAML still dedup; two blobs that
// differ in any option value never do.
//
// This hand-rolled encoder (rather than re-marshaling through
// goccy/go-yaml) exists because map key order on re-marshal is a library
// convention, not a documented guarantee; the dedup key must not depend
// on that.
func (h HandlerConfig) CanonicalKey() (string, error) {
	var b strings.Builder
	writeCanonical(&b, h.Settings)
	sum := sha256.Sum256([]byte(h.Protocol + "\x00" + b.String()))
	return hex.EncodeToString(sum[:]), nil
}

func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(b, "%q:", k)
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, e)
		}
		b.WriteByte(']')
	case string:
		fmt.Fprintf(b, "%q", val)
	case nil:
		b.WriteString("null")
	default:
		fmt.Fprintf(b, "%v", val)
	}
}
