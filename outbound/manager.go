package outbound

import (
	"fmt"

	"github.com/outline-sdk-contrib/ostrich-gateway/config"
)

// maxBuildPasses bounds the multi-pass fixed-point construction in Build:
// a handler whose factory fails is retried in the next pass, so a factory
// that looks up another outbound tag through Deps.ByTag can succeed once
// that tag has been built. Matches the bounded depth
// spec.md §9 specifies for composite handler construction.
const maxBuildPasses = 4

// Manager is the outbound handler catalog: tag -> Handler, built once
// from config and read concurrently by every session the dispatcher
// handles. It holds no lock: Build fills the map before returning the
// Manager, and nothing writes to it afterwards.
type Manager struct {
	byTag map[string]Handler
}

// Build constructs every handler named in cfgs, resolving composite
// handlers that reference another outbound tag across up to
// maxBuildPasses passes, and deduplicating structurally identical
// handlers (same protocol, byte-for-byte-canonical settings) down to a
// single instance shared by every tag that names it — exactly the
// scratch-list dedup algorithm described in spec.md §4.2.
func Build(cfgs []config.HandlerConfig) (*Manager, error) {
	m := &Manager{byTag: make(map[string]Handler, len(cfgs))}
	byKey := make(map[string]Handler, len(cfgs))

	remaining := make([]config.HandlerConfig, len(cfgs))
	copy(remaining, cfgs)

	deps := Deps{ByTag: func(tag string) (Handler, bool) {
		h, ok := m.byTag[tag]
		return h, ok
	}}

	var lastErrs []error
	for pass := 0; pass < maxBuildPasses && len(remaining) > 0; pass++ {
		var stillRemaining []config.HandlerConfig
		lastErrs = nil
		progressed := false

		for _, hc := range remaining {
			key, err := hc.CanonicalKey()
			if err != nil {
				return nil, fmt.Errorf("outbound %q: %w", hc.Tag, err)
			}
			if existing, ok := byKey[key]; ok {
				m.byTag[hc.Tag] = existing
				progressed = true
				continue
			}

			factory, ok := lookupFactory(hc.Protocol)
			if !ok {
				return nil, fmt.Errorf("outbound %q: unknown protocol %q", hc.Tag, hc.Protocol)
			}
			handler, err := factory(hc.Tag, hc.Settings, deps)
			if err != nil {
				lastErrs = append(lastErrs, fmt.Errorf("outbound %q: %w", hc.Tag, err))
				stillRemaining = append(stillRemaining, hc)
				continue
			}
			m.byTag[hc.Tag] = handler
			byKey[key] = handler
			progressed = true
		}

		remaining = stillRemaining
		if !progressed {
			break
		}
	}

	if len(remaining) > 0 {
		return nil, fmt.Errorf("could not build %d outbound handler(s) after %d passes, last error: %w",
			len(remaining), maxBuildPasses, firstOrNil(lastErrs))
	}
	return m, nil
}

func firstOrNil(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}

// Get returns the handler for tag.
func (m *Manager) Get(tag string) (Handler, bool) {
	h, ok := m.byTag[tag]
	return h, ok
}

// Tags returns every outbound tag in the catalog, for config validation,
// in no particular order.
func (m *Manager) Tags() []string {
	tags := make([]string, 0, len(m.byTag))
	for t := range m.byTag {
		tags = append(tags, t)
	}
	return tags
}
