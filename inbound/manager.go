package inbound

import (
	"context"
	"fmt"
	"sync"

	"github.com/outline-sdk-contrib/ostrich-gateway/config"
)

// maxBuildPasses mirrors outbound.maxBuildPasses: composite inbound
// handlers (Chain/AMux) may reference another inbound tag not yet built
// in an earlier pass, so construction runs a bounded fixed-point loop,
// per the original source's app/inbound/manager.rs and spec.md §9.
const maxBuildPasses = 4

// Manager holds every configured inbound handler and runs them all for
// the lifetime of a runtime instance.
type Manager struct {
	byTag map[string]Handler
}

// Build constructs every handler named in cfgs.
func Build(cfgs []config.HandlerConfig) (*Manager, error) {
	m := &Manager{byTag: make(map[string]Handler, len(cfgs))}

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
			factory, ok := lookupFactory(hc.Protocol)
			if !ok {
				return nil, fmt.Errorf("inbound %q: unknown protocol %q", hc.Tag, hc.Protocol)
			}
			handler, err := factory(hc.Tag, hc.Settings, deps)
			if err != nil {
				lastErrs = append(lastErrs, fmt.Errorf("inbound %q: %w", hc.Tag, err))
				stillRemaining = append(stillRemaining, hc)
				continue
			}
			m.byTag[hc.Tag] = handler
			progressed = true
		}

		remaining = stillRemaining
		if !progressed {
			break
		}
	}

	if len(remaining) > 0 {
		var firstErr error
		if len(lastErrs) > 0 {
			firstErr = lastErrs[0]
		}
		return nil, fmt.Errorf("could not build %d inbound handler(s) after %d passes, last error: %w",
			len(remaining), maxBuildPasses, firstErr)
	}
	return m, nil
}

// ServeAll starts every handler's Serve loop in its own goroutine and
// blocks until ctx is cancelled and all of them have returned. The first
// non-cancellation error from any handler is returned once all have
// stopped; other handlers keep serving in the meantime, mirroring spec's
// "a single malformed peer never brings down a listener" rule extended
// to "one failed listener never silently stops the others."
func (m *Manager) ServeAll(ctx context.Context, acc Acceptor) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(m.byTag))

	for _, h := range m.byTag {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			if err := h.Serve(ctx, acc); err != nil && ctx.Err() == nil {
				errs <- fmt.Errorf("inbound %q: %w", h.Tag(), err)
			}
		}(h)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		return err
	}
	return nil
}

// Get returns the handler for tag.
func (m *Manager) Get(tag string) (Handler, bool) {
	h, ok := m.byTag[tag]
	return h, ok
}
