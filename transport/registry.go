package transport

import (
	"fmt"
	"sync"
)

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{}
)

// Register installs a Factory for a transport kind (e.g. "serial",
// "tcp"). Later registrations for the same kind overwrite earlier ones,
// so callers can substitute a fake transport in tests. Grounded on the
// teacher's bridge.RegisterTransport pluggable-dial registry.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[kind] = f
}

// New resolves cfg.Kind against the registry and constructs a Transport.
// The returned Transport is not yet connected: callers invoke Open(ctx)
// (typically under session.Session's backoff-retry loop) to dial it.
func New(cfg Config) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport: unknown kind %q", cfg.Kind)
	}
	return f(cfg)
}
