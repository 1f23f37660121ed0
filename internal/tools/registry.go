package tools

import (
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/gobutler/internal/store"
)

// PerUserFactory builds tool instances that embed user-scoped credentials
// (calendar, email). Called per request; returning nil skips the tool.
type PerUserFactory func(u *store.User) Tool

type entry struct {
	tool Tool
	perm string // required permission; "" = available to everyone
}

// Registry maps unique tool names to implementations. Tools are registered
// once at process start and closed at shutdown.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	perUser []struct {
		factory PerUserFactory
		perm    string
	}
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a shared tool. perm gates access (store.Perm*); empty
// means unrestricted. A duplicate name replaces the earlier registration.
func (r *Registry) Register(t Tool, perm string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[t.Name()]; exists {
		slog.Warn("tool registry: replacing duplicate tool", "tool", t.Name())
	}
	r.entries[t.Name()] = entry{tool: t, perm: perm}
}

// RegisterPerUser adds a factory for user-scoped tool instances.
func (r *Registry) RegisterPerUser(f PerUserFactory, perm string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perUser = append(r.perUser, struct {
		factory PerUserFactory
		perm    string
	}{f, perm})
}

// ForUser returns the subset of tools the user may invoke, keyed by name.
// Admins get everything; per-user factories are instantiated here.
func (r *Registry) ForUser(u *store.User) map[string]Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	authorized := make(map[string]Tool, len(r.entries))
	for name, e := range r.entries {
		if e.perm == "" || u.HasPermission(e.perm) {
			authorized[name] = e.tool
		}
	}
	for _, pu := range r.perUser {
		if pu.perm != "" && !u.HasPermission(pu.perm) {
			continue
		}
		if t := pu.factory(u); t != nil {
			authorized[t.Name()] = t
		}
	}
	return authorized
}

// Close releases resources held by shared tools (outbound HTTP sessions).
func (r *Registry) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, e := range r.entries {
		if c, ok := e.tool.(Closer); ok {
			if err := c.Close(); err != nil {
				slog.Warn("tool registry: close failed", "tool", name, "error", err)
			}
		}
	}
}
