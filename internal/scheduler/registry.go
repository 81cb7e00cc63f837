package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	// ErrAlreadyMonitoring is returned when the signal already has a monitor.
	ErrAlreadyMonitoring = errors.New("scheduler: signal already monitored")

	// ErrTokenLocked is returned when another signal monitors the same (token, chain).
	ErrTokenLocked = errors.New("scheduler: token already monitored")
)

type registration struct {
	tokenKey string
	cancel   context.CancelFunc
}

// Registry tracks live monitors by signal id and by (token, chain) key.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	signals map[string]registration
	tokens  map[string]string // token key -> signal id
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		signals: make(map[string]registration),
		tokens:  make(map[string]string),
	}
}

// Register claims signalID and tokenKey atomically.
func (r *Registry) Register(signalID, tokenKey string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.signals[signalID]; ok {
		return ErrAlreadyMonitoring
	}
	if _, ok := r.tokens[tokenKey]; ok {
		return ErrTokenLocked
	}
	r.signals[signalID] = registration{tokenKey: tokenKey, cancel: cancel}
	r.tokens[tokenKey] = signalID
	return nil
}

// Deregister cancels and removes the monitor of signalID.
// It reports whether a monitor was removed; repeated calls are no-ops.
func (r *Registry) Deregister(signalID string) bool {
	r.mu.Lock()
	reg, ok := r.signals[signalID]
	if ok {
		delete(r.signals, signalID)
		if r.tokens[reg.tokenKey] == signalID {
			delete(r.tokens, reg.tokenKey)
		}
	}
	r.mu.Unlock()

	if ok && reg.cancel != nil {
		reg.cancel()
	}
	return ok
}

// IsMonitoring reports whether signalID has a live monitor.
func (r *Registry) IsMonitoring(signalID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.signals[signalID]
	return ok
}

// TokenLocked reports whether tokenKey has a live monitor.
func (r *Registry) TokenLocked(tokenKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tokens[tokenKey]
	return ok
}

// Len returns the number of live monitors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}

// Active returns the monitored signal ids, sorted.
func (r *Registry) Active() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.signals))
	for id := range r.signals {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// CancelAll deregisters every monitor and returns how many were cancelled.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	regs := r.signals
	r.signals = make(map[string]registration)
	r.tokens = make(map[string]string)
	r.mu.Unlock()

	for _, reg := range regs {
		if reg.cancel != nil {
			reg.cancel()
		}
	}
	return len(regs)
}
