// Package platform holds the state the handset platform layer reports to the
// daemon and the channels the daemon uses to reach the user.
package platform

import (
	"sync"

	"github.com/noahxzhu/safealert/internal/model"
)

// Permissions is the set of runtime permissions the platform has granted.
type Permissions struct {
	mu      sync.RWMutex
	granted map[model.Permission]bool
}

func NewPermissions(granted ...model.Permission) *Permissions {
	p := &Permissions{granted: make(map[model.Permission]bool)}
	for _, g := range granted {
		p.granted[g] = true
	}
	return p
}

func (p *Permissions) Granted(perm model.Permission) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.granted[perm]
}

// All reports whether every listed permission is granted.
func (p *Permissions) All(perms ...model.Permission) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, perm := range perms {
		if !p.granted[perm] {
			return false
		}
	}
	return true
}

// Set replaces the granted state of the listed permissions. Permissions not
// in the map keep their current state.
func (p *Permissions) Set(states map[model.Permission]bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for perm, ok := range states {
		p.granted[perm] = ok
	}
}

func (p *Permissions) Snapshot() map[model.Permission]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[model.Permission]bool, len(p.granted))
	for k, v := range p.granted {
		out[k] = v
	}
	return out
}
