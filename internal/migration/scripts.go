package migration

import (
	"context"
	"sort"
	"sync"

	"github.com/sells-group/contractml/internal/model"
)

// Script transforms a payload from one schema version to the next. It
// receives its own copy of the payload.
type Script func(ctx context.Context, in model.Payload) (model.Payload, error)

// ScriptKey identifies a script by domain and version pair.
type ScriptKey struct {
	Domain string
	From   string
	To     string
}

func (k ScriptKey) String() string {
	return k.Domain + "_" + k.From + "_to_" + k.To
}

// Scripts is the table of registered migration scripts. It is populated at
// startup and consulted by key on every migration.
type Scripts struct {
	mu      sync.RWMutex
	scripts map[ScriptKey]Script
}

// NewScripts returns an empty table.
func NewScripts() *Scripts {
	return &Scripts{scripts: make(map[ScriptKey]Script)}
}

// Register adds or replaces the script for (domain, from, to).
func (s *Scripts) Register(domain, from, to string, fn Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[ScriptKey{Domain: domain, From: from, To: to}] = fn
}

// Lookup returns the script registered for (domain, from, to).
func (s *Scripts) Lookup(domain, from, to string) (Script, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.scripts[ScriptKey{Domain: domain, From: from, To: to}]
	return fn, ok
}

// Len returns the number of registered scripts.
func (s *Scripts) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.scripts)
}

// Keys returns the registered keys in a stable order.
func (s *Scripts) Keys() []ScriptKey {
	s.mu.RLock()
	keys := make([]ScriptKey, 0, len(s.scripts))
	for k := range s.scripts {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}
