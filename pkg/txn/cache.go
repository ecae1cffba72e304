package txn

import (
	"strings"
	"sync"
	"time"

	"tiller-hq/tiller/pkg/dataplane"
)

// ConfigCache is the engine's in-memory mirror of the proxy's backend and
// rule configuration. The proxy's live configuration is the source of
// truth: the cache is rebuilt from a full load at initialization and
// updated incrementally by committed transactions only. Readers must
// tolerate eventually consistent snapshots.
type ConfigCache struct {
	mu        sync.RWMutex
	backends  map[string]dataplane.Backend
	ruleNames map[string]bool
	loadedAt  time.Time
}

// NewConfigCache creates an empty configuration cache.
func NewConfigCache() *ConfigCache {
	return &ConfigCache{
		backends:  make(map[string]dataplane.Backend),
		ruleNames: make(map[string]bool),
	}
}

// Replace rebuilds the cache from a fresh configuration load.
func (c *ConfigCache) Replace(backends []dataplane.Backend, contentRules []dataplane.MatchRule, originRules []dataplane.OriginRule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.backends = make(map[string]dataplane.Backend, len(backends))
	for _, b := range backends {
		copied := b
		copied.Servers = append([]dataplane.Server(nil), b.Servers...)
		c.backends[b.Name] = copied
	}

	c.ruleNames = make(map[string]bool, len(contentRules)+len(originRules))
	for _, r := range contentRules {
		c.ruleNames[r.Name] = true
	}
	for _, r := range originRules {
		c.ruleNames[r.Name] = true
	}

	c.loadedAt = time.Now()
}

// Backend returns a copy of the named backend.
func (c *ConfigCache) Backend(name string) (dataplane.Backend, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	b, ok := c.backends[name]
	if !ok {
		return dataplane.Backend{}, false
	}
	copied := b
	copied.Servers = append([]dataplane.Server(nil), b.Servers...)
	return copied, true
}

// Backends returns copies of all cached backends.
func (c *ConfigCache) Backends() []dataplane.Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]dataplane.Backend, 0, len(c.backends))
	for _, b := range c.backends {
		copied := b
		copied.Servers = append([]dataplane.Server(nil), b.Servers...)
		out = append(out, copied)
	}
	return out
}

// HasRule reports whether a routing rule with the given name is cached.
func (c *ConfigCache) HasRule(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ruleNames[name]
}

// LoadedAt returns when the cache was last rebuilt from a full load.
func (c *ConfigCache) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

// apply folds a committed transaction's changes into the cache. Called by
// the coordinator after a successful commit; never on rollback.
func (c *ConfigCache) apply(changes []Change) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, change := range changes {
		switch change.Kind {
		case ChangeServerWeight:
			backendName, serverName, ok := splitTarget(change.Target)
			if !ok {
				continue
			}
			weight, ok := change.After.(int)
			if !ok {
				continue
			}
			b, ok := c.backends[backendName]
			if !ok {
				continue
			}
			for i := range b.Servers {
				if b.Servers[i].Name == serverName {
					b.Servers[i].Weight = weight
				}
			}
			c.backends[backendName] = b

		case ChangeCreateServer:
			backendName, _, ok := splitTarget(change.Target)
			if !ok {
				continue
			}
			server, ok := change.After.(dataplane.Server)
			if !ok {
				continue
			}
			b, ok := c.backends[backendName]
			if !ok {
				continue
			}
			b.Servers = append(b.Servers, server)
			c.backends[backendName] = b

		case ChangeCreateContentRule, ChangeCreateOriginRule:
			c.ruleNames[change.Target] = true
		}
	}
}

// splitTarget splits a "backend/server" target.
func splitTarget(target string) (backend, server string, ok bool) {
	idx := strings.IndexByte(target, '/')
	if idx <= 0 || idx == len(target)-1 {
		return "", "", false
	}
	return target[:idx], target[idx+1:], true
}
