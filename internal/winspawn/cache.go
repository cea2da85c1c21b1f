package winspawn

import "sync"

type cacheKey struct {
	command string
	strict  bool
}

// Cache memoizes resolved Programs keyed by (command, strict mode).
// Only the Program is cached, never a materialized invocation, so caller
// argv stays fresh per spawn.
type Cache struct {
	mu sync.Mutex
	m  map[cacheKey]Program
}

// NewCache creates an empty spawn command cache.
func NewCache() *Cache {
	return &Cache{m: make(map[cacheKey]Program)}
}

// Resolve returns the cached Program for opts or resolves and stores it.
// Errors are not cached; a failed strict resolve retries on next call.
func (c *Cache) Resolve(opts Options) (Program, error) {
	key := cacheKey{command: opts.Command, strict: opts.strict()}

	c.mu.Lock()
	if prog, ok := c.m[key]; ok {
		c.mu.Unlock()
		return prog, nil
	}
	c.mu.Unlock()

	prog, err := Resolve(opts)
	if err != nil {
		return Program{}, err
	}

	c.mu.Lock()
	c.m[key] = prog
	c.mu.Unlock()
	return prog, nil
}
