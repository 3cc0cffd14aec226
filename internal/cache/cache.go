// Package cache keeps the most recent values of every parameter.
package cache

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-tmtc/internal/domain"
	"github.com/resident-x/go-tmtc/internal/schema"
)

// DefaultHistorySize is the number of values kept per parameter when the
// configuration does not say otherwise.
const DefaultHistorySize = 8

// ring holds the last values of one parameter, newest at head-1.
type ring struct {
	values []*domain.ParameterValue
	head   int
	size   int
}

func (r *ring) put(pv *domain.ParameterValue) {
	r.values[r.head] = pv
	r.head = (r.head + 1) % len(r.values)
	if r.size < len(r.values) {
		r.size++
	}
}

// at returns the value back steps before the newest one.
func (r *ring) at(back int) (*domain.ParameterValue, bool) {
	if back < 0 || back >= r.size {
		return nil, false
	}
	i := (r.head - 1 - back + len(r.values)) % len(r.values)
	return r.values[i], true
}

// LastValueCache implements domain.ParameterCache. Writers replace values,
// the last writer wins.
type LastValueCache struct {
	mu          sync.RWMutex
	params      []*schema.Parameter
	rings       []*ring
	historySize int
	logger      zerolog.Logger
}

// New creates a cache sized for the parameters of db.
func New(db *schema.Database, historySize int) *LastValueCache {
	if historySize < 1 {
		historySize = DefaultHistorySize
	}
	return &LastValueCache{
		params:      db.Parameters(),
		rings:       make([]*ring, len(db.Parameters())),
		historySize: historySize,
		logger:      log.With().Str("component", "cache").Logger(),
	}
}

// slot returns the ring index of p, or -1 when p is not part of the schema
// the cache was built for.
func (c *LastValueCache) slot(p *schema.Parameter) int {
	idx := p.Index()
	if idx < 0 || idx >= len(c.params) || c.params[idx] != p {
		return -1
	}
	return idx
}

// Put stores the values of one delivery, in delivery order.
func (c *LastValueCache) Put(values []*domain.ParameterValue) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, pv := range values {
		idx := c.slot(pv.Parameter)
		if idx < 0 {
			c.logger.Debug().Str("parameter", pv.Parameter.Name).Msg("Parameter outside the cached schema")
			continue
		}
		r := c.rings[idx]
		if r == nil {
			r = &ring{values: make([]*domain.ParameterValue, c.historySize)}
			c.rings[idx] = r
		}
		r.put(pv)
	}
}

// Get returns the most recent value of p.
func (c *LastValueCache) Get(p *schema.Parameter) (*domain.ParameterValue, bool) {
	return c.GetInstance(p, 0)
}

// GetInstance returns the value instance steps back in history. Instance 0
// is the most recent value, positive instances are never cached.
func (c *LastValueCache) GetInstance(p *schema.Parameter, instance int) (*domain.ParameterValue, bool) {
	if instance > 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx := c.slot(p)
	if idx < 0 || c.rings[idx] == nil {
		return nil, false
	}
	return c.rings[idx].at(-instance)
}

// Values returns the most recent value of every parameter received so far,
// in schema order.
func (c *LastValueCache) Values() []*domain.ParameterValue {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*domain.ParameterValue, 0, len(c.rings))
	for _, r := range c.rings {
		if r == nil {
			continue
		}
		if pv, ok := r.at(0); ok {
			out = append(out, pv)
		}
	}
	return out
}

// History returns up to n values of p, newest first.
func (c *LastValueCache) History(p *schema.Parameter, n int) []*domain.ParameterValue {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx := c.slot(p)
	if idx < 0 || c.rings[idx] == nil {
		return nil
	}
	r := c.rings[idx]
	if n > r.size {
		n = r.size
	}
	out := make([]*domain.ParameterValue, 0, n)
	for i := 0; i < n; i++ {
		pv, _ := r.at(i)
		out = append(out, pv)
	}
	return out
}
