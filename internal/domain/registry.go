package domain

import (
	"sort"
	"sync"
	"time"
)

// ContainerRegistry implements the StatsRegistry interface.
type ContainerRegistry struct {
	containers map[string]*ContainerStats
	mutex      sync.RWMutex
}

// NewContainerRegistry creates a new container registry.
func NewContainerRegistry() *ContainerRegistry {
	return &ContainerRegistry{
		containers: make(map[string]*ContainerStats),
	}
}

// Record counts one reception of the named container.
func (r *ContainerRegistry) Record(name string, reception, generation time.Time) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	stats, exists := r.containers[name]
	if !exists {
		stats = &ContainerStats{Name: name}
		r.containers[name] = stats
	}
	stats.Count++
	stats.LastReception = reception
	stats.LastGeneration = generation
}

// Get returns a copy of the statistics of a container.
func (r *ContainerRegistry) Get(name string) (*ContainerStats, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats, exists := r.containers[name]
	if !exists {
		return nil, false
	}
	out := *stats
	return &out, true
}

// All returns copies of all statistics sorted by container name.
func (r *ContainerRegistry) All() []*ContainerStats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make([]*ContainerStats, 0, len(r.containers))
	for _, stats := range r.containers {
		cp := *stats
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}
