package deploy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const minPrefixLen = 12

// Registry tracks live deployments by container id.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*Deployment
}

func NewRegistry() *Registry {
	return &Registry{byID: map[string]*Deployment{}}
}

func (r *Registry) Put(d *Deployment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[d.ContainerID] = d
}

// Get resolves a full container id or a unique prefix of at least 12
// characters.
func (r *Registry) Get(id string) (*Deployment, error) {
	id = strings.TrimSpace(id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.byID[id]; ok {
		return d, nil
	}
	if len(id) < minPrefixLen {
		return nil, fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
	}
	var found *Deployment
	for full, d := range r.byID {
		if !strings.HasPrefix(full, id) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: ambiguous id %s", ErrDeploymentNotFound, id)
		}
		found = d
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
	}
	return found, nil
}

func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// Rekey moves d from oldID to its current ContainerID.
func (r *Registry) Rekey(oldID string, d *Deployment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, oldID)
	r.byID[d.ContainerID] = d
}

// ByPort returns the deployment bound to a host port.
func (r *Registry) ByPort(port int) (*Deployment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.byID {
		if d.HostPort == port {
			return d, true
		}
	}
	return nil, false
}

// List returns copies of all deployments, oldest first.
func (r *Registry) List() []Deployment {
	r.mu.RLock()
	out := make([]Deployment, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, *d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ContainerID < out[j].ContainerID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
