package job

import (
	"context"
	"sync"

	"github.com/sdejongh/bucketsync/pkg/models"
)

// Claim describes the run asking for an identity
type Claim struct {
	Identity Identity
	RunID    string
	Params   models.JobParams
}

// Registry is the unique-enqueue primitive of the job host. TryAcquire
// atomically claims an identity and reports false while another run holds it.
type Registry interface {
	TryAcquire(ctx context.Context, claim Claim) (bool, error)
	Release(ctx context.Context, id Identity) error
}

// MemoryRegistry is a process-local Registry
type MemoryRegistry struct {
	mu   sync.Mutex
	held map[Identity]string
}

// NewMemoryRegistry creates an empty registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{held: make(map[Identity]string)}
}

// TryAcquire implements Registry
func (r *MemoryRegistry) TryAcquire(_ context.Context, claim Claim) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.held[claim.Identity]; ok {
		return false, nil
	}
	r.held[claim.Identity] = claim.RunID
	return true, nil
}

// Release implements Registry
func (r *MemoryRegistry) Release(_ context.Context, id Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, id)
	return nil
}

// Holder returns the run id holding id
func (r *MemoryRegistry) Holder(id Identity) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	runID, ok := r.held[id]
	return runID, ok
}
