// Package registry materializes the ranked solver chain for each goal. The
// chain is an immutable slice rebuilt on promotion and swapped whole, so
// in-flight invocations always see a consistent ordering. The AI fallback
// handle terminates every chain and can never be removed, only outranked.
package registry

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/teleologic/telos/pkg/errors"
	"github.com/teleologic/telos/pkg/model"
	"github.com/teleologic/telos/pkg/sandbox"
	"github.com/teleologic/telos/pkg/solver"
	"github.com/teleologic/telos/pkg/storage"
)

// chainStore is the storage surface the registry needs.
type chainStore interface {
	GetRegistryChain(goalName string) ([]*storage.RegistryEntry, error)
	ReplaceRegistryChain(goalName string, proposalIDs []string) error
	GetProposal(id string) (*storage.Proposal, error)
}

// Registry serves ranked solver chains and applies promotions.
type Registry struct {
	store    chainStore
	runner   sandbox.Runner
	provider model.Provider
	pricing  model.Pricing

	mu    sync.Mutex
	cache *lru.Cache[string, []solver.Solver]
}

// New builds a registry. cacheSize bounds the number of goals whose chains
// are kept materialized.
func New(store chainStore, runner sandbox.Runner, provider model.Provider, pricing model.Pricing, cacheSize int) (*Registry, error) {
	if cacheSize < 1 {
		cacheSize = 256
	}
	cache, err := lru.New[string, []solver.Solver](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Registry{
		store:    store,
		runner:   runner,
		provider: provider,
		pricing:  pricing,
		cache:    cache,
	}, nil
}

// Chain returns the ranked solver list for a goal, best first, always ending
// with the AI fallback. An empty registry yields a one-element chain.
//
// The miss path holds the lock end to end. An unlocked read-then-Add could
// interleave with Promote and re-cache the pre-promotion rows, serving a
// stale chain until the next eviction.
func (r *Registry) Chain(goalName string) ([]solver.Solver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if chain, ok := r.cache.Get(goalName); ok {
		return chain, nil
	}

	entries, err := r.store.GetRegistryChain(goalName)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "load registry chain").
			WithContext("goal", goalName)
	}

	chain := make([]solver.Solver, 0, len(entries)+1)
	for _, entry := range entries {
		s, err := r.materialize(entry.ProposalID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, s)
	}
	chain = append(chain, solver.NewFallback(r.provider, r.pricing))

	r.cache.Add(goalName, chain)
	return chain, nil
}

// materialize turns an accepted proposal into a runnable solver handle.
func (r *Registry) materialize(proposalID string) (solver.Solver, error) {
	p, err := r.store.GetProposal(proposalID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "load promoted proposal").
			WithContext("proposal", proposalID)
	}
	switch p.Kind {
	case storage.ProposalKindAgentic:
		return solver.NewAgentic(p.ID, r.provider, r.pricing), nil
	case storage.ProposalKindProgram:
		return solver.NewProgram(p.ID, p.Artifact, r.runner), nil
	default:
		return nil, errors.New(errors.ErrCodeStorageCorrupt, "unknown proposal kind").
			WithContext("proposal", proposalID).WithContext("kind", p.Kind)
	}
}

// Promote replaces the non-fallback prefix of a goal's chain. proposalIDs is
// the new full ranked prefix, best first; the fallback tail is implicit and
// untouched. The swap is atomic at the storage layer, then the cached chain
// is dropped so the next Chain call sees the new ranking.
func (r *Registry) Promote(goalName string, proposalIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.ReplaceRegistryChain(goalName, proposalIDs); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "replace registry chain").
			WithContext("goal", goalName)
	}
	r.cache.Remove(goalName)
	return nil
}

// Top returns the proposal ID of the current best non-fallback entry, or ""
// when only the fallback is registered.
func (r *Registry) Top(goalName string) (string, error) {
	entries, err := r.store.GetRegistryChain(goalName)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeStorageRead, "load registry chain").
			WithContext("goal", goalName)
	}
	if len(entries) == 0 {
		return "", nil
	}
	return entries[0].ProposalID, nil
}
