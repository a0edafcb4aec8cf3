package httpapi

import (
	"sync"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/wire"
)

// ChainStore holds named chain definitions for the CRUD surface spec §6
// names alongside POST /v1/chains/execute (create/list/get/delete).
// Durable storage is out of scope (spec §1 non-goals cover conversation
// history, not chain definitions, but nothing in spec.md asks for a
// database here either); an in-memory, mutex-guarded map matches
// ModelRegistry's own single-writer-many-reader discipline (spec §5).
type ChainStore struct {
	mu     sync.RWMutex
	chains map[string]*wire.Chain
}

// NewChainStore builds an empty ChainStore.
func NewChainStore() *ChainStore {
	return &ChainStore{chains: make(map[string]*wire.Chain)}
}

// Create validates and stores c, rejecting a duplicate id.
func (s *ChainStore) Create(c *wire.Chain) *apierr.Error {
	if c.ID == "" {
		return apierr.Validation("id", "chain id is required")
	}
	if verr := wire.ValidateChain(c); verr != nil {
		return verr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.chains[c.ID]; exists {
		return apierr.New(apierr.KindValidation, "chain id "+c.ID+" already exists")
	}
	s.chains[c.ID] = c
	return nil
}

// List returns every stored chain, sorted by id is left to the caller.
func (s *ChainStore) List() []*wire.Chain {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*wire.Chain, 0, len(s.chains))
	for _, c := range s.chains {
		out = append(out, c)
	}
	return out
}

// Get returns the chain registered under id.
func (s *ChainStore) Get(id string) (*wire.Chain, *apierr.Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[id]
	if !ok {
		return nil, apierr.New(apierr.KindNotFound, "chain '"+id+"' is not registered")
	}
	return c, nil
}

// Delete removes the chain registered under id, no-op if absent.
func (s *ChainStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chains, id)
}
