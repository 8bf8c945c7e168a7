package principal

import (
	"context"
	"sync"

	"github.com/MrEthical07/tokenguard"
	"github.com/MrEthical07/tokenguard/authz"
)

var _ tokenguard.PrincipalStore = (*MemoryStore)(nil)

// MemoryStore is a mutex-guarded PrincipalStore.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]tokenguard.Principal
	byIdent map[string]string
	hooks   []DeleteHook
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]tokenguard.Principal),
		byIdent: make(map[string]string),
	}
}

// OnDelete registers hook to run after every successful Delete.
func (s *MemoryStore) OnDelete(hook DeleteHook) {
	s.mu.Lock()
	s.hooks = append(s.hooks, hook)
	s.mu.Unlock()
}

// Put inserts or replaces p. The identifier must not belong to another
// principal.
func (s *MemoryStore) Put(p tokenguard.Principal) error {
	if err := validate(p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.byIdent[p.Identifier]; ok && owner != p.ID {
		return ErrDuplicateIdentifier
	}
	if prev, ok := s.byID[p.ID]; ok && prev.Identifier != p.Identifier {
		delete(s.byIdent, prev.Identifier)
	}
	s.byID[p.ID] = p
	s.byIdent[p.Identifier] = p.ID
	return nil
}

// SetRoles replaces the roles of id. They take effect at the next refresh.
func (s *MemoryStore) SetRoles(id string, roles authz.RoleSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return tokenguard.ErrPrincipalNotFound
	}
	p.Roles = roles
	s.byID[id] = p
	return nil
}

// Delete removes id and then runs the delete hooks. Hook errors are joined
// and returned; the principal stays deleted.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	p, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return tokenguard.ErrPrincipalNotFound
	}
	delete(s.byID, id)
	delete(s.byIdent, p.Identifier)
	hooks := append([]DeleteHook(nil), s.hooks...)
	s.mu.Unlock()

	return runHooks(ctx, hooks, id)
}

func (s *MemoryStore) PrincipalByIdentifier(ctx context.Context, identifier string) (tokenguard.Principal, error) {
	if err := ctx.Err(); err != nil {
		return tokenguard.Principal{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byIdent[identifier]
	if !ok {
		return tokenguard.Principal{}, tokenguard.ErrPrincipalNotFound
	}
	return s.byID[id], nil
}

func (s *MemoryStore) PrincipalByID(ctx context.Context, id string) (tokenguard.Principal, error) {
	if err := ctx.Err(); err != nil {
		return tokenguard.Principal{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return tokenguard.Principal{}, tokenguard.ErrPrincipalNotFound
	}
	return p, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
