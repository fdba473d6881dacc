package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// PermissionSet is the resolved set of permission strings for one
// (user, application) pair. Membership is literal string equality; there is
// no wildcard or prefix matching.
type PermissionSet struct {
	all   bool
	perms map[string]struct{}
}

// NewPermissionSet builds a set from raw permission strings, deduplicating.
func NewPermissionSet(perms []string) PermissionSet {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return PermissionSet{perms: set}
}

// AllPermissions is the universal set held by the super-user.
func AllPermissions() PermissionSet {
	return PermissionSet{all: true}
}

// Has reports membership of the permission string.
func (s PermissionSet) Has(perm string) bool {
	if s.all {
		return true
	}
	_, ok := s.perms[perm]
	return ok
}

// Universal reports whether the set bypasses membership checks entirely.
func (s PermissionSet) Universal() bool { return s.all }

// List returns the member permissions in sorted order. The universal set
// returns nil since its membership is unbounded.
func (s PermissionSet) List() []string {
	if s.all || len(s.perms) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.perms))
	for p := range s.perms {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Resolver computes effective permission sets. It sits on the hot path of
// every authorized request, so it optionally keeps an in-process cache.
//
// Cache contract: the cache is only correct if every mutation of grants,
// roles or users synchronously calls InvalidateUser or
// InvalidateApplication before the mutation returns to its caller. The RBAC
// service honors this; any other writer must too.
type Resolver struct {
	store Store

	mu    sync.RWMutex
	cache map[string]map[string]PermissionSet
}

// ResolverOption configures Resolver behavior.
type ResolverOption func(*Resolver)

// WithCache enables the invalidate-on-write permission cache.
func WithCache() ResolverOption {
	return func(r *Resolver) {
		r.cache = make(map[string]map[string]PermissionSet)
	}
}

// NewResolver constructs a Resolver over the store.
func NewResolver(store Store, opts ...ResolverOption) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	r := &Resolver{store: store}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve returns the union of permission strings across every role granted
// to the user within the application.
func (r *Resolver) Resolve(ctx context.Context, applicationID, userID string) (PermissionSet, error) {
	applicationID = strings.TrimSpace(applicationID)
	userID = strings.TrimSpace(userID)
	if applicationID == "" || userID == "" {
		return PermissionSet{}, fmt.Errorf("%w: application id and user id are required", ErrInvalidInput)
	}

	if set, ok := r.cached(applicationID, userID); ok {
		return set, nil
	}

	perms, err := r.store.UserPermissions(ctx, applicationID, userID)
	if err != nil {
		return PermissionSet{}, err
	}
	set := NewPermissionSet(perms)
	r.remember(applicationID, userID, set)
	return set, nil
}

func (r *Resolver) cached(applicationID, userID string) (PermissionSet, bool) {
	if r.cache == nil {
		return PermissionSet{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	byUser, ok := r.cache[applicationID]
	if !ok {
		return PermissionSet{}, false
	}
	set, ok := byUser[userID]
	return set, ok
}

func (r *Resolver) remember(applicationID, userID string, set PermissionSet) {
	if r.cache == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byUser, ok := r.cache[applicationID]
	if !ok {
		byUser = make(map[string]PermissionSet)
		r.cache[applicationID] = byUser
	}
	byUser[userID] = set
}

// InvalidateUser drops the cached set for one (application, user) pair.
func (r *Resolver) InvalidateUser(applicationID, userID string) {
	if r.cache == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if byUser, ok := r.cache[applicationID]; ok {
		delete(byUser, userID)
	}
}

// InvalidateApplication drops every cached set for the application. Used for
// role-level mutations, which can affect any user holding the role.
func (r *Resolver) InvalidateApplication(applicationID string) {
	if r.cache == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, applicationID)
}
