// Package mem provides an in-memory auth.Store. It backs local development
// when no database is configured and the HTTP layer's tests. Semantics match
// the PostgreSQL store: tenant scoping, uniqueness conflicts and cascading
// deletes behave the same way, just without durability.
package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	"secma.org/internal/auth"
	"secma.org/internal/ids"
)

// Store keeps everything in maps guarded by one mutex.
type Store struct {
	mu      sync.Mutex
	apps    map[string]auth.Application
	users   map[string]auth.User
	roles   map[string]auth.Role
	grants  map[string]auth.Grant
	revoked map[string]auth.RevokedToken
}

var _ auth.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		apps:    make(map[string]auth.Application),
		users:   make(map[string]auth.User),
		roles:   make(map[string]auth.Role),
		grants:  make(map[string]auth.Grant),
		revoked: make(map[string]auth.RevokedToken),
	}
}

func grantKey(userID, roleID string) string { return userID + "|" + roleID }

func (m *Store) CreateApplication(_ context.Context, slug, name string) (auth.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, app := range m.apps {
		if app.Slug == slug {
			return auth.Application{}, auth.ErrConflict
		}
	}
	now := time.Now().UTC()
	app := auth.Application{ID: ids.New(), Slug: slug, Name: name, Enabled: true, CreatedAt: now, UpdatedAt: now}
	m.apps[app.ID] = app
	return app, nil
}

func (m *Store) ListApplications(_ context.Context) ([]auth.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]auth.Application, 0, len(m.apps))
	for _, app := range m.apps {
		out = append(out, app)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *Store) GetApplication(_ context.Context, id string) (auth.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return auth.Application{}, auth.ErrNotFound
	}
	return app, nil
}

func (m *Store) GetApplicationBySlug(_ context.Context, slug string) (auth.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, app := range m.apps {
		if app.Slug == slug {
			return app, nil
		}
	}
	return auth.Application{}, auth.ErrNotFound
}

func (m *Store) UpdateApplication(_ context.Context, id string, upd auth.ApplicationUpdate) (auth.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return auth.Application{}, auth.ErrNotFound
	}
	if upd.Slug != nil {
		for _, other := range m.apps {
			if other.ID != id && other.Slug == *upd.Slug {
				return auth.Application{}, auth.ErrConflict
			}
		}
		app.Slug = *upd.Slug
	}
	if upd.Name != nil {
		app.Name = *upd.Name
	}
	if upd.Enabled != nil {
		app.Enabled = *upd.Enabled
	}
	app.UpdatedAt = time.Now().UTC()
	m.apps[id] = app
	return app, nil
}

func (m *Store) DeleteApplication(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[id]; !ok {
		return auth.ErrNotFound
	}
	delete(m.apps, id)
	for uid, u := range m.users {
		if u.ApplicationID == id {
			delete(m.users, uid)
		}
	}
	for rid, r := range m.roles {
		if r.ApplicationID == id {
			delete(m.roles, rid)
		}
	}
	for k, g := range m.grants {
		if g.ApplicationID == id {
			delete(m.grants, k)
		}
	}
	return nil
}

func (m *Store) CreateUser(_ context.Context, applicationID, login, passwordHash, status string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[applicationID]; !ok {
		return auth.User{}, auth.ErrNotFound
	}
	for _, u := range m.users {
		if u.ApplicationID == applicationID && u.Login == login {
			return auth.User{}, auth.ErrConflict
		}
	}
	now := time.Now().UTC()
	user := auth.User{ID: ids.New(), ApplicationID: applicationID, Login: login, PasswordHash: passwordHash, Status: status, CreatedAt: now, UpdatedAt: now}
	m.users[user.ID] = user
	return user, nil
}

func (m *Store) ListUsers(_ context.Context, applicationID string) ([]auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.User
	for _, u := range m.users {
		if u.ApplicationID == applicationID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Login < out[j].Login })
	return out, nil
}

func (m *Store) GetUser(_ context.Context, applicationID, userID string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.ApplicationID != applicationID {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (m *Store) GetUserByLogin(_ context.Context, applicationID, login string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ApplicationID == applicationID && u.Login == login {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (m *Store) UpdateUser(_ context.Context, userID string, upd auth.UserUpdate) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	if upd.Login != nil {
		for _, other := range m.users {
			if other.ID != userID && other.ApplicationID == u.ApplicationID && other.Login == *upd.Login {
				return auth.User{}, auth.ErrConflict
			}
		}
		u.Login = *upd.Login
	}
	if upd.Password != nil {
		u.PasswordHash = *upd.Password
	}
	if upd.Status != nil {
		u.Status = *upd.Status
	}
	u.UpdatedAt = time.Now().UTC()
	m.users[userID] = u
	return u, nil
}

func (m *Store) DeleteUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return auth.ErrNotFound
	}
	delete(m.users, userID)
	for k, g := range m.grants {
		if g.UserID == userID {
			delete(m.grants, k)
		}
	}
	return nil
}

func (m *Store) CreateRole(_ context.Context, applicationID, name, description string, permissions []string) (auth.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[applicationID]; !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	for _, r := range m.roles {
		if r.ApplicationID == applicationID && r.Name == name {
			return auth.Role{}, auth.ErrConflict
		}
	}
	now := time.Now().UTC()
	role := auth.Role{
		ID:            ids.New(),
		ApplicationID: applicationID,
		Name:          name,
		Description:   description,
		Permissions:   append([]string(nil), permissions...),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.roles[role.ID] = role
	return role, nil
}

func (m *Store) ListRoles(_ context.Context, applicationID string) ([]auth.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.Role
	for _, r := range m.roles {
		if r.ApplicationID == applicationID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Store) GetRole(_ context.Context, applicationID, roleID string) (auth.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[roleID]
	if !ok || r.ApplicationID != applicationID {
		return auth.Role{}, auth.ErrNotFound
	}
	return r, nil
}

func (m *Store) UpdateRole(_ context.Context, roleID string, upd auth.RoleUpdate) (auth.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[roleID]
	if !ok {
		return auth.Role{}, auth.ErrNotFound
	}
	if upd.Name != nil {
		for _, other := range m.roles {
			if other.ID != roleID && other.ApplicationID == r.ApplicationID && other.Name == *upd.Name {
				return auth.Role{}, auth.ErrConflict
			}
		}
		r.Name = *upd.Name
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	r.UpdatedAt = time.Now().UTC()
	m.roles[roleID] = r
	return r, nil
}

func (m *Store) SetRolePermissions(_ context.Context, roleID string, permissions []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[roleID]
	if !ok {
		return auth.ErrNotFound
	}
	r.Permissions = append([]string(nil), permissions...)
	m.roles[roleID] = r
	return nil
}

func (m *Store) DeleteRole(_ context.Context, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	delete(m.roles, roleID)
	for k, g := range m.grants {
		if g.RoleID == roleID {
			delete(m.grants, k)
		}
	}
	return nil
}

func (m *Store) CreateGrant(_ context.Context, applicationID, userID, roleID string) (auth.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.ApplicationID != applicationID {
		return auth.Grant{}, auth.ErrNotFound
	}
	r, ok := m.roles[roleID]
	if !ok || r.ApplicationID != applicationID {
		return auth.Grant{}, auth.ErrNotFound
	}
	key := grantKey(userID, roleID)
	if _, ok := m.grants[key]; ok {
		return auth.Grant{}, auth.ErrConflict
	}
	g := auth.Grant{UserID: userID, RoleID: roleID, ApplicationID: applicationID, CreatedAt: time.Now().UTC()}
	m.grants[key] = g
	return g, nil
}

func (m *Store) DeleteGrant(_ context.Context, applicationID, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := grantKey(userID, roleID)
	g, ok := m.grants[key]
	if !ok || g.ApplicationID != applicationID {
		return auth.ErrNotFound
	}
	delete(m.grants, key)
	return nil
}

func (m *Store) ListGrants(_ context.Context, applicationID, userID string) ([]auth.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.Grant
	for _, g := range m.grants {
		if g.ApplicationID == applicationID && g.UserID == userID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

func (m *Store) UserRoles(_ context.Context, applicationID, userID string) ([]auth.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.Role
	for _, g := range m.grants {
		if g.ApplicationID != applicationID || g.UserID != userID {
			continue
		}
		if r, ok := m.roles[g.RoleID]; ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Store) UserPermissions(ctx context.Context, applicationID, userID string) ([]string, error) {
	roles, err := m.UserRoles(ctx, applicationID, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var perms []string
	for _, r := range roles {
		for _, p := range r.Permissions {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			perms = append(perms, p)
		}
	}
	sort.Strings(perms)
	return perms, nil
}

func (m *Store) RevokeToken(_ context.Context, jti string, expiresAt, revokedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.revoked[jti]; ok {
		return nil
	}
	m.revoked[jti] = auth.RevokedToken{JTI: jti, ExpiresAt: expiresAt, RevokedAt: revokedAt}
	return nil
}

func (m *Store) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[jti]
	return ok, nil
}

func (m *Store) PurgeRevokedTokens(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for jti, rec := range m.revoked {
		if !rec.ExpiresAt.After(now) {
			delete(m.revoked, jti)
			n++
		}
	}
	return n, nil
}
