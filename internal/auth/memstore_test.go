package auth

import (
	"context"
	"sync"
	"time"

	"secma.org/internal/ids"
)

// memStore is an in-memory Store used by the package tests. It mirrors the
// tenant-scoping and cascade rules the SQL store enforces with constraints.
type memStore struct {
	mu      sync.Mutex
	apps    map[string]Application
	users   map[string]User
	roles   map[string]Role
	grants  map[string]Grant
	revoked map[string]RevokedToken
}

func newMemStore() *memStore {
	return &memStore{
		apps:    make(map[string]Application),
		users:   make(map[string]User),
		roles:   make(map[string]Role),
		grants:  make(map[string]Grant),
		revoked: make(map[string]RevokedToken),
	}
}

var _ Store = (*memStore)(nil)

func grantKey(userID, roleID string) string { return userID + "|" + roleID }

func (m *memStore) CreateApplication(_ context.Context, slug, name string) (Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, app := range m.apps {
		if app.Slug == slug {
			return Application{}, ErrConflict
		}
	}
	now := time.Now().UTC()
	app := Application{ID: ids.New(), Slug: slug, Name: name, Enabled: true, CreatedAt: now, UpdatedAt: now}
	m.apps[app.ID] = app
	return app, nil
}

func (m *memStore) ListApplications(_ context.Context) ([]Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Application, 0, len(m.apps))
	for _, app := range m.apps {
		out = append(out, app)
	}
	return out, nil
}

func (m *memStore) GetApplication(_ context.Context, id string) (Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return Application{}, ErrNotFound
	}
	return app, nil
}

func (m *memStore) GetApplicationBySlug(_ context.Context, slug string) (Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, app := range m.apps {
		if app.Slug == slug {
			return app, nil
		}
	}
	return Application{}, ErrNotFound
}

func (m *memStore) UpdateApplication(_ context.Context, id string, upd ApplicationUpdate) (Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return Application{}, ErrNotFound
	}
	if upd.Slug != nil {
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

func (m *memStore) DeleteApplication(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[id]; !ok {
		return ErrNotFound
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

func (m *memStore) CreateUser(_ context.Context, applicationID, login, passwordHash, status string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[applicationID]; !ok {
		return User{}, ErrNotFound
	}
	for _, u := range m.users {
		if u.ApplicationID == applicationID && u.Login == login {
			return User{}, ErrConflict
		}
	}
	now := time.Now().UTC()
	user := User{ID: ids.New(), ApplicationID: applicationID, Login: login, PasswordHash: passwordHash, Status: status, CreatedAt: now, UpdatedAt: now}
	m.users[user.ID] = user
	return user, nil
}

func (m *memStore) ListUsers(_ context.Context, applicationID string) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []User
	for _, u := range m.users {
		if u.ApplicationID == applicationID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) GetUser(_ context.Context, applicationID, userID string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.ApplicationID != applicationID {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *memStore) GetUserByLogin(_ context.Context, applicationID, login string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ApplicationID == applicationID && u.Login == login {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *memStore) UpdateUser(_ context.Context, userID string, upd UserUpdate) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	if upd.Login != nil {
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

func (m *memStore) DeleteUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return ErrNotFound
	}
	delete(m.users, userID)
	for k, g := range m.grants {
		if g.UserID == userID {
			delete(m.grants, k)
		}
	}
	return nil
}

func (m *memStore) CreateRole(_ context.Context, applicationID, name, description string, permissions []string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[applicationID]; !ok {
		return Role{}, ErrNotFound
	}
	for _, r := range m.roles {
		if r.ApplicationID == applicationID && r.Name == name {
			return Role{}, ErrConflict
		}
	}
	now := time.Now().UTC()
	role := Role{ID: ids.New(), ApplicationID: applicationID, Name: name, Description: description, Permissions: append([]string(nil), permissions...), CreatedAt: now, UpdatedAt: now}
	m.roles[role.ID] = role
	return role, nil
}

func (m *memStore) ListRoles(_ context.Context, applicationID string) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Role
	for _, r := range m.roles {
		if r.ApplicationID == applicationID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) GetRole(_ context.Context, applicationID, roleID string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[roleID]
	if !ok || r.ApplicationID != applicationID {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (m *memStore) UpdateRole(_ context.Context, roleID string, upd RoleUpdate) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[roleID]
	if !ok {
		return Role{}, ErrNotFound
	}
	if upd.Name != nil {
		r.Name = *upd.Name
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	r.UpdatedAt = time.Now().UTC()
	m.roles[roleID] = r
	return r, nil
}

func (m *memStore) SetRolePermissions(_ context.Context, roleID string, permissions []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	r.Permissions = append([]string(nil), permissions...)
	m.roles[roleID] = r
	return nil
}

func (m *memStore) DeleteRole(_ context.Context, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	delete(m.roles, roleID)
	for k, g := range m.grants {
		if g.RoleID == roleID {
			delete(m.grants, k)
		}
	}
	return nil
}

func (m *memStore) CreateGrant(_ context.Context, applicationID, userID, roleID string) (Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.ApplicationID != applicationID {
		return Grant{}, ErrNotFound
	}
	r, ok := m.roles[roleID]
	if !ok || r.ApplicationID != applicationID {
		return Grant{}, ErrNotFound
	}
	key := grantKey(userID, roleID)
	if _, ok := m.grants[key]; ok {
		return Grant{}, ErrConflict
	}
	g := Grant{UserID: userID, RoleID: roleID, ApplicationID: applicationID, CreatedAt: time.Now().UTC()}
	m.grants[key] = g
	return g, nil
}

func (m *memStore) DeleteGrant(_ context.Context, applicationID, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := grantKey(userID, roleID)
	g, ok := m.grants[key]
	if !ok || g.ApplicationID != applicationID {
		return ErrNotFound
	}
	delete(m.grants, key)
	return nil
}

func (m *memStore) ListGrants(_ context.Context, applicationID, userID string) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Grant
	for _, g := range m.grants {
		if g.ApplicationID == applicationID && g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memStore) UserRoles(_ context.Context, applicationID, userID string) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Role
	for _, g := range m.grants {
		if g.ApplicationID != applicationID || g.UserID != userID {
			continue
		}
		if r, ok := m.roles[g.RoleID]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) UserPermissions(ctx context.Context, applicationID, userID string) ([]string, error) {
	roles, err := m.UserRoles(ctx, applicationID, userID)
	if err != nil {
		return nil, err
	}
	var perms []string
	for _, r := range roles {
		perms = append(perms, r.Permissions...)
	}
	return dedupeStrings(perms), nil
}

func (m *memStore) RevokeToken(_ context.Context, jti string, expiresAt, revokedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.revoked[jti]; ok {
		return nil
	}
	m.revoked[jti] = RevokedToken{JTI: jti, ExpiresAt: expiresAt, RevokedAt: revokedAt}
	return nil
}

func (m *memStore) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[jti]
	return ok, nil
}

func (m *memStore) PurgeRevokedTokens(_ context.Context, now time.Time) (int64, error) {
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
