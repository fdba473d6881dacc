package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	slugPattern  = regexp.MustCompile(`^[a-z0-9_-]+$`)
	loginPattern = regexp.MustCompile(`^[a-z0-9._-]+$`)
)

// RBACService is the administrative surface: CRUD on applications, users,
// roles and grants. Every mutation that can change a resolved permission set
// invalidates the resolver cache synchronously before returning.
type RBACService struct {
	store    Store
	hasher   *Hasher
	resolver *Resolver
}

// NewRBACService constructs the service.
func NewRBACService(store Store, hasher *Hasher, resolver *Resolver) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	if hasher == nil {
		return nil, errors.New("password hasher is required")
	}
	if resolver == nil {
		return nil, errors.New("permission resolver is required")
	}
	return &RBACService{store: store, hasher: hasher, resolver: resolver}, nil
}

// EnsureBuiltins creates the management application and its admin role if
// they do not exist yet, so a fresh deployment is administrable.
func (s *RBACService) EnsureBuiltins(ctx context.Context) error {
	app, err := s.store.GetApplicationBySlug(ctx, ManagementApplication)
	if errors.Is(err, ErrNotFound) {
		app, err = s.store.CreateApplication(ctx, ManagementApplication, "Management")
		if errors.Is(err, ErrConflict) {
			app, err = s.store.GetApplicationBySlug(ctx, ManagementApplication)
		}
	}
	if err != nil {
		return fmt.Errorf("ensure management application: %w", err)
	}

	roles, err := s.store.ListRoles(ctx, app.ID)
	if err != nil {
		return fmt.Errorf("list management roles: %w", err)
	}
	for _, role := range roles {
		if role.Name == AdminRole {
			return nil
		}
	}
	if _, err := s.store.CreateRole(ctx, app.ID, AdminRole, "Builtin administrator role", ManagementPermissions); err != nil && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("ensure admin role: %w", err)
	}
	return nil
}

// Applications ------------------------------------------------------------

func (s *RBACService) CreateApplication(ctx context.Context, slug, name string) (Application, error) {
	slug = strings.TrimSpace(slug)
	if err := validateSlug(slug); err != nil {
		return Application{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = slug
	}
	return s.store.CreateApplication(ctx, slug, name)
}

func (s *RBACService) ListApplications(ctx context.Context) ([]Application, error) {
	return s.store.ListApplications(ctx)
}

func (s *RBACService) GetApplication(ctx context.Context, id string) (Application, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Application{}, fmt.Errorf("%w: application id is required", ErrInvalidInput)
	}
	return s.store.GetApplication(ctx, id)
}

func (s *RBACService) GetApplicationBySlug(ctx context.Context, slug string) (Application, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return Application{}, fmt.Errorf("%w: application slug is required", ErrInvalidInput)
	}
	return s.store.GetApplicationBySlug(ctx, slug)
}

func (s *RBACService) UpdateApplication(ctx context.Context, id string, upd ApplicationUpdate) (Application, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Application{}, fmt.Errorf("%w: application id is required", ErrInvalidInput)
	}
	if upd.Slug != nil {
		slug := strings.TrimSpace(*upd.Slug)
		if err := validateSlug(slug); err != nil {
			return Application{}, err
		}
		upd.Slug = &slug
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Application{}, fmt.Errorf("%w: application name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	app, err := s.store.UpdateApplication(ctx, id, upd)
	if err != nil {
		return Application{}, err
	}
	if upd.Enabled != nil && !*upd.Enabled {
		s.resolver.InvalidateApplication(id)
	}
	return app, nil
}

func (s *RBACService) DeleteApplication(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: application id is required", ErrInvalidInput)
	}
	if err := s.store.DeleteApplication(ctx, id); err != nil {
		return err
	}
	s.resolver.InvalidateApplication(id)
	return nil
}

// Users --------------------------------------------------------------------

func (s *RBACService) CreateUser(ctx context.Context, applicationID, login, password string) (User, error) {
	applicationID = strings.TrimSpace(applicationID)
	if applicationID == "" {
		return User{}, fmt.Errorf("%w: application id is required", ErrInvalidInput)
	}
	login = strings.TrimSpace(strings.ToLower(login))
	if err := validateLogin(login); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(password) == "" {
		return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, err
	}
	return s.store.CreateUser(ctx, applicationID, login, hash, userStatusActive)
}

func (s *RBACService) ListUsers(ctx context.Context, applicationID string) ([]User, error) {
	applicationID = strings.TrimSpace(applicationID)
	if applicationID == "" {
		return nil, fmt.Errorf("%w: application id is required", ErrInvalidInput)
	}
	return s.store.ListUsers(ctx, applicationID)
}

func (s *RBACService) GetUser(ctx context.Context, applicationID, userID string) (User, error) {
	applicationID = strings.TrimSpace(applicationID)
	userID = strings.TrimSpace(userID)
	if applicationID == "" || userID == "" {
		return User{}, fmt.Errorf("%w: application id and user id are required", ErrInvalidInput)
	}
	return s.store.GetUser(ctx, applicationID, userID)
}

func (s *RBACService) UpdateUser(ctx context.Context, applicationID, userID string, upd UserUpdate) (User, error) {
	applicationID = strings.TrimSpace(applicationID)
	userID = strings.TrimSpace(userID)
	if applicationID == "" || userID == "" {
		return User{}, fmt.Errorf("%w: application id and user id are required", ErrInvalidInput)
	}
	// Scope check: the user must exist inside this application.
	if _, err := s.store.GetUser(ctx, applicationID, userID); err != nil {
		return User{}, err
	}
	if upd.Login != nil {
		login := strings.TrimSpace(strings.ToLower(*upd.Login))
		if err := validateLogin(login); err != nil {
			return User{}, err
		}
		upd.Login = &login
	}
	if upd.Status != nil {
		status := strings.TrimSpace(strings.ToLower(*upd.Status))
		if status != userStatusActive && status != userStatusDisabled {
			return User{}, fmt.Errorf("%w: unsupported status %s", ErrInvalidInput, status)
		}
		upd.Status = &status
	}
	if upd.Password != nil {
		pw := strings.TrimSpace(*upd.Password)
		if pw == "" {
			return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
		}
		hash, err := s.hasher.Hash(pw)
		if err != nil {
			return User{}, err
		}
		upd.Password = &hash
	}
	user, err := s.store.UpdateUser(ctx, userID, upd)
	if err != nil {
		return User{}, err
	}
	s.resolver.InvalidateUser(applicationID, userID)
	return user, nil
}

func (s *RBACService) DeleteUser(ctx context.Context, applicationID, userID string) error {
	applicationID = strings.TrimSpace(applicationID)
	userID = strings.TrimSpace(userID)
	if applicationID == "" || userID == "" {
		return fmt.Errorf("%w: application id and user id are required", ErrInvalidInput)
	}
	if _, err := s.store.GetUser(ctx, applicationID, userID); err != nil {
		return err
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.resolver.InvalidateUser(applicationID, userID)
	return nil
}

// Roles --------------------------------------------------------------------

func (s *RBACService) CreateRole(ctx context.Context, applicationID, name, description string, permissions []string) (Role, error) {
	applicationID = strings.TrimSpace(applicationID)
	if applicationID == "" {
		return Role{}, fmt.Errorf("%w: application id is required", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return s.store.CreateRole(ctx, applicationID, name, strings.TrimSpace(description), dedupeStrings(permissions))
}

func (s *RBACService) ListRoles(ctx context.Context, applicationID string) ([]Role, error) {
	applicationID = strings.TrimSpace(applicationID)
	if applicationID == "" {
		return nil, fmt.Errorf("%w: application id is required", ErrInvalidInput)
	}
	return s.store.ListRoles(ctx, applicationID)
}

func (s *RBACService) GetRole(ctx context.Context, applicationID, roleID string) (Role, error) {
	applicationID = strings.TrimSpace(applicationID)
	roleID = strings.TrimSpace(roleID)
	if applicationID == "" || roleID == "" {
		return Role{}, fmt.Errorf("%w: application id and role id are required", ErrInvalidInput)
	}
	return s.store.GetRole(ctx, applicationID, roleID)
}

func (s *RBACService) UpdateRole(ctx context.Context, applicationID, roleID string, upd RoleUpdate) (Role, error) {
	if _, err := s.GetRole(ctx, applicationID, roleID); err != nil {
		return Role{}, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	role, err := s.store.UpdateRole(ctx, strings.TrimSpace(roleID), upd)
	if err != nil {
		return Role{}, err
	}
	s.resolver.InvalidateApplication(strings.TrimSpace(applicationID))
	return role, nil
}

func (s *RBACService) SetRolePermissions(ctx context.Context, applicationID, roleID string, permissions []string) error {
	if _, err := s.GetRole(ctx, applicationID, roleID); err != nil {
		return err
	}
	if err := s.store.SetRolePermissions(ctx, strings.TrimSpace(roleID), dedupeStrings(permissions)); err != nil {
		return err
	}
	s.resolver.InvalidateApplication(strings.TrimSpace(applicationID))
	return nil
}

func (s *RBACService) DeleteRole(ctx context.Context, applicationID, roleID string) error {
	if _, err := s.GetRole(ctx, applicationID, roleID); err != nil {
		return err
	}
	// Grants referencing the role go with it (cascade in the store).
	if err := s.store.DeleteRole(ctx, strings.TrimSpace(roleID)); err != nil {
		return err
	}
	s.resolver.InvalidateApplication(strings.TrimSpace(applicationID))
	return nil
}

// Grants -------------------------------------------------------------------

func (s *RBACService) CreateGrant(ctx context.Context, applicationID, userID, roleID string) (Grant, error) {
	applicationID = strings.TrimSpace(applicationID)
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if applicationID == "" || userID == "" || roleID == "" {
		return Grant{}, fmt.Errorf("%w: application id, user id and role id are required", ErrInvalidInput)
	}
	grant, err := s.store.CreateGrant(ctx, applicationID, userID, roleID)
	if err != nil {
		return Grant{}, err
	}
	s.resolver.InvalidateUser(applicationID, userID)
	return grant, nil
}

func (s *RBACService) DeleteGrant(ctx context.Context, applicationID, userID, roleID string) error {
	applicationID = strings.TrimSpace(applicationID)
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if applicationID == "" || userID == "" || roleID == "" {
		return fmt.Errorf("%w: application id, user id and role id are required", ErrInvalidInput)
	}
	if err := s.store.DeleteGrant(ctx, applicationID, userID, roleID); err != nil {
		return err
	}
	s.resolver.InvalidateUser(applicationID, userID)
	return nil
}

func (s *RBACService) ListGrants(ctx context.Context, applicationID, userID string) ([]Grant, error) {
	applicationID = strings.TrimSpace(applicationID)
	userID = strings.TrimSpace(userID)
	if applicationID == "" || userID == "" {
		return nil, fmt.Errorf("%w: application id and user id are required", ErrInvalidInput)
	}
	return s.store.ListGrants(ctx, applicationID, userID)
}

// Helpers ------------------------------------------------------------------

func validateSlug(slug string) error {
	if len(slug) < 3 || len(slug) > 255 {
		return fmt.Errorf("%w: slug must be 3-255 characters", ErrInvalidInput)
	}
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("%w: slug may contain lowercase letters, digits, underscore and minus", ErrInvalidInput)
	}
	return nil
}

func validateLogin(login string) error {
	if login == "" || len(login) > 255 {
		return fmt.Errorf("%w: login must be 1-255 characters", ErrInvalidInput)
	}
	if !loginPattern.MatchString(login) {
		return fmt.Errorf("%w: login may contain lowercase letters, digits, dot, underscore and minus", ErrInvalidInput)
	}
	return nil
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
