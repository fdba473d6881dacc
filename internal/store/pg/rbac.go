package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"secma.org/internal/auth"
	"secma.org/internal/ids"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) CreateApplication(ctx context.Context, slug, name string) (auth.Application, error) {
	var app auth.Application
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		insert into %s (id, slug, name, enabled)
		values ($1, $2, $3, true)
		returning id, slug, name, enabled, created_at, updated_at
	`, s.t.apps), ids.New(), slug, name)
	if err := row.Scan(&app.ID, &app.Slug, &app.Name, &app.Enabled, &app.CreatedAt, &app.UpdatedAt); err != nil {
		return auth.Application{}, mapErr(err)
	}
	return app, nil
}

func (s *Store) ListApplications(ctx context.Context) ([]auth.Application, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select id, slug, name, enabled, created_at, updated_at
		from %s
		order by slug
	`, s.t.apps))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var apps []auth.Application
	for rows.Next() {
		var app auth.Application
		if err := rows.Scan(&app.ID, &app.Slug, &app.Name, &app.Enabled, &app.CreatedAt, &app.UpdatedAt); err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return apps, nil
}

func (s *Store) GetApplication(ctx context.Context, id string) (auth.Application, error) {
	return s.applicationBy(ctx, "id", id)
}

func (s *Store) GetApplicationBySlug(ctx context.Context, slug string) (auth.Application, error) {
	return s.applicationBy(ctx, "slug", slug)
}

func (s *Store) applicationBy(ctx context.Context, column, value string) (auth.Application, error) {
	var app auth.Application
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		select id, slug, name, enabled, created_at, updated_at
		from %s
		where %s = $1
	`, s.t.apps, column), value).Scan(&app.ID, &app.Slug, &app.Name, &app.Enabled, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		return auth.Application{}, mapErr(err)
	}
	return app, nil
}

func (s *Store) UpdateApplication(ctx context.Context, id string, upd auth.ApplicationUpdate) (auth.Application, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Slug != nil {
		sets = append(sets, fmt.Sprintf("slug = $%d", idx))
		args = append(args, *upd.Slug)
		idx++
	}
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Enabled != nil {
		sets = append(sets, fmt.Sprintf("enabled = $%d", idx))
		args = append(args, *upd.Enabled)
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update %s set %s where id = $%d`, s.t.apps, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return auth.Application{}, mapErr(err)
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return auth.Application{}, err
		}
		if aff == 0 {
			return auth.Application{}, auth.ErrNotFound
		}
	}
	return s.GetApplication(ctx, id)
}

func (s *Store) DeleteApplication(ctx context.Context, id string) error {
	return s.deleteByID(ctx, s.t.apps, id)
}

func (s *Store) CreateUser(ctx context.Context, applicationID, login, passwordHash, status string) (auth.User, error) {
	var user auth.User
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		insert into %s (id, application_id, login, password_hash, status)
		values ($1, $2, $3, $4, $5)
		returning id, application_id, login, password_hash, status, created_at, updated_at
	`, s.t.users), ids.New(), applicationID, login, passwordHash, status)
	if err := scanUser(row, &user); err != nil {
		return auth.User{}, mapErr(err)
	}
	return user, nil
}

func (s *Store) ListUsers(ctx context.Context, applicationID string) ([]auth.User, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select id, application_id, login, password_hash, status, created_at, updated_at
		from %s
		where application_id = $1
		order by login
	`, s.t.users), applicationID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var users []auth.User
	for rows.Next() {
		var user auth.User
		if err := scanUser(rows, &user); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return users, nil
}

func (s *Store) GetUser(ctx context.Context, applicationID, userID string) (auth.User, error) {
	var user auth.User
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		select id, application_id, login, password_hash, status, created_at, updated_at
		from %s
		where application_id = $1 and id = $2
	`, s.t.users), applicationID, userID)
	if err := scanUser(row, &user); err != nil {
		return auth.User{}, mapErr(err)
	}
	return user, nil
}

func (s *Store) GetUserByLogin(ctx context.Context, applicationID, login string) (auth.User, error) {
	var user auth.User
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		select id, application_id, login, password_hash, status, created_at, updated_at
		from %s
		where application_id = $1 and login = $2
	`, s.t.users), applicationID, login)
	if err := scanUser(row, &user); err != nil {
		return auth.User{}, mapErr(err)
	}
	return user, nil
}

func (s *Store) UpdateUser(ctx context.Context, userID string, upd auth.UserUpdate) (auth.User, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Login != nil {
		sets = append(sets, fmt.Sprintf("login = $%d", idx))
		args = append(args, *upd.Login)
		idx++
	}
	if upd.Password != nil {
		// The RBAC service has already replaced the password with its hash.
		sets = append(sets, fmt.Sprintf("password_hash = $%d", idx))
		args = append(args, *upd.Password)
		idx++
	}
	if upd.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", idx))
		args = append(args, *upd.Status)
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update %s set %s where id = $%d`, s.t.users, strings.Join(sets, ", "), idx)
		args = append(args, userID)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return auth.User{}, mapErr(err)
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return auth.User{}, err
		}
		if aff == 0 {
			return auth.User{}, auth.ErrNotFound
		}
	}
	return s.userByID(ctx, userID)
}

func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	return s.deleteByID(ctx, s.t.users, userID)
}

func (s *Store) userByID(ctx context.Context, userID string) (auth.User, error) {
	var user auth.User
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		select id, application_id, login, password_hash, status, created_at, updated_at
		from %s
		where id = $1
	`, s.t.users), userID)
	if err := scanUser(row, &user); err != nil {
		return auth.User{}, mapErr(err)
	}
	return user, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, user *auth.User) error {
	return row.Scan(&user.ID, &user.ApplicationID, &user.Login, &user.PasswordHash, &user.Status, &user.CreatedAt, &user.UpdatedAt)
}

func (s *Store) CreateRole(ctx context.Context, applicationID, name, description string, permissions []string) (auth.Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Role{}, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		role auth.Role
		desc sql.NullString
	)
	row := tx.QueryRowContext(ctx, fmt.Sprintf(`
		insert into %s (id, application_id, name, description)
		values ($1, $2, $3, $4)
		returning id, application_id, name, description, created_at, updated_at
	`, s.t.roles), ids.New(), applicationID, name, nullIfEmpty(description))
	if err := row.Scan(&role.ID, &role.ApplicationID, &role.Name, &desc, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return auth.Role{}, mapErr(err)
	}
	if desc.Valid {
		role.Description = desc.String
	}
	if err := s.insertRolePermissions(ctx, tx, role.ID, permissions); err != nil {
		return auth.Role{}, mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return auth.Role{}, mapErr(err)
	}
	role.Permissions = append([]string(nil), permissions...)
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context, applicationID string) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select id, application_id, name, description, created_at, updated_at
		from %s
		where application_id = $1
		order by name
	`, s.t.roles), applicationID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		var (
			role auth.Role
			desc sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.ApplicationID, &role.Name, &desc, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			role.Description = desc.String
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	for i := range roles {
		perms, err := s.rolePermissions(ctx, s.db, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

func (s *Store) GetRole(ctx context.Context, applicationID, roleID string) (auth.Role, error) {
	var (
		role auth.Role
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		select id, application_id, name, description, created_at, updated_at
		from %s
		where application_id = $1 and id = $2
	`, s.t.roles), applicationID, roleID).Scan(&role.ID, &role.ApplicationID, &role.Name, &desc, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return auth.Role{}, mapErr(err)
	}
	if desc.Valid {
		role.Description = desc.String
	}
	perms, err := s.rolePermissions(ctx, s.db, role.ID)
	if err != nil {
		return auth.Role{}, err
	}
	role.Permissions = perms
	return role, nil
}

func (s *Store) UpdateRole(ctx context.Context, roleID string, upd auth.RoleUpdate) (auth.Role, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Description != nil {
		if *upd.Description == "" {
			sets = append(sets, "description = NULL")
		} else {
			sets = append(sets, fmt.Sprintf("description = $%d", idx))
			args = append(args, *upd.Description)
			idx++
		}
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update %s set %s where id = $%d`, s.t.roles, strings.Join(sets, ", "), idx)
		args = append(args, roleID)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return auth.Role{}, mapErr(err)
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return auth.Role{}, err
		}
		if aff == 0 {
			return auth.Role{}, auth.ErrNotFound
		}
	}
	return s.roleByID(ctx, roleID)
}

func (s *Store) SetRolePermissions(ctx context.Context, roleID string, permissions []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, fmt.Sprintf(`select 1 from %s where id = $1`, s.t.roles), roleID).Scan(&exists); err != nil {
		return mapErr(err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where role_id = $1`, s.t.rolePerms), roleID); err != nil {
		return mapErr(err)
	}
	if err := s.insertRolePermissions(ctx, tx, roleID, permissions); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit())
}

func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	return s.deleteByID(ctx, s.t.roles, roleID)
}

func (s *Store) insertRolePermissions(ctx context.Context, tx *sql.Tx, roleID string, permissions []string) error {
	for i, perm := range permissions {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			insert into %s (role_id, permission, position)
			values ($1, $2, $3)
		`, s.t.rolePerms), roleID, perm, i); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) rolePermissions(ctx context.Context, q querier, roleID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		select permission
		from %s
		where role_id = $1
		order by position
	`, s.t.rolePerms), roleID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var perm string
		if err := rows.Scan(&perm); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return perms, nil
}

func (s *Store) roleByID(ctx context.Context, roleID string) (auth.Role, error) {
	var (
		role auth.Role
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		select id, application_id, name, description, created_at, updated_at
		from %s
		where id = $1
	`, s.t.roles), roleID).Scan(&role.ID, &role.ApplicationID, &role.Name, &desc, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return auth.Role{}, mapErr(err)
	}
	if desc.Valid {
		role.Description = desc.String
	}
	perms, err := s.rolePermissions(ctx, s.db, role.ID)
	if err != nil {
		return auth.Role{}, err
	}
	role.Permissions = perms
	return role, nil
}

// CreateGrant inserts the assignment only when user and role both belong to
// the given application; a single insert-select keeps the tenant check and
// the write atomic.
func (s *Store) CreateGrant(ctx context.Context, applicationID, userID, roleID string) (auth.Grant, error) {
	var grant auth.Grant
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		insert into %s (user_id, role_id, application_id)
		select u.id, r.id, u.application_id
		from %s u
		join %s r on r.application_id = u.application_id
		where u.id = $1 and r.id = $2 and u.application_id = $3
		returning user_id, role_id, application_id, created_at
	`, s.t.grants, s.t.users, s.t.roles), userID, roleID, applicationID)
	if err := row.Scan(&grant.UserID, &grant.RoleID, &grant.ApplicationID, &grant.CreatedAt); err != nil {
		// No source row means user or role is missing from the tenant.
		return auth.Grant{}, mapErr(err)
	}
	return grant, nil
}

func (s *Store) DeleteGrant(ctx context.Context, applicationID, userID, roleID string) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		delete from %s
		where user_id = $1 and role_id = $2 and application_id = $3
	`, s.t.grants), userID, roleID, applicationID)
	if err != nil {
		return mapErr(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) ListGrants(ctx context.Context, applicationID, userID string) ([]auth.Grant, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select user_id, role_id, application_id, created_at
		from %s
		where application_id = $1 and user_id = $2
		order by role_id
	`, s.t.grants), applicationID, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var grants []auth.Grant
	for rows.Next() {
		var g auth.Grant
		if err := rows.Scan(&g.UserID, &g.RoleID, &g.ApplicationID, &g.CreatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return grants, nil
}

func (s *Store) UserRoles(ctx context.Context, applicationID, userID string) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select r.id, r.application_id, r.name, r.description, r.created_at, r.updated_at
		from %s g
		join %s r on r.id = g.role_id
		where g.application_id = $1 and g.user_id = $2
		order by r.name
	`, s.t.grants, s.t.roles), applicationID, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		var (
			role auth.Role
			desc sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.ApplicationID, &role.Name, &desc, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			role.Description = desc.String
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	for i := range roles {
		perms, err := s.rolePermissions(ctx, s.db, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

func (s *Store) UserPermissions(ctx context.Context, applicationID, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		select distinct rp.permission
		from %s g
		join %s rp on rp.role_id = g.role_id
		where g.application_id = $1 and g.user_id = $2
		order by rp.permission
	`, s.t.grants, s.t.rolePerms), applicationID, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var perm string
		if err := rows.Scan(&perm); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return perms, nil
}

func (s *Store) deleteByID(ctx context.Context, table, id string) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`delete from %s where id = $1`, table), id)
	if err != nil {
		return mapErr(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
