package auth

// ManagementApplication is the builtin application whose users administer
// the service itself. It is created on startup if missing.
const ManagementApplication = "management"

// AdminRole is the builtin role inside the management application holding
// every management permission.
const AdminRole = "admin"

// Permissions guarding the management surface. The engine assigns no meaning
// to permission strings beyond equality; these are simply the strings the
// transport layer requires for its administrative endpoints.
const (
	PermAppsRead    = "apps:r"
	PermAppCreate   = "app:c"
	PermAppRead     = "app:r"
	PermAppUpdate   = "app:u"
	PermAppDelete   = "app:d"
	PermUsersRead   = "users:r"
	PermUserCreate  = "user:c"
	PermUserRead    = "user:r"
	PermUserUpdate  = "user:u"
	PermUserDelete  = "user:d"
	PermRolesRead   = "roles:r"
	PermRoleCreate  = "role:c"
	PermRoleRead    = "role:r"
	PermRoleUpdate  = "role:u"
	PermRoleDelete  = "role:d"
	PermGrantsRead  = "grants:r"
	PermGrantCreate = "grant:c"
	PermGrantDelete = "grant:d"
)

// ManagementPermissions lists every builtin management permission, in the
// order they are attached to the admin role.
var ManagementPermissions = []string{
	PermAppsRead,
	PermAppCreate,
	PermAppRead,
	PermAppUpdate,
	PermAppDelete,
	PermUsersRead,
	PermUserCreate,
	PermUserRead,
	PermUserUpdate,
	PermUserDelete,
	PermRolesRead,
	PermRoleCreate,
	PermRoleRead,
	PermRoleUpdate,
	PermRoleDelete,
	PermGrantsRead,
	PermGrantCreate,
	PermGrantDelete,
}
