package rbac

type Role string
type Action string

const (
	RoleUser      Role = "USER"
	RoleModerator Role = "MODERATOR"
	RoleAdmin     Role = "ADMIN"
)

const (
	ActionRead          Action = "read"
	ActionWriteContent  Action = "write_content"
	ActionViewAnalytics Action = "view_analytics"
	ActionManageUsers   Action = "manage_users"
	ActionChangeRoles   Action = "change_roles"
	ActionWriteSettings Action = "write_settings"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleModerator:
		return action == ActionRead || action == ActionWriteContent || action == ActionViewAnalytics || action == ActionManageUsers
	case RoleUser:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleModerator, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}
