package rbac

type Role string
type Action string

const (
	RoleAuthor Role = "author"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionWrite    Action = "write"
	ActionPublish  Action = "publish"
	ActionModerate Action = "moderate"
	ActionManage   Action = "manage"
	ActionAdmin    Action = "admin"
)

// Can reports whether role may perform action. Authors are further limited to
// their own articles by the service layer.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action != ActionAdmin
	case RoleAuthor:
		return action == ActionRead || action == ActionWrite
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleAuthor, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleAuthor
	}
}

func Valid(role string) bool {
	switch Role(role) {
	case RoleAuthor, RoleEditor, RoleAdmin:
		return true
	default:
		return false
	}
}
