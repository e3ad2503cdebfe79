package domain

// Permission is a coarse capability class granted to a role as a whole.
// An action first has to clear the permission gate before any action-level
// policy rule runs.
type Permission string

const (
	PermRead    Permission = "read"
	PermWrite   Permission = "write"
	PermExec    Permission = "exec"
	PermBrowser Permission = "browser"
	PermCron    Permission = "cron"
	PermMessage Permission = "message"
)

// Role is the fixed identity of a caller. Roles are configuration, not
// persisted entities: the table is built once at process start and never
// mutated afterwards.
type Role struct {
	Name        string              `json:"name" mapstructure:"name"`
	Permissions map[Permission]bool `json:"permissions" mapstructure:"permissions"`

	// BarredActions lists action names this role may never request,
	// independent of the generic permission check.
	BarredActions []string `json:"barred_actions" mapstructure:"barred_actions"`
}

// Has reports whether the role carries the given permission.
func (r Role) Has(p Permission) bool {
	return r.Permissions[p]
}

// IsBarred reports whether the action is on the role's individual denylist.
func (r Role) IsBarred(action string) bool {
	for _, a := range r.BarredActions {
		if a == action {
			return true
		}
	}
	return false
}

// RoleTable maps role name to its definition. Built from config, read-only
// after startup.
type RoleTable map[string]Role

// DefaultRoles is the compiled-in role table used when the config file does
// not override it. The names mirror the autonomous agents operating against
// the directory platform.
func DefaultRoles() RoleTable {
	return RoleTable{
		"operator": {
			Name: "operator",
			Permissions: map[Permission]bool{
				PermRead: true, PermWrite: true, PermExec: true,
				PermBrowser: true, PermCron: true, PermMessage: true,
			},
		},
		"crm_agent": {
			Name: "crm_agent",
			Permissions: map[Permission]bool{
				PermRead: true, PermWrite: true, PermMessage: true,
			},
			BarredActions: []string{"delete_user", "change_user_role"},
		},
		"content_agent": {
			Name: "content_agent",
			Permissions: map[Permission]bool{
				PermRead: true, PermWrite: true, PermBrowser: true,
			},
			BarredActions: []string{"send_newsletter", "approve_membership"},
		},
		"outreach_agent": {
			Name: "outreach_agent",
			Permissions: map[Permission]bool{
				PermRead: true, PermMessage: true,
			},
			BarredActions: []string{"publish_article", "delete_user"},
		},
		"cron_agent": {
			Name: "cron_agent",
			Permissions: map[Permission]bool{
				PermRead: true, PermExec: true, PermCron: true,
			},
			BarredActions: []string{"approve_membership", "change_user_role"},
		},
	}
}
