package models

// RoleName is the closed set of permission buckets known to the application.
// Authorization checks go through this type rather than free-form strings so a
// typo in a gate fails validation instead of silently denying everyone.
type RoleName string

const (
	RoleAdmin          RoleName = "admin"
	RolePrincipal      RoleName = "principal"
	RoleTeacher        RoleName = "teacher"
	RoleLeadingTeacher RoleName = "leading_teacher"
	RoleStudent        RoleName = "student"
	RoleParent         RoleName = "parent"
	RoleAccountant     RoleName = "accountant"
)

// AllRoles lists every role seeded as reference data, in display order.
var AllRoles = []RoleName{
	RoleAdmin,
	RolePrincipal,
	RoleTeacher,
	RoleLeadingTeacher,
	RoleStudent,
	RoleParent,
	RoleAccountant,
}

// Known reports whether the name is part of the closed role set.
func (r RoleName) Known() bool {
	for _, candidate := range AllRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

func (r RoleName) String() string { return string(r) }

// Role is static reference data; rows are seeded at migration time.
type Role struct {
	BaseModel

	Name        RoleName `gorm:"uniqueIndex;not null" json:"name"`
	Description string   `json:"description"`

	Users []User `gorm:"many2many:user_roles;" json:"users,omitempty"`
}
