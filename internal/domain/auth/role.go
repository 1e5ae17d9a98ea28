package auth

// UserRole is the role carried in access tokens issued by the account service.
type UserRole string

const (
	RoleMember UserRole = "member"
	RoleCoach  UserRole = "coach"
	RoleStaff  UserRole = "staff"
	RoleAdmin  UserRole = "admin"
)

// IsStaff reports whether the role may act on the staff approval track.
func (r UserRole) IsStaff() bool {
	return r == RoleStaff || r == RoleAdmin
}

func (r UserRole) Valid() bool {
	switch r {
	case RoleMember, RoleCoach, RoleStaff, RoleAdmin:
		return true
	}
	return false
}
