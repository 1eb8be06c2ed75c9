package domain

import (
	"fmt"
	"time"
)

// Role enumerates caller roles for visibility and mutation checks.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

// Staff reports whether the role may act on tickets beyond its own.
func (r Role) Staff() bool {
	return r == RoleAgent || r == RoleAdmin
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

// UserRef identifies a caller for permission checks. Display identity is
// resolved separately through the directory.
type UserRef struct {
	UID      string
	Role     Role
	Username string
}

// User is the directory record consumed read-only for display and
// permission checks. CustomUID is the role-coded public id (U######,
// AG#####, AD###).
type User struct {
	UID           string
	Username      string
	CustomUID     string
	Role          Role
	Active        bool
	ActiveTickets int
	TotalResolved int
	CreatedAt     time.Time
}

// Display renders the identity the UI shows and search matches against.
func (u *User) Display() string {
	return fmt.Sprintf("@%s (%s)", u.Username, u.CustomUID)
}

// Ref projects the directory record onto a caller reference.
func (u *User) Ref() UserRef {
	return UserRef{UID: u.UID, Role: u.Role, Username: u.Username}
}
