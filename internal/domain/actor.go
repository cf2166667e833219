package domain

// Roles understood by the engine
const (
	RoleBuyer     = "buyer"
	RoleOrganizer = "organizer"
	RoleAdmin     = "admin"
	RoleSystem    = "system"
)

// Actor is the authenticated caller of an operation
type Actor struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the actor may use administrative overrides
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}
