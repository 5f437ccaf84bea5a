package model

// Roles recognised by the engine.  They are supplied by the
// authentication collaborator and trusted as-is.
const (
	RoleCustomer = "CUSTOMER"
	RoleAdmin    = "ADMIN"
	RoleService  = "SERVICE"
	RoleSystem   = "SYSTEM"
)

// Actor identifies who performs an operation.
type Actor struct {
	ID   string
	Role string
}

// SystemActor is used for transitions initiated by the engine itself.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

// Privileged reports whether the actor bypasses customer-only policies.
func (a Actor) Privileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem || a.Role == RoleService
}

func (a Actor) String() string {
	if a.Role == "" {
		return a.ID
	}
	return a.Role + ":" + a.ID
}
