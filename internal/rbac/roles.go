package rbac

// Role names. Keep these stable; they are part of the auth contract.
const (
	// RoleOperator reads the attempt trail and parked leads.
	RoleOperator = "operator"
	// RoleAdmin additionally sees the audit log and bypasses role checks.
	RoleAdmin = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }
