package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	// RoleAdmin may do everything an operator can.
	RoleAdmin = "admin"
	// RoleOperator works action items, reprocesses calls and recomputes KPIs.
	RoleOperator = "operator"
	// RoleAnalyst is read-only.
	RoleAnalyst = "analyst"
)

// Readers may use every read endpoint.
var Readers = []string{RoleAdmin, RoleOperator, RoleAnalyst}

// Writers may mutate action items and trigger pipeline work.
var Writers = []string{RoleAdmin, RoleOperator}

func IsAdmin(role string) bool { return role == RoleAdmin }

// Valid reports whether role is one the API issues tokens for.
func Valid(role string) bool {
	switch role {
	case RoleAdmin, RoleOperator, RoleAnalyst:
		return true
	default:
		return false
	}
}
