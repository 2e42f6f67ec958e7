package library

// Gate answers authorization questions for the lending operations.
type Gate interface {
	IsAdmin(c Caller) bool
	// Owns reports whether c may act on a record belonging to ownerID.
	Owns(c Caller, ownerID int64) bool
}

// RoleGate authorizes purely from the caller's role and id.
type RoleGate struct{}

func (RoleGate) IsAdmin(c Caller) bool { return c.Role == RoleAdmin }

func (RoleGate) Owns(c Caller, ownerID int64) bool { return c.ID != 0 && c.ID == ownerID }

// adminOrOwner is the common "librarian, or the borrower themselves" check.
func adminOrOwner(g Gate, c Caller, ownerID int64) bool {
	return g.IsAdmin(c) || g.Owns(c, ownerID)
}
