package auth

import "fmt"

// Role is the caller's access level.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
)

// Identity is the authenticated caller, as established by the edge.
type Identity struct {
	UserID int64
	Role   Role
}

// PermissionError reports an access attempt on another user's resource.
type PermissionError struct {
	UserID  int64
	OwnerID int64
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %d may not access resources owned by user %d", e.UserID, e.OwnerID)
}

// Authorize checks that caller may act on a resource owned by ownerID.
// Admins may act anywhere; customers only on their own resources.
func Authorize(caller Identity, ownerID int64) error {
	if caller.Role == RoleAdmin {
		return nil
	}
	if caller.UserID == ownerID {
		return nil
	}
	return &PermissionError{UserID: caller.UserID, OwnerID: ownerID}
}
