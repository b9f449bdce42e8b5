package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizeOwner(t *testing.T) {
	caller := Identity{UserID: 7, Role: RoleCustomer}
	assert.NoError(t, Authorize(caller, 7))
}

func TestAuthorizeOtherUserDenied(t *testing.T) {
	caller := Identity{UserID: 7, Role: RoleCustomer}
	err := Authorize(caller, 8)

	var perm *PermissionError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, int64(7), perm.UserID)
	assert.Equal(t, int64(8), perm.OwnerID)
}

func TestAuthorizeAdmin(t *testing.T) {
	caller := Identity{UserID: 1, Role: RoleAdmin}
	assert.NoError(t, Authorize(caller, 99))
}
