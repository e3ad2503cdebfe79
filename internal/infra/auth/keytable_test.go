package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedgeco/opskernel/internal/domain"
	"github.com/hedgeco/opskernel/internal/infra"
)

func testRoles() domain.RoleTable {
	return domain.RoleTable{
		"operator":  {Name: "operator"},
		"crm_agent": {Name: "crm_agent"},
	}
}

func TestKeyTableAuthenticate(t *testing.T) {
	table, err := NewKeyTable([]infra.APIKeyEntry{
		{Role: "operator", Key: "op-secret"},
		{Role: "crm_agent", Key: "crm-secret"},
	}, testRoles())
	require.NoError(t, err)

	role, err := table.Authenticate("operator", "op-secret")
	require.NoError(t, err)
	assert.Equal(t, "operator", role.Name)

	role, err = table.Authenticate("crm_agent", "crm-secret")
	require.NoError(t, err)
	assert.Equal(t, "crm_agent", role.Name)
}

func TestKeyTableRejectsWrongKey(t *testing.T) {
	table, err := NewKeyTable([]infra.APIKeyEntry{
		{Role: "operator", Key: "op-secret"},
	}, testRoles())
	require.NoError(t, err)

	_, err = table.Authenticate("operator", "wrong")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestKeyTableRejectsCrossRoleKey(t *testing.T) {
	table, err := NewKeyTable([]infra.APIKeyEntry{
		{Role: "operator", Key: "op-secret"},
		{Role: "crm_agent", Key: "crm-secret"},
	}, testRoles())
	require.NoError(t, err)

	// A valid key presented under the wrong role is never a downgrade.
	_, err = table.Authenticate("crm_agent", "op-secret")
	assert.ErrorIs(t, err, ErrRoleMismatch)
}

func TestKeyTableRejectsUnknownRole(t *testing.T) {
	table, err := NewKeyTable(nil, testRoles())
	require.NoError(t, err)

	_, err = table.Authenticate("ghost_agent", "anything")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestNewKeyTableRejectsBadEntries(t *testing.T) {
	_, err := NewKeyTable([]infra.APIKeyEntry{
		{Role: "ghost_agent", Key: "k"},
	}, testRoles())
	assert.Error(t, err, "entry referencing an unknown role")

	_, err = NewKeyTable([]infra.APIKeyEntry{
		{Role: "operator"},
	}, testRoles())
	assert.Error(t, err, "entry with neither key nor hash")
}

func TestKeyTableAcceptsPrecomputedHash(t *testing.T) {
	table, err := NewKeyTable([]infra.APIKeyEntry{
		{Role: "operator", KeyHash: "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"},
	}, testRoles())
	require.NoError(t, err)

	// That well-known digest is bcrypt("password").
	role, err := table.Authenticate("operator", "password")
	require.NoError(t, err)
	assert.Equal(t, "operator", role.Name)
}
