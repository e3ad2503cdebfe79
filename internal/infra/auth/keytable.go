package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/hedgeco/opskernel/internal/domain"
	"github.com/hedgeco/opskernel/internal/infra"
)

var (
	ErrUnknownKey   = errors.New("unknown api key")
	ErrRoleMismatch = errors.New("api key is not bound to the claimed role")
	ErrUnknownRole  = errors.New("unknown role")
)

// KeyTable maps bearer API keys to roles. Built once at startup from config
// and never mutated; there is no runtime key provisioning surface.
type KeyTable struct {
	hashesByRole map[string][][]byte
	roles        domain.RoleTable
}

// NewKeyTable compiles the config entries. Plaintext keys (dev convenience)
// are hashed on the spot so the table only ever holds bcrypt digests.
func NewKeyTable(entries []infra.APIKeyEntry, roles domain.RoleTable) (*KeyTable, error) {
	t := &KeyTable{
		hashesByRole: make(map[string][][]byte, len(entries)),
		roles:        roles,
	}

	for i, e := range entries {
		if _, ok := roles[e.Role]; !ok {
			return nil, fmt.Errorf("auth key %d references unknown role %q", i, e.Role)
		}

		hash := []byte(e.KeyHash)
		if len(hash) == 0 {
			if e.Key == "" {
				return nil, fmt.Errorf("auth key %d for role %q has neither key nor key_hash", i, e.Role)
			}
			h, err := bcrypt.GenerateFromPassword([]byte(e.Key), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("hashing key %d: %w", i, err)
			}
			hash = h
		}
		t.hashesByRole[e.Role] = append(t.hashesByRole[e.Role], hash)
	}

	return t, nil
}

// Authenticate checks the (claimed role, presented key) pair and returns the
// role definition. The key must be bound to exactly the claimed role: a
// valid key for some other role is a 401, never a silent downgrade.
func (t *KeyTable) Authenticate(roleName, key string) (domain.Role, error) {
	role, ok := t.roles[roleName]
	if !ok {
		return domain.Role{}, ErrUnknownRole
	}

	for _, hash := range t.hashesByRole[roleName] {
		if bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil {
			return role, nil
		}
	}

	// Distinguish "key exists under another role" for the audit log only;
	// the caller-facing error stays generic.
	for other, hashes := range t.hashesByRole {
		if other == roleName {
			continue
		}
		for _, hash := range hashes {
			if bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil {
				return domain.Role{}, ErrRoleMismatch
			}
		}
	}

	return domain.Role{}, ErrUnknownKey
}
