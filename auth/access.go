package auth

import (
	"errors"

	"go-taskapi/model"
)

// ErrForbidden means the caller is authenticated but its role is not allowed.
var ErrForbidden = errors.New("you do not have access to this resource")

// Roles is an allow-list of role names.
type Roles map[string]struct{}

func NewRoles(names ...string) Roles {
	r := make(Roles, len(names))
	for _, n := range names {
		r[n] = struct{}{}
	}
	return r
}

// Allows reports whether id's role is in the list. An empty list allows nobody.
func (r Roles) Allows(id model.Identity) bool {
	_, ok := r[id.Role]
	return ok
}

// Check returns ErrForbidden unless roles allows id.
func Check(id model.Identity, roles Roles) error {
	if !roles.Allows(id) {
		return ErrForbidden
	}
	return nil
}
