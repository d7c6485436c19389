package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go-taskapi/config"
	"go-taskapi/model"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("incorrect username or password")

// CredentialStore resolves a username and password to an identity.
type CredentialStore interface {
	Authenticate(ctx context.Context, username, password string) (model.Identity, error)
}

type credential struct {
	role string
	hash []byte
}

// StaticCredentials is a fixed set of users held in memory.
type StaticCredentials struct {
	users map[string]credential
	// compared against when the user is unknown so both paths cost a bcrypt run
	dummy []byte
}

// NewStaticCredentials hashes any plaintext passwords with the given bcrypt
// cost. Entries that already look like bcrypt hashes are kept as is.
func NewStaticCredentials(users []config.User, cost int) (*StaticCredentials, error) {
	s := &StaticCredentials{users: make(map[string]credential, len(users))}
	for _, u := range users {
		hash, err := hashPassword(u.Password, cost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %q: %w", u.Username, err)
		}
		s.users[u.Username] = credential{role: u.Role, hash: hash}
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password"), cost)
	if err != nil {
		return nil, err
	}
	s.dummy = dummy
	return s, nil
}

func hashPassword(password string, cost int) ([]byte, error) {
	if strings.HasPrefix(password, "$2") {
		if _, err := bcrypt.Cost([]byte(password)); err != nil {
			return nil, fmt.Errorf("malformed bcrypt hash: %w", err)
		}
		return []byte(password), nil
	}
	return bcrypt.GenerateFromPassword([]byte(password), cost)
}

func (s *StaticCredentials) Authenticate(_ context.Context, username, password string) (model.Identity, error) {
	cred, ok := s.users[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(s.dummy, []byte(password))
		return model.Identity{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(cred.hash, []byte(password)); err != nil {
		return model.Identity{}, ErrInvalidCredentials
	}
	return model.Identity{Username: username, Role: cred.role}, nil
}
