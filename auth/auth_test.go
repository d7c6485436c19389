package auth

import (
	"context"
	"testing"
	"time"

	"go-taskapi/config"
	"go-taskapi/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var admin = model.Identity{Username: "admin", Role: model.RoleAdmin}

func TestTokenIssueAndValidate(t *testing.T) {
	svc := NewTokenService("test-secret", 30*time.Minute)

	token, expiresAt, err := svc.Issue(admin)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), expiresAt, 2*time.Second)

	id, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, admin, id)
}

func TestTokenWrongSecret(t *testing.T) {
	token, _, err := NewTokenService("one", time.Minute).Issue(admin)
	require.NoError(t, err)

	_, err = NewTokenService("two", time.Minute).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenExpired(t *testing.T) {
	svc := NewTokenService("test-secret", time.Minute)
	issued := time.Now().Add(-time.Hour)
	svc.now = func() time.Time { return issued }
	token, _, err := svc.Issue(admin)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenMalformed(t *testing.T) {
	svc := NewTokenService("test-secret", time.Minute)
	for _, token := range []string{"", "garbage", "a.b.c"} {
		_, err := svc.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}

func TestTokenMissingClaims(t *testing.T) {
	svc := NewTokenService("test-secret", time.Minute)
	exp := jwt.NewNumericDate(time.Now().Add(time.Minute))

	noRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin", "exp": exp,
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.Validate(noRole)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": "admin", "exp": exp,
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.Validate(noSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin", "role": "admin",
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.Validate(noExpiry)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenRejectsOtherAlgorithms(t *testing.T) {
	svc := NewTokenService("test-secret", time.Minute)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "admin", "role": "admin", "exp": jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestStaticCredentials(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	store, err := NewStaticCredentials([]config.User{
		{Username: "admin", Role: model.RoleAdmin, Password: "secret"},
		{Username: "viewer", Role: model.RoleReadonly, Password: string(hashed)},
	}, bcrypt.MinCost)
	require.NoError(t, err)
	ctx := context.Background()

	id, err := store.Authenticate(ctx, "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, admin, id)

	id, err = store.Authenticate(ctx, "viewer", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, model.RoleReadonly, id.Role)

	_, err = store.Authenticate(ctx, "admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = store.Authenticate(ctx, "nobody", "secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestStaticCredentialsDoesNotKeepPlaintext(t *testing.T) {
	store, err := NewStaticCredentials([]config.User{
		{Username: "admin", Role: model.RoleAdmin, Password: "secret"},
	}, bcrypt.MinCost)
	require.NoError(t, err)

	assert.NotEqual(t, "secret", string(store.users["admin"].hash))
	assert.NoError(t, bcrypt.CompareHashAndPassword(store.users["admin"].hash, []byte("secret")))
}

func TestAccessControl(t *testing.T) {
	readonly := model.Identity{Username: "readonly", Role: model.RoleReadonly}
	stranger := model.Identity{Username: "x", Role: "guest"}
	adminOnly := NewRoles(model.RoleAdmin)
	readOrAdmin := NewRoles(model.RoleAdmin, model.RoleReadonly)

	assert.NoError(t, Check(admin, adminOnly))
	assert.NoError(t, Check(admin, readOrAdmin))
	assert.NoError(t, Check(readonly, readOrAdmin))
	assert.ErrorIs(t, Check(readonly, adminOnly), ErrForbidden)
	assert.ErrorIs(t, Check(stranger, readOrAdmin), ErrForbidden)
	assert.False(t, NewRoles().Allows(admin))
}

func TestStaticCredentialsRejectsMalformedHash(t *testing.T) {
	_, err := NewStaticCredentials([]config.User{
		{Username: "ops", Role: model.RoleAdmin, Password: "$2a$12$truncatedhash"},
	}, bcrypt.MinCost)
	assert.ErrorContains(t, err, "malformed bcrypt hash")
}
