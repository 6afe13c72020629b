package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/danghamo/convoy/internal/domain/shared"
)

const domain = "auth"

// HashedPassword represents a bcrypt hashed password
type HashedPassword struct {
	hash string
}

// NewHashedPassword creates a hashed password from plain text
func NewHashedPassword(plainPassword string) (HashedPassword, error) {
	if len(plainPassword) < 8 {
		return HashedPassword{}, shared.ErrInvalidInput("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return HashedPassword{}, shared.WrapError(err, shared.KindInvalidInput, domain, "hash password")
	}

	return HashedPassword{hash: string(hash)}, nil
}

// NewHashedPasswordFromHash wraps an existing bcrypt hash
func NewHashedPasswordFromHash(hash string) HashedPassword {
	return HashedPassword{hash: hash}
}

// Hash returns the password hash
func (p HashedPassword) Hash() string {
	return p.hash
}

// Verify checks if the plain password matches the hash
func (p HashedPassword) Verify(plainPassword string) bool {
	if p.hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(p.hash), []byte(plainPassword)) == nil
}

// Operator is a person allowed to drive the control API. There is one,
// configured statically.
type Operator struct {
	Username string
	Password HashedPassword
}

// NewOperator builds the configured operator
func NewOperator(username, passwordHash string) (*Operator, error) {
	if username == "" {
		return nil, shared.ErrInvalidInput("operator username is required")
	}
	return &Operator{
		Username: username,
		Password: NewHashedPasswordFromHash(passwordHash),
	}, nil
}

// Authenticate checks the supplied credentials
func (o *Operator) Authenticate(username, plainPassword string) error {
	if username != o.Username || !o.Password.Verify(plainPassword) {
		return shared.NewError(shared.KindUnauthorized, domain, "invalid operator credentials")
	}
	return nil
}
