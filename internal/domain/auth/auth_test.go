package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/convoy/internal/domain/shared"
)

func TestHashedPassword(t *testing.T) {
	p, err := NewHashedPassword("correct-horse")
	require.NoError(t, err)

	assert.True(t, p.Verify("correct-horse"))
	assert.False(t, p.Verify("wrong"))
	assert.True(t, NewHashedPasswordFromHash(p.Hash()).Verify("correct-horse"))

	_, err = NewHashedPassword("short")
	assert.True(t, shared.IsKind(err, shared.KindInvalidInput))

	assert.False(t, HashedPassword{}.Verify(""))
}

func TestOperator_Authenticate(t *testing.T) {
	p, err := NewHashedPassword("dispatch-123")
	require.NoError(t, err)

	op, err := NewOperator("ops", p.Hash())
	require.NoError(t, err)

	assert.NoError(t, op.Authenticate("ops", "dispatch-123"))
	assert.True(t, shared.IsKind(op.Authenticate("ops", "nope"), shared.KindUnauthorized))
	assert.True(t, shared.IsKind(op.Authenticate("someone", "dispatch-123"), shared.KindUnauthorized))

	_, err = NewOperator("", p.Hash())
	assert.Error(t, err)
}

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret-key", "convoy", time.Hour)

	token, expiresAt, err := svc.GenerateToken("ops")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Operator)
	assert.Equal(t, "ops", claims.Subject)
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService("test-secret-key", "convoy", time.Hour)

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTService("another-secret", "convoy", time.Hour)
		token, _, err := other.GenerateToken("ops")
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		assert.True(t, shared.IsKind(err, shared.KindUnauthorized))
	})

	t.Run("expired", func(t *testing.T) {
		expired := NewJWTService("test-secret-key", "convoy", -time.Minute)
		token, _, err := expired.GenerateToken("ops")
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		assert.True(t, shared.IsKind(err, shared.KindUnauthorized))
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewJWTService("test-secret-key", "someone-else", time.Hour)
		token, _, err := other.GenerateToken("ops")
		require.NoError(t, err)

		_, err = svc.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("none algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, JWTClaims{Operator: "ops"})
		s, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = svc.ValidateToken(s)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not.a.token")
		assert.Error(t, err)
	})
}

func TestJWTService_LeewayAndTokenIDs(t *testing.T) {
	svc := NewJWTService("test-secret-key", "convoy", time.Minute)
	token, _, err := svc.GenerateToken("ops")
	require.NoError(t, err)

	issued := time.Now()
	svc.now = func() time.Time { return issued.Add(time.Minute + 10*time.Second) }
	_, err = svc.ValidateToken(token)
	assert.NoError(t, err, "within clock skew")

	svc.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = svc.ValidateToken(token)
	assert.True(t, shared.IsKind(err, shared.KindUnauthorized))

	svc.now = time.Now
	a, _, _ := svc.GenerateToken("ops")
	b, _, _ := svc.GenerateToken("ops")
	ca, err := svc.ValidateToken(a)
	require.NoError(t, err)
	cb, err := svc.ValidateToken(b)
	require.NoError(t, err)
	assert.NotEqual(t, ca.ID, cb.ID)
	assert.Contains(t, []string(ca.Audience), Audience)

	_, _, err = svc.GenerateToken("")
	assert.True(t, shared.IsKind(err, shared.KindInvalidInput))
}
