package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greendrake/referral/internal/models"
	"greendrake/referral/internal/utils"
)

func TestJWTRoundTrip(t *testing.T) {
	id := utils.SixID{1, 2, 3, 4, 5, 6}
	token, err := GenerateJWT(id, models.RoleAgent, "secret", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateJWT(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, id.String(), claims.UserID)
	assert.Equal(t, models.RoleAgent, claims.Role)
	assert.False(t, claims.IsAdmin)
}

func TestJWTAdminFlag(t *testing.T) {
	token, err := GenerateJWT(utils.SixID{9}, models.RoleAdmin, "secret", time.Hour)
	require.NoError(t, err)
	claims, err := ValidateJWT(token, "secret")
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin)
}

func TestJWTWrongSecret(t *testing.T) {
	token, err := GenerateJWT(utils.SixID{1}, models.RoleRenter, "secret", time.Hour)
	require.NoError(t, err)
	_, err = ValidateJWT(token, "other")
	assert.Error(t, err)
}

func TestJWTExpired(t *testing.T) {
	token, err := GenerateJWT(utils.SixID{1}, models.RoleRenter, "secret", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateJWT(token, "secret")
	assert.Error(t, err)
}

func TestJWTUnknownRole(t *testing.T) {
	claims := &Claims{UserID: "x", Role: "landlord", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = ValidateJWT(token, "secret")
	assert.Error(t, err)
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("correct horse", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))
}
