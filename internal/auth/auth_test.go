package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outpass/internal/leave"
)

func TestIssueParse(t *testing.T) {
	tok, err := Issue("s-1", leave.RoleStudent, "Sam", "outpass", "secret", time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), tok.ExpiresAt, 2*time.Second)

	claims, err := Parse(tok.AccessToken, "secret", "outpass")
	require.NoError(t, err)
	assert.Equal(t, "s-1", claims.Subject)
	assert.Equal(t, leave.RoleStudent, claims.Role)
	assert.Equal(t, leave.Actor{Role: leave.RoleStudent, Name: "Sam"}, claims.Actor())

	_, err = Parse(tok.AccessToken, "other", "outpass")
	assert.Error(t, err, "wrong key")
	_, err = Parse(tok.AccessToken, "secret", "elsewhere")
	assert.Error(t, err, "wrong issuer")
}

func TestParse_Rejects(t *testing.T) {
	expired, err := Issue("s-1", leave.RoleStudent, "", "outpass", "secret", -time.Minute)
	require.NoError(t, err)
	_, err = Parse(expired.AccessToken, "secret", "outpass")
	assert.Error(t, err)

	noRole, err := Issue("s-1", "", "", "outpass", "secret", time.Minute)
	require.NoError(t, err)
	_, err = Parse(noRole.AccessToken, "secret", "outpass")
	assert.Error(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: leave.RoleWebmaster,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "x", Issuer: "outpass"}}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = Parse(none, "secret", "outpass")
	assert.Error(t, err, "unsigned tokens are refused")
}

func TestClaimsActorFallsBackToSubject(t *testing.T) {
	c := Claims{Role: leave.RoleWarden, RegisteredClaims: jwt.RegisteredClaims{Subject: "w-7"}}
	assert.Equal(t, "w-7", c.Actor().Name)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/staff", Authenticate("secret", "outpass"), RequireRoles(leave.RoleWarden), func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.Subject)
	})

	call := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/staff", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	warden, err := Issue("w-1", leave.RoleWarden, "", "outpass", "secret", time.Minute)
	require.NoError(t, err)
	student, err := Issue("s-1", leave.RoleStudent, "", "outpass", "secret", time.Minute)
	require.NoError(t, err)

	rec := call("Bearer " + warden.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "w-1", rec.Body.String())

	assert.Equal(t, http.StatusOK, call("bearer "+warden.AccessToken).Code)
	assert.Equal(t, http.StatusForbidden, call("Bearer "+student.AccessToken).Code)
	assert.Equal(t, http.StatusUnauthorized, call("").Code)
	assert.Equal(t, http.StatusUnauthorized, call("Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer garbage").Code)
}
