package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/aegs-platform/aegs-api/internal/models"
)

func rbacContext(t *testing.T, claims *models.JWTClaims, paramID string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	if claims != nil {
		c.Set(ContextUserKey, claims)
	}
	if paramID != "" {
		c.Params = gin.Params{{Key: "id", Value: paramID}}
	}
	return c, w
}

func TestRBACAllowsMatchingRole(t *testing.T) {
	c, w := rbacContext(t, &models.JWTClaims{UserID: "u1", Role: models.RoleAdmin}, "")

	RBAC(string(models.RoleAdmin))(c)

	assert.False(t, c.IsAborted())
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRBACRejectsOtherRole(t *testing.T) {
	c, w := rbacContext(t, &models.JWTClaims{UserID: "u1", Role: models.RoleStudent}, "")

	RBAC(string(models.RoleAdmin))(c)

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRBACSelfMatchesPathParam(t *testing.T) {
	c, _ := rbacContext(t, &models.JWTClaims{UserID: "u1", Role: models.RoleStudent}, "u1")

	RBAC(string(models.RoleAdmin), "SELF")(c)

	assert.False(t, c.IsAborted())
}

func TestRBACSelfRejectsForeignParam(t *testing.T) {
	c, w := rbacContext(t, &models.JWTClaims{UserID: "u1", Role: models.RoleStudent}, "u2")

	RBAC(string(models.RoleAdmin), "SELF")(c)

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRBACRequiresClaims(t *testing.T) {
	c, w := rbacContext(t, nil, "")

	RBAC(string(models.RoleAdmin))(c)

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
