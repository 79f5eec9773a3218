package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/xray-triage-api/internal/models"
	"github.com/noah-isme/xray-triage-api/internal/service"
)

func newProtectedRouter(auth *service.AuthService, core *zap.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.PATCH("/cases/:id/review",
		JWT(auth),
		RequireRoles(models.RoleRadiologist, models.RoleAdmin),
		Audit(core, "case.review"),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)
	return r
}

func TestJWTAndRolesGuardMutation(t *testing.T) {
	auth := service.NewAuthService(service.AuthConfig{AccessTokenSecret: "secret"})
	r := newProtectedRouter(auth, zap.NewNop())

	radiologist, err := auth.IssueToken("rad-1", models.RoleRadiologist, time.Hour)
	require.NoError(t, err)
	viewer, err := auth.IssueToken("view-1", models.RoleViewer, time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "viewer forbidden", header: "Bearer " + viewer, status: http.StatusForbidden},
		{name: "radiologist allowed", header: "Bearer " + radiologist, status: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPatch, "/cases/abc/review", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestOptionalJWTNeverBlocks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := service.NewAuthService(service.AuthConfig{AccessTokenSecret: "secret"})
	token, err := auth.IssueToken("rad-1", models.RoleRadiologist, time.Hour)
	require.NoError(t, err)

	var seen string
	r := gin.New()
	r.GET("/", OptionalJWT(auth), func(c *gin.Context) {
		if claims, ok := CurrentUser(c); ok {
			seen = claims.UserID
		}
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, seen)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "rad-1", seen)
}

func TestAuditLogsSuccessfulMutations(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	auth := service.NewAuthService(service.AuthConfig{AccessTokenSecret: "secret"})
	r := newProtectedRouter(auth, zap.New(core))
	token, err := auth.IssueToken("rad-1", models.RoleRadiologist, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPatch, "/cases/01HXA/review", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("audit_event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "case.review", fields["action"])
	assert.Equal(t, "01HXA", fields["resource_id"])
	assert.Equal(t, "rad-1", fields["user_id"])
}
