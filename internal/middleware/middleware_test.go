package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hospital-admin-api/internal/models"
	"github.com/noah-isme/hospital-admin-api/internal/service"
	appErrors "github.com/noah-isme/hospital-admin-api/pkg/errors"
	"github.com/noah-isme/hospital-admin-api/pkg/logger"
	"github.com/noah-isme/hospital-admin-api/pkg/middleware/requestid"
)

type staticValidator struct {
	claims *models.JWTClaims
	err    error
	seen   string
}

func (v *staticValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	v.seen = token
	return v.claims, v.err
}

func init() {
	gin.SetMode(gin.TestMode)
}

func TestJWT(t *testing.T) {
	validator := &staticValidator{claims: &models.JWTClaims{UserID: "s1", Role: models.RoleNurse}}
	r := gin.New()
	r.GET("/me", JWT(validator), func(c *gin.Context) {
		claims, ok := CurrentActor(c)
		require.True(t, ok)
		assert.Equal(t, claims.UserID, c.GetString(logger.ActorKey))
		c.String(http.StatusOK, claims.UserID)
	})

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"empty token", "Bearer  ", http.StatusUnauthorized},
		{"valid", "Bearer tok", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
	assert.Equal(t, "tok", validator.seen)
}

func TestJWTWithTokenService(t *testing.T) {
	tokens := service.NewTokenService(service.TokenConfig{Secret: "secret"})
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, models.JWTClaims{
		UserID:           "s1",
		Role:             models.RoleDoctor,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", JWT(tokens), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token+"x")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func withClaims(claims *models.JWTClaims) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims != nil {
			c.Set(ContextUserKey, claims)
		}
		c.Next()
	}
}

func TestRequireRoles(t *testing.T) {
	cases := []struct {
		name   string
		claims *models.JWTClaims
		status int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"nurse", &models.JWTClaims{UserID: "n", Role: models.RoleNurse}, http.StatusForbidden},
		{"admin", &models.JWTClaims{UserID: "a", Role: models.RoleAdmin}, http.StatusOK},
		{"superadmin", &models.JWTClaims{UserID: "s", Role: models.RoleSuperAdmin}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/ops", withClaims(tc.claims), RequireRoles(models.RoleAdmin, models.RoleSuperAdmin), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ops", nil))
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

type auditStub struct {
	logs []*models.AuditLog
	err  error
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return a.err
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	writer := &auditStub{}
	r := gin.New()
	r.Use(requestid.Middleware())
	r.GET("/leaves/:id/sheet",
		withClaims(&models.JWTClaims{UserID: "s1"}),
		Audit(writer, nil, models.AuditActionApprovalExport, "approval_request"),
		func(c *gin.Context) {
			if c.Query("fail") != "" {
				c.Status(http.StatusForbidden)
				return
			}
			c.Status(http.StatusOK)
		})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/leaves/req-1/sheet", nil))
	require.Len(t, writer.logs, 1)
	assert.Equal(t, models.AuditActionApprovalExport, writer.logs[0].Action)
	assert.Equal(t, "req-1", *writer.logs[0].ResourceID)
	assert.Equal(t, "s1", *writer.logs[0].UserID)
	var details map[string]interface{}
	require.NoError(t, json.Unmarshal(writer.logs[0].NewValues, &details))
	assert.Equal(t, w.Header().Get("X-Request-ID"), details["requestId"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/leaves/req-1/sheet?fail=1", nil))
	assert.Len(t, writer.logs, 1)
}

func TestAuditFailureDoesNotChangeResponse(t *testing.T) {
	writer := &auditStub{err: errors.New("db down")}
	r := gin.New()
	r.GET("/x", Audit(writer, nil, "A", "r"), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsMiddlewareCountsRequests(t *testing.T) {
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/leaves", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/leaves", nil))
	}
	assert.Equal(t, uint64(2), metrics.Snapshot().RequestsTotal)
}

func TestErrorsRenderWithTaxonomyStatus(t *testing.T) {
	validator := &staticValidator{err: appErrors.Clone(appErrors.ErrUnauthorized, "expired")}
	r := gin.New()
	r.GET("/me", JWT(validator), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer x")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "expired")
}

func TestMetricsMiddlewareSkipsScrapesAndUnknownRoutes(t *testing.T) {
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics, "/metrics"))
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, uint64(0), metrics.Snapshot().RequestsTotal)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/leaves/abc", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, uint64(1), metrics.Snapshot().RequestsTotal)
}
