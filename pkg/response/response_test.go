package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/hospital-admin-api/pkg/errors"
	"github.com/noah-isme/hospital-admin-api/pkg/middleware/requestid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestErrorEnvelopeCarriesRequestID(t *testing.T) {
	r := gin.New()
	r.Use(requestid.Middleware())
	r.POST("/leaves/:id/withdraw", func(c *gin.Context) {
		Error(c, appErrors.Clone(appErrors.ErrInvalidState, "approval request already withdrawn"))
	})

	req := httptest.NewRequest(http.MethodPost, "/leaves/1/withdraw", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Meta map[string]string `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, appErrors.ErrInvalidState.Code, body.Error.Code)
	assert.Equal(t, "req-42", body.Meta["requestId"])
}

func TestErrorAttachesInternalCause(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	Error(c, errors.New("connection reset"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.Len(t, c.Errors, 1)
}

func TestFile(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	File(c, "approval-sheet.pdf", "application/pdf", []byte("%PDF-1.3"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="approval-sheet.pdf"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.3", w.Body.String())
}
