package quota

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userId", "u1")
		c.Next()
	})
	h := NewHandler(svc)
	api := r.Group("/api/v1")
	h.RegisterRoutes(api)
	h.RegisterDevRoutes(api.Group("/dev"))
	return r
}

func TestSetLimitThenGetQuota(t *testing.T) {
	r := newTestRouter(NewService(1000))

	body, _ := json.Marshal(map[string]any{"storage_limit_mb": 2})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/dev/quota", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/quota", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	var got profileResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, int64(2<<20), got.StorageLimit)
	assert.Equal(t, got.StorageLimit, got.Available)
}

func TestSetLimitValidation(t *testing.T) {
	r := newTestRouter(NewService(1000))

	for _, payload := range []string{`{}`, `{"storage_limit_bytes": -5}`, `not json`} {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/dev/quota", bytes.NewBufferString(payload))
		req.Header.Set("Content-Type", "application/json")
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusBadRequest, resp.Code, payload)
	}
}
