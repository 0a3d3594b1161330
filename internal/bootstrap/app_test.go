package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filevault-backend/internal/shared/auth"
	"filevault-backend/internal/shared/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Env:                    "dev",
		ObjectStoreType:        "local",
		BlobDir:                t.TempDir(),
		SpoolDir:               t.TempDir(),
		QuotaDefaultLimitBytes: 1 << 20,
		QuotaChargeDuplicates:  true,
		MaxUploadBytes:         1 << 20,
		AuthTrustUserHeader:    true,
		JWTSecret:              "test-secret",
	}
}

func multipartUpload(t *testing.T, name string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestBuildMemoryModeServesVault(t *testing.T) {
	gin.SetMode(gin.TestMode)
	app, err := Build(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer app.Close()
	assert.Nil(t, app.DB)

	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"database":"memory"`)

	req := multipartUpload(t, "hello.txt", []byte("hello"))
	resp = httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code, "no identity")

	token, err := auth.SignJWT([]byte("test-secret"), "user-42", time.Minute)
	require.NoError(t, err)
	req = multipartUpload(t, "hello.txt", []byte("hello"))
	req.Header.Set("Authorization", "Bearer "+token)
	resp = httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/v1/quota", nil)
	req.Header.Set("X-User-Id", "user-42")
	resp = httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var profile map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &profile))
	assert.Equal(t, float64(5), profile["logical_used"])

	resp = httptest.NewRecorder()
	app.Router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "filevault_uploads_total")
}

func TestBuildRegistersDevRoutesOnlyInDev(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for env, want := range map[string]int{"dev": http.StatusOK, "local": http.StatusNotFound} {
		cfg := testConfig(t)
		cfg.Env = env
		app, err := Build(context.Background(), cfg)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPut, "/api/v1/dev/quota", bytes.NewBufferString(`{"storage_limit_mb": 5}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-Id", "user-1")
		resp := httptest.NewRecorder()
		app.Router.ServeHTTP(resp, req)
		assert.Equal(t, want, resp.Code, env)
	}
}

func TestBuildRequiresDatabaseOutsideDev(t *testing.T) {
	cfg := testConfig(t)
	cfg.Env = "staging"
	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "DATABASE_URL")
}

func TestBuildRequiresSecretInProduction(t *testing.T) {
	cfg := testConfig(t)
	cfg.Env = "production"
	cfg.JWTSecret = ""
	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
}

func TestBuildRejectsS3WithoutBucket(t *testing.T) {
	cfg := testConfig(t)
	cfg.ObjectStoreType = "s3"
	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "S3_BUCKET")
}
