package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(uploadsTotal.WithLabelValues(OutcomeDuplicate))
	IncUpload(OutcomeDuplicate)
	after := testutil.ToFloat64(uploadsTotal.WithLabelValues(OutcomeDuplicate))
	if after != before+1 {
		t.Fatalf("expected duplicate counter to increase by 1, got %v -> %v", before, after)
	}

	beforeBytes := testutil.ToFloat64(uploadBytesTotal.WithLabelValues("deduplicated"))
	AddDeduplicatedBytes(600)
	AddDeduplicatedBytes(-5)
	afterBytes := testutil.ToFloat64(uploadBytesTotal.WithLabelValues("deduplicated"))
	if afterBytes != beforeBytes+600 {
		t.Fatalf("expected +600 deduplicated bytes, got %v -> %v", beforeBytes, afterBytes)
	}
}

func TestHandlerExposesFilevaultMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	IncBlobReclaimed()

	r := gin.New()
	r.Use(Middleware())
	r.GET("/metrics", Handler())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := resp.Body.String()
	for _, want := range []string{
		"filevault_blobs_reclaimed_total",
		`filevault_http_requests_total{method="GET",path="/ping",status="204"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q", want)
		}
	}
}
