package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func requestIDRouter() (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	seen := new(string)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) {
		*seen = GetRequestID(c)
		c.Status(http.StatusOK)
	})
	return r, seen
}

func TestRequestIDPassthrough(t *testing.T) {
	router, seen := requestIDRouter()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-trace-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if *seen != "client-trace-42" {
		t.Errorf("合法的客戶端 Request ID 應被沿用: %q", *seen)
	}
	if got := w.Header().Get(RequestIDHeader); got != "client-trace-42" {
		t.Errorf("響應頭應帶回同一個 ID: %q", got)
	}
}

func TestRequestIDRegenerated(t *testing.T) {
	router, seen := requestIDRouter()

	tests := []struct {
		name string
		id   string
	}{
		{"缺省", ""},
		{"含非法字符", "abc\ndef"},
		{"過長", strings.Repeat("x", 200)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.id != "" {
				req.Header.Set(RequestIDHeader, tt.id)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if *seen == tt.id || *seen == "" {
				t.Errorf("不可信的 ID 應被重新生成: %q", *seen)
			}
			if w.Header().Get(RequestIDHeader) != *seen {
				t.Errorf("響應頭與 context 中的 ID 應一致")
			}
		})
	}
}
