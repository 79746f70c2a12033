package requestid

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestGenFormat(t *testing.T) {
	id := Gen()
	if ok, _ := regexp.MatchString(`^[0-9]{28}$`, id); !ok {
		t.Fatalf("unexpected id format: %q", id)
	}
}

func TestRandomDigits(t *testing.T) {
	if got := randomDigits(0); got != "" {
		t.Fatalf("randomDigits(0)=%q", got)
	}
	if got := randomDigits(12); len(got) != 12 {
		t.Fatalf("randomDigits(12)=%q", got)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	var seen string
	r.GET("/", func(c *gin.Context) {
		seen = c.GetString(HeaderKey)
		c.Status(http.StatusNoContent)
	})

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		got := w.Header().Get(HeaderKey)
		if got == "" || got != seen {
			t.Fatalf("header=%q context=%q", got, seen)
		}
	})

	t.Run("propagated", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderKey, "abc-123")
		r.ServeHTTP(w, req)
		if got := w.Header().Get(HeaderKey); got != "abc-123" || seen != "abc-123" {
			t.Fatalf("header=%q context=%q", got, seen)
		}
	})
}
