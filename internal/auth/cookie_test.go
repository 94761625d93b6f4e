package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func recordCookies(t *testing.T, handler gin.HandlerFunc) []*http.Cookie {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	handler(c)
	return w.Result().Cookies()
}

func TestSetAuthCookies(t *testing.T) {
	cookies := recordCookies(t, func(c *gin.Context) {
		SetAuthCookies(c, "access-value", "refresh-value", true)
	})
	if len(cookies) != 2 {
		t.Fatalf("got %d cookies, want 2", len(cookies))
	}

	byName := map[string]*http.Cookie{}
	for _, ck := range cookies {
		byName[ck.Name] = ck
	}

	ac, ok := byName[AccessTokenCookie]
	if !ok {
		t.Fatal("access_token cookie not set")
	}
	if ac.Value != "access-value" {
		t.Errorf("access cookie value = %q", ac.Value)
	}
	if ac.MaxAge != AccessCookieMaxAge {
		t.Errorf("access cookie max-age = %d, want %d", ac.MaxAge, AccessCookieMaxAge)
	}

	rc, ok := byName[RefreshTokenCookie]
	if !ok {
		t.Fatal("refresh_token cookie not set")
	}
	if rc.MaxAge != RefreshCookieMaxAge {
		t.Errorf("refresh cookie max-age = %d, want %d", rc.MaxAge, RefreshCookieMaxAge)
	}

	for _, ck := range cookies {
		if !ck.HttpOnly {
			t.Errorf("cookie %s must be http-only", ck.Name)
		}
		if !ck.Secure {
			t.Errorf("cookie %s must be secure", ck.Name)
		}
		if ck.SameSite != http.SameSiteStrictMode {
			t.Errorf("cookie %s same-site = %v, want strict", ck.Name, ck.SameSite)
		}
		if ck.Path != "/" {
			t.Errorf("cookie %s path = %q, want /", ck.Name, ck.Path)
		}
	}
}

func TestClearAuthCookies(t *testing.T) {
	cookies := recordCookies(t, func(c *gin.Context) {
		ClearAuthCookies(c, false)
	})
	if len(cookies) != 2 {
		t.Fatalf("got %d cookies, want 2", len(cookies))
	}
	for _, ck := range cookies {
		if ck.Value != "" {
			t.Errorf("cookie %s value = %q, want empty", ck.Name, ck.Value)
		}
		if ck.MaxAge >= 0 {
			t.Errorf("cookie %s max-age = %d, want negative", ck.Name, ck.MaxAge)
		}
	}
}
