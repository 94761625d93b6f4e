package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"

	AccessCookieMaxAge  = 15 * 60
	RefreshCookieMaxAge = 7 * 24 * 60 * 60
)

// SetAuthCookies 写入一对 HTTP-only 的 token cookie。
// secure 在非 dev 环境为 true，SameSite 固定为 Strict。
func SetAuthCookies(c *gin.Context, accessToken, refreshToken string, secure bool) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(AccessTokenCookie, accessToken, AccessCookieMaxAge, "/", "", secure, true)
	c.SetCookie(RefreshTokenCookie, refreshToken, RefreshCookieMaxAge, "/", "", secure, true)
}

// ClearAuthCookies 清掉两个 token cookie。
func ClearAuthCookies(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(AccessTokenCookie, "", -1, "/", "", secure, true)
	c.SetCookie(RefreshTokenCookie, "", -1, "/", "", secure, true)
}
