package middlewares

import (
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
)

// Secure sets the standard security headers. HSTS is only sent when the
// server terminates TLS itself.
func Secure(tls bool) gin.HandlerFunc {
	cfg := secure.Config{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		IENoOpen:           true,
	}
	if tls {
		cfg.STSSeconds = 315360000
		cfg.STSIncludeSubdomains = true
	}
	return secure.New(cfg)
}
