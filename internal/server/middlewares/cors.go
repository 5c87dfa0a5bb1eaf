package middlewares

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS allows browser-based admin tools on any origin to call the API
func CORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Content-Length", "X-Blob-Header-*"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition", "ETag", "X-Blob-Id"},
		MaxAge:        12 * time.Hour,
	})
}
