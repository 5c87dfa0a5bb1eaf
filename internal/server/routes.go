package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openmined/blobvault/internal/blob/manager"
	"github.com/openmined/blobvault/internal/server/accesslog"
	"github.com/openmined/blobvault/internal/server/handlers/api"
	"github.com/openmined/blobvault/internal/server/handlers/blob"
	"github.com/openmined/blobvault/internal/server/handlers/store"
	"github.com/openmined/blobvault/internal/server/middlewares"
	"github.com/openmined/blobvault/internal/version"
)

func SetupRoutes(cfg *Config, mgr *manager.Manager, accessLog *accesslog.AccessLogger) (http.Handler, error) {
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20 // 8 MiB

	rateLimiter, err := middlewares.RateLimiter(cfg.HTTP.RateLimit)
	if err != nil {
		return nil, err
	}

	blobH := blob.New(mgr)
	storeH := store.New(mgr, accessLog)

	r.Use(middlewares.Logger())
	r.Use(gin.Recovery())
	r.Use(middlewares.Secure(cfg.HTTP.TLS()))
	r.Use(middlewares.GZIP())
	r.Use(middlewares.CORS())

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	v1 := r.Group("/api/v1")
	v1.Use(rateLimiter)
	v1.Use(accesslog.Middleware(accessLog))
	{
		// stores
		v1.GET("/stores", storeH.List)
		v1.POST("/stores", storeH.Create)
		v1.GET("/stores/:name", storeH.Get)
		v1.PUT("/stores/:name", storeH.Update)
		v1.DELETE("/stores/:name", storeH.Delete)
		v1.POST("/stores/:name/compact", storeH.Compact)
		v1.GET("/stores/:name/logs", storeH.Logs)

		// blobs
		v1.POST("/stores/:name/blobs", blobH.Upload)
		v1.POST("/stores/:name/batch/delete", blobH.DeleteBlobs)
		v1.GET("/stores/:name/blobs/:id", blobH.Download)
		v1.DELETE("/stores/:name/blobs/:id", blobH.Delete)
		v1.GET("/stores/:name/blobs/:id/metadata", blobH.Metadata)
		v1.POST("/stores/:name/blobs/:id/undelete", blobH.Undelete)
		v1.POST("/stores/:name/blobs/:id/verify", blobH.Verify)
	}

	r.NoRoute(func(c *gin.Context) {
		c.PureJSON(http.StatusNotFound, api.APIError{
			Code:    api.CodeNotFound,
			Message: "not found",
		})
	})

	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.PureJSON(http.StatusMethodNotAllowed, api.APIError{
			Code:    api.CodeInvalidRequest,
			Message: "method not allowed",
		})
	})

	return r.Handler(), nil
}

func IndexHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, version.Get())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
