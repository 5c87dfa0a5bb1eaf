package accesslog

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const resolvedStoreKey = "accesslog.resolved_store"

// MarkResolved records that the request addressed an existing store. Only
// marked requests are logged, so unknown names never get a log file.
func MarkResolved(ctx *gin.Context) {
	ctx.Set(resolvedStoreKey, true)
}

// Middleware records every request that addresses an existing store by name
func Middleware(logger *AccessLogger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Next()

		store := ctx.Param("name")
		if store == "" || !ctx.GetBool(resolvedStoreKey) {
			return
		}

		entry := Entry{
			Store:      store,
			Operation:  operationOf(ctx.Request.Method, ctx.FullPath()),
			BlobID:     ctx.Param("id"),
			Method:     ctx.Request.Method,
			Path:       ctx.Request.URL.Path,
			IP:         ctx.ClientIP(),
			UserAgent:  ctx.Request.UserAgent(),
			StatusCode: ctx.Writer.Status(),
			Bytes:      bytesOf(ctx),
		}
		if err := ctx.Errors.Last(); err != nil {
			entry.Error = err.Error()
		}
		logger.Log(entry)
	}
}

func operationOf(method, route string) Operation {
	switch {
	case strings.HasSuffix(route, "/compact"):
		return OpStoreCompact
	case strings.HasSuffix(route, "/metadata"):
		return OpBlobMetadata
	case strings.HasSuffix(route, "/undelete"):
		return OpBlobUndelete
	case strings.HasSuffix(route, "/verify"):
		return OpBlobVerify
	case strings.HasSuffix(route, "/blobs") && method == http.MethodPost:
		return OpBlobCreate
	case strings.HasSuffix(route, "/batch/delete"):
		return OpBlobDelete
	case strings.HasSuffix(route, "/blobs/:id") && method == http.MethodGet:
		return OpBlobRead
	case strings.HasSuffix(route, "/blobs/:id") && method == http.MethodDelete:
		return OpBlobDelete
	default:
		return OpStoreAdmin
	}
}

// bytesOf reports the payload size moved by the request
func bytesOf(ctx *gin.Context) int64 {
	if ctx.Request.Method == http.MethodPost && ctx.Request.ContentLength > 0 {
		return ctx.Request.ContentLength
	}
	if n := ctx.Writer.Size(); n > 0 {
		return int64(n)
	}
	return 0
}
