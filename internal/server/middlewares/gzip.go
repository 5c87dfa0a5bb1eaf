package middlewares

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

var (
	excludedPaths = []string{
		"/healthz",
	}
	// blob content is served with its recorded length and is often compressed already
	excludedPathRegexes = []string{
		`^/api/v1/stores/[^/]+/blobs/[^/]+$`,
	}
)

func GZIP() gin.HandlerFunc {
	return gzip.Gzip(
		gzip.BestSpeed,
		gzip.WithExcludedPaths(excludedPaths),
		gzip.WithExcludedPathsRegexs(excludedPathRegexes),
	)
}
