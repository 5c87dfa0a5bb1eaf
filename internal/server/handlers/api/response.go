package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/blobvault/internal/blob"
)

func AbortWithError(ctx *gin.Context, status int, code string, err error) {
	ctx.Abort()
	ctx.Error(err)
	ctx.PureJSON(status, APIError{
		Code:    code,
		Message: err.Error(),
	})
}

// AbortWithBlobError maps a blob store error to its HTTP status
func AbortWithBlobError(ctx *gin.Context, err error) {
	status, code := StatusOf(err)
	AbortWithError(ctx, status, code, err)
}

// StatusOf returns the HTTP status and error code for a blob store error
func StatusOf(err error) (int, string) {
	switch {
	case errors.Is(err, blob.ErrNoSuchStore):
		return http.StatusNotFound, CodeStoreNotFound
	case errors.Is(err, blob.ErrBlobNotFound):
		return http.StatusNotFound, CodeBlobNotFound
	case errors.Is(err, blob.ErrDuplicateStore):
		return http.StatusConflict, CodeStoreDuplicate
	case errors.Is(err, blob.ErrInvalidConfiguration):
		return http.StatusBadRequest, CodeStoreInvalidConfig
	case errors.Is(err, blob.ErrStorageUnavailable):
		return http.StatusInternalServerError, CodeStoreUnavailable
	case errors.Is(err, blob.ErrCorruption):
		return http.StatusInternalServerError, CodeBlobCorrupted
	case errors.Is(err, blob.ErrIO):
		return http.StatusInternalServerError, CodeStorageFailure
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}
