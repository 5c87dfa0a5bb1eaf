package blob

import (
	"github.com/gin-gonic/gin"
	"github.com/openmined/blobvault/internal/blob"
	"github.com/openmined/blobvault/internal/blob/manager"
	"github.com/openmined/blobvault/internal/server/accesslog"
	"github.com/openmined/blobvault/internal/server/handlers/api"
)

const (
	// request headers with this prefix become blob headers
	HeaderPrefix = "X-Blob-Header-"

	// CreatedBy recorded for blobs uploaded over HTTP
	createdByAPI = "admin-api"
)

type BlobHandler struct {
	mgr *manager.Manager
}

func New(mgr *manager.Manager) *BlobHandler {
	return &BlobHandler{mgr: mgr}
}

// store resolves the :name parameter to a running store. Unknown names are
// not created implicitly.
func (h *BlobHandler) store(ctx *gin.Context) (blob.Store, bool) {
	s, err := h.mgr.Lookup(ctx.Param("name"))
	if err != nil {
		api.AbortWithBlobError(ctx, err)
		return nil, false
	}
	accesslog.MarkResolved(ctx)
	return s, true
}

func blobID(ctx *gin.Context) (blob.BlobID, bool) {
	id, err := blob.ParseBlobID(ctx.Param("id"))
	if err != nil {
		api.AbortWithBlobError(ctx, err)
		return "", false
	}
	return id, true
}
