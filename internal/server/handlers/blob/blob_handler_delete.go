package blob

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/blobvault/internal/blob"
	"github.com/openmined/blobvault/internal/server/handlers/api"
)

func (h *BlobHandler) Delete(ctx *gin.Context) {
	s, ok := h.store(ctx)
	if !ok {
		return
	}
	id, ok := blobID(ctx)
	if !ok {
		return
	}

	if err := s.Delete(ctx.Request.Context(), id); err != nil {
		api.AbortWithBlobError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *BlobHandler) Undelete(ctx *gin.Context) {
	s, ok := h.store(ctx)
	if !ok {
		return
	}
	id, ok := blobID(ctx)
	if !ok {
		return
	}

	if err := s.Undelete(ctx.Request.Context(), id); err != nil {
		api.AbortWithBlobError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

// DeleteBlobs soft-deletes a batch of blobs, reporting per-id failures
func (h *BlobHandler) DeleteBlobs(ctx *gin.Context) {
	s, ok := h.store(ctx)
	if !ok {
		return
	}

	var req DeleteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	deleted := make([]blob.BlobID, 0, len(req.IDs))
	errors := make([]*BlobAPIError, 0)
	for _, raw := range req.IDs {
		id, err := blob.ParseBlobID(raw)
		if err == nil {
			err = s.Delete(ctx.Request.Context(), id)
		}
		if err != nil {
			ctx.Error(fmt.Errorf("failed to delete blob: %w", err))
			_, code := api.StatusOf(err)
			errors = append(errors, NewBlobAPIError(code, err.Error(), raw))
			continue
		}
		deleted = append(deleted, id)
	}

	code := http.StatusOK
	if len(deleted) == 0 && len(errors) > 0 {
		code = http.StatusBadRequest
	} else if len(deleted) > 0 && len(errors) > 0 {
		code = http.StatusMultiStatus
	}

	ctx.PureJSON(code, &DeleteResponse{
		Deleted: deleted,
		Errors:  errors,
	})
}
