package blob

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/blobvault/internal/server/handlers/api"
)

func (h *BlobHandler) Verify(ctx *gin.Context) {
	s, ok := h.store(ctx)
	if !ok {
		return
	}
	id, ok := blobID(ctx)
	if !ok {
		return
	}

	if err := s.Verify(ctx.Request.Context(), id); err != nil {
		api.AbortWithBlobError(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, &VerifyResponse{ID: id, Status: "ok"})
}
