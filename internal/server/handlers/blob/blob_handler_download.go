package blob

import (
	"mime"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/blobvault/internal/blob"
	"github.com/openmined/blobvault/internal/server/handlers/api"
	"github.com/openmined/blobvault/internal/utils"
)

func (h *BlobHandler) Download(ctx *gin.Context) {
	s, ok := h.store(ctx)
	if !ok {
		return
	}
	id, ok := blobID(ctx)
	if !ok {
		return
	}

	md, err := s.GetMetadata(ctx.Request.Context(), id)
	if err != nil {
		api.AbortWithBlobError(ctx, err)
		return
	}

	rc, err := s.Get(ctx.Request.Context(), id)
	if err != nil {
		api.AbortWithBlobError(ctx, err)
		return
	}
	defer rc.Close()

	contentType := md.Headers[blob.HeaderContentType]
	if contentType == "" {
		contentType = utils.DetectContentType(md.Headers[blob.HeaderBlobName])
	}

	extra := map[string]string{
		"X-Blob-Id":     id.String(),
		"Last-Modified": md.CreatedAt.UTC().Format(http.TimeFormat),
	}
	if d := md.Digest(); d != "" {
		extra["ETag"] = `"` + d.String() + `"`
	}
	if name := md.Headers[blob.HeaderBlobName]; name != "" {
		if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
			extra["Content-Disposition"] = v
		}
	}

	ctx.DataFromReader(http.StatusOK, md.Size, contentType, rc, extra)
}

func (h *BlobHandler) Metadata(ctx *gin.Context) {
	s, ok := h.store(ctx)
	if !ok {
		return
	}
	id, ok := blobID(ctx)
	if !ok {
		return
	}

	md, err := s.GetMetadata(ctx.Request.Context(), id)
	if err != nil {
		api.AbortWithBlobError(ctx, err)
		return
	}

	ctx.PureJSON(http.StatusOK, gin.H{
		"id":        md.ID,
		"size":      md.Size,
		"hashes":    md.Hashes,
		"headers":   md.Headers,
		"digest":    md.Digest().String(),
		"createdAt": md.CreatedAt.Format(time.RFC3339Nano),
		"state":     md.State().String(),
	})
}
