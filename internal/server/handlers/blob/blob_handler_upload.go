package blob

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/openmined/blobvault/internal/blob"
	"github.com/openmined/blobvault/internal/server/handlers/api"
)

// Upload stores the request body as a new blob. A multipart request stores
// its "file" part instead.
func (h *BlobHandler) Upload(ctx *gin.Context) {
	s, ok := h.store(ctx)
	if !ok {
		return
	}

	headers := blobHeaders(ctx.Request.Header)

	var body io.Reader = ctx.Request.Body
	if isMultipart(ctx.ContentType()) {
		file, err := ctx.FormFile("file")
		if err != nil {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid file: %w", err))
			return
		}

		fd, err := file.Open()
		if err != nil {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid file: %w", err))
			return
		}
		defer fd.Close()

		body = fd
		if _, ok := headers[blob.HeaderBlobName]; !ok && file.Filename != "" {
			headers[blob.HeaderBlobName] = file.Filename
		}
		if ct := file.Header.Get("Content-Type"); ct != "" {
			headers[blob.HeaderContentType] = ct
		}
	}

	b, err := s.Create(ctx.Request.Context(), body, headers)
	if err != nil {
		api.AbortWithBlobError(ctx, err)
		return
	}

	ctx.PureJSON(http.StatusCreated, newUploadResponse(b))
}

// blobHeaders collects X-Blob-Header-* request headers. Well-known names keep
// their canonical spelling, anything else is lower-cased.
func blobHeaders(h http.Header) map[string]string {
	headers := map[string]string{
		blob.HeaderCreatedBy: createdByAPI,
	}
	if ct := h.Get("Content-Type"); ct != "" && !isMultipart(ct) {
		headers[blob.HeaderContentType] = ct
	}

	for key, values := range h {
		if len(values) == 0 || !strings.HasPrefix(key, HeaderPrefix) {
			continue
		}
		name := strings.TrimPrefix(key, HeaderPrefix)
		if name == "" {
			continue
		}
		headers[headerName(name)] = values[0]
	}
	return headers
}

func headerName(name string) string {
	for _, known := range []string{blob.HeaderBlobName, blob.HeaderContentType, blob.HeaderCreatedBy} {
		if strings.EqualFold(name, known) {
			return known
		}
	}
	return strings.ToLower(name)
}

func isMultipart(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "multipart/form-data"
}
