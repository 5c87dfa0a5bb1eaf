package blob

import (
	"fmt"
	"time"

	"github.com/openmined/blobvault/internal/blob"
	"github.com/openmined/blobvault/internal/server/handlers/api"
)

type BlobAPIError struct {
	api.APIError
	ID string `json:"id"`
}

func NewBlobAPIError(code string, message string, id string) *BlobAPIError {
	return &BlobAPIError{
		ID: id,
		APIError: api.APIError{
			Code:    code,
			Message: message,
		},
	}
}

func (e *BlobAPIError) Error() string {
	return fmt.Sprintf("blobvault api blob error: code=%s, message=%s, id=%s", e.Code, e.Message, e.ID)
}

type UploadResponse struct {
	ID        blob.BlobID       `json:"id"`
	Size      int64             `json:"size"`
	Hashes    map[string]string `json:"hashes"`
	Headers   map[string]string `json:"headers"`
	Digest    string            `json:"digest,omitempty"`
	CreatedAt string            `json:"createdAt"`
}

func newUploadResponse(b *blob.Blob) *UploadResponse {
	return &UploadResponse{
		ID:        b.ID,
		Size:      b.Metadata.Size,
		Hashes:    b.Metadata.Hashes,
		Headers:   b.Metadata.Headers,
		Digest:    b.Metadata.Digest().String(),
		CreatedAt: b.Metadata.CreatedAt.Format(time.RFC3339Nano),
	}
}

type DeleteRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

type DeleteResponse struct {
	Deleted []blob.BlobID   `json:"deleted"`
	Errors  []*BlobAPIError `json:"errors"`
}

type VerifyResponse struct {
	ID     blob.BlobID `json:"id"`
	Status string      `json:"status"`
}
