package api

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error
	CodeNotFound       = "E_NOT_FOUND"       // no such route

	// Blob store errors
	CodeStoreNotFound      = "E_STORE_NOT_FOUND"      // no blob store with the given name
	CodeStoreDuplicate     = "E_STORE_DUPLICATE"      // name or path already used by another store
	CodeStoreInvalidConfig = "E_STORE_INVALID_CONFIG" // configuration failed validation
	CodeStoreUnavailable   = "E_STORE_UNAVAILABLE"    // store root unreachable or metadata failed to open
	CodeStoreCompactFailed = "E_STORE_COMPACT_FAILED" // compaction sweep failed

	// Blob errors
	CodeBlobNotFound   = "E_BLOB_NOT_FOUND"  // the specified blob could not be found.
	CodeBlobCorrupted  = "E_BLOB_CORRUPTED"  // content does not match its metadata
	CodeStorageFailure = "E_STORAGE_FAILURE" // filesystem or metadata I/O failed
)
