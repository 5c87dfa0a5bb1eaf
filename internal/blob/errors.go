package blob

import "errors"

var (
	ErrInvalidConfiguration = errors.New("invalid blob store configuration")
	ErrDuplicateStore       = errors.New("blob store already exists")
	ErrNoSuchStore          = errors.New("blob store not found")
	ErrStorageUnavailable   = errors.New("blob storage unavailable")
	ErrBlobNotFound         = errors.New("blob not found")
	ErrCorruption           = errors.New("blob content corrupted")
	ErrIO                   = errors.New("blob io error")
)
