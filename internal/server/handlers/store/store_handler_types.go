package store

import (
	"github.com/openmined/blobvault/internal/blob"
	"github.com/openmined/blobvault/internal/blob/storeconfig"
	"github.com/openmined/blobvault/internal/server/accesslog"
)

type CreateRequest struct {
	Name     string `json:"name" binding:"required"`
	Path     string `json:"path"`
	Strategy string `json:"strategy"`
}

type UpdateRequest struct {
	Path     string `json:"path" binding:"required"`
	Strategy string `json:"strategy"`
}

type StoreResponse struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Strategy string      `json:"strategy"`
	Started  bool        `json:"started"`
	Stats    *blob.Stats `json:"stats,omitempty"`
}

func newStoreResponse(cfg *storeconfig.Configuration, started bool, stats *blob.Stats) *StoreResponse {
	return &StoreResponse{
		Name:     cfg.Name,
		Path:     cfg.Path,
		Strategy: cfg.Strategy,
		Started:  started,
		Stats:    stats,
	}
}

type ListResponse struct {
	Stores []*StoreResponse `json:"stores"`
}

type CompactResponse struct {
	Name   string              `json:"name"`
	Result *blob.CompactResult `json:"result"`
}

type LogsRequest struct {
	Limit int `form:"limit" binding:"min=0,max=10000"`
}

type LogsResponse struct {
	Name    string            `json:"name"`
	Entries []accesslog.Entry `json:"entries"`
}
