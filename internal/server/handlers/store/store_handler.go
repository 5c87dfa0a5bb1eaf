package store

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/openmined/blobvault/internal/blob"
	"github.com/openmined/blobvault/internal/blob/manager"
	"github.com/openmined/blobvault/internal/blob/storeconfig"
	"github.com/openmined/blobvault/internal/server/accesslog"
	"github.com/openmined/blobvault/internal/server/handlers/api"
)

const defaultLogLimit = 100

type StoreHandler struct {
	mgr       *manager.Manager
	accessLog *accesslog.AccessLogger
}

func New(mgr *manager.Manager, accessLog *accesslog.AccessLogger) *StoreHandler {
	return &StoreHandler{mgr: mgr, accessLog: accessLog}
}

// List returns every configured store, started or not
func (h *StoreHandler) List(ctx *gin.Context) {
	cfgs, err := h.mgr.Configurations()
	if err != nil {
		api.AbortWithBlobError(ctx, err)
		return
	}

	res := &ListResponse{Stores: make([]*StoreResponse, 0, len(cfgs))}
	for _, cfg := range cfgs {
		_, err := h.mgr.Lookup(cfg.Name)
		res.Stores = append(res.Stores, newStoreResponse(cfg, err == nil, nil))
	}
	ctx.PureJSON(http.StatusOK, res)
}

func (h *StoreHandler) Create(ctx *gin.Context) {
	var req CreateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	cfg := &storeconfig.Configuration{
		Name:     req.Name,
		Path:     req.Path,
		Strategy: req.Strategy,
	}
	if cfg.Path == "" {
		cfg.Path = filepath.Join(h.mgr.BaseDir(), req.Name)
	}

	if _, err := h.mgr.Create(ctx.Request.Context(), cfg); err != nil {
		api.AbortWithBlobError(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusCreated, newStoreResponse(cfg, true, nil))
}

// Get describes one store, including content stats when it is started
func (h *StoreHandler) Get(ctx *gin.Context) {
	name := ctx.Param("name")

	cfg, err := h.mgr.Configuration(name)
	if err != nil {
		api.AbortWithBlobError(ctx, err)
		return
	}
	accesslog.MarkResolved(ctx)

	s, err := h.mgr.Lookup(name)
	if err != nil {
		ctx.PureJSON(http.StatusOK, newStoreResponse(cfg, false, nil))
		return
	}

	stats, err := s.Stats(ctx.Request.Context())
	if err != nil {
		api.AbortWithBlobError(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, newStoreResponse(cfg, true, stats))
}

func (h *StoreHandler) Update(ctx *gin.Context) {
	var req UpdateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	cfg := &storeconfig.Configuration{
		Name:     ctx.Param("name"),
		Path:     req.Path,
		Strategy: req.Strategy,
	}
	_, err := h.mgr.Update(ctx.Request.Context(), cfg)
	if !errors.Is(err, blob.ErrNoSuchStore) {
		accesslog.MarkResolved(ctx)
	}
	if err != nil {
		api.AbortWithBlobError(ctx, err)
		return
	}

	updated, err := h.mgr.Configuration(cfg.Name)
	if err != nil {
		api.AbortWithBlobError(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, newStoreResponse(updated, true, nil))
}

// Delete forgets a store. Its content stays on disk.
func (h *StoreHandler) Delete(ctx *gin.Context) {
	name := ctx.Param("name")
	if err := h.mgr.Delete(ctx.Request.Context(), name); err != nil {
		api.AbortWithBlobError(ctx, err)
		return
	}
	accesslog.MarkResolved(ctx)
	ctx.Status(http.StatusNoContent)
}

func (h *StoreHandler) Compact(ctx *gin.Context) {
	name := ctx.Param("name")
	s, err := h.mgr.Lookup(name)
	if err != nil {
		api.AbortWithBlobError(ctx, err)
		return
	}
	accesslog.MarkResolved(ctx)

	res, err := s.Compact(ctx.Request.Context())
	if err != nil {
		slog.Error("blob store compact", "name", name, "error", err)
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeStoreCompactFailed, err)
		return
	}
	ctx.PureJSON(http.StatusOK, &CompactResponse{Name: name, Result: res})
}

// Logs returns the most recent access log entries of a store
func (h *StoreHandler) Logs(ctx *gin.Context) {
	var req LogsRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("failed to bind query: %w", err))
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultLogLimit
	}

	name := ctx.Param("name")
	if _, err := h.mgr.Configuration(name); err != nil {
		api.AbortWithBlobError(ctx, err)
		return
	}
	accesslog.MarkResolved(ctx)

	entries, err := h.accessLog.StoreLogs(name, req.Limit)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}
	if entries == nil {
		entries = []accesslog.Entry{}
	}
	ctx.PureJSON(http.StatusOK, &LogsResponse{Name: name, Entries: entries})
}
