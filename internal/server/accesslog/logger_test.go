package accesslog

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessLoggerWritesPerStore(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir, slog.Default())
	require.NoError(t, err)
	defer logger.Close()

	logger.Log(Entry{Store: "npm", Operation: OpBlobCreate, BlobID: "a", StatusCode: http.StatusCreated, Bytes: 10})
	logger.Log(Entry{Store: "npm", Operation: OpBlobRead, BlobID: "a", StatusCode: http.StatusOK, Bytes: 10})
	logger.Log(Entry{Store: "maven", Operation: OpStoreCompact, StatusCode: http.StatusOK})

	entries, err := logger.StoreLogs("npm", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, OpBlobCreate, entries[0].Operation)
	assert.Equal(t, OpBlobRead, entries[1].Operation)
	assert.False(t, entries[0].Timestamp.IsZero())

	entries, err = logger.StoreLogs("maven", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = logger.StoreLogs("unknown", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAccessLoggerLimit(t *testing.T) {
	logger, err := New(t.TempDir(), slog.Default())
	require.NoError(t, err)
	defer logger.Close()

	for i := range 10 {
		logger.Log(Entry{Store: "raw", Operation: OpBlobRead, StatusCode: 200 + i})
	}

	entries, err := logger.StoreLogs("raw", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 209, entries[2].StatusCode)
}

func TestAccessLoggerIgnoresInvalidStoreNames(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir, slog.Default())
	require.NoError(t, err)
	defer logger.Close()

	logger.Log(Entry{Store: "..", Operation: OpStoreAdmin})

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = logger.StoreLogs("..", 0)
	assert.Error(t, err)
}

func TestAccessLoggerConcurrentWrites(t *testing.T) {
	logger, err := New(t.TempDir(), slog.Default())
	require.NoError(t, err)
	defer logger.Close()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				logger.Log(Entry{Store: "shared", Operation: OpBlobRead})
			}
		}()
	}
	wg.Wait()

	entries, err := logger.StoreLogs("shared", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 400)
}

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	for i := range MaxLogFiles + 3 {
		name := filepath.Join(dir, "access_"+strings.Repeat("0", i+1)+".log")
		require.NoError(t, os.WriteFile(name, nil, LogFilePermission))
	}

	w := &storeLogWriter{logDir: dir}
	require.NoError(t, w.cleanOldLogs())

	files, err := listLogFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, MaxLogFiles)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, err := New(t.TempDir(), slog.Default())
	require.NoError(t, err)
	defer logger.Close()

	r := gin.New()
	r.Use(Middleware(logger))
	r.GET("/api/v1/stores/:name/blobs/:id", func(c *gin.Context) {
		MarkResolved(c)
		c.String(http.StatusOK, "payload")
	})
	r.DELETE("/api/v1/stores/:name/blobs/:id", func(c *gin.Context) {
		MarkResolved(c)
		c.Status(http.StatusNoContent)
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/v1/stores/npm/blobs/abc", nil),
		httptest.NewRequest(http.MethodDelete, "/api/v1/stores/npm/blobs/abc", nil),
		httptest.NewRequest(http.MethodGet, "/healthz", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	entries, err := logger.StoreLogs("npm", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, OpBlobRead, entries[0].Operation)
	assert.Equal(t, "abc", entries[0].BlobID)
	assert.EqualValues(t, 7, entries[0].Bytes)
	assert.Equal(t, OpBlobDelete, entries[1].Operation)
	assert.Equal(t, http.StatusNoContent, entries[1].StatusCode)
}

func TestMiddlewareSkipsUnresolvedStores(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	logger, err := New(dir, slog.Default())
	require.NoError(t, err)
	defer logger.Close()

	r := gin.New()
	r.Use(Middleware(logger))
	r.GET("/api/v1/stores/:name/blobs/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for i := range 20 {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stores/ghost"+strconv.Itoa(i)+"/blobs/x", nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Empty(t, logger.writers)
}

func TestOperationOf(t *testing.T) {
	assert.Equal(t, OpBlobCreate, operationOf(http.MethodPost, "/api/v1/stores/:name/blobs"))
	assert.Equal(t, OpBlobDelete, operationOf(http.MethodPost, "/api/v1/stores/:name/batch/delete"))
	assert.Equal(t, OpBlobVerify, operationOf(http.MethodPost, "/api/v1/stores/:name/blobs/:id/verify"))
	assert.Equal(t, OpStoreCompact, operationOf(http.MethodPost, "/api/v1/stores/:name/compact"))
	assert.Equal(t, OpStoreAdmin, operationOf(http.MethodPut, "/api/v1/stores/:name"))
}
