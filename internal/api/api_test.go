package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dfs-lite/internal/agent"
	"dfs-lite/internal/config"
	"dfs-lite/internal/master"
	"dfs-lite/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestServer starts a master with the given node capacities and
// returns a router bound to it.
func setupTestServer(t *testing.T, capacities ...int64) (*gin.Engine, *master.Master) {
	t.Helper()

	db, err := storage.NewDatabase(config.DatabaseSQLite, filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default().Master
	cfg.RestartWindow = 50 * time.Millisecond
	cfg.WaitInterval = 10 * time.Millisecond
	cfg.HealthInterval = time.Hour
	cfg.ResponseTimeout = 2 * time.Second
	cfg.DownloadDir = t.TempDir()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	m := master.New(cfg, db)
	require.NoError(t, m.Start(ctx, ln))

	for i, c := range capacities {
		store, err := agent.NewDiskStore(t.TempDir())
		require.NoError(t, err)
		nodeCfg := config.DefaultNode()
		nodeCfg.MasterAddr = ln.Addr().String()
		nodeCfg.Capacity = c
		nodeCfg.ConnectWait = 20 * time.Millisecond

		nodeCtx, stop := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			agent.New(nodeCfg, "", store).Run(nodeCtx)
		}()
		t.Cleanup(func() {
			stop()
			<-done
		})
		want := i + 1
		require.Eventually(t, func() bool { return m.Nodes().Len() == want }, 2*time.Second, 5*time.Millisecond)
	}

	r := gin.New()
	SetupRoutes(r, m)
	return r, m
}

func do(r *gin.Engine, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func uploadFile(t *testing.T, r *gin.Engine, name string, data []byte, folderID string) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", name)
	require.NoError(t, err)
	part.Write(data)
	if folderID != "" {
		require.NoError(t, writer.WriteField("folder_id", folderID))
	}
	require.NoError(t, writer.Close())
	return do(r, http.MethodPost, "/file", body.Bytes(), writer.FormDataContentType())
}

func TestHealthEndpoints(t *testing.T) {
	r, _ := setupTestServer(t, 100)

	w := do(r, http.MethodGet, "/health/live", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", decode(t, w)["status"])

	w = do(r, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestReadinessBeforeStart(t *testing.T) {
	db, err := storage.NewDatabase(config.DatabaseSQLite, filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer db.Close()

	r := gin.New()
	SetupRoutes(r, master.New(config.Default().Master, db))

	w := do(r, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestFileLifecycle(t *testing.T) {
	r, _ := setupTestServer(t, 100, 100)

	w := uploadFile(t, r, "notes.txt", []byte("hello distributed world"), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	up := decode(t, w)
	assert.Equal(t, float64(1), up["id"])
	assert.Equal(t, float64(23), up["size"])
	assert.Contains(t, up["mime_type"], "text/plain")

	w = do(r, http.MethodGet, "/file/1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello distributed world", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "notes.txt")

	w = do(r, http.MethodGet, "/file/1/info", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "notes.txt", decode(t, w)["name"])

	w = do(r, http.MethodGet, "/files", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = do(r, http.MethodGet, "/search?q=hello", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["files"], 1)

	w = do(r, http.MethodDelete, "/file/1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/file/1", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFileErrors(t *testing.T) {
	r, _ := setupTestServer(t, 10)

	w := do(r, http.MethodGet, "/file/abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/file", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = uploadFile(t, r, "big.bin", make([]byte, 11), "")
	assert.Equal(t, http.StatusInsufficientStorage, w.Code)

	w = uploadFile(t, r, "a.txt", []byte("a"), "99")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/search", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadWithoutNodes(t *testing.T) {
	r, _ := setupTestServer(t)

	w := uploadFile(t, r, "a.txt", []byte("a"), "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(r, http.MethodGet, "/health", nil, "")
	assert.Equal(t, "degraded", decode(t, w)["status"])
}

func TestFolderRoutes(t *testing.T) {
	r, _ := setupTestServer(t, 100)

	w := do(r, http.MethodPost, "/folders", []byte(`{"parent_id":1,"name":"docs"}`), "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	docs := int64(decode(t, w)["id"].(float64))

	w = do(r, http.MethodPost, "/folders", []byte(`{"parent_id":1,"name":"docs"}`), "application/json")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPost, "/folders", []byte(`{"parent_id":2,"name":"drafts"}`), "application/json")
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodPut, "/folders/2/parent", []byte(`{"parent_id":3}`), "application/json")
	assert.Equal(t, http.StatusConflict, w.Code, "a folder cannot move under its own child")

	w = do(r, http.MethodPut, "/folders/2/name", []byte(`{"name":"papers"}`), "application/json")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPut, "/folders/1/name", []byte(`{"name":"x"}`), "application/json")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = uploadFile(t, r, "paper.txt", []byte("text"), "2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(docs), decode(t, w)["folder_id"])

	w = do(r, http.MethodGet, "/files?folder_id=2", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = do(r, http.MethodDelete, "/folders/2", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodGet, "/folders", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	tree := decode(t, w)
	children := tree["children"].([]interface{})
	require.Len(t, children, 1)
	assert.Equal(t, "papers", children[0].(map[string]interface{})["name"])

	w = do(r, http.MethodDelete, "/folders/3", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusNodesAndMetrics(t *testing.T) {
	r, _ := setupTestServer(t, 100, 50)

	w := uploadFile(t, r, "a.bin", make([]byte, 20), "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	status := decode(t, w)
	assert.Equal(t, float64(2), status["live_nodes"])
	assert.Equal(t, float64(150), status["total_space"])
	assert.Equal(t, float64(130), status["space_available"])

	w = do(r, http.MethodGet, "/nodes", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["count"])

	w = do(r, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "dfs_up 1\n")
	assert.Contains(t, body, "dfs_nodes_live 2\n")
	assert.Contains(t, body, "dfs_space_available_bytes 130\n")
	assert.Contains(t, body, "dfs_files_total 1\n")
	assert.True(t, strings.Contains(body, "# TYPE dfs_goroutines gauge"))
}
