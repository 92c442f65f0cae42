package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"dfs-lite/internal/master"
	"dfs-lite/internal/storage"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	master *master.Master
}

func NewHandler(m *master.Master) *Handler {
	return &Handler{master: m}
}

// statusFor maps master and metadata errors onto HTTP status codes.
func statusFor(err error) int {
	var pf *master.PartialFailure
	switch {
	case errors.Is(err, storage.ErrFileNotFound),
		errors.Is(err, storage.ErrFolderNotFound),
		errors.Is(err, storage.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrFolderExists),
		errors.Is(err, storage.ErrFolderCycle),
		errors.Is(err, storage.ErrFolderNotEmpty),
		errors.Is(err, storage.ErrRootFolder):
		return http.StatusConflict
	case errors.Is(err, master.ErrNotEnoughSpace):
		return http.StatusInsufficientStorage
	case errors.Is(err, master.ErrNoNodes),
		errors.Is(err, master.ErrNotReady),
		errors.Is(err, master.ErrPartsUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &pf):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var pf *master.PartialFailure
	if errors.As(err, &pf) {
		body["nodes"] = pf.Errors
	}
	c.JSON(statusFor(err), body)
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// queryID reads an optional numeric query or form value; missing means 0.
func queryID(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (h *Handler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return
	}
	folderID, err := queryID(c.PostForm("folder_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid folder_id"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open file"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read file"})
		return
	}

	rec, err := h.master.Upload(c.Request.Context(), file.Filename, data, folderID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":        rec.ID,
		"size":      rec.Size,
		"filename":  rec.Name,
		"folder_id": rec.FolderID,
		"mime_type": detectMimeType(rec.Name, data),
	})
}

func (h *Handler) Download(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	rec, data, err := h.master.Download(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(rec.Name))
	c.Data(http.StatusOK, detectMimeType(rec.Name, data), data)
}

func (h *Handler) GetFileInfo(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	rec, err := h.master.GetFile(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, fileJSON(rec))
}

// Delete answers 200 even when some parts could not be reclaimed: the file
// is gone from the metadata either way and the leftovers are listed.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	err := h.master.Delete(c.Request.Context(), id)
	var pf *master.PartialFailure
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "deleted", "id": id})
	case errors.As(err, &pf):
		c.JSON(http.StatusOK, gin.H{"message": "deleted", "id": id, "unreclaimed": pf.Errors})
	default:
		fail(c, err)
	}
}

func (h *Handler) ListFiles(c *gin.Context) {
	folderID, err := queryID(c.Query("folder_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid folder_id"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	files, err := h.master.ListFiles(folderID)
	if err != nil {
		fail(c, err)
		return
	}

	total := len(files)
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	out := make([]gin.H, 0, end-start)
	for i := range files[start:end] {
		out = append(out, fileJSON(&files[start+i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"files":     out,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (h *Handler) Search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query"})
		return
	}

	files, err := h.master.Search(c.Request.Context(), q)
	var pf *master.PartialFailure
	if err != nil && !errors.As(err, &pf) {
		fail(c, err)
		return
	}

	out := make([]gin.H, 0, len(files))
	for i := range files {
		out = append(out, fileJSON(&files[i]))
	}
	body := gin.H{"query": q, "files": out}
	if pf != nil {
		body["errors"] = pf.Errors
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) Status(c *gin.Context) {
	stats, err := h.master.Stats()
	if err != nil {
		fail(c, err)
		return
	}
	stats["uptime"] = h.master.Uptime().Seconds()
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) ListNodes(c *gin.Context) {
	nodes, err := h.master.ListNodes()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes, "count": len(nodes)})
}

func fileJSON(f *storage.File) gin.H {
	return gin.H{
		"id":          f.ID,
		"name":        f.Name,
		"size":        f.Size,
		"upload_date": f.UploadDate.Unix(),
		"folder_id":   f.FolderID,
	}
}

// detectMimeType 根据扩展名检测，失败时嗅探内容
func detectMimeType(filename string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
