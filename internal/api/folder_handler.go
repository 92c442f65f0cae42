package api

import (
	"net/http"

	"dfs-lite/internal/master"
	"dfs-lite/internal/storage"

	"github.com/gin-gonic/gin"
)

type FolderHandler struct {
	master *master.Master
}

func NewFolderHandler(m *master.Master) *FolderHandler {
	return &FolderHandler{master: m}
}

type createFolderRequest struct {
	ParentID int64  `json:"parent_id" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

type renameFolderRequest struct {
	Name string `json:"name" binding:"required"`
}

type moveFolderRequest struct {
	ParentID int64 `json:"parent_id" binding:"required"`
}

func (h *FolderHandler) Tree(c *gin.Context) {
	root, err := h.master.FolderTree()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, folderJSON(root))
}

func (h *FolderHandler) Create(c *gin.Context) {
	var req createFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	folder, err := h.master.CreateFolder(req.ParentID, req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, folderJSON(folder))
}

func (h *FolderHandler) Rename(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req renameFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.master.RenameFolder(id, req.Name); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "name": req.Name})
}

func (h *FolderHandler) Move(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req moveFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.master.MoveFolder(id, req.ParentID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "parent_id": req.ParentID})
}

func (h *FolderHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.master.DeleteFolder(id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted", "id": id})
}

func folderJSON(f *storage.Folder) gin.H {
	children := make([]gin.H, 0, len(f.Children))
	for _, child := range f.Children {
		children = append(children, folderJSON(child))
	}
	return gin.H{
		"id":        f.ID,
		"parent_id": f.ParentID,
		"name":      f.Name,
		"children":  children,
	}
}
