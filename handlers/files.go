package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"copycat/services"
	"copycat/types"
)

// FileHandler handles browsing of the source and destination roots
type FileHandler struct {
	fileService services.FileService
}

// NewFileHandler creates a new file handler
func NewFileHandler(fs services.FileService) *FileHandler {
	return &FileHandler{
		fileService: fs,
	}
}

type browseQuery struct {
	Source string `form:"source"`
	Path   string `form:"path"`
	Limit  int    `form:"limit" binding:"min=0"`
	Offset int    `form:"offset" binding:"min=0"`
	SortBy string `form:"sort_by" binding:"omitempty,oneof=name size modified"`
	Order  string `form:"order" binding:"omitempty,oneof=asc desc"`
}

type pathQuery struct {
	Source        string `form:"source"`
	Path          string `form:"path"`
	CalculateSize bool   `form:"calculate_size"`
	FolderName    string `form:"folder_name"`
}

func sourceOrDefault(source string) string {
	if source == "" {
		return types.SourceRoot
	}
	return source
}

// Browse lists one page of a directory
func (h *FileHandler) Browse(c *gin.Context) {
	var q browseQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	out, err := h.fileService.List(sourceOrDefault(q.Source), q.Path, services.ListOptions{
		Limit:  q.Limit,
		Offset: q.Offset,
		SortBy: q.SortBy,
		Order:  q.Order,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// FolderInfo returns the item count and optionally the size of a folder
func (h *FileHandler) FolderInfo(c *gin.Context) {
	var q pathQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.fileService.FolderInfo(sourceOrDefault(q.Source), q.Path, q.CalculateSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// CreateFolder creates a folder on the destination root
func (h *FileHandler) CreateFolder(c *gin.Context) {
	var q pathQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.fileService.CreateFolder(sourceOrDefault(q.Source), q.Path, q.FolderName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Delete removes a file or folder from the destination root
func (h *FileHandler) Delete(c *gin.Context) {
	var q pathQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.fileService.Delete(sourceOrDefault(q.Source), q.Path); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.MessageResponse{
		Success: true,
		Message: "Deleted " + q.Path,
	})
}
