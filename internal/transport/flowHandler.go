package transport

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/gin-gonic/gin"
)

// flowForm carries the destination fields posted next to the image.
type flowForm struct {
	Target      string `form:"target" binding:"required,oneof=gallery group slot"`
	Title       string `form:"title"`
	Category    int    `form:"category"`
	Subcategory int    `form:"subcategory"`
	GroupID     int    `form:"groupId"`
	GroupNumber int    `form:"groupNumber"`
	Screen      int    `form:"screen"`
	Slot        int    `form:"slot"`
}

func (f flowForm) uploadTarget() entity.UploadTarget {
	switch entity.TargetKind(f.Target) {
	case entity.TargetGallery:
		return entity.GalleryTarget(strings.TrimSpace(f.Title), f.Category, f.Subcategory)
	case entity.TargetGroup:
		return entity.GroupTarget(f.GroupID, f.GroupNumber)
	default:
		return entity.SlotTarget(f.Screen, f.Slot)
	}
}

type fileHeaderSource struct {
	header *multipart.FileHeader
}

func (s fileHeaderSource) Name() string { return s.header.Filename }

func (s fileHeaderSource) Open() (io.ReadCloser, error) { return s.header.Open() }

// CreateFlow accepts an image and its destination and starts transcoding it.
func (h *FlowHandler) CreateFlow(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image file provided"})
		return
	}

	// Проверка типа файла
	ext := filepath.Ext(file.Filename)
	if !isValidImageType(ext) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image type. Supported: jpg, jpeg, png, gif, webp, bmp"})
		return
	}
	if h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("Image is larger than %d bytes", h.maxUploadBytes)})
		return
	}

	var form flowForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	flow, err := h.service.Select(c.Request.Context(), fileHeaderSource{header: file}, form.uploadTarget())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, flow)
}

func (h *FlowHandler) GetFlow(c *gin.Context) {
	flow, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, flow)
}

func (h *FlowHandler) UploadFlow(c *gin.Context) {
	flow, err := h.service.Upload(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, flow)
}

func (h *FlowHandler) RetryFlow(c *gin.Context) {
	flow, err := h.service.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, flow)
}

func (h *FlowHandler) DeleteFlow(c *gin.Context) {
	if err := h.service.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Flow deleted successfully"})
}

func (h *FlowHandler) GetPreview(c *gin.Context) {
	rc, err := h.service.Preview(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", data)
}

func isValidImageType(ext string) bool {
	validTypes := map[string]bool{
		".jpg":  true,
		".jpeg": true,
		".png":  true,
		".gif":  true,
		".webp": true,
		".bmp":  true,
	}
	return validTypes[strings.ToLower(ext)]
}
