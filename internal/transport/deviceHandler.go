package transport

import (
	"net/http"
	"strconv"

	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/gin-gonic/gin"
)

type groupRequest struct {
	Name string `json:"name" binding:"required"`
}

type groupImageRequest struct {
	GroupNumber int    `json:"groupNumber" binding:"required"`
	FileName    string `json:"fileName" binding:"required"`
}

type addressRequest struct {
	Host string `json:"host" binding:"required"`
	Port int    `json:"port" binding:"required"`
}

func (h *DeviceHandler) ListGroups(c *gin.Context) {
	groups, err := h.service.ListGroups(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *DeviceHandler) CreateGroup(c *gin.Context) {
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.service.CreateGroup(c.Request.Context(), req.Name)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"groupId": id})
}

func (h *DeviceHandler) RenameGroup(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.RenameGroup(c.Request.Context(), id, req.Name); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Group renamed"})
}

func (h *DeviceHandler) DeleteGroup(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteGroup(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Group deleted"})
}

func (h *DeviceHandler) ListGroupImages(c *gin.Context) {
	id, err := strconv.Atoi(c.Query("groupId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "groupId must be a number"})
		return
	}

	images, err := h.service.ListGroupImages(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": images})
}

func (h *DeviceHandler) DeleteGroupImage(c *gin.Context) {
	var req groupImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.DeleteGroupImage(c.Request.Context(), req.GroupNumber, req.FileName); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Image deleted"})
}

func (h *DeviceHandler) ShowSlot(c *gin.Context) {
	screen, slot, ok := slotParams(c)
	if !ok {
		return
	}
	if err := h.service.ShowSlot(c.Request.Context(), screen, slot); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Slot shown"})
}

func (h *DeviceHandler) DeleteSlot(c *gin.Context) {
	screen, slot, ok := slotParams(c)
	if !ok {
		return
	}
	if err := h.service.DeleteSlot(c.Request.Context(), screen, slot); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Slot deleted"})
}

// SlotImage redirects to the picture the device serves for a slot.
func (h *DeviceHandler) SlotImage(c *gin.Context) {
	screen, slot, ok := slotParams(c)
	if !ok {
		return
	}
	u, err := h.service.SlotImageURL(c.Request.Context(), screen, slot)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Redirect(http.StatusFound, u)
}

func (h *DeviceHandler) GetAddress(c *gin.Context) {
	addr, err := h.service.Address(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, addr)
}

func (h *DeviceHandler) SetAddress(c *gin.Context) {
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	addr := entity.DeviceAddress{Host: req.Host, Port: req.Port}
	if err := h.service.SetAddress(c.Request.Context(), addr); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, addr)
}

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a number"})
		return 0, false
	}
	return v, true
}

func slotParams(c *gin.Context) (int, int, bool) {
	screen, ok := intParam(c, "screen")
	if !ok {
		return 0, 0, false
	}
	slot, ok := intParam(c, "slot")
	if !ok {
		return 0, 0, false
	}
	return screen, slot, true
}
