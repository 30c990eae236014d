package http

import (
	"jabberwocky238/jw238memmgr/internal/types"
	"jabberwocky238/jw238memmgr/memmgr"

	"github.com/gin-gonic/gin"
)

// Controller is the part of the memory manager the API drives.
type Controller interface {
	Status() memmgr.Status
	Reload(class uint16, dataSource, zone string) error
	Cancel() error
}

// MemmgrHandler handles memory manager endpoints.
type MemmgrHandler struct {
	mgr Controller
}

// NewMemmgrHandler creates a MemmgrHandler driving mgr.
func NewMemmgrHandler(mgr Controller) *MemmgrHandler {
	return &MemmgrHandler{mgr: mgr}
}

// Segments handles GET /memmgr/segments.
func (h *MemmgrHandler) Segments(c *gin.Context) {
	OK(c, h.mgr.Status())
}

// Reload handles POST /memmgr/reload.
func (h *MemmgrHandler) Reload(c *gin.Context) {
	var req ReloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, 400, err.Error())
		return
	}
	if req.Class == "" {
		req.Class = "IN"
	}
	class, err := types.ParseClass(req.Class)
	if err != nil {
		FailError(c, err)
		return
	}

	if err := h.mgr.Reload(class, req.DataSource, req.Zone); err != nil {
		FailError(c, err)
		return
	}
	OK(c, gin.H{"class": types.ClassString(class), "datasrc": req.DataSource, "zone": req.Zone})
}

// Cancel handles POST /memmgr/cancel.
func (h *MemmgrHandler) Cancel(c *gin.Context) {
	if err := h.mgr.Cancel(); err != nil {
		FailError(c, err)
		return
	}
	OK(c, nil)
}
