package handler

import (
	"strconv"

	"github.com/atopos31/keyrelay/common"
	"github.com/atopos31/keyrelay/service/usage"
	"github.com/gin-gonic/gin"
)

// GetSettings returns the current rotation settings.
func (h *Handler) GetSettings(c *gin.Context) {
	common.Success(c, h.settings.Read(c.Request.Context()))
}

// UpdateSettings applies a partial update; omitted fields keep their value.
func (h *Handler) UpdateSettings(c *gin.Context) {
	ctx := c.Request.Context()
	current := h.settings.Read(ctx)
	if err := c.ShouldBindJSON(&current); err != nil {
		common.BadRequest(c, err.Error())
		return
	}
	stored, err := h.settings.Write(ctx, current)
	if err != nil {
		common.InternalServerError(c, err.Error())
		return
	}
	common.Success(c, stored)
}

// GetUsageLogs returns recent usage events, optionally for one key.
func (h *Handler) GetUsageLogs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		common.BadRequest(c, "invalid limit")
		return
	}
	limit = min(limit, 1000)
	var keyID uint64
	if raw := c.Query("key_id"); raw != "" {
		if keyID, err = strconv.ParseUint(raw, 10, 64); err != nil {
			common.BadRequest(c, "invalid key_id")
			return
		}
	}
	logs, err := usage.Recent(c.Request.Context(), h.db, uint(keyID), limit)
	if err != nil {
		common.InternalServerError(c, err.Error())
		return
	}
	common.Success(c, logs)
}
