package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/atopos31/keyrelay/common"
	"github.com/atopos31/keyrelay/models"
	"github.com/atopos31/keyrelay/service/rotation"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

type keyView struct {
	ID                   uint       `json:"id"`
	Key                  string     `json:"key"`
	Name                 string     `json:"name"`
	IsActive             bool       `json:"isActive"`
	Current              bool       `json:"current"`
	LastUsed             *time.Time `json:"lastUsed"`
	GlobalCooldownUntil  *time.Time `json:"globalCooldownUntil"`
	FailureCount         int        `json:"failureCount"`
	LifetimeRequestCount int64      `json:"lifetimeRequestCount"`
	DailyLimit           *int       `json:"dailyLimit"`
	DailyUsed            int        `json:"dailyUsed"`
	LastResetDate        string     `json:"lastResetDate"`
	DisabledByDailyLimit bool       `json:"disabledByDailyLimit"`
	CreatedAt            time.Time  `json:"createdAt"`
}

func toView(k models.KeyRecord, activeID uint) keyView {
	return keyView{
		ID:                   k.ID,
		Key:                  models.MaskSecret(k.Secret),
		Name:                 k.Name,
		IsActive:             k.IsActive,
		Current:              k.ID == activeID,
		LastUsed:             k.LastUsed,
		GlobalCooldownUntil:  k.GlobalCooldownUntil,
		FailureCount:         k.FailureCount,
		LifetimeRequestCount: k.LifetimeRequestCount,
		DailyLimit:           k.DailyLimit,
		DailyUsed:            k.DailyUsed,
		LastResetDate:        k.LastResetDate,
		DisabledByDailyLimit: k.DisabledByDailyLimit,
		CreatedAt:            k.CreatedAt,
	}
}

// ListKeys lists every key with its secret masked.
func (h *Handler) ListKeys(c *gin.Context) {
	keys, err := h.engine.ListKeys(c.Request.Context())
	if err != nil {
		common.InternalServerError(c, err.Error())
		return
	}
	activeID := h.engine.ActiveKeyID()
	common.Success(c, lo.Map(keys, func(k models.KeyRecord, _ int) keyView {
		return toView(k, activeID)
	}))
}

// CreateKey adds a key, or restores it when the secret is already known.
func (h *Handler) CreateKey(c *gin.Context) {
	var req struct {
		Key        string `json:"key"`
		Name       string `json:"name"`
		DailyLimit *int   `json:"dailyLimit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, err.Error())
		return
	}
	key, err := h.engine.AddKey(c.Request.Context(), req.Key, req.Name, req.DailyLimit)
	if errors.Is(err, rotation.ErrInvalidArgument) {
		common.BadRequest(c, err.Error())
		return
	}
	if err != nil {
		common.InternalServerError(c, err.Error())
		return
	}
	common.Success(c, toView(key, 0))
}

// UpdateKey edits the name, daily limit or active flag of a key.
func (h *Handler) UpdateKey(c *gin.Context) {
	id, ok := keyID(c)
	if !ok {
		return
	}
	var req struct {
		Name       *string `json:"name"`
		DailyLimit *int    `json:"dailyLimit"`
		IsActive   *bool   `json:"isActive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.BadRequest(c, err.Error())
		return
	}
	key, err := h.engine.UpdateKey(c.Request.Context(), id, rotation.KeyPatch{
		Name:       req.Name,
		DailyLimit: req.DailyLimit,
		IsActive:   req.IsActive,
	})
	switch {
	case errors.Is(err, rotation.ErrKeyNotFound):
		common.NotFound(c, err.Error())
	case errors.Is(err, rotation.ErrInvalidArgument):
		common.BadRequest(c, err.Error())
	case err != nil:
		common.InternalServerError(c, err.Error())
	default:
		common.Success(c, toView(key, 0))
	}
}

// DeleteKey removes a key for good.
func (h *Handler) DeleteKey(c *gin.Context) {
	id, ok := keyID(c)
	if !ok {
		return
	}
	err := h.engine.DeleteKey(c.Request.Context(), id)
	switch {
	case errors.Is(err, rotation.ErrKeyNotFound):
		common.NotFound(c, err.Error())
	case err != nil:
		common.InternalServerError(c, err.Error())
	default:
		common.Success(c, nil)
	}
}

func keyID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		common.BadRequest(c, "invalid key id")
		return 0, false
	}
	return uint(id), true
}
