package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"greendrake/referral/internal/api/middleware"
	"greendrake/referral/internal/models"
	"greendrake/referral/internal/services"
	"greendrake/referral/internal/tasks"
)

// SweepRunner runs one expiration sweep, e.g. *tasks.ExpirationSweeper.
type SweepRunner interface {
	Run(ctx context.Context) (tasks.SweepResult, error)
}

// AdminHandler serves runtime configuration, the manual sweep trigger, user
// moderation and the audit log.
type AdminHandler struct {
	configService services.IConfigService
	userService   services.IUserService
	adminLog      services.IAdminActionLogService
	sweeper       SweepRunner
	paging        Paging
}

func NewAdminHandler(
	configService services.IConfigService,
	userService services.IUserService,
	adminLog services.IAdminActionLogService,
	sweeper SweepRunner,
	paging Paging,
) *AdminHandler {
	return &AdminHandler{
		configService: configService,
		userService:   userService,
		adminLog:      adminLog,
		sweeper:       sweeper,
		paging:        paging,
	}
}

func (h *AdminHandler) audit(c *gin.Context, action models.AdminAction, target, notes string) {
	adminID, _ := middleware.CurrentUserID(c)
	if err := h.adminLog.Record(c.Request.Context(), adminID, action, target, notes); err != nil {
		log.Printf("WARN: %v", err)
	}
}

// GetConfig handles GET /v1/admin/config
func (h *AdminHandler) GetConfig(c *gin.Context) {
	values, err := h.configService.GetAll(c.Request.Context())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusOK, "", values)
}

type setConfigArgs struct {
	Value  interface{} `json:"value"`
	Public bool        `json:"public"`
}

// SetConfig handles PUT /v1/admin/config/:key
func (h *AdminHandler) SetConfig(c *gin.Context) {
	key := c.Param("key")
	var args setConfigArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	value, err := services.ParseConfigValue(key, args.Value)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	if err := h.configService.SetConfigValue(c.Request.Context(), key, value, args.Public); err != nil {
		handleServiceError(c, err)
		return
	}
	h.audit(c, models.AdminActionConfigSet, key, fmt.Sprint(value))
	sendSuccessResponse(c, http.StatusOK, "Configuration updated", gin.H{"key": key, "value": value})
}

// RunSweep handles POST /v1/admin/sweep. The sweep runs in the request; a
// sweep already in flight yields a skipped result.
func (h *AdminHandler) RunSweep(c *gin.Context) {
	result, err := h.sweeper.Run(c.Request.Context())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	message := "Sweep completed"
	if result.Skipped {
		message = "Sweep already running, skipped"
	} else {
		h.audit(c, models.AdminActionSweepRun, "", fmt.Sprintf("expired=%d deleted=%d failed=%d", result.Expired, result.Deleted, result.Failed))
	}
	sendSuccessResponse(c, http.StatusOK, message, result)
}

// SuspendUser handles POST /v1/admin/users/:id/suspend
func (h *AdminHandler) SuspendUser(c *gin.Context) {
	adminID, _, ok := caller(c)
	if !ok {
		return
	}
	userID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.userService.SuspendUser(c.Request.Context(), userID, adminID); err != nil {
		handleServiceError(c, err)
		return
	}
	h.audit(c, models.AdminActionSuspendUser, userID.String(), "")
	sendSuccessResponse(c, http.StatusOK, "User suspended", nil)
}

// UnsuspendUser handles POST /v1/admin/users/:id/unsuspend
func (h *AdminHandler) UnsuspendUser(c *gin.Context) {
	userID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.userService.UnsuspendUser(c.Request.Context(), userID); err != nil {
		handleServiceError(c, err)
		return
	}
	h.audit(c, models.AdminActionUnsuspend, userID.String(), "")
	sendSuccessResponse(c, http.StatusOK, "User unsuspended", nil)
}

// ListActions handles GET /v1/admin/actions?target=<id>
func (h *AdminHandler) ListActions(c *gin.Context) {
	page, ok := h.paging.page(c)
	if !ok {
		return
	}
	entries, err := h.adminLog.List(c.Request.Context(), c.Query("target"), page)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusOK, "", entries)
}
