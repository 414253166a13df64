package handlers

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"greendrake/referral/internal/api/middleware"
	"greendrake/referral/internal/models"
	"greendrake/referral/internal/services"
	"greendrake/referral/internal/utils"
)

// PreMarketHandler serves renter, agent and admin views of pre-market requests.
type PreMarketHandler struct {
	preMarket   services.IPreMarketRequestService
	workflow    services.IGrantAccessWorkflowService
	userService services.IUserService
	adminLog    services.IAdminActionLogService
	paging      Paging
}

func NewPreMarketHandler(
	preMarket services.IPreMarketRequestService,
	workflow services.IGrantAccessWorkflowService,
	userService services.IUserService,
	adminLog services.IAdminActionLogService,
	paging Paging,
) *PreMarketHandler {
	return &PreMarketHandler{preMarket: preMarket, workflow: workflow, userService: userService, adminLog: adminLog, paging: paging}
}

func (h *PreMarketHandler) audit(c *gin.Context, action models.AdminAction, target utils.SixID, notes string) {
	adminID, _ := middleware.CurrentUserID(c)
	if err := h.adminLog.Record(c.Request.Context(), adminID, action, target.String(), notes); err != nil {
		log.Printf("WARN: %v", err)
	}
}

// AgentView is a redacted request plus the agent's access to it.
type AgentView struct {
	Request *models.PreMarketRequest `json:"request"`
	Access  models.AccessStatus      `json:"access"`
}

// --- Renter ---

// Create handles POST /v1/pre-market
func (h *PreMarketHandler) Create(c *gin.Context) {
	userID, _, ok := caller(c)
	if !ok {
		return
	}
	var in services.PreMarketInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	renter, err := h.userService.FindByID(c.Request.Context(), userID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	req, err := h.preMarket.Create(c.Request.Context(), renter, in)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusCreated, "Pre-market request created", req)
}

// ListMine handles GET /v1/pre-market/mine
func (h *PreMarketHandler) ListMine(c *gin.Context) {
	userID, _, ok := caller(c)
	if !ok {
		return
	}
	page, ok := h.paging.page(c)
	if !ok {
		return
	}
	reqs, err := h.preMarket.ListByRenter(c.Request.Context(), userID, page)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusOK, "", reqs)
}

// Get handles GET /v1/pre-market/:id. Renters see their own requests, agents
// get the redacted view with their access status, admins see everything.
func (h *PreMarketHandler) Get(c *gin.Context) {
	userID, role, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	switch role {
	case models.RoleAgent:
		view, access, err := h.workflow.GetForAgent(ctx, userID, id)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		sendSuccessResponse(c, http.StatusOK, "", AgentView{Request: view, Access: access})
		return
	case models.RoleRenter, models.RoleAdmin:
		req, err := h.preMarket.FindByID(ctx, id)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		if role == models.RoleRenter && (req.RenterID != userID || req.Status == models.PreMarketStatusDeleted) {
			handleServiceError(c, services.NewNotFoundError("pre-market request %s not found", id))
			return
		}
		sendSuccessResponse(c, http.StatusOK, "", req)
	}
}

// Update handles PATCH /v1/pre-market/:id
func (h *PreMarketHandler) Update(c *gin.Context) {
	userID, _, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var in services.PreMarketInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	req, err := h.preMarket.UpdateByRenter(c.Request.Context(), id, userID, in)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusOK, "Pre-market request updated", req)
}

type setActiveArgs struct {
	Active *bool `json:"active" binding:"required"`
}

// SetActive handles POST /v1/pre-market/:id/active
func (h *PreMarketHandler) SetActive(c *gin.Context) {
	userID, _, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var args setActiveArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, "active is required")
		return
	}
	req, err := h.preMarket.SetActive(c.Request.Context(), id, userID, *args.Active)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusOK, "", req)
}

// Delete handles DELETE /v1/pre-market/:id
func (h *PreMarketHandler) Delete(c *gin.Context) {
	userID, _, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.preMarket.SoftDelete(c.Request.Context(), id, &userID); err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusOK, "Pre-market request deleted", nil)
}

// --- Agent ---

func parseFilter(c *gin.Context) (services.PreMarketFilter, bool) {
	filter := services.PreMarketFilter{Borough: c.Query("borough")}
	if v := c.Query("min_bedrooms"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "min_bedrooms must be a non-negative integer")
			return filter, false
		}
		filter.MinBedrooms = &n
	}
	if v := c.Query("max_price"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() {
			badRequest(c, "max_price must be a non-negative amount")
			return filter, false
		}
		cents, err := models.CentsFromDecimal(d)
		if err != nil {
			badRequest(c, err.Error())
			return filter, false
		}
		filter.MaxPrice = &cents
	}
	if v := c.Query("moving_by"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			t, err = time.Parse(time.RFC3339, v)
		}
		if err != nil {
			badRequest(c, "moving_by must be a date (YYYY-MM-DD)")
			return filter, false
		}
		t = t.UTC()
		filter.MovingBy = &t
	}
	return filter, true
}

// AgentList handles GET /v1/agent/pre-market
func (h *PreMarketHandler) AgentList(c *gin.Context) {
	userID, _, ok := caller(c)
	if !ok {
		return
	}
	filter, ok := parseFilter(c)
	if !ok {
		return
	}
	page, ok := h.paging.page(c)
	if !ok {
		return
	}
	reqs, err := h.workflow.ListForAgent(c.Request.Context(), userID, filter, page)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusOK, "", reqs)
}

type setVisibilityArgs struct {
	Visibility models.Visibility `json:"visibility" binding:"required"`
}

// SetVisibility handles POST /v1/agent/pre-market/:id/visibility
func (h *PreMarketHandler) SetVisibility(c *gin.Context) {
	userID, role, ok := caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var args setVisibilityArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, "visibility is required")
		return
	}
	actor := &models.User{Base: models.Base{ID: userID}, Role: role}
	req, err := h.preMarket.SetVisibility(c.Request.Context(), id, actor, args.Visibility)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	// Referring an agent does not unlock the renter's contact.
	status, err := h.workflow.GetAccessStatus(c.Request.Context(), userID, req.ID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	view := req.ForAgent(status.HasAccess)
	sendSuccessResponse(c, http.StatusOK, "", AgentView{Request: &view, Access: status})
}

// --- Admin ---

// AdminList handles GET /v1/admin/pre-market
func (h *PreMarketHandler) AdminList(c *gin.Context) {
	status := models.PreMarketStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		badRequest(c, "invalid status")
		return
	}
	page, ok := h.paging.page(c)
	if !ok {
		return
	}
	reqs, err := h.preMarket.ListAll(c.Request.Context(), status, page)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusOK, "", reqs)
}

// AdminUpdate handles PATCH /v1/admin/pre-market/:id
func (h *PreMarketHandler) AdminUpdate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var in services.PreMarketInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	req, err := h.preMarket.UpdateByAdmin(c.Request.Context(), id, in)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusOK, "Pre-market request updated", req)
}

type setStatusArgs struct {
	Status models.PreMarketStatus `json:"status" binding:"required"`
}

// AdminSetStatus handles POST /v1/admin/pre-market/:id/status
func (h *PreMarketHandler) AdminSetStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var args setStatusArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, "status is required")
		return
	}
	req, err := h.preMarket.SetStatus(c.Request.Context(), id, args.Status)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	h.audit(c, models.AdminActionSetStatus, id, string(args.Status))
	sendSuccessResponse(c, http.StatusOK, "", req)
}

// AdminDelete handles DELETE /v1/admin/pre-market/:id?hard=true
func (h *PreMarketHandler) AdminDelete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	hard, _ := strconv.ParseBool(c.Query("hard"))
	var err error
	if hard {
		err = h.preMarket.HardDelete(c.Request.Context(), id)
	} else {
		err = h.preMarket.SoftDelete(c.Request.Context(), id, (*utils.SixID)(nil))
	}
	if err != nil {
		handleServiceError(c, err)
		return
	}
	if hard {
		h.audit(c, models.AdminActionHardDelete, id, "")
	}
	sendSuccessResponse(c, http.StatusOK, "Pre-market request deleted", nil)
}
