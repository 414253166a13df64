package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"greendrake/referral/internal/models"
	"greendrake/referral/internal/services"
)

// GrantAccessHandler exposes the grant-access workflow to agents and admins.
type GrantAccessHandler struct {
	workflow services.IGrantAccessWorkflowService
	paging   Paging
}

func NewGrantAccessHandler(workflow services.IGrantAccessWorkflowService, paging Paging) *GrantAccessHandler {
	return &GrantAccessHandler{workflow: workflow, paging: paging}
}

func (h *GrantAccessHandler) statusFilter(c *gin.Context) (models.GrantAccessStatus, bool) {
	status := models.GrantAccessStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		badRequest(c, "invalid status")
		return "", false
	}
	return status, true
}

// RequestAccess handles POST /v1/agent/pre-market/:id/grant-access
func (h *GrantAccessHandler) RequestAccess(c *gin.Context) {
	agentID, _, ok := caller(c)
	if !ok {
		return
	}
	preMarketID, ok := pathID(c)
	if !ok {
		return
	}
	g, err := h.workflow.RequestAccess(c.Request.Context(), agentID, preMarketID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusCreated, "Access requested", g)
}

// AccessStatus handles GET /v1/agent/pre-market/:id/access
func (h *GrantAccessHandler) AccessStatus(c *gin.Context) {
	agentID, _, ok := caller(c)
	if !ok {
		return
	}
	preMarketID, ok := pathID(c)
	if !ok {
		return
	}
	status, err := h.workflow.GetAccessStatus(c.Request.Context(), agentID, preMarketID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusOK, "", status)
}

// ListMine handles GET /v1/agent/grant-access
func (h *GrantAccessHandler) ListMine(c *gin.Context) {
	agentID, _, ok := caller(c)
	if !ok {
		return
	}
	status, ok := h.statusFilter(c)
	if !ok {
		return
	}
	page, ok := h.paging.page(c)
	if !ok {
		return
	}
	grants, err := h.workflow.ListAgentGrants(c.Request.Context(), agentID, status, page)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusOK, "", grants)
}

// CreatePaymentIntent handles POST /v1/agent/grant-access/:id/payment-intent
func (h *GrantAccessHandler) CreatePaymentIntent(c *gin.Context) {
	agentID, _, ok := caller(c)
	if !ok {
		return
	}
	grantID, ok := pathID(c)
	if !ok {
		return
	}
	result, err := h.workflow.CreatePaymentIntent(c.Request.Context(), agentID, grantID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusOK, "", result)
}

// AdminList handles GET /v1/admin/grant-access
func (h *GrantAccessHandler) AdminList(c *gin.Context) {
	status, ok := h.statusFilter(c)
	if !ok {
		return
	}
	page, ok := h.paging.page(c)
	if !ok {
		return
	}
	grants, err := h.workflow.ListGrants(c.Request.Context(), status, page)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusOK, "", grants)
}

// Decide handles POST /v1/admin/grant-access/:id/decision
func (h *GrantAccessHandler) Decide(c *gin.Context) {
	adminID, _, ok := caller(c)
	if !ok {
		return
	}
	grantID, ok := pathID(c)
	if !ok {
		return
	}
	var in services.AdminDecisionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	g, err := h.workflow.AdminDecide(c.Request.Context(), adminID, grantID, in)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusOK, "Decision recorded", g)
}

type rejectArgs struct {
	Notes string `json:"notes"`
}

// Reject handles POST /v1/admin/grant-access/:id/reject
func (h *GrantAccessHandler) Reject(c *gin.Context) {
	adminID, _, ok := caller(c)
	if !ok {
		return
	}
	grantID, ok := pathID(c)
	if !ok {
		return
	}
	var args rejectArgs
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&args); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}
	g, err := h.workflow.AdminReject(c.Request.Context(), adminID, grantID, args.Notes)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusOK, "Request rejected", g)
}
