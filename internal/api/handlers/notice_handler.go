package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"greendrake/referral/internal/services"
)

// NoticeHandler serves the caller's in-app notices.
type NoticeHandler struct {
	notices services.INoticeService
	paging  Paging
}

func NewNoticeHandler(notices services.INoticeService, paging Paging) *NoticeHandler {
	return &NoticeHandler{notices: notices, paging: paging}
}

// List handles GET /v1/notices?unread=true
func (h *NoticeHandler) List(c *gin.Context) {
	userID, _, ok := caller(c)
	if !ok {
		return
	}
	page, ok := h.paging.page(c)
	if !ok {
		return
	}
	unreadOnly, _ := strconv.ParseBool(c.Query("unread"))
	notices, err := h.notices.ListForUser(c.Request.Context(), userID, unreadOnly, page)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusOK, "", notices)
}

// MarkRead handles POST /v1/notices/:id/read
func (h *NoticeHandler) MarkRead(c *gin.Context) {
	userID, _, ok := caller(c)
	if !ok {
		return
	}
	noticeID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.notices.MarkRead(c.Request.Context(), userID, noticeID); err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, http.StatusOK, "Notice marked as read", nil)
}
