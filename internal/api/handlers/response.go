package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"greendrake/referral/internal/api/middleware"
	"greendrake/referral/internal/models"
	"greendrake/referral/internal/services"
	"greendrake/referral/internal/utils"
)

// ApiResponse is the envelope of every JSON response.
type ApiResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ApiError   `json:"error,omitempty"`
}

// ApiError carries the stable error code of a failed request.
type ApiError struct {
	Code string `json:"code"`
}

func sendSuccessResponse(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, ApiResponse{Success: true, Message: message, Data: data})
}

func sendErrorResponse(c *gin.Context, status int, code services.ErrorCode, message string) {
	c.JSON(status, ApiResponse{Success: false, Message: message, Error: &ApiError{Code: string(code)}})
}

// statusFor maps a service error code to its HTTP status.
func statusFor(code services.ErrorCode) int {
	switch code {
	case services.CodeNotFound:
		return http.StatusNotFound
	case services.CodeConflict, services.CodeInvalidState:
		return http.StatusConflict
	case services.CodeValidation:
		return http.StatusBadRequest
	case services.CodeUnauthorized:
		return http.StatusUnauthorized
	case services.CodeForbidden:
		return http.StatusForbidden
	case services.CodeExternalService:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// handleServiceError writes err as a response. Errors outside the service
// taxonomy are logged and reported as internal errors without detail.
func handleServiceError(c *gin.Context, err error) {
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		message := svcErr.Message
		if message == "" {
			message = string(svcErr.Code)
		}
		sendErrorResponse(c, statusFor(svcErr.Code), svcErr.Code, message)
		return
	}
	_ = c.Error(err)
	log.Printf("ERROR %s %s: %v", c.Request.Method, c.FullPath(), err)
	sendErrorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
}

func badRequest(c *gin.Context, message string) {
	sendErrorResponse(c, http.StatusBadRequest, services.CodeValidation, message)
}

// pathID parses the :id path parameter.
func pathID(c *gin.Context) (utils.SixID, bool) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid id format")
		return utils.SixID{}, false
	}
	return id, true
}

// caller returns the authenticated user's id and role.
func caller(c *gin.Context) (utils.SixID, models.Role, bool) {
	id, okID := middleware.CurrentUserID(c)
	role, okRole := middleware.CurrentRole(c)
	if !okID || !okRole {
		sendErrorResponse(c, http.StatusUnauthorized, services.CodeUnauthorized, "Authentication required")
		return utils.SixID{}, "", false
	}
	return id, role, true
}

// Paging holds the page size limits applied to list endpoints.
type Paging struct {
	Default int
	Max     int
}

// page reads ?limit and ?offset.
func (p Paging) page(c *gin.Context) (services.Page, bool) {
	page := services.Page{Limit: p.Default}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return page, false
		}
		page.Limit = n
	}
	if p.Max > 0 && page.Limit > p.Max {
		page.Limit = p.Max
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "offset must be a non-negative integer")
			return page, false
		}
		page.Offset = n
	}
	return page, true
}
