package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"greendrake/referral/internal/auth"
	"greendrake/referral/internal/models"
	"greendrake/referral/internal/services"
)

// AuthHandler issues tokens.
type AuthHandler struct {
	userService services.IUserService
	jwtSecret   string
	jwtTTL      time.Duration
}

func NewAuthHandler(userService services.IUserService, jwtSecret string, jwtTTL time.Duration) *AuthHandler {
	return &AuthHandler{userService: userService, jwtSecret: jwtSecret, jwtTTL: jwtTTL}
}

type LoginArgs struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type TokenResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

func (h *AuthHandler) issue(c *gin.Context, status int, message string, user *models.User) {
	token, err := auth.GenerateJWT(user.ID, user.Role, h.jwtSecret, h.jwtTTL)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	sendSuccessResponse(c, status, message, TokenResult{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(h.jwtTTL),
		User:      user,
	})
}

// Login handles POST /v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var args LoginArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, "email and password are required")
		return
	}
	user, err := h.userService.Authenticate(c.Request.Context(), args.Email, args.Password)
	if err != nil {
		log.Printf("Login attempt failed for %s: %v", args.Email, err)
		handleServiceError(c, err)
		return
	}
	h.issue(c, http.StatusOK, "Logged in", user)
}

// Register handles POST /v1/auth/register. Admin accounts cannot be created
// this way.
func (h *AuthHandler) Register(c *gin.Context) {
	var in services.NewUser
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if in.Role != models.RoleRenter && in.Role != models.RoleAgent {
		badRequest(c, "role must be renter or agent")
		return
	}
	user, err := h.userService.Create(c.Request.Context(), in)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	h.issue(c, http.StatusCreated, "Account created", user)
}
