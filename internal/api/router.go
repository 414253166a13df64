package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"greendrake/referral/internal/api/handlers"
	"greendrake/referral/internal/api/middleware"
	"greendrake/referral/internal/config"
	"greendrake/referral/internal/email"
	"greendrake/referral/internal/models"
	"greendrake/referral/internal/services"
)

// Services are the dependencies of the public API.
type Services struct {
	Users     services.IUserService
	PreMarket services.IPreMarketRequestService
	Workflow  services.IGrantAccessWorkflowService
	Notices   services.INoticeService
	AdminLog  services.IAdminActionLogService
	Config    services.IConfigService
	Sweeper   handlers.SweepRunner
}

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(ctx context.Context, cfg *config.Config, svc Services) *gin.Engine {
	paging := handlers.Paging{Default: cfg.DefaultPage, Max: cfg.MaxPage}

	r := gin.Default()

	rateLimiter := middleware.NewRateLimiterMiddleware(ctx, cfg, svc.Config)
	r.Use(middleware.CORSMiddleware(cfg.CorsAllowedOrigin))

	authHandler := handlers.NewAuthHandler(svc.Users, cfg.JwtSecret, cfg.JwtTTL)
	webhookHandler := handlers.NewWebhookHandler(svc.Workflow)
	preMarketHandler := handlers.NewPreMarketHandler(svc.PreMarket, svc.Workflow, svc.Users, svc.AdminLog, paging)
	grantAccessHandler := handlers.NewGrantAccessHandler(svc.Workflow, paging)
	noticeHandler := handlers.NewNoticeHandler(svc.Notices, paging)
	adminHandler := handlers.NewAdminHandler(svc.Config, svc.Users, svc.AdminLog, svc.Sweeper, paging)

	v1 := r.Group("/v1")
	{
		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// The provider retries on its own schedule, so webhooks are not rate limited.
		v1.POST("/webhooks/payments", webhookHandler.HandlePayment)

		public := v1.Group("/")
		public.Use(rateLimiter.Limit())
		{
			public.POST("/auth/login", authHandler.Login)
			public.POST("/auth/register", authHandler.Register)
		}

		authRequired := v1.Group("/")
		authRequired.Use(rateLimiter.Limit(), middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.GET("/notices", noticeHandler.List)
			authRequired.POST("/notices/:id/read", noticeHandler.MarkRead)

			authRequired.GET("/pre-market/:id", middleware.RoleMiddleware(models.RoleRenter, models.RoleAgent, models.RoleAdmin), preMarketHandler.Get)
		}

		renter := v1.Group("/pre-market")
		renter.Use(rateLimiter.Limit(), middleware.AuthMiddleware(cfg.JwtSecret), middleware.RoleMiddleware(models.RoleRenter))
		{
			renter.POST("", preMarketHandler.Create)
			renter.GET("/mine", preMarketHandler.ListMine)
			renter.PATCH("/:id", preMarketHandler.Update)
			renter.POST("/:id/active", preMarketHandler.SetActive)
			renter.DELETE("/:id", preMarketHandler.Delete)
		}

		agent := v1.Group("/agent")
		agent.Use(rateLimiter.Limit(), middleware.AuthMiddleware(cfg.JwtSecret), middleware.RoleMiddleware(models.RoleAgent))
		{
			agent.GET("/pre-market", preMarketHandler.AgentList)
			agent.POST("/pre-market/:id/visibility", preMarketHandler.SetVisibility)
			agent.POST("/pre-market/:id/grant-access", grantAccessHandler.RequestAccess)
			agent.GET("/pre-market/:id/access", grantAccessHandler.AccessStatus)
			agent.GET("/grant-access", grantAccessHandler.ListMine)
			agent.POST("/grant-access/:id/payment-intent", grantAccessHandler.CreatePaymentIntent)
		}

		adminRequired := v1.Group("/admin")
		adminRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret), middleware.AdminMiddleware())
		{
			adminRequired.GET("/grant-access", grantAccessHandler.AdminList)
			adminRequired.POST("/grant-access/:id/decision", grantAccessHandler.Decide)
			adminRequired.POST("/grant-access/:id/reject", grantAccessHandler.Reject)

			adminRequired.GET("/pre-market", preMarketHandler.AdminList)
			adminRequired.PATCH("/pre-market/:id", preMarketHandler.AdminUpdate)
			adminRequired.POST("/pre-market/:id/status", preMarketHandler.AdminSetStatus)
			adminRequired.DELETE("/pre-market/:id", preMarketHandler.AdminDelete)

			adminRequired.POST("/sweep", adminHandler.RunSweep)
			adminRequired.GET("/config", adminHandler.GetConfig)
			adminRequired.PUT("/config/:key", adminHandler.SetConfig)
			adminRequired.POST("/users/:id/suspend", adminHandler.SuspendUser)
			adminRequired.POST("/users/:id/unsuspend", adminHandler.UnsuspendUser)
			adminRequired.GET("/actions", adminHandler.ListActions)
		}
	}

	return r
}

// SetupServiceRouter configures the internal service API: process control,
// test helpers and Prometheus metrics. rdb may be nil when no mock mailbox is used.
func SetupServiceRouter(rdb *redis.Client, sweeper handlers.SweepRunner, gatherer prometheus.Gatherer, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			fmt.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
				fmt.Println("Shutdown signal sent successfully.")
			default:
				fmt.Println("Shutdown channel already signaled or blocked.")
			}

		case "runSweep":
			if sweeper == nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Sweeper not configured"})
				return
			}
			result, err := sweeper.Run(c.Request.Context())
			if err != nil {
				log.Printf("Service API: sweep failed: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "data": result})

		case "getTestEmail":
			if rdb == nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Mock mailbox not configured"})
				return
			}
			var args []string // ["template_id", "email"]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 2 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [templateID, email]"})
				return
			}
			redisKey := email.MockEmailKey(args[1], args[0])

			var emailJsonData string
			var getErr error
			found := false
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()
			for i := 0; i < 10; i++ { // ~2 seconds
				emailJsonData, getErr = rdb.Get(ctx, redisKey).Result()
				if getErr == nil {
					found = true
					rdb.Del(ctx, redisKey)
					break
				}
				if getErr != redis.Nil {
					log.Printf("Service API: Error getting key %s from Redis: %v", redisKey, getErr)
					c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
					return
				}
				time.Sleep(200 * time.Millisecond)
			}

			if !found {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found in Redis for key %s", redisKey)})
				return
			}

			var emailData map[string]interface{}
			if err := json.Unmarshal([]byte(emailJsonData), &emailData); err != nil {
				log.Printf("Service API: Error unmarshalling email data from key %s: %v", redisKey, err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored email data"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "data": emailData})

		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}
