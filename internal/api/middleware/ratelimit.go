package middleware

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"greendrake/referral/internal/config"
	"greendrake/referral/internal/services"
)

// clientLimiter stores the token bucket for a specific client.
type clientLimiter struct {
	limiter  *rate.Limiter
	burst    int
	refill   int
	lastSeen time.Time
}

// RateLimiterMiddleware applies a per-client token bucket to the public API.
type RateLimiterMiddleware struct {
	clients       map[string]*clientLimiter
	mu            sync.Mutex
	cfg           *config.Config
	configService services.IConfigService
}

// NewRateLimiterMiddleware creates a new RateLimiterMiddleware. Stale client
// entries are pruned until ctx is cancelled.
func NewRateLimiterMiddleware(ctx context.Context, cfg *config.Config, configService services.IConfigService) *RateLimiterMiddleware {
	rm := &RateLimiterMiddleware{
		clients:       make(map[string]*clientLimiter),
		cfg:           cfg,
		configService: configService,
	}
	go rm.cleanupClients(ctx, 10*time.Minute, 30*time.Minute)
	return rm
}

// getClientIdentifier keys the bucket by client IP.
func getClientIdentifier(c *gin.Context) string {
	return c.ClientIP()
}

// limits returns the current bucket size and refill rate. Admin overrides
// apply to buckets created or refreshed after the change.
func (rm *RateLimiterMiddleware) limits(ctx context.Context) (burst, refill int) {
	burst, refill = rm.cfg.RateLimitBucketSize, rm.cfg.RateLimitRefillRate
	if rm.configService != nil {
		burst = rm.configService.GetInt(ctx, "RATE_LIMIT_BUCKET_SIZE", burst)
		refill = rm.configService.GetInt(ctx, "RATE_LIMIT_REFILL_RATE", refill)
	}
	return burst, refill
}

// getClientLimiter retrieves or creates the limiter for a client. A limiter
// whose settings changed is adjusted in place.
func (rm *RateLimiterMiddleware) getClientLimiter(identifier string, burst, refill int) *clientLimiter {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	cl, exists := rm.clients[identifier]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(refill), burst), burst: burst, refill: refill}
		rm.clients[identifier] = cl
	} else if cl.burst != burst || cl.refill != refill {
		cl.limiter.SetBurst(burst)
		cl.limiter.SetLimit(rate.Limit(refill))
		cl.burst, cl.refill = burst, refill
	}
	cl.lastSeen = time.Now()
	return cl
}

// cleanupClients periodically removes old client entries from the map.
func (rm *RateLimiterMiddleware) cleanupClients(ctx context.Context, every, idle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		rm.mu.Lock()
		count := 0
		for id, client := range rm.clients {
			if time.Since(client.lastSeen) > idle {
				delete(rm.clients, id)
				count++
			}
		}
		rm.mu.Unlock()
		if count > 0 {
			log.Printf("Rate limiter cleanup removed %d old client entries.", count)
		}
	}
}

// Limit creates the Gin middleware handler.
func (rm *RateLimiterMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientKey := getClientIdentifier(c)
		burst, refill := rm.limits(c.Request.Context())
		cl := rm.getClientLimiter(clientKey, burst, refill)

		if !cl.limiter.Allow() {
			log.Printf("WARN: rate limit exceeded for client %s on %s %s", clientKey, c.Request.Method, c.FullPath())
			abortWith(c, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded")
			return
		}
		c.Next()
	}
}
