package front

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tanamio/dashboard/internal/config"
	"github.com/tanamio/dashboard/internal/dashboard"
	"github.com/tanamio/dashboard/internal/gateway"
	"github.com/tanamio/dashboard/internal/http/api/front/handlers"
	"github.com/tanamio/dashboard/internal/renewal"
	"github.com/tanamio/dashboard/internal/security"
	"gorm.io/gorm"
)

// RegisterFrontRoutes registers user-facing routes, middleware, and handlers.
func RegisterFrontRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, gw *gateway.Client, registry *dashboard.Registry) {
	if r == nil || db == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)

	apiGroup := r.Group("/api")

	authed := apiGroup.Group("")
	authed.Use(userAuthMiddleware(jwtCfg))

	balanceHandler := handlers.NewBalanceFrontHandler(db, gw)
	authed.GET("/balance", balanceHandler.Get)
	authed.GET("/transactions", balanceHandler.ListTransactions)
	authed.GET("/payments", balanceHandler.ListPayments)
	authed.POST("/topup", balanceHandler.TopUp)

	chatbotHandler := handlers.NewChatbotFrontHandler(db, gw, renewal.NewPoller(db))
	authed.GET("/chatbots", chatbotHandler.List)
	authed.GET("/chatbots/:id", chatbotHandler.Detail)
	authed.GET("/chatbots/:id/usage", chatbotHandler.Usage)
	authed.POST("/chatbots", chatbotHandler.Create)
	authed.DELETE("/chatbots/:id", chatbotHandler.Delete)
	authed.PATCH("/chatbots/:id/auto-renewal", chatbotHandler.ToggleAutoRenewal)
	authed.PATCH("/chatbots/:id/prompt", chatbotHandler.UpdatePrompt)
	authed.POST("/chatbots/:id/renew", chatbotHandler.Renew)

	// Same-origin stand-in for the remote QR endpoint; browsers cannot
	// call the linking service directly.
	qrHandler := handlers.NewQRFrontHandler(db, gw)
	authed.GET("/qr", qrHandler.Fetch)

	planHandler := handlers.NewPlanFrontHandler(db)
	authed.GET("/plans", planHandler.List)

	dashboardHandler := handlers.NewDashboardFrontHandler(registry)
	authed.GET("/dashboard", dashboardHandler.Snapshot)
}

// userAuthMiddleware validates session JWTs and loads user context.
func userAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseSessionToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("userID", claims.UserID)
		c.Set("sessionToken", token)
		c.Next()
	}
}
