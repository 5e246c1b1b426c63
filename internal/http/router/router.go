package router

import (
	"github.com/gin-gonic/gin"

	"github.com/uslugihub/booking-backend/internal/config"
	"github.com/uslugihub/booking-backend/internal/http/handlers"
	"github.com/uslugihub/booking-backend/internal/http/middleware"
	"github.com/uslugihub/booking-backend/internal/logger"
	"github.com/uslugihub/booking-backend/internal/models"
	"github.com/uslugihub/booking-backend/internal/service"
)

// Deps — зависимости HTTP-слоя.
type Deps struct {
	Config   *config.Config
	Tokens   *service.TokenManager
	Bookings *handlers.BookingHandler
	Disputes *handlers.DisputeHandler
	Policies *handlers.PolicyHandler
	Health   *handlers.HealthHandler
}

// New собирает маршруты API и общие middleware.
func New(d Deps) *gin.Engine {
	if d.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(d.Config.AllowedOrigins))
	r.Use(middleware.RateLimit(d.Config.RateLimitLimit, d.Config.RateLimitPeriod))
	r.Use(middleware.ErrorHandler(logger.WithComponent("http")))

	r.GET("/health", d.Health.Check)

	api := r.Group("/api/v1")
	api.Use(middleware.Auth(d.Tokens))

	bookings := api.Group("/bookings")
	{
		bookings.POST("", d.Bookings.Create)
		bookings.GET("", d.Bookings.List)

		byID := bookings.Group("/:id", middleware.ValidateUUIDParam("id"))
		{
			byID.GET("", d.Bookings.Get)
			byID.POST("/accept", d.Bookings.Accept)
			byID.POST("/decline", d.Bookings.Decline)
			byID.POST("/cancel", d.Bookings.Cancel)
			byID.POST("/complete", d.Bookings.Complete)
			byID.GET("/movements", d.Bookings.Movements)
			byID.POST("/disputes", d.Disputes.Raise)
		}
	}

	disputes := api.Group("/disputes/:id", middleware.ValidateUUIDParam("id"))
	{
		disputes.GET("", d.Disputes.Get)
		disputes.POST("/notes", d.Disputes.AddNote)
		disputes.POST("/attachments", d.Disputes.AddAttachment)
	}

	admin := api.Group("/admin", middleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/disputes", d.Disputes.List)
		admin.PATCH("/disputes/:id/status", middleware.ValidateUUIDParam("id"), d.Disputes.ChangeStatus)
		admin.POST("/disputes/:id/resolve", middleware.ValidateUUIDParam("id"), d.Disputes.Resolve)

		admin.GET("/policies/cancellation", d.Policies.GetPolicy)
		admin.PUT("/policies/cancellation", d.Policies.UpdatePolicy)
		admin.GET("/policies/reliability", d.Policies.GetReliabilityConfig)
		admin.PUT("/policies/reliability", d.Policies.UpdateReliabilityConfig)
		admin.GET("/freelancers/:id/reliability", middleware.ValidateUUIDParam("id"), d.Policies.ListReliabilityEvents)
	}

	return r
}
